// Package transform holds the content transformations of the asset
// pipeline. Every transformation is a Step: it takes the files of a task and
// returns the transformed files. Steps delegate the actual work to third
// party engines (html/template, Dart Sass, esbuild, minify, etree).
package transform

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/conneroisu/stagehand/internal/errors"
)

// File is one asset flowing through a task.
type File struct {
	// Path is slash separated and relative to the task's base directory. It
	// becomes the output path below the task's destination.
	Path string
	// Source is the project path the file was read from. Steps that merge
	// files leave it empty.
	Source string
	Data   []byte
}

// Step transforms the files of a task. Faults are per file and do not stop
// the task; a returned error aborts it.
type Step interface {
	Name() string
	Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, files []File) ([]File, []*errors.AssetError, error)
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error) {
	return s.Fn(ctx, files)
}

// SortFiles orders files by output path.
func SortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// WithExt replaces the extension of p.
func WithExt(p, ext string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ext
}

func fileFault(err *errors.AssetError, f File) *errors.AssetError {
	if err.File == "" {
		if f.Source != "" {
			err.File = f.Source
		} else {
			err.File = f.Path
		}
	}
	return err
}
