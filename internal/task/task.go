// Package task defines the named units of the asset pipeline. A Task reads
// its sources from the project filesystem, pipes them through an ordered
// list of transform steps and writes the results below its destination.
package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/glob"
	"github.com/conneroisu/stagehand/internal/transform"
)

// Task is immutable once registered.
type Task struct {
	Name string
	// Sources selects the input files. Ignored when Files is set.
	Sources glob.Set
	// Files lists inputs explicitly, read in this order. Every file must
	// exist.
	Files []string
	// Base is the directory input paths are made relative to.
	Base  string
	Steps []transform.Step
	// Dest is the output directory, relative to the project root.
	Dest string
}

// Writer stores task outputs.
type Writer interface {
	Write(task, path string, data []byte) error
}

// FSWriter writes outputs straight to a filesystem.
type FSWriter struct {
	Fs afero.Fs
}

func (w FSWriter) Write(_, p string, data []byte) error {
	if err := w.Fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(w.Fs, p, data, 0o644)
}

// Result is the outcome of one task run.
type Result struct {
	Task     string
	Outputs  []string
	Faults   []*errors.AssetError
	Err      error
	Duration time.Duration
}

// Failed reports whether the run aborted or any fault fails the task.
func (r Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, f := range r.Faults {
		if f.Fails() {
			return true
		}
	}
	return false
}

// Run executes the task once. Faults of individual files are collected and
// do not stop the run; an unreadable source tree, a failing step or an
// unwritable output aborts it.
func (t *Task) Run(ctx context.Context, fsys afero.Fs, w Writer) Result {
	start := time.Now()
	result := Result{Task: t.Name}

	files, err := t.read(fsys)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}

	for _, step := range t.Steps {
		if err := ctx.Err(); err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}

		var faults []*errors.AssetError
		files, faults, err = step.Apply(ctx, files)
		for _, f := range faults {
			result.Faults = append(result.Faults, f.WithTask(t.Name))
		}
		if err != nil {
			result.Err = stepError(t.Name, step.Name(), err)
			result.Duration = time.Since(start)
			return result
		}
	}

	transform.SortFiles(files)
	for _, f := range files {
		out := path.Join(t.Dest, f.Path)
		if err := w.Write(t.Name, out, f.Data); err != nil {
			var ae *errors.AssetError
			if stderrors.As(err, &ae) {
				result.Faults = append(result.Faults, ae.WithTask(t.Name))
				continue
			}
			result.Err = errors.ErrWriteFailed(out, err).WithTask(t.Name)
			result.Duration = time.Since(start)
			return result
		}
		result.Outputs = append(result.Outputs, out)
	}

	result.Duration = time.Since(start)
	return result
}

func (t *Task) read(fsys afero.Fs) ([]transform.File, error) {
	paths := t.Files
	if len(paths) == 0 {
		var err error
		paths, err = glob.Expand(fsys, t.Sources)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.ErrSourceMissing(t.Base, err).WithTask(t.Name)
			}
			return nil, errors.NewIOError(errors.ErrCodeSourceMissing, "cannot list sources", err).WithTask(t.Name)
		}
	}

	files := make([]transform.File, 0, len(paths))
	for _, p := range paths {
		data, err := afero.ReadFile(fsys, p)
		if err != nil {
			return nil, errors.ErrSourceMissing(p, err).WithTask(t.Name)
		}
		files = append(files, transform.File{Path: t.relative(p), Source: p, Data: data})
	}
	return files, nil
}

func (t *Task) relative(p string) string {
	if t.Base == "" || t.Base == "." {
		return p
	}
	if rel := strings.TrimPrefix(p, t.Base+"/"); rel != p {
		return rel
	}
	return path.Base(p)
}

func stepError(taskName, stepName string, err error) error {
	var ae *errors.AssetError
	if stderrors.As(err, &ae) {
		return ae.WithTask(taskName)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewInternalError(errors.ErrCodeInternalError, fmt.Sprintf("step %s failed", stepName), err).WithTask(taskName)
}
