package transform

import (
	"bytes"
	"context"
	stderrors "errors"
	"html/template"
	"io/fs"
	"strings"

	"github.com/spf13/afero"
	"github.com/yosssi/gohtml"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/glob"
)

// TemplateOptions configures the page renderer.
type TemplateOptions struct {
	// Root is the templates directory; partials are named by their path
	// relative to it, e.g. {{template "partials/header.html" .}}.
	Root string
	// Partials selects the shared templates available to every page.
	Partials glob.Set
	// DataFile is an optional YAML file passed to every page as ".".
	DataFile string
	Pretty   bool
}

// TemplateRenderer renders html/template pages. Partials and the data file
// are re-read on every run so edits to them reach every page.
type TemplateRenderer struct {
	fs      afero.Fs
	options TemplateOptions
	parser  *errors.Parser
}

func NewTemplateRenderer(fsys afero.Fs, options TemplateOptions) *TemplateRenderer {
	return &TemplateRenderer{fs: fsys, options: options, parser: errors.NewParser()}
}

func (r *TemplateRenderer) Name() string { return "template-render" }

func (r *TemplateRenderer) Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var faults []*errors.AssetError

	base, partialFaults, err := r.partials()
	if err != nil {
		return nil, nil, err
	}
	faults = append(faults, partialFaults...)

	data, fault, err := r.data()
	if err != nil {
		return nil, faults, err
	}
	if fault != nil {
		faults = append(faults, fault)
	}

	var out []File
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, faults, err
		}

		set, err := base.Clone()
		if err != nil {
			return nil, faults, errors.NewInternalError(errors.ErrCodeInternalError, "cannot clone template set", err)
		}
		page, err := set.New(f.Path).Parse(string(f.Data))
		if err != nil {
			faults = append(faults, r.fault(errors.ErrCodeTemplateSyntax, f.Source, err))
			continue
		}

		var buf bytes.Buffer
		if err := page.Execute(&buf, data); err != nil {
			faults = append(faults, r.fault(errors.ErrCodeTemplateExec, f.Source, err))
			continue
		}

		html := buf.Bytes()
		if r.options.Pretty {
			html = []byte(gohtml.Format(buf.String()))
		}
		out = append(out, File{Path: f.Path, Source: f.Source, Data: html})
	}

	return out, faults, nil
}

// partials parses every partial into one set. A partial that fails to parse
// is reported and left out; pages using it then fail on their own.
func (r *TemplateRenderer) partials() (*template.Template, []*errors.AssetError, error) {
	base := template.New("")
	if len(r.options.Partials.Patterns()) == 0 {
		return base, nil, nil
	}

	paths, err := glob.Expand(r.fs, r.options.Partials)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return base, nil, nil
		}
		return nil, nil, errors.NewIOError(errors.ErrCodeSourceMissing, "cannot list partials", err)
	}

	var faults []*errors.AssetError
	for _, p := range paths {
		content, err := afero.ReadFile(r.fs, p)
		if err != nil {
			return nil, faults, errors.NewIOError(errors.ErrCodeSourceMissing, "cannot read partial", err).WithFile(p)
		}

		candidate, err := base.Clone()
		if err != nil {
			return nil, faults, errors.NewInternalError(errors.ErrCodeInternalError, "cannot clone template set", err)
		}
		name := strings.TrimPrefix(p, r.options.Root+"/")
		if _, err := candidate.New(name).Parse(string(content)); err != nil {
			faults = append(faults, r.fault(errors.ErrCodeTemplateSyntax, p, err))
			continue
		}
		base = candidate
	}

	return base, faults, nil
}

// data loads the data file. A missing file means no data; any other read
// failure aborts the run.
func (r *TemplateRenderer) data() (map[string]interface{}, *errors.AssetError, error) {
	if r.options.DataFile == "" {
		return nil, nil, nil
	}
	info, err := r.fs.Stat(r.options.DataFile)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return nil, nil, nil
	case err != nil:
		return nil, nil, errors.NewIOError(errors.ErrCodeSourceMissing, "cannot read template data", err).
			WithFile(r.options.DataFile)
	case info.IsDir():
		return nil, nil, errors.NewIOError(errors.ErrCodeSourceMissing, "template data is a directory", nil).
			WithFile(r.options.DataFile)
	}

	content, err := afero.ReadFile(r.fs, r.options.DataFile)
	if err != nil {
		return nil, nil, errors.NewIOError(errors.ErrCodeSourceMissing, "cannot read template data", err).
			WithFile(r.options.DataFile)
	}

	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, errors.NewSyntaxError(errors.ErrCodeTemplateSyntax, "invalid template data", err).
			WithFile(r.options.DataFile), nil
	}
	return data, nil, nil
}

func (r *TemplateRenderer) fault(code, file string, err error) *errors.AssetError {
	loc := r.parser.Parse(err.Error())
	return errors.NewSyntaxError(code, loc.Message, nil).WithLocation(file, loc.Line, loc.Column)
}
