package transform

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"

	"github.com/conneroisu/stagehand/internal/errors"
)

// StylesheetOptions configures the stylesheet compiler.
type StylesheetOptions struct {
	// SassBinary is the Dart Sass executable, started on first use.
	SassBinary string
	// IncludePaths are extra project directories searched by Sass imports.
	IncludePaths []string
}

// StylesheetCompiler compiles .scss and .sass sources with Dart Sass and
// bundles .css sources (following @import) with esbuild. Every output is
// renamed to .css.
type StylesheetCompiler struct {
	fs      afero.Fs
	options StylesheetOptions
	parser  *errors.Parser

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
	startErr   error
}

func NewStylesheetCompiler(fsys afero.Fs, options StylesheetOptions) *StylesheetCompiler {
	return &StylesheetCompiler{fs: fsys, options: options, parser: errors.NewParser()}
}

func (c *StylesheetCompiler) Name() string { return "stylesheet-compile" }

func (c *StylesheetCompiler) Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var (
		out    []File
		faults []*errors.AssetError
	)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, faults, err
		}

		var (
			data  []byte
			fault *errors.AssetError
		)
		switch path.Ext(f.Path) {
		case ".scss", ".sass":
			data, fault = c.compileSass(f)
		default:
			data, fault = c.bundleCSS(f)
		}
		if fault != nil {
			faults = append(faults, fileFault(fault, f))
			continue
		}
		out = append(out, File{Path: WithExt(f.Path, ".css"), Source: f.Source, Data: data})
	}

	return out, faults, nil
}

func (c *StylesheetCompiler) compileSass(f File) ([]byte, *errors.AssetError) {
	transpiler, err := c.sass()
	if err != nil {
		fault := errors.NewTransformError(errors.ErrCodeSassUnavailable, "cannot start Dart Sass", err)
		fault.Severity = errors.ErrorSeverityError
		return nil, fault
	}

	syntax := godartsass.SourceSyntaxSCSS
	if path.Ext(f.Path) == ".sass" {
		syntax = godartsass.SourceSyntaxSASS
	}

	result, err := transpiler.Execute(godartsass.Args{
		Source:         string(f.Data),
		URL:            fileURL(f.Source),
		SourceSyntax:   syntax,
		OutputStyle:    godartsass.OutputStyleExpanded,
		ImportResolver: &sassResolver{fs: c.fs, dirs: append([]string{path.Dir(f.Source)}, c.options.IncludePaths...)},
	})
	if err != nil {
		var sassErr godartsass.SassError
		if stderrors.As(err, &sassErr) {
			return nil, c.sassFault(f, sassErr)
		}
		loc := c.parser.Parse(err.Error())
		return nil, errors.NewSyntaxError(errors.ErrCodeStylesheetSyntax, loc.Message, nil).
			WithLocation(f.Source, loc.Line, loc.Column)
	}

	return []byte(result.CSS), nil
}

// sassFault locates a compile error in the file it occurred in, which may be
// an imported partial. Dart Sass reports a 0-based offset and column.
func (c *StylesheetCompiler) sassFault(f File, sassErr godartsass.SassError) *errors.AssetError {
	file := f.Source
	if u := sassErr.Span.Url; strings.HasPrefix(u, "file://") {
		file = strings.TrimPrefix(strings.TrimPrefix(u, "file://"), "/")
	}

	source := f.Data
	if file != f.Source {
		data, err := afero.ReadFile(c.fs, file)
		if err != nil {
			return errors.NewSyntaxError(errors.ErrCodeStylesheetSyntax, sassErr.Message, nil).WithFile(file)
		}
		source = data
	}

	offset := min(max(sassErr.Span.Start.Offset, 0), len(source))
	line := bytes.Count(source[:offset], []byte("\n")) + 1

	return errors.NewSyntaxError(errors.ErrCodeStylesheetSyntax, sassErr.Message, nil).
		WithLocation(file, line, sassErr.Span.Start.Column+1)
}

func (c *StylesheetCompiler) bundleCSS(f File) ([]byte, *errors.AssetError) {
	result := api.Build(api.BuildOptions{
		EntryPoints: []string{f.Source},
		Bundle:      true,
		Write:       false,
		Outdir:      "out",
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{aferoPlugin(c.fs)},
	})
	if len(result.Errors) > 0 {
		return nil, messageFault(errors.ErrCodeStylesheetSyntax, result.Errors, f)
	}
	data, ok := outputWithExt(result.OutputFiles, ".css")
	if !ok {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "bundler produced no stylesheet output", nil)
	}
	return data, nil
}

// sass starts the Dart Sass process on first use.
func (c *StylesheetCompiler) sass() (*godartsass.Transpiler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transpiler == nil && c.startErr == nil {
		c.transpiler, c.startErr = godartsass.Start(godartsass.Options{
			DartSassEmbeddedFilename: c.options.SassBinary,
		})
	}
	return c.transpiler, c.startErr
}

// Close stops the Dart Sass process if it was started.
func (c *StylesheetCompiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transpiler == nil {
		return nil
	}
	err := c.transpiler.Close()
	c.transpiler = nil
	return err
}

func fileURL(projectPath string) string {
	return "file:///" + strings.TrimPrefix(projectPath, "/")
}

// sassResolver loads Sass imports from the project filesystem. Canonical URLs
// are file:/// URLs whose path is the project path.
type sassResolver struct {
	fs   afero.Fs
	dirs []string
}

func (r *sassResolver) CanonicalizeURL(url string) (string, error) {
	var candidates []string
	if strings.HasPrefix(url, "file://") {
		candidates = []string{strings.TrimPrefix(strings.TrimPrefix(url, "file://"), "/")}
	} else if strings.Contains(url, ":") {
		return "", nil
	} else {
		for _, dir := range r.dirs {
			candidates = append(candidates, path.Join(dir, url))
		}
	}

	for _, candidate := range candidates {
		if found, ok := r.find(candidate); ok {
			return fileURL(found), nil
		}
	}
	return "", nil
}

// find applies the Sass partial and index conventions to p.
func (r *sassResolver) find(p string) (string, bool) {
	dir, base := path.Split(p)
	var names []string
	if ext := path.Ext(base); ext == ".scss" || ext == ".sass" || ext == ".css" {
		names = []string{base, "_" + base}
	} else {
		for _, ext := range []string{".scss", ".sass", ".css"} {
			names = append(names, base+ext, "_"+base+ext)
		}
		for _, ext := range []string{".scss", ".sass", ".css"} {
			names = append(names, base+"/_index"+ext, base+"/index"+ext)
		}
	}

	for _, name := range names {
		candidate := path.Join(dir, name)
		if isFile(r.fs, candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *sassResolver) Load(canonicalizedURL string) (godartsass.Import, error) {
	p := strings.TrimPrefix(strings.TrimPrefix(canonicalizedURL, "file://"), "/")
	data, err := afero.ReadFile(r.fs, p)
	if err != nil {
		return godartsass.Import{}, err
	}

	syntax := godartsass.SourceSyntaxSCSS
	switch path.Ext(p) {
	case ".sass":
		syntax = godartsass.SourceSyntaxSASS
	case ".css":
		syntax = godartsass.SourceSyntaxCSS
	}
	return godartsass.Import{Content: string(data), SourceSyntax: syntax}, nil
}

// CSSMinifier minifies stylesheets. Level 0 leaves them untouched, level 1
// removes whitespace and comments, level 2 also restructures rules.
type CSSMinifier struct {
	Level  int
	minify *minify.M
}

func NewCSSMinifier(level int) *CSSMinifier {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return &CSSMinifier{Level: level, minify: m}
}

func (m *CSSMinifier) Name() string { return "css-minify" }

func (m *CSSMinifier) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	if m.Level <= 0 {
		return files, nil, nil
	}

	var (
		out    []File
		faults []*errors.AssetError
	)
	for _, f := range files {
		data := f.Data
		if m.Level >= 2 {
			result := api.Transform(string(data), api.TransformOptions{
				Loader:       api.LoaderCSS,
				MinifySyntax: true,
				LogLevel:     api.LogLevelSilent,
			})
			if len(result.Errors) > 0 {
				faults = append(faults, messageFault(errors.ErrCodeStylesheetSyntax, result.Errors, f))
				continue
			}
			data = result.Code
		}

		minified, err := m.minify.Bytes("text/css", data)
		if err != nil {
			faults = append(faults, fileFault(errors.NewSyntaxError(errors.ErrCodeStylesheetSyntax, "cannot minify stylesheet", err), f))
			continue
		}
		f.Data = minified
		out = append(out, f)
	}

	return out, faults, nil
}

// Prefixer lowers stylesheets to the configured browser engines, adding
// vendor prefixes where those engines need them.
type Prefixer struct {
	engines []api.Engine
	minify  bool
}

// NewPrefixer builds a prefixer for browserslist-style targets. Minify keeps
// the output compact.
func NewPrefixer(targets []string, minify bool) (*Prefixer, error) {
	engines, err := ParseTargets(targets)
	if err != nil {
		return nil, fmt.Errorf("styles targets: %w", err)
	}
	return &Prefixer{engines: engines, minify: minify}, nil
}

func (p *Prefixer) Name() string { return "css-prefix" }

func (p *Prefixer) Apply(_ context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var (
		out    []File
		faults []*errors.AssetError
	)
	for _, f := range files {
		result := api.Transform(string(f.Data), api.TransformOptions{
			Loader:           api.LoaderCSS,
			Engines:          p.engines,
			MinifyWhitespace: p.minify,
			LogLevel:         api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			faults = append(faults, messageFault(errors.ErrCodeStylesheetSyntax, result.Errors, f))
			continue
		}
		f.Data = result.Code
		out = append(out, f)
	}
	return out, faults, nil
}
