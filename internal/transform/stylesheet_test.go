package transform

import (
	"context"
	"os/exec"
	"testing"

	"github.com/bep/godartsass/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/stagehand/internal/errors"
)

func TestStylesheetCompilerBundlesCSSImports(t *testing.T) {
	fsys := newTemplateFs(t, map[string]string{
		"dev/static/styles/_base.css":  "body { color: red; }\n",
		"dev/static/styles/styles.css": "@import \"./_base.css\";\n.logo { background: url(../img/logo.png); }\n",
	})
	compiler := NewStylesheetCompiler(fsys, StylesheetOptions{})

	data, err := afero.ReadFile(fsys, "dev/static/styles/styles.css")
	require.NoError(t, err)

	out, faults, err := compiler.Apply(context.Background(), []File{
		{Path: "styles.css", Source: "dev/static/styles/styles.css", Data: data},
	})
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)
	assert.Equal(t, "styles.css", out[0].Path)
	assert.Contains(t, string(out[0].Data), "color: red")
	assert.Contains(t, string(out[0].Data), "../img/logo.png")
}

func TestStylesheetCompilerSyntaxError(t *testing.T) {
	fsys := newTemplateFs(t, map[string]string{
		"dev/static/styles/styles.css": "@import \"./missing.css\";\n",
	})
	compiler := NewStylesheetCompiler(fsys, StylesheetOptions{})

	out, faults, err := compiler.Apply(context.Background(), []File{
		{Path: "styles.css", Source: "dev/static/styles/styles.css", Data: []byte("@import \"./missing.css\";\n")},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, faults, 1)
	assert.Equal(t, errors.ErrCodeStylesheetSyntax, faults[0].Code)
	assert.Equal(t, "dev/static/styles/styles.css", faults[0].File)
}

func TestStylesheetCompilerWithoutSass(t *testing.T) {
	compiler := NewStylesheetCompiler(afero.NewMemMapFs(), StylesheetOptions{
		SassBinary: "/nonexistent/dart-sass",
	})
	defer compiler.Close()

	out, faults, err := compiler.Apply(context.Background(), []File{
		{Path: "styles.scss", Source: "dev/static/styles/styles.scss", Data: []byte("$c: red; a { color: $c; }")},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, faults, 1)
	assert.Equal(t, errors.ErrCodeSassUnavailable, faults[0].Code)
	assert.True(t, faults[0].Fails())
}

func TestCSSMinifierLevels(t *testing.T) {
	input := []File{{Path: "a.css", Data: []byte("a {\n  color: #ff0000;\n}\n\n/* note */\n")}}

	out, _, err := NewCSSMinifier(0).Apply(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, input, out)

	out, faults, err := NewCSSMinifier(2).Apply(context.Background(), input)
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)
	assert.Equal(t, "a{color:red}", string(out[0].Data))
}

func TestPrefixerAddsVendorPrefixes(t *testing.T) {
	prefixer, err := NewPrefixer([]string{"safari 12"}, true)
	require.NoError(t, err)

	out, faults, err := prefixer.Apply(context.Background(), []File{
		{Path: "a.css", Data: []byte(".glass{backdrop-filter:blur(4px)}")},
	})
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)
	assert.Contains(t, string(out[0].Data), "-webkit-backdrop-filter")
}

func TestNewPrefixerRejectsUnknownTargets(t *testing.T) {
	_, err := NewPrefixer([]string{"netscape 4"}, false)
	assert.Error(t, err)
}

var sassProject = map[string]string{
	"dev/static/styles/abstracts/_vars.scss":   "$brand: #336699;\n",
	"dev/static/styles/components/_index.scss": ".card { margin: 0; }\n",
	"dev/static/styles/_plain.css":             ".plain { color: red; }\n",
	"lib/scss/_mixins.scss":                    "@mixin rounded { border-radius: 4px; }\n",
}

func TestSassResolverCanonicalizeURL(t *testing.T) {
	resolver := &sassResolver{
		fs:   newTemplateFs(t, sassProject),
		dirs: []string{"dev/static/styles", "lib/scss"},
	}

	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"partial in subdirectory", "abstracts/vars", "file:///dev/static/styles/abstracts/_vars.scss"},
		{"partial with extension", "abstracts/_vars.scss", "file:///dev/static/styles/abstracts/_vars.scss"},
		{"directory index", "components", "file:///dev/static/styles/components/_index.scss"},
		{"include path", "mixins", "file:///lib/scss/_mixins.scss"},
		{"plain css", "plain", "file:///dev/static/styles/_plain.css"},
		{"canonical url", "file:///dev/static/styles/abstracts/vars", "file:///dev/static/styles/abstracts/_vars.scss"},
		{"missing", "nope", ""},
		{"other scheme", "https://example.com/reset.scss", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.CanonicalizeURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSassResolverLoad(t *testing.T) {
	resolver := &sassResolver{fs: newTemplateFs(t, sassProject)}

	imp, err := resolver.Load("file:///dev/static/styles/abstracts/_vars.scss")
	require.NoError(t, err)
	assert.Equal(t, "$brand: #336699;\n", imp.Content)
	assert.Equal(t, godartsass.SourceSyntaxSCSS, imp.SourceSyntax)

	imp, err = resolver.Load("file:///dev/static/styles/_plain.css")
	require.NoError(t, err)
	assert.Equal(t, godartsass.SourceSyntaxCSS, imp.SourceSyntax)

	_, err = resolver.Load("file:///dev/static/styles/_gone.scss")
	assert.Error(t, err)
}

// newSassCompiler returns a compiler backed by a running Dart Sass, or skips
// when no embedded-protocol capable binary is installed.
func newSassCompiler(t *testing.T, fsys afero.Fs) *StylesheetCompiler {
	t.Helper()
	binary, err := exec.LookPath("sass")
	if err != nil {
		t.Skip("Dart Sass not installed")
	}

	compiler := NewStylesheetCompiler(fsys, StylesheetOptions{
		SassBinary:   binary,
		IncludePaths: []string{"lib/scss"},
	})
	t.Cleanup(func() { _ = compiler.Close() })

	transpiler, err := compiler.sass()
	if err == nil {
		_, err = transpiler.Execute(godartsass.Args{Source: "a { b: c; }"})
	}
	if err != nil {
		t.Skipf("Dart Sass does not speak the embedded protocol: %v", err)
	}
	return compiler
}

func TestStylesheetCompilerSass(t *testing.T) {
	fsys := newTemplateFs(t, sassProject)
	compiler := newSassCompiler(t, fsys)

	source := "@use \"abstracts/vars\";\n" +
		"@use \"mixins\";\n" +
		"@use \"components\";\n" +
		".btn { color: vars.$brand; @include mixins.rounded; }\n"

	out, faults, err := compiler.Apply(context.Background(), []File{
		{Path: "styles.scss", Source: "dev/static/styles/styles.scss", Data: []byte(source)},
	})
	require.NoError(t, err)
	assert.Empty(t, faults)
	require.Len(t, out, 1)
	assert.Equal(t, "styles.css", out[0].Path)

	css := string(out[0].Data)
	assert.Contains(t, css, "#336699")
	assert.Contains(t, css, "border-radius: 4px")
	assert.Contains(t, css, ".card")

	require.NoError(t, compiler.Close())
	require.NoError(t, compiler.Close(), "closing twice is harmless")
}

func TestStylesheetCompilerSassErrorLocation(t *testing.T) {
	fsys := newTemplateFs(t, map[string]string{
		"dev/static/styles/_broken.scss": "// colours\n$accent: $missing;\n",
	})
	compiler := newSassCompiler(t, fsys)

	tests := []struct {
		name   string
		source string
		file   string
		line   int
		column int
	}{
		{
			name:   "error in the entry file",
			source: "a {\n  color: $nope;\n}\n",
			file:   "dev/static/styles/styles.scss",
			line:   2,
			column: 10,
		},
		{
			name:   "error in an imported partial",
			source: "@use \"broken\";\n",
			file:   "dev/static/styles/_broken.scss",
			line:   2,
			column: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, faults, err := compiler.Apply(context.Background(), []File{
				{Path: "styles.scss", Source: "dev/static/styles/styles.scss", Data: []byte(tt.source)},
			})
			require.NoError(t, err)
			assert.Empty(t, out)
			require.Len(t, faults, 1)

			fault := faults[0]
			assert.Equal(t, errors.ErrCodeStylesheetSyntax, fault.Code)
			assert.Equal(t, tt.file, fault.File)
			assert.Equal(t, tt.line, fault.Line)
			assert.Equal(t, tt.column, fault.Column)
			assert.Contains(t, fault.Message, "Undefined variable")
			assert.True(t, fault.Fails())
		})
	}
}
