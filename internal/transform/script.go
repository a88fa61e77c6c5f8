package transform

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/errors"
)

// ScriptOptions configures the script bundler.
type ScriptOptions struct {
	// Target is the language level the bundle is transpiled down to.
	Target api.Target
	Minify bool
}

// ScriptBundler bundles every input file as an entry point with esbuild,
// resolving imports from the project filesystem.
type ScriptBundler struct {
	fs      afero.Fs
	options ScriptOptions
}

func NewScriptBundler(fsys afero.Fs, options ScriptOptions) *ScriptBundler {
	return &ScriptBundler{fs: fsys, options: options}
}

func (b *ScriptBundler) Name() string { return "script-bundle" }

func (b *ScriptBundler) Apply(ctx context.Context, files []File) ([]File, []*errors.AssetError, error) {
	var (
		out    []File
		faults []*errors.AssetError
	)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, faults, err
		}

		result := api.Build(api.BuildOptions{
			EntryPoints:       []string{f.Source},
			Bundle:            true,
			Write:             false,
			Outdir:            "out",
			Format:            api.FormatIIFE,
			Target:            b.options.Target,
			MinifyWhitespace:  b.options.Minify,
			MinifyIdentifiers: b.options.Minify,
			MinifySyntax:      b.options.Minify,
			LogLevel:          api.LogLevelSilent,
			Plugins:           []api.Plugin{aferoPlugin(b.fs)},
		})
		if len(result.Errors) > 0 {
			faults = append(faults, messageFault(errors.ErrCodeScriptSyntax, result.Errors, f))
			continue
		}

		data, ok := outputWithExt(result.OutputFiles, ".js")
		if !ok {
			faults = append(faults, fileFault(errors.NewInternalError(errors.ErrCodeInternalError, "bundler produced no script output", nil), f))
			continue
		}
		out = append(out, File{Path: WithExt(f.Path, ".js"), Source: f.Source, Data: data})
	}

	return out, faults, nil
}
