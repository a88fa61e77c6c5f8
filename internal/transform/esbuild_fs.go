package transform

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/errors"
)

const aferoNamespace = "afero"

var scriptExtensions = []string{"", ".js", ".mjs", ".ts", ".jsx", ".tsx", ".json", ".css"}

// aferoPlugin resolves and loads every module esbuild asks for from fsys, so
// bundling works against the project filesystem, including in-memory ones.
// Paths are project relative and slash separated.
func aferoPlugin(fsys afero.Fs) api.Plugin {
	return api.Plugin{
		Name: "stagehand-afero",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return resolveModule(fsys, args)
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: aferoNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					data, err := afero.ReadFile(fsys, args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents := string(data)
					return api.OnLoadResult{
						Contents: &contents,
						Loader:   loaderFor(args.Path),
					}, nil
				})
		},
	}
}

func resolveModule(fsys afero.Fs, args api.OnResolveArgs) (api.OnResolveResult, error) {
	p := args.Path

	switch {
	case args.Kind == api.ResolveCSSURLToken,
		strings.Contains(p, "://"),
		strings.HasPrefix(p, "data:"),
		strings.HasPrefix(p, "//"):
		return api.OnResolveResult{Path: p, External: true}, nil
	}

	if args.Kind == api.ResolveEntryPoint {
		return api.OnResolveResult{Path: path.Clean(p), Namespace: aferoNamespace}, nil
	}

	var candidate string
	switch {
	case strings.HasPrefix(p, "./"), strings.HasPrefix(p, "../"):
		candidate = path.Join(path.Dir(args.Importer), p)
	case strings.HasPrefix(p, "/"):
		candidate = strings.TrimPrefix(path.Clean(p), "/")
	default:
		resolved, ok := resolvePackage(fsys, p)
		if !ok {
			return api.OnResolveResult{}, fmt.Errorf("cannot resolve package %q", p)
		}
		return api.OnResolveResult{Path: resolved, Namespace: aferoNamespace}, nil
	}

	resolved, ok := resolveFile(fsys, candidate)
	if !ok {
		return api.OnResolveResult{}, fmt.Errorf("cannot resolve %q from %s", p, args.Importer)
	}
	return api.OnResolveResult{Path: resolved, Namespace: aferoNamespace}, nil
}

// resolveFile tries p, then p with the known extensions, then p as a
// directory with an index file.
func resolveFile(fsys afero.Fs, p string) (string, bool) {
	for _, ext := range scriptExtensions {
		if isFile(fsys, p+ext) {
			return p + ext, true
		}
	}
	for _, index := range []string{"index.js", "index.mjs", "index.ts", "index.css"} {
		candidate := path.Join(p, index)
		if isFile(fsys, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// resolvePackage finds a bare import below node_modules, honouring the
// "module" and "main" fields of package.json.
func resolvePackage(fsys afero.Fs, spec string) (string, bool) {
	dir := path.Join("node_modules", spec)
	if data, err := afero.ReadFile(fsys, path.Join(dir, "package.json")); err == nil {
		var manifest struct {
			Module string `json:"module"`
			Main   string `json:"main"`
			Style  string `json:"style"`
		}
		if json.Unmarshal(data, &manifest) == nil {
			for _, entry := range []string{manifest.Module, manifest.Main, manifest.Style} {
				if entry == "" {
					continue
				}
				if resolved, ok := resolveFile(fsys, path.Join(dir, entry)); ok {
					return resolved, true
				}
			}
		}
	}

	return resolveFile(fsys, dir)
}

func isFile(fsys afero.Fs, p string) bool {
	info, err := fsys.Stat(p)
	return err == nil && !info.IsDir()
}

func loaderFor(p string) api.Loader {
	switch path.Ext(p) {
	case ".css":
		return api.LoaderCSS
	case ".ts":
		return api.LoaderTS
	case ".jsx":
		return api.LoaderJSX
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

// messageFault converts the first esbuild error into a syntax fault.
func messageFault(code string, msgs []api.Message, f File) *errors.AssetError {
	msg := msgs[0]
	fault := errors.NewSyntaxError(code, msg.Text, nil)
	if loc := msg.Location; loc != nil {
		fault.WithLocation(strings.TrimPrefix(loc.File, aferoNamespace+":"), loc.Line, loc.Column+1)
	}
	return fileFault(fault, f)
}

// outputWithExt picks the build output with the given extension.
func outputWithExt(files []api.OutputFile, ext string) ([]byte, bool) {
	for _, f := range files {
		if path.Ext(f.Path) == ext {
			return f.Contents, true
		}
	}
	return nil, false
}
