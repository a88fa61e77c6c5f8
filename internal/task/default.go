package task

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/glob"
	"github.com/conneroisu/stagehand/internal/transform"
)

// Names of the default tasks.
const (
	Pages   = "pages"
	Styles  = "styles"
	Scripts = "scripts"
	Vendors = "vendors"
	Images  = "images"
	Sprite  = "sprite"
	Fonts   = "fonts"
)

// imageExtensions are the formats the images task optimises.
const imageExtensions = "{jpg,jpeg,png,gif,svg,webp}"

// Default builds the standard registry for a project laid out under
// cfg.Paths.Source. fsys is rooted at the project root.
func Default(cfg *config.Config, fsys afero.Fs) (*Registry, error) {
	prefixer, err := transform.NewPrefixer(cfg.Styles.Targets, cfg.Styles.MinifyLevel > 0)
	if err != nil {
		return nil, err
	}
	target, err := transform.ScriptTarget(cfg.Scripts.Target)
	if err != nil {
		return nil, err
	}

	var dataFile string
	if cfg.Pages.Data != "" {
		dataFile = cfg.Source("templates", cfg.Pages.Data)
	}

	// Source directories may contain glob metacharacters; the first invalid
	// pattern is reported once all tasks are declared.
	var globErr error
	set := func(patterns ...string) glob.Set {
		s, err := glob.New(patterns...)
		if err != nil && globErr == nil {
			globErr = err
		}
		return s
	}

	pages := &Task{
		Name:    Pages,
		Sources: set(cfg.Source("templates/pages/*.html")),
		Base:    cfg.Source("templates/pages"),
		Steps: []transform.Step{
			transform.NewTemplateRenderer(fsys, transform.TemplateOptions{
				Root:     cfg.Source("templates"),
				Partials: set(cfg.Source("templates/**/*.html"), "!"+cfg.Source("templates/pages/**")),
				DataFile: dataFile,
				Pretty:   cfg.Pages.Pretty,
			}),
		},
		Dest: cfg.Output(),
	}

	styles := &Task{
		Name:    Styles,
		Sources: set(cfg.Source("static/styles/*.{scss,sass,css}"), "!**/_*"),
		Base:    cfg.Source("static/styles"),
		Steps: []transform.Step{
			transform.NewStylesheetCompiler(fsys, transform.StylesheetOptions{
				SassBinary:   cfg.Styles.SassBinary,
				IncludePaths: cfg.Styles.IncludePaths,
			}),
			transform.NewCSSMinifier(cfg.Styles.MinifyLevel),
			prefixer,
		},
		Dest: cfg.Output("static/css"),
	}

	scripts := &Task{
		Name:    Scripts,
		Sources: set(cfg.Source("static/js", cfg.Scripts.Entry)),
		Base:    cfg.Source("static/js"),
		Steps: []transform.Step{
			transform.NewScriptBundler(fsys, transform.ScriptOptions{
				Target: target,
				Minify: cfg.Scripts.Minify,
			}),
		},
		Dest: cfg.Output("static/js"),
	}

	vendors := &Task{
		Name:  Vendors,
		Files: cfg.Vendors.Files,
		Steps: []transform.Step{transform.Concat{Output: cfg.Vendors.Bundle}},
		Dest:  cfg.Output("static/js/vendors"),
	}

	imageSources := []string{
		cfg.Source("static/img/**/*." + imageExtensions),
		"!" + cfg.Source("static/img/sprite/**"),
	}
	images := &Task{
		Name:    Images,
		Sources: set(imageSources...),
		Base:    cfg.Source("static/img"),
		Steps: []transform.Step{
			transform.NewImageOptimizer(transform.ImageOptions{
				GIFInterlaced:    cfg.Images.GIF.Interlaced,
				JPEGQuality:      cfg.Images.JPEG.Quality,
				JPEGProgressive:  cfg.Images.JPEG.Progressive,
				PNGLevel:         cfg.Images.PNG.Level,
				SVGRemoveViewBox: cfg.Images.SVG.RemoveViewBox,
				SVGCleanupIDs:    cfg.Images.SVG.CleanupIDs,
			}),
		},
		Dest: cfg.Output("static/img"),
	}

	spriteSources := []string{cfg.Source("static/img/sprite/*.svg")}
	sprite := &Task{
		Name:    Sprite,
		Sources: set(spriteSources...),
		Base:    cfg.Source("static/img/sprite"),
		Steps: []transform.Step{
			transform.SpriteSanitizer{},
			transform.NewSpritePacker("symbol/sprite.svg", cfg.Sprite.Minify),
		},
		Dest: cfg.Output("static/img/sprite"),
	}

	fonts := &Task{
		Name:    Fonts,
		Sources: set(cfg.Source("static/fonts/**/*.*")),
		Base:    cfg.Source("static/fonts"),
		Steps:   []transform.Step{transform.Copy{}},
		Dest:    cfg.Output("static/fonts"),
	}

	if globErr != nil {
		return nil, fmt.Errorf("default tasks: %w", globErr)
	}

	registry, err := NewRegistry(
		Entry{Task: pages, Watch: []string{cfg.Source("templates/**/*.{html,yml,yaml}")}},
		Entry{Task: styles, Watch: []string{cfg.Source("static/styles/**/*.{scss,sass,css}")}},
		Entry{Task: scripts, Watch: []string{cfg.Source("static/js/**/*.js")}},
		Entry{Task: vendors},
		Entry{Task: images, Watch: imageSources},
		Entry{Task: sprite, Watch: spriteSources},
		Entry{Task: fonts},
	)
	if err != nil {
		return nil, fmt.Errorf("default tasks: %w", err)
	}
	return registry, nil
}
