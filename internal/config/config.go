// Package config provides configuration management for stagehand using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// Every option has a default matching the conventional project layout
// (sources under dev/, output under dist/), so an empty configuration builds
// a standard project. Values are validated before use; invalid values are
// fatal to the run.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Build   BuildConfig   `mapstructure:"build" yaml:"build"`
	Pages   PagesConfig   `mapstructure:"pages" yaml:"pages"`
	Styles  StylesConfig  `mapstructure:"styles" yaml:"styles"`
	Scripts ScriptsConfig `mapstructure:"scripts" yaml:"scripts"`
	Vendors VendorsConfig `mapstructure:"vendors" yaml:"vendors"`
	Images  ImagesConfig  `mapstructure:"images" yaml:"images"`
	Sprite  SpriteConfig  `mapstructure:"sprite" yaml:"sprite"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// PathsConfig locates the project. Source and Output are relative to Root.
type PathsConfig struct {
	Root   string `mapstructure:"root" yaml:"root"`
	Source string `mapstructure:"source" yaml:"source"`
	Output string `mapstructure:"output" yaml:"output"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Compress       bool     `mapstructure:"compress" yaml:"compress"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type BuildConfig struct {
	// Workers caps how many tasks run at once; 0 means one per CPU.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type PagesConfig struct {
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
	// Data is an optional YAML file, relative to the templates directory,
	// passed to every page as its template data.
	Data string `mapstructure:"data" yaml:"data"`
}

type StylesConfig struct {
	MinifyLevel  int      `mapstructure:"minify_level" yaml:"minify_level"`
	Targets      []string `mapstructure:"targets" yaml:"targets"`
	SassBinary   string   `mapstructure:"sass_binary" yaml:"sass_binary"`
	IncludePaths []string `mapstructure:"include_paths" yaml:"include_paths"`
}

type ScriptsConfig struct {
	Entry  string `mapstructure:"entry" yaml:"entry"`
	Target string `mapstructure:"target" yaml:"target"`
	Minify bool   `mapstructure:"minify" yaml:"minify"`
}

type VendorsConfig struct {
	Files  []string `mapstructure:"files" yaml:"files"`
	Bundle string   `mapstructure:"bundle" yaml:"bundle"`
}

type ImagesConfig struct {
	GIF  GIFConfig  `mapstructure:"gif" yaml:"gif"`
	JPEG JPEGConfig `mapstructure:"jpeg" yaml:"jpeg"`
	PNG  PNGConfig  `mapstructure:"png" yaml:"png"`
	SVG  SVGConfig  `mapstructure:"svg" yaml:"svg"`
}

type GIFConfig struct {
	// Interlaced has no effect; the encoder writes non-interlaced GIF.
	Interlaced bool `mapstructure:"interlaced" yaml:"interlaced"`
}

type JPEGConfig struct {
	Quality int `mapstructure:"quality" yaml:"quality"`
	// Progressive has no effect; the encoder writes baseline JPEG.
	Progressive bool `mapstructure:"progressive" yaml:"progressive"`
}

type PNGConfig struct {
	Level int `mapstructure:"level" yaml:"level"`
}

type SVGConfig struct {
	RemoveViewBox bool `mapstructure:"remove_viewbox" yaml:"remove_viewbox"`
	CleanupIDs    bool `mapstructure:"cleanup_ids" yaml:"cleanup_ids"`
}

type SpriteConfig struct {
	Minify bool `mapstructure:"minify" yaml:"minify"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// EnvPrefix prefixes every environment override, e.g. STAGEHAND_SERVER_PORT.
const EnvPrefix = "STAGEHAND"

var envKeyReplacer = strings.NewReplacer(".", "_")

// BindEnv enables STAGEHAND_<SECTION>_<OPTION> overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer)
}

// SetDefaults registers the default of every option on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.root", ".")
	v.SetDefault("paths.source", "dev")
	v.SetDefault("paths.output", "dist")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.compress", true)

	v.SetDefault("watch.debounce", 150*time.Millisecond)
	v.SetDefault("build.workers", 0)

	v.SetDefault("pages.pretty", true)
	v.SetDefault("pages.data", "data.yml")

	v.SetDefault("styles.minify_level", 2)
	v.SetDefault("styles.targets", []string{"defaults"})
	v.SetDefault("styles.sass_binary", "sass")
	v.SetDefault("styles.include_paths", []string{})

	v.SetDefault("scripts.entry", "main.js")
	v.SetDefault("scripts.target", "es2015")
	v.SetDefault("scripts.minify", true)

	v.SetDefault("vendors.files", []string{"node_modules/svg4everybody/dist/svg4everybody.min.js"})
	v.SetDefault("vendors.bundle", "libs.min.js")

	v.SetDefault("images.gif.interlaced", false)
	v.SetDefault("images.jpeg.quality", 75)
	v.SetDefault("images.jpeg.progressive", false)
	v.SetDefault("images.png.level", 5)
	v.SetDefault("images.svg.remove_viewbox", true)
	v.SetDefault("images.svg.cleanup_ids", false)

	v.SetDefault("sprite.minify", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, err
	}

	config.normalize()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Paths.Source = toSlash(c.Paths.Source)
	c.Paths.Output = toSlash(c.Paths.Output)
	if c.Build.Workers <= 0 {
		c.Build.Workers = runtime.NumCPU()
	}
	c.Scripts.Target = strings.ToLower(c.Scripts.Target)
	for i, t := range c.Styles.Targets {
		c.Styles.Targets[i] = strings.TrimSpace(t)
	}
}

func toSlash(p string) string {
	return path.Clean(filepath.ToSlash(strings.TrimSpace(p)))
}

// Source joins elements onto the source root.
func (c *Config) Source(elem ...string) string {
	return path.Join(append([]string{c.Paths.Source}, elem...)...)
}

// Output joins elements onto the output root.
func (c *Config) Output(elem ...string) string {
	return path.Join(append([]string{c.Paths.Output}, elem...)...)
}

// Address is the host:port the development server binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
