package config

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ScriptTargets lists the accepted values of scripts.target.
var ScriptTargets = []string{
	"es5", "es2015", "es2016", "es2017", "es2018", "es2019",
	"es2020", "es2021", "es2022", "es2023", "es2024", "esnext",
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePathsConfig(&config.Paths); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if config.Watch.Debounce < 0 || config.Watch.Debounce > time.Minute {
		return fmt.Errorf("watch config: debounce %s is not in valid range 0-1m", config.Watch.Debounce)
	}

	if err := validateStylesConfig(&config.Styles); err != nil {
		return fmt.Errorf("styles config: %w", err)
	}

	if err := validateScriptsConfig(&config.Scripts); err != nil {
		return fmt.Errorf("scripts config: %w", err)
	}

	if err := validateImagesConfig(&config.Images); err != nil {
		return fmt.Errorf("images config: %w", err)
	}

	if config.Vendors.Bundle == "" || strings.Contains(config.Vendors.Bundle, "/") {
		return fmt.Errorf("vendors config: bundle must be a plain file name, got %q", config.Vendors.Bundle)
	}
	for _, f := range config.Vendors.Files {
		if err := validatePath(f); err != nil {
			return fmt.Errorf("vendors config: invalid file '%s': %w", f, err)
		}
	}

	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log config: unknown format %q", config.Log.Format)
	}

	return nil
}

// validatePathsConfig rejects layouts where cleaning the output tree would
// delete sources.
func validatePathsConfig(config *PathsConfig) error {
	if config.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	for name, p := range map[string]string{"source": config.Source, "output": config.Output} {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("invalid %s path '%s': %w", name, p, err)
		}
	}

	if config.Output == "." {
		return fmt.Errorf("output must not be the project root")
	}
	if config.Output == config.Source {
		return fmt.Errorf("output and source must differ, both are %q", config.Source)
	}
	if isAncestor(config.Output, config.Source) {
		return fmt.Errorf("output %q contains source %q", config.Output, config.Source)
	}
	if isAncestor(config.Source, config.Output) {
		return fmt.Errorf("output %q is inside source %q", config.Output, config.Source)
	}

	return nil
}

func isAncestor(dir, p string) bool {
	if dir == "." {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateStylesConfig(config *StylesConfig) error {
	if config.MinifyLevel < 0 || config.MinifyLevel > 2 {
		return fmt.Errorf("minify_level %d is not in valid range 0-2", config.MinifyLevel)
	}
	if len(config.Targets) == 0 {
		return fmt.Errorf("targets must not be empty")
	}
	for _, p := range config.IncludePaths {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("invalid include path '%s': %w", p, err)
		}
	}
	return nil
}

func validateScriptsConfig(config *ScriptsConfig) error {
	if config.Entry == "" {
		return fmt.Errorf("entry must not be empty")
	}
	if err := validatePath(config.Entry); err != nil {
		return fmt.Errorf("invalid entry '%s': %w", config.Entry, err)
	}
	for _, t := range ScriptTargets {
		if t == config.Target {
			return nil
		}
	}
	return fmt.Errorf("unknown target %q, expected one of %s", config.Target, strings.Join(ScriptTargets, ", "))
}

func validateImagesConfig(config *ImagesConfig) error {
	if config.JPEG.Quality < 1 || config.JPEG.Quality > 100 {
		return fmt.Errorf("jpeg quality %d is not in valid range 1-100", config.JPEG.Quality)
	}
	if config.PNG.Level < 0 || config.PNG.Level > 7 {
		return fmt.Errorf("png level %d is not in valid range 0-7", config.PNG.Level)
	}
	return nil
}

// validatePath validates a project-relative path
func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}

	if path.IsAbs(p) {
		return fmt.Errorf("path must be relative to the project root")
	}

	cleanPath := path.Clean(p)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return fmt.Errorf("path contains traversal: %s", p)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
