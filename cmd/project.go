package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/conneroisu/stagehand/internal/build"
	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/logging"
	"github.com/conneroisu/stagehand/internal/task"
)

// project is everything a command needs to build: the configuration, the
// project filesystem and the plan over the default tasks.
type project struct {
	root     string
	cfg      *config.Config
	logger   logging.Logger
	fs       afero.Fs
	registry *task.Registry
	plan     *build.Plan
}

func loadProject(logOutput io.Writer) (*project, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg, logOutput)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Paths.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %s: %w", cfg.Paths.Root, err)
	}
	fsys := afero.NewBasePathFs(afero.NewOsFs(), root)

	registry, err := task.Default(cfg, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tasks: %w", err)
	}

	plan := build.NewPlan(fsys, registry, build.Options{
		Source:  cfg.Paths.Source,
		Output:  cfg.Paths.Output,
		Workers: cfg.Build.Workers,
		Logger:  logger,
	})

	return &project{
		root:     root,
		cfg:      cfg,
		logger:   logger,
		fs:       fsys,
		registry: registry,
		plan:     plan,
	}, nil
}

// Close stops the long-lived transform services.
func (p *project) Close() error {
	return p.registry.Close()
}

func newLogger(cfg *config.Config, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: w,
	}), nil
}
