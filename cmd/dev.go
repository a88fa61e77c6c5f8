package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/stagehand/internal/orchestrator"
	"github.com/conneroisu/stagehand/internal/server"
	"github.com/conneroisu/stagehand/internal/watcher"
)

// runDev cleans, builds every task, then serves and watches until
// interrupted. Failed tasks do not stop it; only a failed clean or an
// unusable configuration does.
func runDev(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadProject(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.plan.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Summary())

	return serveAndWatch(ctx, p)
}

func serveAndWatch(ctx context.Context, p *project) error {
	srv := server.New(p.fs, p.plan, server.OptionsFromConfig(p.cfg), p.logger)
	orch := orchestrator.New(p.plan, p.registry, srv, p.logger)

	fw, err := watcher.NewFileWatcher(p.root, p.cfg.Watch.Debounce, p.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.ExcludeDirFilter(p.cfg.Paths.Output))
	fw.AddHandler(orch.HandleChanges)

	if err := fw.AddRecursive(p.cfg.Paths.Source); err != nil {
		_ = fw.Stop()
		return fmt.Errorf("failed to watch %s: %w", p.cfg.Paths.Source, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return fw.Start(gctx) })
	g.Go(func() error { return orch.Run(gctx) })

	p.logger.Info(ctx, "watching for changes", "source", p.cfg.Paths.Source)
	err = g.Wait()
	p.logger.Info(context.Background(), "stopped")
	return err
}
