package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/stagehand/internal/build"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the site once without serving",
	Long: `Build the site once and exit. The command fails when any task fails.

By default the output tree is removed first and every task runs. With --task
only the named tasks run and the output tree is kept.

Examples:
  stagehand build                        # Clean and build everything
  stagehand build --no-clean             # Build everything over the existing output
  stagehand build --task styles,scripts  # Rebuild two tasks`,
	RunE: runBuild,
}

var (
	buildTasks   []string
	buildNoClean bool
)

func init() {
	buildCmd.Flags().StringSliceVarP(&buildTasks, "task", "t", nil, "Run only these tasks (implies --no-clean)")
	buildCmd.Flags().BoolVar(&buildNoClean, "no-clean", false, "Keep the existing output tree")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := loadProject(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.Close()

	var report *build.Report
	if buildNoClean || len(buildTasks) > 0 {
		report, err = p.plan.Run(ctx, buildTasks...)
	} else {
		report, err = p.plan.Build(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Summary())

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d tasks failed: %w", len(failed), len(report.Results), report.Err())
	}
	return nil
}
