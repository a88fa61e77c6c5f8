package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the output tree",
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, _ []string) error {
	p, err := loadProject(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.plan.Clean(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p.cfg.Paths.Output)
	return nil
}
