package commands

import (
	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/cli/ui"
	"github.com/aristath/macroecon/internal/scheduler"
)

func newWarmCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "warm [tree]...",
		Short: "Fetch every node of built-in or saved trees into the cache",
		Long: `Fetch every node of the given trees into the cache. Without arguments the
trees in WARM_TREES are warmed. Failures are reported and do not stop the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := a.services(cmd)
			if err != nil {
				return err
			}
			trees := args
			if len(trees) == 0 {
				trees = cfg.Warm.Trees
			}

			job := scheduler.NewWarmCacheJob(trees, treeSource{c}, c.Resolver, a.log)
			if err := job.RunContext(commandContext(cmd)); err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Warmed %d trees", len(trees))
			return nil
		},
	}
}
