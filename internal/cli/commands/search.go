package commands

import (
	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/cli/ui"
)

func newSearchCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search FRED series by keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			results, err := c.FRED.Search(commandContext(cmd), args[0], limit)
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), a.noColor, "ID", "FREQ", "SA", "TITLE")
			for _, r := range results {
				table.AddRow(r.ID, r.Frequency, r.SeasonalAdjustment, r.Title)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	return cmd
}
