package commands

import (
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/cli/ui"
	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/timeseries"
	"github.com/aristath/macroecon/internal/transforms"
)

type fetchOptions struct {
	provider  string
	start     string
	end       string
	transform string
	asJSON    bool
	tail      int
}

type point struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

func newFetchCommand(a *app) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <tree> <code>",
		Short: "Fetch the data of one node",
		Long: `Fetch the data of one node. Providers are tried in PROVIDER_ORDER and the
first source that succeeds wins; responses come from the cache while fresh.`,
		Example: `  macroecon fetch cpi CPI_FOOD --start 2020-01-01
  macroecon fetch gdp GDP --provider bea --transform qoq_ann
  macroecon fetch cpi CPI --transform yoy --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, a, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Only try this provider")
	cmd.Flags().StringVar(&opts.start, "start", "", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Last date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&opts.transform, "transform", "t", "", "Transform to apply, e.g. yoy, mom, ma:12")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().IntVar(&opts.tail, "tail", 0, "Only print the last n observations")
	return cmd
}

func runFetch(cmd *cobra.Command, a *app, opts *fetchOptions, tree, code string) error {
	for _, d := range []string{opts.start, opts.end} {
		if _, err := timeseries.ParseDate(d); err != nil {
			return err
		}
	}

	c, _, err := a.services(cmd)
	if err != nil {
		return err
	}
	node, err := loadNode(c, tree, code)
	if err != nil {
		return err
	}

	frame, src, err := c.Resolver.Resolve(commandContext(cmd), node, fetch.Options{
		Start:    opts.start,
		End:      opts.end,
		Provider: opts.provider,
	})
	if err != nil {
		return err
	}
	if opts.transform != "" {
		if frame, err = transforms.Apply(opts.transform, frame); err != nil {
			return err
		}
	}

	points := framePoints(frame)
	if opts.tail > 0 && len(points) > opts.tail {
		points = points[len(points)-opts.tail:]
	}

	w := cmd.OutOrStdout()
	if opts.asJSON {
		return writeJSON(w, map[string]any{
			"tree":      tree,
			"code":      node.Code,
			"name":      node.Name,
			"source":    src.String(),
			"transform": opts.transform,
			"data":      points,
		})
	}

	header := ui.NewKeyValueTable(w, a.noColor)
	header.AddRow("Series", fmt.Sprintf("%s [%s]", node.Name, node.Code))
	header.AddRow("Source", src.Describe())
	if opts.transform != "" {
		header.AddRow("Transform", opts.transform)
	}
	header.AddRow("Observations", strconv.Itoa(frame.Len()))
	header.Render()
	fmt.Fprintln(w)

	table := ui.NewTable(w, a.noColor, "DATE", "VALUE")
	table.SetAlign(1, ui.AlignRight)
	for _, p := range points {
		value := "NaN"
		if p.Value != nil {
			value = strconv.FormatFloat(*p.Value, 'f', -1, 64)
		}
		table.AddRow(p.Date, value)
	}
	table.Render()
	return nil
}

// framePoints converts the value column to dated points; NaN becomes nil.
func framePoints(f *timeseries.Frame) []point {
	values := f.Values()
	points := make([]point, f.Len())
	for i, ts := range f.Index {
		points[i].Date = ts.Format(timeseries.DateLayout)
		if v := values[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			points[i].Value = &v
		}
	}
	return points
}
