package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/cache"
)

func newKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key <provider> <series_id> [param=value]...",
		Short: "Print the cache key for a provider series",
		Long: `Print the cache key for a provider series and query parameters.

Values that read as JSON scalars keep their type: start=2020 is a number,
end=null is null and flag=true is a boolean. Anything else is a string;
quote it to force a string, as in start='"2020"'.`,
		Example: `  macroecon key fred CPIAUCSL start=null end=null
  macroecon key bls CUUR0000SA0 start=2015 end=2024
  macroecon key bea_table T20805 frequency=M year=ALL`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := make(map[string]any, len(args)-2)
			for _, kv := range args[2:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("parameter %q is not key=value", kv)
				}
				extra[k] = paramValue(v)
			}
			key, err := cache.NewKey(args[0], args[1], extra)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

// paramValue decodes a JSON scalar, keeping numbers exact, and falls back
// to the raw text.
func paramValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	switch v.(type) {
	case nil, bool, string, json.Number:
		return v
	default:
		return raw
	}
}
