// Command macroecon browses economic series hierarchies and manages the
// local series cache from the terminal.
package main

import (
	"os"

	"github.com/aristath/macroecon/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
