// Package commands implements the macroecon command line.
package commands

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/di"
	"github.com/aristath/macroecon/pkg/logger"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// app carries the global flags and the lazily wired container.
type app struct {
	noColor  bool
	logLevel string

	loadConfig func() (*config.Config, error)
	cfg        *config.Config
	container  *di.Container
	log        zerolog.Logger
}

// services loads configuration and wires the container on first use.
func (a *app) services(cmd *cobra.Command) (*di.Container, *config.Config, error) {
	if a.container != nil {
		return a.container, a.cfg, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	a.log = logger.New(logger.Config{
		Level:  a.logLevel,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
	container, err := di.Wire(cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	a.cfg = cfg
	a.container = container
	return container, cfg, nil
}

func (a *app) close() {
	if a.container != nil {
		a.container.Close()
		a.container = nil
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "macroecon",
		Short: "Browse economic series hierarchies and manage the local data cache",
		Long: `macroecon organises FRED, BLS and BEA series into hierarchies
(CPI, PCE, GDP, employment) and keeps downloaded data in a local cache.

Configuration comes from the environment or a .env file:
  MACRO_DATA_DIR, MACRO_CACHE_DIR, MACRO_CACHE_TTL,
  FRED_API_KEY, BEA_API_KEY, BLS_API_KEY, PROVIDER_ORDER`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newTreeCommand(a))
	rootCmd.AddCommand(newCacheCommand(a))
	rootCmd.AddCommand(newFetchCommand(a))
	rootCmd.AddCommand(newKeyCommand())
	rootCmd.AddCommand(newSearchCommand(a))
	rootCmd.AddCommand(newWarmCommand(a))

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "macroecon %s (%s, %s)\n", Version, GitCommit, runtime.Version())
		},
	}
}

// Execute runs the root command and reports the error on stderr.
func Execute() error {
	a := &app{loadConfig: config.Load}
	defer a.close()

	rootCmd := newRootCommand(a)
	err := rootCmd.Execute()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	errorColor := color.New(color.FgRed, color.Bold)
	errorColor.Fprintf(w, "Error: %v\n", err)
}
