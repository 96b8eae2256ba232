package cmd

import (
	"context"
	"io"
	"os"

	"factorlab/internal/config"
	"factorlab/internal/domain"

	"github.com/spf13/cobra"
)

type Options struct {
	Stdout          io.Writer
	NewDependencies DependencyFactory
}

// NewRootCommand builds the factorlab command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.NewDependencies == nil {
		opts.NewDependencies = InitializeDependencies
	}

	var configFile string
	rootCmd := &cobra.Command{
		Use:   "factorlab",
		Short: "Factor backtester for equity universes",
		Long: `factorlab ranks a universe of equities by value, momentum and
volatility factors, holds the top N in an equal-weight basket that is
rebalanced monthly, and reports performance against a benchmark.

Examples:
  factorlab run --start 2018-01-01 --end 2023-01-01 --factors momentum,volatility --top-n 10
  factorlab run --config config.yaml --no-plots
  factorlab ingest --start 2017-01-01`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.SetOut(opts.Stdout)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return domain.NewConfigError("", "%s", err.Error())
	})

	loadConfig := func() (*config.Config, error) {
		return config.Load(configFile)
	}

	rootCmd.AddCommand(newRunCommand(opts, loadConfig))
	rootCmd.AddCommand(newIngestCommand(opts, loadConfig))

	return rootCmd
}

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand(Options{}).ExecuteContext(ctx)
}
