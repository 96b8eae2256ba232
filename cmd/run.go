package cmd

import (
	"fmt"

	"factorlab/internal/app"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runFlags struct {
	start     string
	end       string
	factors   []string
	topN      int
	output    string
	benchmark string
	capital   float64
	noPlots   bool
	universe  []string
}

func newRunCommand(opts Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	flags := runFlags{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest and write reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			// fail on bad input before anything touches the network
			if err := cfg.Validate(); err != nil {
				return err
			}

			deps, err := opts.NewDependencies(cfg)
			if err != nil {
				return err
			}
			defer CloseDependencies(deps)

			runID := uuid.New()
			log := logger.FromContext(cmd.Context()).With("runID", runID.String())
			ctx := logger.NewContext(cmd.Context(), log)

			profile, endProfile := domain.NewProfile()
			ctx = domain.NewCtxWithProfile(ctx, profile)

			handler := deps.BacktestHandler
			handler.Stdout = cmd.OutOrStdout()
			result, err := handler.Backtest(ctx, app.BacktestInput{
				RunID:  runID,
				Config: cfg,
			})
			endProfile()
			if bytes, err := profile.ToJsonBytes(); err == nil {
				log.Debugf("run profile: %s", string(bytes))
			}
			if err != nil {
				return fmt.Errorf("backtest failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(result.Files), cfg.OutputDir)
			return nil
		},
	}

	f := runCmd.Flags()
	f.StringVar(&flags.start, "start", "", "first date, YYYY-MM-DD")
	f.StringVar(&flags.end, "end", "", "last date, YYYY-MM-DD")
	f.StringSliceVar(&flags.factors, "factors", nil, "comma separated factors: value, momentum, volatility")
	f.IntVar(&flags.topN, "top-n", 0, "number of instruments held")
	f.StringVar(&flags.output, "output", "", "output directory")
	f.StringVar(&flags.benchmark, "benchmark", "", "benchmark symbol")
	f.Float64Var(&flags.capital, "capital", 0, "initial capital")
	f.BoolVar(&flags.noPlots, "no-plots", false, "skip chart rendering")
	f.StringSliceVar(&flags.universe, "universe", nil, "comma separated symbols, default large-cap list")

	return runCmd
}

// apply overrides cfg with every flag set on the command line.
func (rf runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("start") {
		cfg.Start = rf.start
	}
	if changed("end") {
		cfg.End = rf.end
	}
	if changed("factors") {
		cfg.Factors = rf.factors
	}
	if changed("top-n") {
		cfg.TopN = rf.topN
	}
	if changed("output") {
		cfg.OutputDir = rf.output
	}
	if changed("benchmark") {
		cfg.Benchmark = rf.benchmark
	}
	if changed("capital") {
		cfg.InitialCapital = rf.capital
	}
	if changed("no-plots") {
		cfg.NoPlots = rf.noPlots
	}
	if changed("universe") {
		cfg.Universe = rf.universe
	}
}
