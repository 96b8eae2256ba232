package cmd

import (
	"fmt"
	"strings"

	"factorlab/internal/app"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/logger"
	"factorlab/internal/repository"

	"github.com/spf13/cobra"
)

func newIngestCommand(opts Options, loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		start, end   string
		symbols      []string
		fundamentals bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch prices from the provider into the local store",
		Long: `ingest refetches the universe and benchmark for the configured window,
including the factor lookback, and writes them to the price store so
that later runs do not touch the network.

With --fundamentals it also pulls quarterly EPS from datajockey
(FACTORLAB_DATAJOCKEY_API_KEY) into value.fundamentals_file, which the
value factor reads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("start") {
				cfg.Start = start
			}
			if cmd.Flags().Changed("end") {
				cfg.End = end
			}
			if cmd.Flags().Changed("symbols") {
				cfg.Universe = symbols
			}
			if fundamentals {
				if cfg.Value.DataJockeyApiKey == "" {
					return domain.NewConfigError("value.datajockey_api_key", "required by --fundamentals, or set %s", config.EnvDataJockey)
				}
				if cfg.Value.FundamentalsFile == "" {
					cfg.Value.FundamentalsFile = config.DefaultFundamentalsFile
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fundamentalsFile := cfg.Value.FundamentalsFile
			if fundamentals {
				// the file is being written, not read
				depsCfg := *cfg
				depsCfg.Value.FundamentalsFile = ""
				cfg = &depsCfg
			}
			startDate, err := cfg.StartDate()
			if err != nil {
				return err
			}
			endDate, err := cfg.EndDate()
			if err != nil {
				return err
			}

			deps, err := opts.NewDependencies(cfg)
			if err != nil {
				return err
			}
			defer CloseDependencies(deps)

			toSync := repository.NewUniverseRepository(cfg.Universe).List()
			if b := strings.ToUpper(cfg.Benchmark); b != "" && !cmd.Flags().Changed("symbols") {
				toSync = append(toSync, b)
			}

			ctx := cmd.Context()
			result, err := deps.PriceService.SyncPrices(ctx, toSync, app.FetchStart(cfg, startDate), endDate)
			if err != nil {
				return fmt.Errorf("failed to sync prices: %w", err)
			}
			logger.FromContext(ctx).Infof("synced %d of %d symbols", len(result.Prices.Symbols()), len(toSync))

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d symbols\n", len(result.Prices.Symbols()))
			if excluded := result.ExcludedSymbols(); len(excluded) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no data for: %s\n", strings.Join(excluded, ", "))
			}

			if !fundamentals {
				return nil
			}
			if deps.FundamentalsService == nil {
				return fmt.Errorf("fundamentals service is not configured")
			}
			fundamentalsResult, err := deps.FundamentalsService.SyncFundamentals(ctx, repository.NewUniverseRepository(cfg.Universe).List(), fundamentalsFile)
			if err != nil {
				return fmt.Errorf("failed to sync fundamentals: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d eps records to %s\n", len(fundamentalsResult.Records), fundamentalsFile)
			if len(fundamentalsResult.Excluded) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no fundamentals for %d symbols\n", len(fundamentalsResult.Excluded))
			}
			return nil
		},
	}

	ingestCmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD")
	ingestCmd.Flags().StringVar(&end, "end", "", "last date, YYYY-MM-DD")
	ingestCmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma separated symbols, default the configured universe")
	ingestCmd.Flags().BoolVar(&fundamentals, "fundamentals", false, "also fetch quarterly eps into value.fundamentals_file")

	return ingestCmd
}
