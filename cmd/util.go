package cmd

import (
	"database/sql"
	"fmt"

	"factorlab/internal/app"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/repository"
	l1_service "factorlab/internal/service/l1"
	"factorlab/pkg/datajockey"
	treasury_client "factorlab/pkg/treasury"

	_ "github.com/lib/pq"
)

type Dependencies struct {
	// nil unless a database url is configured
	Db              *sql.DB
	PriceService    l1_service.PriceService
	BacktestHandler *app.BacktestHandler
	// nil unless a datajockey api key is configured
	FundamentalsService l1_service.FundamentalsService
}

// DependencyFactory builds everything a command needs from a validated
// config.
type DependencyFactory func(cfg *config.Config) (*Dependencies, error)

func CloseDependencies(deps *Dependencies) error {
	if deps == nil || deps.Db == nil {
		return nil
	}
	if err := deps.Db.Close(); err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

// InitializeDependencies stores prices in Postgres when a database url is
// set and in the CSV cache dir otherwise. Prices are fetched from Yahoo.
func InitializeDependencies(cfg *config.Config) (*Dependencies, error) {
	var (
		dbConn *sql.DB
		store  repository.PriceStore
		err    error
	)
	if cfg.Data.DatabaseURL != "" {
		dbConn, err = sql.Open("postgres", cfg.Data.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to db: %w", err)
		}
		store = repository.NewAdjustedPriceRepository(dbConn)
	} else {
		store = repository.NewPriceFileRepository(cfg.Data.CacheDir)
	}

	deps, err := NewDependencies(cfg, store, repository.NewYahooPriceRepository())
	if err != nil {
		if dbConn != nil {
			dbConn.Close()
		}
		return nil, err
	}
	deps.Db = dbConn
	return deps, nil
}

func NewDependencies(cfg *config.Config, store repository.PriceStore, provider repository.PriceProvider) (*Dependencies, error) {
	priceService := l1_service.NewPriceService(store, provider, cfg.Data.MaxRetries)

	var fundamentals repository.AssetFundamentalsRepository
	if cfg.Value.FundamentalsFile != "" {
		f, err := repository.NewAssetFundamentalsRepository(cfg.Value.FundamentalsFile)
		if err != nil {
			return nil, domain.NewConfigError("value.fundamentals_file", "%s", err.Error())
		}
		fundamentals = f
	}

	backtestHandler, err := app.NewBacktestHandler(cfg, priceService, fundamentals)
	if err != nil {
		return nil, err
	}
	if cfg.RiskFree.Source == config.RiskFreeSource_Treasury {
		backtestHandler.RiskFreeRateProvider = treasury_client.NewClient()
	}

	deps := &Dependencies{
		PriceService:    priceService,
		BacktestHandler: backtestHandler,
	}
	if cfg.Value.DataJockeyApiKey != "" {
		deps.FundamentalsService = l1_service.NewFundamentalsService(datajockey.NewClient(cfg.Value.DataJockeyApiKey))
	}

	return deps, nil
}
