package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"factorlab/internal/calculator"
	"factorlab/internal/chart"
	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/logger"
	"factorlab/internal/reporting"
	"factorlab/internal/repository"
	l1_service "factorlab/internal/service/l1"
	l2_service "factorlab/internal/service/l2"
	l3_service "factorlab/internal/service/l3"
	"factorlab/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RiskFreeRateProvider interface {
	GetRiskFreeRate(ctx context.Context, date time.Time) (float64, error)
}

type BacktestHandler struct {
	PriceService       l1_service.PriceService
	FactorEvaluator    l2_service.FactorEvaluator
	SelectionService   l2_service.SelectionService
	UniverseRepository repository.UniverseRepository
	// only used when risk_free.source is treasury
	RiskFreeRateProvider RiskFreeRateProvider
	// summary destination; nil disables printing
	Stdout io.Writer
	Now    func() time.Time
}

// NewBacktestHandler builds the scoring and selection services that cfg
// describes. The composite expression, if any, is checked here so that
// it fails before any data is loaded.
func NewBacktestHandler(cfg *config.Config, priceService l1_service.PriceService, fundamentals repository.AssetFundamentalsRepository) (*BacktestHandler, error) {
	expressionService := l2_service.NewFactorExpressionService()
	if cfg.Composite.Expression != "" {
		if err := expressionService.Validate(cfg.Composite.Expression); err != nil {
			return nil, domain.NewConfigError("composite.expression", "%s", err.Error())
		}
	}

	weights := map[domain.FactorType]float64{}
	for name, w := range cfg.Composite.Weights {
		f, err := domain.NewFactorType(name)
		if err != nil {
			return nil, domain.NewConfigError("composite.weights", "%s", err.Error())
		}
		weights[f] = w
	}

	factorEvaluator := l2_service.NewFactorEvaluator(l2_service.FactorEngineConfig{
		MomentumLookbackMonths:    cfg.Momentum.LookbackMonths,
		MomentumSkipMonths:        cfg.Momentum.SkipMonths,
		VolatilityWindow:          cfg.Volatility.Window,
		VolatilityMinObservations: cfg.Volatility.MinObservations,
		ValueMissingPolicy:        cfg.Value.MissingPolicy,
	}, fundamentals)

	selectionService := l2_service.NewSelectionService(l2_service.SelectionConfig{
		TopN:                cfg.TopN,
		CompositeWeights:    weights,
		CompositeExpression: cfg.Composite.Expression,
	}, l2_service.EqualWeighter{}, expressionService)

	return &BacktestHandler{
		PriceService:       priceService,
		FactorEvaluator:    factorEvaluator,
		SelectionService:   selectionService,
		UniverseRepository: repository.NewUniverseRepository(cfg.Universe),
	}, nil
}

type BacktestInput struct {
	RunID  uuid.UUID
	Config *config.Config
}

type BacktestResult struct {
	RunID           uuid.UUID
	Report          reporting.Report
	Calendar        []time.Time
	PortfolioValues domain.ValueSeries
	// nil when the benchmark could not be valued
	BenchmarkValues domain.ValueSeries
	Selections      []domain.SelectionSet
	History         *domain.FactorScoreHistory
	Snapshots       []l3_service.RebalanceSnapshot
	// every file written to the output dir
	Files []string
}

// Backtest runs the whole pipeline for one configuration: load prices,
// score and select on every rebalance date, simulate, evaluate, then
// write reports and charts.
func (h BacktestHandler) Backtest(ctx context.Context, in BacktestInput) (*BacktestResult, error) {
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := in.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	log := logger.FromContext(ctx).With("runID", runID.String())
	ctx = logger.NewContext(ctx, log)

	profile := domain.GetProfile(ctx)

	factors, err := cfg.FactorTypes()
	if err != nil {
		return nil, err
	}
	start, err := cfg.StartDate()
	if err != nil {
		return nil, err
	}
	end, err := cfg.EndDate()
	if err != nil {
		return nil, err
	}

	log.Infof("starting backtest %s to %s with factors %v, top %d", cfg.Start, cfg.End, cfg.Factors, cfg.TopN)

	// load
	_, endSpan := profile.StartNewSpan("load prices")
	universe := h.UniverseRepository.List()
	benchmark := strings.ToUpper(strings.TrimSpace(cfg.Benchmark))
	symbols := append([]string{}, universe...)
	if benchmark != "" && !contains(symbols, benchmark) {
		symbols = append(symbols, benchmark)
	}
	loaded, err := h.PriceService.LoadPrices(ctx, symbols, FetchStart(cfg, start), end)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	endSpan()

	excluded := map[string]string{}
	for symbol, reason := range loaded.Excluded {
		excluded[symbol] = reason.Error()
	}

	_, endSpan = profile.StartNewSpan("build calendar")
	tradable := []string{}
	for _, symbol := range universe {
		if loaded.Prices.Has(symbol) {
			tradable = append(tradable, symbol)
		}
	}
	if len(tradable) == 0 {
		return nil, fmt.Errorf("no universe instrument has prices: %w", domain.ErrDataUnavailable)
	}
	universePrices, err := subsetPrices(loaded.Prices, tradable)
	if err != nil {
		return nil, err
	}

	calendar := universePrices.TradingCalendar(start, end)
	if len(calendar) < 2 {
		return nil, fmt.Errorf("found %d trading days between %s and %s: %w", len(calendar), cfg.Start, cfg.End, domain.ErrDegenerateSeries)
	}

	tradable = filterByCoverage(ctx, universePrices, tradable, calendar, cfg.Data.MinCoverage, excluded)
	if len(tradable) == 0 {
		return nil, fmt.Errorf("no instrument covers %.0f%% of the trading calendar: %w", cfg.Data.MinCoverage*100, domain.ErrDataUnavailable)
	}
	endSpan()

	// score and select
	_, endSpan = profile.StartNewSpan("select")
	rebalanceDates := util.RebalanceDates(calendar)
	selections := []domain.SelectionSet{}
	history := &domain.FactorScoreHistory{}
	for _, date := range rebalanceDates {
		row, err := h.FactorEvaluator.Evaluate(ctx, universePrices, tradable, date, factors)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate factors on %s: %w", date.Format(time.DateOnly), err)
		}
		result, err := h.SelectionService.Select(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("failed to select on %s: %w", date.Format(time.DateOnly), err)
		}
		selections = append(selections, result.Selection)
		history.Add(date, result.RankScores)
	}
	endSpan()

	// simulate
	_, endSpan = profile.StartNewSpan("simulate")
	simulated, err := l3_service.Simulate(ctx, l3_service.SimulateInput{
		Prices:         universePrices,
		Calendar:       calendar,
		Selections:     selections,
		InitialCapital: decimal.NewFromFloat(cfg.InitialCapital),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate: %w", err)
	}

	var benchmarkValues domain.ValueSeries
	if benchmark != "" {
		benchmarkValues, err = l3_service.BenchmarkValues(loaded.Prices, benchmark, calendar, cfg.InitialCapital)
		if err != nil {
			log.Warnf("reporting without benchmark %s: %v", benchmark, err)
			benchmarkValues = nil
		}
	}
	endSpan()

	// evaluate
	_, endSpan = profile.StartNewSpan("evaluate")
	riskFreeRate := h.riskFreeRate(ctx, cfg, start)
	portfolioReport, err := calculator.Evaluate(ctx, simulated.Values, riskFreeRate, cfg.ReturnFrequency())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate portfolio: %w", err)
	}
	var benchmarkReport *domain.PerformanceReport
	if benchmarkValues != nil {
		benchmarkReport, err = calculator.Evaluate(ctx, benchmarkValues, riskFreeRate, cfg.ReturnFrequency())
		if err != nil {
			log.Warnf("failed to evaluate benchmark %s: %v", benchmark, err)
			benchmarkReport = nil
		}
	}
	endSpan()

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	report := reporting.Report{
		RunID:          runID,
		GeneratedAt:    now().UTC(),
		Config:         cfg,
		Universe:       universe,
		Excluded:       excluded,
		RebalanceCount: len(selections),
		RiskFreeRate:   riskFreeRate,
		Portfolio:      portfolioReport,
		Benchmark:      benchmarkReport,
	}
	if benchmarkReport != nil {
		report.BenchmarkSymbol = benchmark
	}

	result := &BacktestResult{
		RunID:           runID,
		Report:          report,
		Calendar:        calendar,
		PortfolioValues: simulated.Values,
		BenchmarkValues: benchmarkValues,
		Selections:      selections,
		History:         history,
		Snapshots:       simulated.Snapshots,
	}

	// outputs
	_, endSpan = profile.StartNewSpan("write outputs")
	files, err := reporting.Write(cfg.OutputDir, reporting.WriteInput{
		Report:          report,
		PortfolioValues: simulated.Values,
		BenchmarkValues: benchmarkValues,
		Selections:      selections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write reports: %w", err)
	}
	result.Files = files

	if !cfg.NoPlots {
		charts, err := chart.RenderAll(cfg.OutputDir, chart.RenderInput{
			Portfolio:     simulated.Values,
			Benchmark:     benchmarkValues,
			BenchmarkName: benchmark,
			History:       history,
		})
		if err != nil {
			log.Errorf("failed to render charts: %v", err)
		}
		result.Files = append(result.Files, charts...)
	}
	endSpan()

	if h.Stdout != nil {
		reporting.PrintSummary(h.Stdout, report)
	}
	log.Infof("backtest complete: %d rebalances, %d files written to %s", len(selections), len(result.Files), cfg.OutputDir)

	return result, nil
}

// FetchStart reaches back far enough that every factor is defined on
// the first rebalance date.
func FetchStart(cfg *config.Config, start time.Time) time.Time {
	out := util.MonthsBefore(start, cfg.Momentum.LookbackMonths+1)
	// trading days to calendar days, with room for holidays
	volatilityStart := start.AddDate(0, 0, -(cfg.Volatility.Window*7/5 + 14))
	if volatilityStart.Before(out) {
		out = volatilityStart
	}
	return out
}

func (h BacktestHandler) riskFreeRate(ctx context.Context, cfg *config.Config, start time.Time) float64 {
	if cfg.RiskFree.Source != config.RiskFreeSource_Treasury {
		return cfg.RiskFree.Rate
	}
	log := logger.FromContext(ctx)
	if h.RiskFreeRateProvider == nil {
		log.Warnf("no treasury client configured, using constant risk-free rate %f", cfg.RiskFree.Rate)
		return cfg.RiskFree.Rate
	}
	rate, err := h.RiskFreeRateProvider.GetRiskFreeRate(ctx, start)
	if err != nil {
		log.Warnf("failed to get treasury rate for %s, using constant %f: %v", start.Format(time.DateOnly), cfg.RiskFree.Rate, err)
		return cfg.RiskFree.Rate
	}
	log.Infof("using 3 month treasury yield %f as risk-free rate", rate)
	return rate
}

func subsetPrices(prices *domain.PriceSeries, symbols []string) (*domain.PriceSeries, error) {
	all := []domain.AssetPrice{}
	for _, symbol := range symbols {
		all = append(all, prices.History(symbol)...)
	}
	out, err := domain.NewPriceSeries(all)
	if err != nil {
		return nil, fmt.Errorf("failed to build universe price series: %w", err)
	}
	return out, nil
}

// filterByCoverage drops symbols priced on fewer than minCoverage of the
// calendar dates and records why in excluded.
func filterByCoverage(ctx context.Context, prices *domain.PriceSeries, symbols []string, calendar []time.Time, minCoverage float64, excluded map[string]string) []string {
	out := []string{}
	for _, symbol := range symbols {
		priced := 0
		for _, date := range calendar {
			if _, ok := prices.PriceOn(symbol, date); ok {
				priced++
			}
		}
		coverage := float64(priced) / float64(len(calendar))
		if coverage < minCoverage {
			err := fmt.Errorf("priced on %.1f%% of trading days: %w", coverage*100, domain.ErrDataUnavailable)
			logger.FromContext(ctx).Warnf("excluding %s: %v", symbol, err)
			excluded[symbol] = err.Error()
			continue
		}
		out = append(out, symbol)
	}
	return out
}

func contains(symbols []string, s string) bool {
	for _, x := range symbols {
		if x == s {
			return true
		}
	}
	return false
}
