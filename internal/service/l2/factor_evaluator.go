package l2_service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/logger"
	"factorlab/internal/repository"
	"factorlab/internal/util"

	"github.com/montanaflynn/stats"
)

// as-of price lookups tolerate weekends and holidays up to this age
const maxStaleDays = 7

const tradingDaysPerYear = 252

const ValueMissingPolicyMedian = "median"

type FactorEngineConfig struct {
	MomentumLookbackMonths    int
	MomentumSkipMonths        int
	VolatilityWindow          int
	VolatilityMinObservations int
	// "exclude" or "median"
	ValueMissingPolicy string
}

type FactorEvaluator interface {
	// Evaluate scores every symbol on date. Symbols without a price on
	// date get no scores.
	Evaluate(ctx context.Context, prices *domain.PriceSeries, symbols []string, date time.Time, factors []domain.FactorType) (*domain.FactorScoreRow, error)
}

type factorEvaluatorHandler struct {
	Config FactorEngineConfig
	// only needed for the value factor
	Fundamentals repository.AssetFundamentalsRepository
}

func NewFactorEvaluator(cfg FactorEngineConfig, fundamentals repository.AssetFundamentalsRepository) FactorEvaluator {
	return factorEvaluatorHandler{
		Config:       cfg,
		Fundamentals: fundamentals,
	}
}

func (h factorEvaluatorHandler) Evaluate(ctx context.Context, prices *domain.PriceSeries, symbols []string, date time.Time, factors []domain.FactorType) (*domain.FactorScoreRow, error) {
	log := logger.FromContext(ctx)
	date = domain.TruncateDate(date)

	row := &domain.FactorScoreRow{
		Date:    date,
		Factors: factors,
		Scores:  map[string]domain.FactorScores{},
	}

	for _, symbol := range symbols {
		scores := domain.FactorScores{
			Symbol: symbol,
			Scores: map[domain.FactorType]*float64{},
		}
		row.Scores[symbol] = scores

		if _, ok := prices.PriceOn(symbol, date); !ok {
			continue
		}

		for _, f := range factors {
			score, err := h.score(prices, symbol, date, f)
			if errors.Is(err, domain.ErrInsufficientHistory) {
				log.Debugf("%s %s score missing on %s: %v", symbol, f, date.Format(time.DateOnly), err)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to compute %s for %s on %s: %w", f, symbol, date.Format(time.DateOnly), err)
			}
			scores.Scores[f] = &score
		}
	}

	for _, f := range factors {
		if f == domain.FactorType_Value && h.Config.ValueMissingPolicy == ValueMissingPolicyMedian {
			imputeMedianValue(ctx, row, prices)
		}
	}

	return row, nil
}

func (h factorEvaluatorHandler) score(prices *domain.PriceSeries, symbol string, date time.Time, f domain.FactorType) (float64, error) {
	switch f {
	case domain.FactorType_Momentum:
		return Momentum(prices, symbol, date, h.Config.MomentumLookbackMonths, h.Config.MomentumSkipMonths)
	case domain.FactorType_Volatility:
		return Volatility(prices, symbol, date, h.Config.VolatilityWindow, h.Config.VolatilityMinObservations)
	case domain.FactorType_Value:
		if h.Fundamentals == nil {
			return 0, fmt.Errorf("value factor requested without fundamentals")
		}
		return PriceToEarnings(prices, h.Fundamentals, symbol, date)
	}
	return 0, fmt.Errorf("unknown factor %s", f)
}

// Momentum is P(t - skip) / P(t - lookback) - 1, with both offsets in
// calendar months clamped to the end of the target month.
func Momentum(prices *domain.PriceSeries, symbol string, date time.Time, lookbackMonths, skipMonths int) (float64, error) {
	lookbackDate := util.MonthsBefore(date, lookbackMonths)
	skipDate := util.MonthsBefore(date, skipMonths)

	first, ok := prices.FirstDate(symbol)
	if !ok || first.After(lookbackDate) {
		return 0, fmt.Errorf("need history back to %s: %w", lookbackDate.Format(time.DateOnly), domain.ErrInsufficientHistory)
	}

	start, ok := prices.PriceAsOf(symbol, lookbackDate, maxStaleDays)
	if !ok || start.Price == 0 {
		return 0, fmt.Errorf("no usable price near %s: %w", lookbackDate.Format(time.DateOnly), domain.ErrInsufficientHistory)
	}
	end, ok := prices.PriceAsOf(symbol, skipDate, maxStaleDays)
	if !ok {
		return 0, fmt.Errorf("no usable price near %s: %w", skipDate.Format(time.DateOnly), domain.ErrInsufficientHistory)
	}

	return end.Price/start.Price - 1, nil
}

// Volatility is the annualized sample standard deviation of daily
// returns over the trailing window ending on date.
func Volatility(prices *domain.PriceSeries, symbol string, date time.Time, window, minObservations int) (float64, error) {
	trailing := prices.Trailing(symbol, date, window)
	if len(trailing) == 0 || domain.TruncateDate(date).Sub(trailing[len(trailing)-1].Date) > maxStaleDays*24*time.Hour {
		return 0, fmt.Errorf("no recent prices: %w", domain.ErrInsufficientHistory)
	}

	returns := []float64{}
	for i := 1; i < len(trailing); i++ {
		prev := trailing[i-1].Price
		if prev == 0 {
			continue
		}
		returns = append(returns, trailing[i].Price/prev-1)
	}
	if len(returns) < minObservations || len(returns) < 2 {
		return 0, fmt.Errorf("have %d returns, need %d: %w", len(returns), minObservations, domain.ErrInsufficientHistory)
	}

	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0, err
	}

	return stdev * math.Sqrt(tradingDaysPerYear), nil
}

// PriceToEarnings divides the price on date by the EPS record effective
// on date. Missing or non-positive EPS has no meaningful ratio.
func PriceToEarnings(prices *domain.PriceSeries, fundamentals repository.AssetFundamentalsRepository, symbol string, date time.Time) (float64, error) {
	price, ok := prices.PriceOn(symbol, date)
	if !ok {
		return 0, fmt.Errorf("no price on %s: %w", date.Format(time.DateOnly), domain.ErrInsufficientHistory)
	}
	f := fundamentals.Get(symbol, date)
	if f == nil {
		return 0, fmt.Errorf("no eps on %s: %w", date.Format(time.DateOnly), domain.ErrInsufficientHistory)
	}
	if f.EPS <= 0 {
		return 0, fmt.Errorf("non-positive eps %f: %w", f.EPS, domain.ErrInsufficientHistory)
	}
	return price / f.EPS, nil
}

// imputeMedianValue fills missing value scores, for symbols priced on
// the row date, with the cross-sectional median P/E.
func imputeMedianValue(ctx context.Context, row *domain.FactorScoreRow, prices *domain.PriceSeries) {
	available := []float64{}
	for _, symbol := range row.Symbols() {
		if v := row.Scores[symbol].Get(domain.FactorType_Value); v != nil {
			available = append(available, *v)
		}
	}
	if len(available) == 0 {
		return
	}
	median, err := stats.Median(available)
	if err != nil {
		return
	}

	imputed := []string{}
	for _, symbol := range row.Symbols() {
		if _, ok := prices.PriceOn(symbol, row.Date); !ok {
			continue
		}
		scores := row.Scores[symbol]
		if scores.Get(domain.FactorType_Value) == nil {
			m := median
			scores.Scores[domain.FactorType_Value] = &m
			imputed = append(imputed, symbol)
		}
	}
	if len(imputed) > 0 {
		logger.FromContext(ctx).Infof("imputed median P/E %.2f for %d symbols on %s: %v", median, len(imputed), row.Date.Format(time.DateOnly), imputed)
	}
}
