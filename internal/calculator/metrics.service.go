package calculator

import (
	"context"
	"fmt"
	"math"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/logger"
	"factorlab/internal/util"

	"github.com/montanaflynn/stats"
)

const daysPerYear = 365.25

// Evaluate computes the full performance report for a completed value
// series. riskFreeRate is annual, as a decimal.
func Evaluate(ctx context.Context, values domain.ValueSeries, riskFreeRate float64, frequency domain.ReturnFrequency) (*domain.PerformanceReport, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("got %d observations: %w", len(values), domain.ErrDegenerateSeries)
	}
	if values[0].Value <= 0 {
		return nil, fmt.Errorf("initial value %f must be positive: %w", values[0].Value, domain.ErrDegenerateSeries)
	}

	cumulativeReturn, err := CumulativeReturn(values)
	if err != nil {
		return nil, err
	}
	cagr, err := CAGR(values)
	if err != nil {
		return nil, err
	}
	maxDrawdown, err := MaxDrawdown(values)
	if err != nil {
		return nil, err
	}

	returns := PeriodicReturns(values, frequency)
	ppy := frequency.PeriodsPerYear()

	report := &domain.PerformanceReport{
		StartDate:        values[0].Date,
		EndDate:          values[len(values)-1].Date,
		StartValue:       values[0].Value,
		EndValue:         values[len(values)-1].Value,
		CumulativeReturn: cumulativeReturn,
		CAGR:             cagr,
		MaxDrawdown:      maxDrawdown,
	}

	if vol, err := AnnualizedVolatility(returns, ppy); err == nil {
		report.AnnualizedVolatility = &vol
	}

	sharpe, err := SharpeRatio(returns, riskFreeRate, ppy)
	if err != nil {
		logger.FromContext(ctx).Warnf("sharpe ratio undefined: %v", err)
	} else {
		report.SharpeRatio = &sharpe
	}

	return report, nil
}

func CumulativeReturn(values domain.ValueSeries) (float64, error) {
	if len(values) < 2 {
		return 0, domain.ErrDegenerateSeries
	}
	return values[len(values)-1].Value/values[0].Value - 1, nil
}

// CAGR annualizes the total return over the calendar days spanned.
func CAGR(values domain.ValueSeries) (float64, error) {
	if len(values) < 2 {
		return 0, domain.ErrDegenerateSeries
	}
	days := values[len(values)-1].Date.Sub(values[0].Date).Hours() / 24
	if days <= 0 {
		return 0, fmt.Errorf("series spans %f days: %w", days, domain.ErrDegenerateSeries)
	}
	growth := values[len(values)-1].Value / values[0].Value
	return math.Pow(growth, daysPerYear/days) - 1, nil
}

// MaxDrawdown is the most negative value / running max - 1. It is never
// positive.
func MaxDrawdown(values domain.ValueSeries) (float64, error) {
	if len(values) < 2 {
		return 0, domain.ErrDegenerateSeries
	}
	out := 0.0
	for _, dd := range values.Drawdowns() {
		if dd.Value < out {
			out = dd.Value
		}
	}
	return out, nil
}

// PeriodicReturns converts values into simple returns, daily or on
// month-end observations.
func PeriodicReturns(values domain.ValueSeries, frequency domain.ReturnFrequency) []float64 {
	points := values
	if frequency == domain.ReturnFrequency_Monthly {
		points = monthEndPoints(values)
	}

	out := []float64{}
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Value
		if prev == 0 {
			continue
		}
		out = append(out, points[i].Value/prev-1)
	}
	return out
}

// monthEndPoints keeps the first observation and the last observation
// of every month.
func monthEndPoints(values domain.ValueSeries) domain.ValueSeries {
	if len(values) == 0 {
		return values
	}
	dates := make([]time.Time, len(values))
	for i, v := range values {
		dates[i] = v.Date
	}
	out := domain.ValueSeries{values[0]}
	for i := range values {
		if i > 0 && util.IsMonthEnd(dates, i) {
			out = append(out, values[i])
		}
	}
	return out
}

// SharpeRatio is mean excess return over its sample standard deviation,
// annualized. It is undefined for fewer than two returns or zero
// dispersion.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("need at least 2 returns, got %d", len(returns))
	}
	rfPerPeriod := riskFreeRate / float64(periodsPerYear)
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rfPerPeriod
	}

	mean, err := stats.Mean(excess)
	if err != nil {
		return 0, err
	}
	stdev, err := stats.StandardDeviationSample(excess)
	if err != nil {
		return 0, err
	}
	if stdev < 1e-12 || math.IsNaN(stdev) {
		return 0, fmt.Errorf("excess returns have no dispersion")
	}

	return math.Sqrt(float64(periodsPerYear)) * mean / stdev, nil
}

func AnnualizedVolatility(returns []float64, periodsPerYear int) (float64, error) {
	if len(returns) < 2 {
		return 0, fmt.Errorf("need at least 2 returns, got %d", len(returns))
	}
	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0, err
	}
	return stdev * math.Sqrt(float64(periodsPerYear)), nil
}
