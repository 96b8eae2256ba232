package l2_service

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/repository"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/require"
)

func newDate(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func mustSeries(t *testing.T, prices []domain.AssetPrice) *domain.PriceSeries {
	t.Helper()
	ps, err := domain.NewPriceSeries(prices)
	require.NoError(t, err)
	return ps
}

func mustFundamentals(t *testing.T, contents string) repository.AssetFundamentalsRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fundamentals.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	repo, err := repository.NewAssetFundamentalsRepository(path)
	require.NoError(t, err)
	return repo
}

func TestMomentum(t *testing.T) {
	ps := mustSeries(t, []domain.AssetPrice{
		{Symbol: "A", Date: newDate(2020, 1, 15), Price: 100},
		{Symbol: "A", Date: newDate(2020, 12, 15), Price: 110},
		{Symbol: "A", Date: newDate(2021, 1, 15), Price: 120},
		{Symbol: "B", Date: newDate(2020, 3, 2), Price: 50},
		{Symbol: "B", Date: newDate(2021, 1, 15), Price: 60},
	})

	t.Run("skips most recent month", func(t *testing.T) {
		m, err := Momentum(ps, "A", newDate(2021, 1, 15), 12, 1)
		require.NoError(t, err)
		require.InDelta(t, 0.1, m, 1e-12)
	})

	t.Run("no skip", func(t *testing.T) {
		m, err := Momentum(ps, "A", newDate(2021, 1, 15), 12, 0)
		require.NoError(t, err)
		require.InDelta(t, 0.2, m, 1e-12)
	})

	t.Run("history starts after lookback", func(t *testing.T) {
		_, err := Momentum(ps, "B", newDate(2021, 1, 15), 12, 1)
		require.ErrorIs(t, err, domain.ErrInsufficientHistory)
	})

	t.Run("stale lookback price", func(t *testing.T) {
		_, err := Momentum(ps, "A", newDate(2021, 2, 15), 12, 1)
		require.ErrorIs(t, err, domain.ErrInsufficientHistory)
	})

	t.Run("month end skip stays out of the skipped month", func(t *testing.T) {
		prices := []domain.AssetPrice{}
		for d := newDate(2020, 3, 2); !d.After(newDate(2021, 3, 31)); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			if d.After(newDate(2021, 2, 26)) && d.Before(newDate(2021, 3, 3)) {
				continue
			}
			price := 100.0
			if !d.Before(newDate(2021, 3, 3)) {
				price = 150
			}
			prices = append(prices, domain.AssetPrice{Symbol: "A", Date: d, Price: price})
		}
		monthEnd := mustSeries(t, prices)

		// Mar 31 less one month is Feb 28, so the March jump is skipped
		m, err := Momentum(monthEnd, "A", newDate(2021, 3, 31), 12, 1)
		require.NoError(t, err)
		require.InDelta(t, 0, m, 1e-12)

		m, err = Momentum(monthEnd, "A", newDate(2021, 3, 31), 12, 0)
		require.NoError(t, err)
		require.InDelta(t, 0.5, m, 1e-12)
	})
}

func TestVolatility(t *testing.T) {
	prices := []float64{100, 101, 100, 102, 103}
	series := []domain.AssetPrice{}
	for i, p := range prices {
		series = append(series, domain.AssetPrice{Symbol: "A", Date: newDate(2021, 1, 4+i), Price: p})
	}
	series = append(series,
		domain.AssetPrice{Symbol: "B", Date: newDate(2021, 1, 7), Price: 10},
		domain.AssetPrice{Symbol: "B", Date: newDate(2021, 1, 8), Price: 11},
	)
	ps := mustSeries(t, series)

	t.Run("trailing window", func(t *testing.T) {
		v, err := Volatility(ps, "A", newDate(2021, 1, 8), 3, 3)
		require.NoError(t, err)

		expected, err := stats.StandardDeviationSample([]float64{100.0/101 - 1, 102.0/100 - 1, 103.0/102 - 1})
		require.NoError(t, err)
		require.InDelta(t, expected*math.Sqrt(252), v, 1e-12)
	})

	t.Run("fewer observations than minimum", func(t *testing.T) {
		_, err := Volatility(ps, "B", newDate(2021, 1, 8), 3, 3)
		require.ErrorIs(t, err, domain.ErrInsufficientHistory)
	})

	t.Run("stale window", func(t *testing.T) {
		_, err := Volatility(ps, "A", newDate(2021, 3, 1), 3, 3)
		require.ErrorIs(t, err, domain.ErrInsufficientHistory)
	})
}

func TestFactorEvaluator_Evaluate(t *testing.T) {
	ctx := context.Background()
	date := newDate(2021, 1, 8)
	ps := mustSeries(t, []domain.AssetPrice{
		{Symbol: "A", Date: date, Price: 50},
		{Symbol: "B", Date: date, Price: 30},
		{Symbol: "C", Date: date, Price: 80},
		{Symbol: "D", Date: date, Price: 10},
		{Symbol: "E", Date: newDate(2021, 1, 7), Price: 10},
	})
	fundamentals := mustFundamentals(t, `symbol,start_date,end_date,eps
A,2020-01-01,2021-12-31,5
B,2020-01-01,2021-12-31,2
C,2020-01-01,2021-12-31,-4
E,2020-01-01,2021-12-31,1
`)

	t.Run("exclude policy", func(t *testing.T) {
		evaluator := NewFactorEvaluator(FactorEngineConfig{ValueMissingPolicy: "exclude"}, fundamentals)
		row, err := evaluator.Evaluate(ctx, ps, []string{"A", "B", "C", "D", "E"}, date, []domain.FactorType{domain.FactorType_Value})
		require.NoError(t, err)

		require.InDelta(t, 10.0, *row.Scores["A"].Get(domain.FactorType_Value), 1e-12)
		require.InDelta(t, 15.0, *row.Scores["B"].Get(domain.FactorType_Value), 1e-12)
		require.Nil(t, row.Scores["C"].Get(domain.FactorType_Value))
		require.Nil(t, row.Scores["D"].Get(domain.FactorType_Value))
		// not priced on the rebalance date
		require.Nil(t, row.Scores["E"].Get(domain.FactorType_Value))
		require.Equal(t, []string{"A", "B"}, row.Eligible())
	})

	t.Run("median policy", func(t *testing.T) {
		evaluator := NewFactorEvaluator(FactorEngineConfig{ValueMissingPolicy: ValueMissingPolicyMedian}, fundamentals)
		row, err := evaluator.Evaluate(ctx, ps, []string{"A", "B", "C", "D", "E"}, date, []domain.FactorType{domain.FactorType_Value})
		require.NoError(t, err)

		require.InDelta(t, 12.5, *row.Scores["C"].Get(domain.FactorType_Value), 1e-12)
		require.InDelta(t, 12.5, *row.Scores["D"].Get(domain.FactorType_Value), 1e-12)
		require.Nil(t, row.Scores["E"].Get(domain.FactorType_Value))
		require.Equal(t, []string{"A", "B", "C", "D"}, row.Eligible())
	})

	t.Run("never scores short histories", func(t *testing.T) {
		evaluator := NewFactorEvaluator(FactorEngineConfig{
			MomentumLookbackMonths:    12,
			MomentumSkipMonths:        1,
			VolatilityWindow:          21,
			VolatilityMinObservations: 15,
		}, nil)
		row, err := evaluator.Evaluate(ctx, ps, []string{"A", "B"}, date, []domain.FactorType{domain.FactorType_Momentum, domain.FactorType_Volatility})
		require.NoError(t, err)
		for _, symbol := range []string{"A", "B"} {
			require.Nil(t, row.Scores[symbol].Get(domain.FactorType_Momentum))
			require.Nil(t, row.Scores[symbol].Get(domain.FactorType_Volatility))
		}
		require.Empty(t, row.Eligible())
	})
}
