package l3_service

import (
	"context"
	"errors"
	"testing"
	"time"

	"factorlab/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newDate(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func mustSeries(t *testing.T, prices map[string][]float64, dates []time.Time) *domain.PriceSeries {
	t.Helper()
	in := []domain.AssetPrice{}
	for symbol, values := range prices {
		for i, v := range values {
			in = append(in, domain.AssetPrice{Symbol: symbol, Date: dates[i], Price: v})
		}
	}
	ps, err := domain.NewPriceSeries(in)
	require.NoError(t, err)
	return ps
}

func selection(date time.Time, weights map[string]float64) domain.SelectionSet {
	s := domain.SelectionSet{Date: date, Assets: []domain.SelectedAsset{}}
	for _, symbol := range []string{"A", "B", "C"} {
		if w, ok := weights[symbol]; ok {
			s.Assets = append(s.Assets, domain.SelectedAsset{Symbol: symbol, Weight: w})
		}
	}
	return s
}

func TestSimulate(t *testing.T) {
	ctx := context.Background()
	dates := []time.Time{newDate(2020, 1, 2), newDate(2020, 1, 3), newDate(2020, 1, 6)}
	capital := decimal.NewFromInt(10000)

	t.Run("buy and hold single instrument", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"A": {100, 110, 121}}, dates)
		result, err := Simulate(ctx, SimulateInput{
			Prices:         ps,
			Calendar:       dates,
			Selections:     []domain.SelectionSet{selection(dates[0], map[string]float64{"A": 1})},
			InitialCapital: capital,
		})
		require.NoError(t, err)
		require.Equal(t, "", cmp.Diff(domain.ValueSeries{
			{Date: dates[0], Value: 10000},
			{Date: dates[1], Value: 11000},
			{Date: dates[2], Value: 12100},
		}, result.Values))
		require.Len(t, result.Snapshots, 1)
	})

	t.Run("offsetting instruments net zero", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{
			"A": {100, 110, 110},
			"B": {100, 90, 90},
		}, dates)
		result, err := Simulate(ctx, SimulateInput{
			Prices:         ps,
			Calendar:       dates,
			Selections:     []domain.SelectionSet{selection(dates[0], map[string]float64{"A": 0.5, "B": 0.5})},
			InitialCapital: capital,
		})
		require.NoError(t, err)
		require.InDelta(t, 10000, result.Values[1].Value, 1e-6)
	})

	t.Run("rebalance reallocates", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{
			"A": {100, 200, 200},
			"B": {50, 50, 100},
		}, dates)
		result, err := Simulate(ctx, SimulateInput{
			Prices:   ps,
			Calendar: dates,
			Selections: []domain.SelectionSet{
				selection(dates[0], map[string]float64{"A": 1}),
				selection(dates[1], map[string]float64{"B": 1}),
			},
			InitialCapital: capital,
		})
		require.NoError(t, err)
		require.InDeltaSlice(t, []float64{10000, 20000, 40000}, result.Values.Values(), 1e-6)
		require.Len(t, result.Snapshots, 2)
		require.Equal(t, []string{"B"}, result.Snapshots[1].Portfolio.HeldSymbols())
	})

	t.Run("empty selection holds cash", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"A": {100, 50, 25}}, dates)
		result, err := Simulate(ctx, SimulateInput{
			Prices:         ps,
			Calendar:       dates,
			Selections:     []domain.SelectionSet{selection(dates[0], nil)},
			InitialCapital: capital,
		})
		require.NoError(t, err)
		require.InDeltaSlice(t, []float64{10000, 10000, 10000}, result.Values.Values(), 1e-9)
	})

	t.Run("missing held price halts", func(t *testing.T) {
		ps, err := domain.NewPriceSeries([]domain.AssetPrice{
			{Symbol: "A", Date: dates[0], Price: 100},
			{Symbol: "A", Date: dates[2], Price: 100},
			{Symbol: "B", Date: dates[1], Price: 100},
		})
		require.NoError(t, err)

		_, err = Simulate(ctx, SimulateInput{
			Prices:         ps,
			Calendar:       dates,
			Selections:     []domain.SelectionSet{selection(dates[0], map[string]float64{"A": 1})},
			InitialCapital: capital,
		})
		require.True(t, errors.Is(err, domain.ErrMissingPrice))

		var mde domain.MissingDataError
		require.ErrorAs(t, err, &mde)
		require.Equal(t, "A", mde.Symbol)
		require.Equal(t, dates[1], mde.Date)
	})

	t.Run("deterministic", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{
			"A": {100, 101.3, 99.7},
			"B": {33.3, 34.1, 35.9},
			"C": {7.77, 7.1, 7.9},
		}, dates)
		in := SimulateInput{
			Prices:   ps,
			Calendar: dates,
			Selections: []domain.SelectionSet{
				selection(dates[0], map[string]float64{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3}),
				selection(dates[1], map[string]float64{"B": 0.5, "C": 0.5}),
			},
			InitialCapital: capital,
		}
		first, err := Simulate(ctx, in)
		require.NoError(t, err)
		second, err := Simulate(ctx, in)
		require.NoError(t, err)
		require.Equal(t, "", cmp.Diff(first.Values, second.Values))
	})

	t.Run("selection off calendar", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"A": {100, 110, 121}}, dates)
		_, err := Simulate(ctx, SimulateInput{
			Prices:   ps,
			Calendar: dates,
			Selections: []domain.SelectionSet{
				selection(dates[0], map[string]float64{"A": 1}),
				selection(newDate(2020, 1, 4), map[string]float64{"A": 1}),
			},
			InitialCapital: capital,
		})
		require.Error(t, err)
	})

	t.Run("first selection must open the calendar", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"A": {100, 110, 121}}, dates)
		_, err := Simulate(ctx, SimulateInput{
			Prices:         ps,
			Calendar:       dates,
			Selections:     []domain.SelectionSet{selection(dates[1], map[string]float64{"A": 1})},
			InitialCapital: capital,
		})
		require.Error(t, err)
	})
}

func TestBenchmarkValues(t *testing.T) {
	dates := []time.Time{newDate(2020, 1, 2), newDate(2020, 1, 3), newDate(2020, 1, 6)}

	t.Run("scaled to capital", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"SPY": {300, 330, 270}}, dates)
		values, err := BenchmarkValues(ps, "SPY", dates, 10000)
		require.NoError(t, err)
		require.InDeltaSlice(t, []float64{10000, 11000, 9000}, values.Values(), 1e-9)
	})

	t.Run("carries over a closure", func(t *testing.T) {
		ps, err := domain.NewPriceSeries([]domain.AssetPrice{
			{Symbol: "SPY", Date: dates[0], Price: 300},
			{Symbol: "SPY", Date: dates[2], Price: 330},
		})
		require.NoError(t, err)
		values, err := BenchmarkValues(ps, "SPY", dates, 10000)
		require.NoError(t, err)
		require.InDeltaSlice(t, []float64{10000, 10000, 11000}, values.Values(), 1e-9)
	})

	t.Run("missing benchmark", func(t *testing.T) {
		ps := mustSeries(t, map[string][]float64{"A": {1, 2, 3}}, dates)
		_, err := BenchmarkValues(ps, "SPY", dates, 10000)
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
	})
}
