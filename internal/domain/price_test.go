package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestNewPriceSeries(t *testing.T) {
	t.Run("sorts and indexes", func(t *testing.T) {
		ps, err := NewPriceSeries([]AssetPrice{
			{Symbol: "B", Price: 2, Date: day(2020, 1, 3)},
			{Symbol: "A", Price: 1, Date: day(2020, 1, 3)},
			{Symbol: "A", Price: 3, Date: day(2020, 1, 2).Add(15 * time.Hour)},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"A", "B"}, ps.Symbols())
		require.Equal(t, "", cmp.Diff([]time.Time{day(2020, 1, 2), day(2020, 1, 3)}, ps.Dates()))

		p, ok := ps.PriceOn("A", day(2020, 1, 2))
		require.True(t, ok)
		require.Equal(t, 3.0, p)

		_, ok = ps.PriceOn("B", day(2020, 1, 2))
		require.False(t, ok)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewPriceSeries([]AssetPrice{
			{Symbol: "A", Price: 1, Date: day(2020, 1, 3)},
			{Symbol: "A", Price: 2, Date: day(2020, 1, 3)},
		})
		require.ErrorContains(t, err, "duplicate price for A on 2020-01-03")
	})

	t.Run("rejects negative price", func(t *testing.T) {
		_, err := NewPriceSeries([]AssetPrice{
			{Symbol: "A", Price: -1, Date: day(2020, 1, 3)},
		})
		require.Error(t, err)
	})

	t.Run("rejects empty symbol", func(t *testing.T) {
		_, err := NewPriceSeries([]AssetPrice{
			{Price: 1, Date: day(2020, 1, 3)},
		})
		require.Error(t, err)
	})
}

func TestPriceSeries_PriceAsOf(t *testing.T) {
	ps, err := NewPriceSeries([]AssetPrice{
		{Symbol: "A", Price: 1, Date: day(2020, 1, 2)},
		{Symbol: "A", Price: 2, Date: day(2020, 1, 3)},
		{Symbol: "A", Price: 3, Date: day(2020, 1, 6)},
	})
	require.NoError(t, err)

	t.Run("weekend falls back to friday", func(t *testing.T) {
		p, ok := ps.PriceAsOf("A", day(2020, 1, 5), 7)
		require.True(t, ok)
		require.Equal(t, 2.0, p.Price)
	})

	t.Run("before first observation", func(t *testing.T) {
		_, ok := ps.PriceAsOf("A", day(2020, 1, 1), 7)
		require.False(t, ok)
	})

	t.Run("too stale", func(t *testing.T) {
		_, ok := ps.PriceAsOf("A", day(2020, 2, 1), 7)
		require.False(t, ok)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, ok := ps.PriceAsOf("Z", day(2020, 1, 3), 7)
		require.False(t, ok)
	})
}

func TestPriceSeries_Trailing(t *testing.T) {
	ps, err := NewPriceSeries([]AssetPrice{
		{Symbol: "A", Price: 1, Date: day(2020, 1, 1)},
		{Symbol: "A", Price: 2, Date: day(2020, 1, 2)},
		{Symbol: "A", Price: 3, Date: day(2020, 1, 3)},
		{Symbol: "A", Price: 4, Date: day(2020, 1, 4)},
	})
	require.NoError(t, err)

	out := ps.Trailing("A", day(2020, 1, 3), 1)
	require.Len(t, out, 2)
	require.Equal(t, 2.0, out[0].Price)
	require.Equal(t, 3.0, out[1].Price)

	out = ps.Trailing("A", day(2020, 1, 3), 10)
	require.Len(t, out, 3)

	require.Nil(t, ps.Trailing("A", day(2019, 12, 31), 1))
}

func TestPriceSeries_TradingCalendar(t *testing.T) {
	ps, err := NewPriceSeries([]AssetPrice{
		{Symbol: "A", Price: 1, Date: day(2020, 1, 2)},
		{Symbol: "B", Price: 1, Date: day(2020, 1, 2)},
		{Symbol: "C", Price: 1, Date: day(2020, 1, 2)},
		{Symbol: "A", Price: 1, Date: day(2020, 1, 3)},
		{Symbol: "A", Price: 1, Date: day(2020, 1, 6)},
		{Symbol: "B", Price: 1, Date: day(2020, 1, 6)},
	})
	require.NoError(t, err)

	cal := ps.TradingCalendar(day(2020, 1, 1), day(2020, 1, 31))
	require.Equal(t, "", cmp.Diff([]time.Time{day(2020, 1, 2), day(2020, 1, 6)}, cal))

	cal = ps.TradingCalendar(day(2020, 1, 3), day(2020, 1, 5))
	require.Empty(t, cal)
}
