package util

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMonthsBefore(t *testing.T) {
	type testCase struct {
		date     time.Time
		months   int
		expected time.Time
	}
	for _, tc := range []testCase{
		{NewDate(2021, 3, 31), 1, NewDate(2021, 2, 28)},
		{NewDate(2020, 3, 31), 1, NewDate(2020, 2, 29)},
		{NewDate(2021, 5, 31), 1, NewDate(2021, 4, 30)},
		{NewDate(2021, 12, 31), 3, NewDate(2021, 9, 30)},
		{NewDate(2021, 3, 31), 13, NewDate(2020, 2, 29)},
		{NewDate(2021, 1, 15), 12, NewDate(2020, 1, 15)},
		{NewDate(2021, 1, 31), 2, NewDate(2020, 11, 30)},
		{NewDate(2021, 4, 30), 1, NewDate(2021, 3, 30)},
		{NewDate(2021, 4, 30), 0, NewDate(2021, 4, 30)},
	} {
		got := MonthsBefore(tc.date, tc.months)
		require.Equal(t, tc.expected, got, "%s minus %d months", tc.date.Format(time.DateOnly), tc.months)
	}
}

func TestRebalanceDates(t *testing.T) {
	t.Run("first day then month ends", func(t *testing.T) {
		calendar := []time.Time{
			NewDate(2020, 1, 2),
			NewDate(2020, 1, 30),
			NewDate(2020, 1, 31),
			NewDate(2020, 2, 3),
			NewDate(2020, 2, 28),
			NewDate(2020, 3, 2),
			NewDate(2020, 3, 31),
		}
		require.Equal(t, "", cmp.Diff([]time.Time{
			NewDate(2020, 1, 2),
			NewDate(2020, 1, 31),
			NewDate(2020, 2, 28),
		}, RebalanceDates(calendar)))
	})

	t.Run("too short", func(t *testing.T) {
		require.Empty(t, RebalanceDates([]time.Time{NewDate(2020, 1, 2)}))
	})

	t.Run("no month end before terminal", func(t *testing.T) {
		calendar := []time.Time{
			NewDate(2020, 1, 2),
			NewDate(2020, 1, 3),
			NewDate(2020, 1, 6),
		}
		require.Equal(t, "", cmp.Diff([]time.Time{NewDate(2020, 1, 2)}, RebalanceDates(calendar)))
	})
}

func TestIsMonthEnd(t *testing.T) {
	calendar := []time.Time{
		NewDate(2020, 1, 2),
		NewDate(2020, 1, 31),
		NewDate(2020, 2, 3),
	}
	require.False(t, IsMonthEnd(calendar, 0))
	require.True(t, IsMonthEnd(calendar, 1))
	// last date closes its month
	require.True(t, IsMonthEnd(calendar, 2))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2021-03-04")
	require.NoError(t, err)
	require.Equal(t, NewDate(2021, 3, 4), d)

	_, err = ParseDate("03/04/2021")
	require.Error(t, err)
}
