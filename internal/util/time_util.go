package util

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

func NewDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s', expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// MonthsBefore moves t back by months calendar months, clamping to the
// last day of the target month instead of overflowing into the next.
// Mar 31 minus one month is Feb 28 (or 29), not Mar 3.
func MonthsBefore(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m-time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if lastDay := target.AddDate(0, 1, -1).Day(); d > lastDay {
		d = lastDay
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// RebalanceDates picks, from an ascending trading calendar, the first
// trading day and then the last trading day of each month. The final
// calendar date is the terminal valuation date and is never a
// rebalance date.
func RebalanceDates(calendar []time.Time) []time.Time {
	out := []time.Time{}
	if len(calendar) < 2 {
		return out
	}
	out = append(out, calendar[0])
	for i := 1; i < len(calendar)-1; i++ {
		if IsMonthEnd(calendar, i) {
			out = append(out, calendar[i])
		}
	}
	return out
}

// IsMonthEnd reports whether calendar[i] is the last date of its month
// in calendar.
func IsMonthEnd(calendar []time.Time, i int) bool {
	if i == len(calendar)-1 {
		return true
	}
	cur, next := calendar[i], calendar[i+1]
	return cur.Year() != next.Year() || cur.Month() != next.Month()
}
