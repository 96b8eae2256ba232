package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

type AssetPrice struct {
	Symbol string
	Price  float64
	Date   time.Time
}

// PriceSeries is the immutable adjusted-close table for one backtest
// run. Prices for each symbol are sorted by date and unique per date.
type PriceSeries struct {
	bySymbol map[string][]AssetPrice
	// symbol -> date (YYYY-MM-DD) -> index into bySymbol[symbol]
	index   map[string]map[string]int
	symbols []string
	dates   []time.Time
}

// NewPriceSeries validates and indexes the given prices. Dates are
// truncated to the day. Negative prices and duplicate (symbol, date)
// pairs are rejected.
func NewPriceSeries(prices []AssetPrice) (*PriceSeries, error) {
	bySymbol := map[string][]AssetPrice{}
	seenDates := map[string]time.Time{}

	for _, p := range prices {
		if p.Symbol == "" {
			return nil, fmt.Errorf("price on %s has no symbol", p.Date.Format(time.DateOnly))
		}
		if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			return nil, fmt.Errorf("invalid price %f for %s on %s", p.Price, p.Symbol, p.Date.Format(time.DateOnly))
		}
		p.Date = TruncateDate(p.Date)
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
		seenDates[p.Date.Format(time.DateOnly)] = p.Date
	}

	index := map[string]map[string]int{}
	symbols := []string{}
	for symbol, series := range bySymbol {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})
		index[symbol] = map[string]int{}
		for i, p := range series {
			key := p.Date.Format(time.DateOnly)
			if _, ok := index[symbol][key]; ok {
				return nil, fmt.Errorf("duplicate price for %s on %s", symbol, key)
			}
			index[symbol][key] = i
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	dates := make([]time.Time, 0, len(seenDates))
	for _, d := range seenDates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})

	return &PriceSeries{
		bySymbol: bySymbol,
		index:    index,
		symbols:  symbols,
		dates:    dates,
	}, nil
}

// Symbols returns every symbol with at least one price, sorted.
func (ps *PriceSeries) Symbols() []string {
	out := make([]string, len(ps.symbols))
	copy(out, ps.symbols)
	return out
}

// Dates returns every date on which any symbol has a price, ascending.
func (ps *PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(ps.dates))
	copy(out, ps.dates)
	return out
}

func (ps *PriceSeries) Has(symbol string) bool {
	_, ok := ps.bySymbol[symbol]
	return ok
}

// Len is the number of observations for symbol.
func (ps *PriceSeries) Len(symbol string) int {
	return len(ps.bySymbol[symbol])
}

// History returns the observations for symbol, ascending by date.
func (ps *PriceSeries) History(symbol string) []AssetPrice {
	series := ps.bySymbol[symbol]
	out := make([]AssetPrice, len(series))
	copy(out, series)
	return out
}

// FirstDate is the date of the earliest observation for symbol.
func (ps *PriceSeries) FirstDate(symbol string) (time.Time, bool) {
	series := ps.bySymbol[symbol]
	if len(series) == 0 {
		return time.Time{}, false
	}
	return series[0].Date, true
}

// PriceOn returns the price for symbol on exactly the given day.
func (ps *PriceSeries) PriceOn(symbol string, date time.Time) (float64, bool) {
	i, ok := ps.index[symbol][date.Format(time.DateOnly)]
	if !ok {
		return 0, false
	}
	return ps.bySymbol[symbol][i].Price, true
}

// PriceAsOf returns the last price for symbol on or before date, as
// long as it is no more than maxStaleDays old. Used for factor lookups
// where the target date may fall on a weekend or holiday.
func (ps *PriceSeries) PriceAsOf(symbol string, date time.Time, maxStaleDays int) (AssetPrice, bool) {
	i := ps.indexAsOf(symbol, date)
	if i < 0 {
		return AssetPrice{}, false
	}
	p := ps.bySymbol[symbol][i]
	if TruncateDate(date).Sub(p.Date) > time.Duration(maxStaleDays)*24*time.Hour {
		return AssetPrice{}, false
	}
	return p, true
}

// Trailing returns up to n+1 consecutive observations for symbol ending
// on or before date, ascending. n+1 prices yield n returns.
func (ps *PriceSeries) Trailing(symbol string, date time.Time, n int) []AssetPrice {
	i := ps.indexAsOf(symbol, date)
	if i < 0 {
		return nil
	}
	start := i - n
	if start < 0 {
		start = 0
	}
	out := make([]AssetPrice, i-start+1)
	copy(out, ps.bySymbol[symbol][start:i+1])
	return out
}

func (ps *PriceSeries) indexAsOf(symbol string, date time.Time) int {
	series := ps.bySymbol[symbol]
	date = TruncateDate(date)
	// first index strictly after date
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Date.After(date)
	})
	return i - 1
}

// TradingCalendar returns the dates in [start, end] on which at least
// half of the symbols have a price.
func (ps *PriceSeries) TradingCalendar(start, end time.Time) []time.Time {
	counts := map[string]int{}
	for _, series := range ps.bySymbol {
		for _, p := range series {
			counts[p.Date.Format(time.DateOnly)]++
		}
	}
	threshold := (len(ps.symbols) + 1) / 2
	if threshold < 1 {
		threshold = 1
	}

	start = TruncateDate(start)
	end = TruncateDate(end)
	out := []time.Time{}
	for _, d := range ps.dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		if counts[d.Format(time.DateOnly)] >= threshold {
			out = append(out, d)
		}
	}
	return out
}

func TruncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
