package l3_service

import (
	"fmt"
	"time"

	"factorlab/internal/domain"
)

// benchmark prices may be carried over short market closures
const benchmarkMaxStaleDays = 7

// BenchmarkValues is a buy-and-hold of symbol over the calendar, scaled
// so that it starts at initialCapital.
func BenchmarkValues(prices *domain.PriceSeries, symbol string, calendar []time.Time, initialCapital float64) (domain.ValueSeries, error) {
	if len(calendar) == 0 {
		return nil, fmt.Errorf("cannot compute benchmark over an empty calendar")
	}
	if !prices.Has(symbol) {
		return nil, fmt.Errorf("no prices for benchmark %s: %w", symbol, domain.ErrDataUnavailable)
	}

	first, ok := prices.PriceAsOf(symbol, calendar[0], benchmarkMaxStaleDays)
	if !ok || first.Price == 0 {
		return nil, domain.MissingDataError{Symbol: symbol, Date: calendar[0], Err: domain.ErrDataUnavailable}
	}

	out := make(domain.ValueSeries, 0, len(calendar))
	for _, date := range calendar {
		p, ok := prices.PriceAsOf(symbol, date, benchmarkMaxStaleDays)
		if !ok {
			return nil, domain.MissingDataError{Symbol: symbol, Date: date, Err: domain.ErrDataUnavailable}
		}
		out = append(out, domain.ValuePoint{
			Date:  date,
			Value: initialCapital * p.Price / first.Price,
		})
	}

	return out, nil
}
