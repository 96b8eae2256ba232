//go:generate mockgen -source=yahoo.repository.go -destination=mocks/mock_price_provider.go

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"factorlab/internal/domain"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// PriceProvider fetches adjusted daily closes from a remote source.
// An instrument with no data yields an error wrapping
// domain.ErrDataUnavailable.
type PriceProvider interface {
	GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error)
}

type yahooPriceRepositoryHandler struct{}

func NewYahooPriceRepository() PriceProvider {
	return yahooPriceRepositoryHandler{}
}

func (h yahooPriceRepositoryHandler) GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// chart end is exclusive
	chartEnd := end.AddDate(0, 0, 1)
	params := &chart.Params{
		Start:    datetime.New(&start),
		End:      datetime.New(&chartEnd),
		Symbol:   symbol,
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	bars := []*finance.ChartBar{}
	for iter.Next() {
		bars = append(bars, iter.Bar())
	}
	if err := iter.Err(); err != nil {
		if isNoDataErr(err) {
			return nil, fmt.Errorf("failed to get prices for %s: %s: %w", symbol, err.Error(), domain.ErrDataUnavailable)
		}
		return nil, fmt.Errorf("failed to get prices for %s: %w", symbol, err)
	}

	out := barsToPrices(symbol, bars, end)
	if len(out) == 0 {
		return nil, fmt.Errorf("no prices for %s between %s and %s: %w", symbol, start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrDataUnavailable)
	}

	return out, nil
}

// barsToPrices keeps the first bar of each day up to end, skipping bars
// without an adjusted close.
func barsToPrices(symbol string, bars []*finance.ChartBar, end time.Time) []domain.AssetPrice {
	out := []domain.AssetPrice{}
	seen := map[string]bool{}
	for _, bar := range bars {
		if bar == nil || bar.AdjClose.IsZero() {
			continue
		}
		date := domain.TruncateDate(time.Unix(int64(bar.Timestamp), 0).UTC())
		if date.After(domain.TruncateDate(end)) {
			continue
		}
		key := date.Format(time.DateOnly)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, domain.AssetPrice{
			Symbol: symbol,
			Date:   date,
			Price:  bar.AdjClose.InexactFloat64(),
		})
	}
	return out
}

func isNoDataErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no data", "not found", "404", "delisted"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
