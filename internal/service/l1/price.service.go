package l1_service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/logger"
	"factorlab/internal/repository"

	"github.com/cenkalti/backoff/v4"
)

// how stale the edges of a stored series may be before it is refetched
const storeCoverageSlackDays = 7

type PriceService interface {
	// LoadPrices builds the run's Price Series. Symbols with no data
	// are dropped and reported in Excluded.
	LoadPrices(ctx context.Context, symbols []string, start, end time.Time) (*LoadPricesResult, error)
	// SyncPrices always refetches from the provider and writes through
	// to the store.
	SyncPrices(ctx context.Context, symbols []string, start, end time.Time) (*LoadPricesResult, error)
}

type LoadPricesResult struct {
	Prices *domain.PriceSeries
	// symbol -> reason
	Excluded map[string]error
}

// ExcludedSymbols returns the excluded symbols, sorted.
func (r LoadPricesResult) ExcludedSymbols() []string {
	out := []string{}
	for s := range r.Excluded {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type priceServiceHandler struct {
	// optional
	Store      repository.PriceStore
	Provider   repository.PriceProvider
	MaxRetries int
	NewBackOff func() backoff.BackOff
}

func NewPriceService(store repository.PriceStore, provider repository.PriceProvider, maxRetries int) PriceService {
	return priceServiceHandler{
		Store:      store,
		Provider:   provider,
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(500*time.Millisecond),
				backoff.WithMaxInterval(10*time.Second),
			)
		},
	}
}

func (h priceServiceHandler) LoadPrices(ctx context.Context, symbols []string, start, end time.Time) (*LoadPricesResult, error) {
	return h.load(ctx, symbols, start, end, true)
}

func (h priceServiceHandler) SyncPrices(ctx context.Context, symbols []string, start, end time.Time) (*LoadPricesResult, error) {
	return h.load(ctx, symbols, start, end, false)
}

func (h priceServiceHandler) load(ctx context.Context, symbols []string, start, end time.Time, useStore bool) (*LoadPricesResult, error) {
	log := logger.FromContext(ctx)

	all := []domain.AssetPrice{}
	excluded := map[string]error{}

	for _, symbol := range symbols {
		var (
			prices []domain.AssetPrice
			err    error
		)
		if useStore {
			prices, err = h.fromStore(ctx, symbol, start, end)
			if err != nil {
				// treated as a cache miss
				log.Warnf("ignoring stored prices for %s: %v", symbol, err)
				prices = nil
			}
		}
		if prices == nil {
			prices, err = h.fromProvider(ctx, symbol, start, end)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("price loading interrupted at %s: %w", symbol, ctxErr)
			}
			if err != nil {
				log.Warnf("excluding %s: %v", symbol, err)
				excluded[symbol] = err
				continue
			}
			h.writeBack(ctx, symbol, prices)
		}
		all = append(all, prices...)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no prices loaded for any of %d symbols: %w", len(symbols), domain.ErrDataUnavailable)
	}

	series, err := domain.NewPriceSeries(all)
	if err != nil {
		return nil, fmt.Errorf("failed to build price series: %w", err)
	}

	return &LoadPricesResult{
		Prices:   series,
		Excluded: excluded,
	}, nil
}

// fromStore returns nil when the store is absent or does not cover the
// window.
func (h priceServiceHandler) fromStore(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error) {
	if h.Store == nil {
		return nil, nil
	}
	prices, err := h.Store.List(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored prices for %s: %w", symbol, err)
	}
	if !covers(prices, start, end, time.Now()) {
		return nil, nil
	}
	logger.FromContext(ctx).Debugf("loaded %d stored prices for %s", len(prices), symbol)
	return prices, nil
}

func (h priceServiceHandler) fromProvider(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error) {
	log := logger.FromContext(ctx)

	var b backoff.BackOff = h.NewBackOff()
	b = backoff.WithMaxRetries(b, uint64(h.MaxRetries))
	b = backoff.WithContext(b, ctx)

	prices, err := backoff.RetryNotifyWithData(
		func() ([]domain.AssetPrice, error) {
			prices, err := h.Provider.GetPrices(ctx, symbol, start, end)
			if errors.Is(err, domain.ErrDataUnavailable) {
				return nil, backoff.Permanent(err)
			}
			return prices, err
		},
		b,
		func(err error, wait time.Duration) {
			log.Warnf("fetching %s failed, retrying in %s: %v", symbol, wait, err)
		},
	)
	if err != nil {
		return nil, err
	}
	log.Infof("fetched %d prices for %s", len(prices), symbol)
	return prices, nil
}

func (h priceServiceHandler) writeBack(ctx context.Context, symbol string, prices []domain.AssetPrice) {
	if h.Store == nil {
		return
	}
	if err := h.Store.Add(ctx, prices); err != nil {
		logger.FromContext(ctx).Warnf("failed to store prices for %s: %v", symbol, err)
	}
}

func covers(prices []domain.AssetPrice, start, end, now time.Time) bool {
	if len(prices) == 0 {
		return false
	}
	if end.After(now) {
		end = now
	}
	slack := storeCoverageSlackDays * 24 * time.Hour
	first := prices[0].Date
	last := prices[len(prices)-1].Date
	return !first.After(start.Add(slack)) && !last.Before(end.Add(-slack))
}
