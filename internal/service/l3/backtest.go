package l3_service

import (
	"context"
	"fmt"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/logger"

	"github.com/shopspring/decimal"
)

type SimulateInput struct {
	Prices *domain.PriceSeries
	// ascending; the first date is the first rebalance date and the
	// last is the terminal valuation date
	Calendar []time.Time
	// ascending by date, every date on the calendar
	Selections     []domain.SelectionSet
	InitialCapital decimal.Decimal
}

type RebalanceSnapshot struct {
	Date      time.Time
	Value     decimal.Decimal
	Portfolio *domain.Portfolio
}

type SimulateResult struct {
	Values    domain.ValueSeries
	Snapshots []RebalanceSnapshot
}

// Simulate marks the portfolio to market on every calendar date and
// fully reallocates it on each selection date. A held instrument
// without a price on a calendar date halts the simulation.
func Simulate(ctx context.Context, in SimulateInput) (*SimulateResult, error) {
	if len(in.Calendar) == 0 {
		return nil, fmt.Errorf("cannot simulate with an empty calendar")
	}
	if len(in.Selections) == 0 {
		return nil, fmt.Errorf("cannot simulate without selections")
	}
	if !in.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive, got %s", in.InitialCapital.String())
	}
	if !in.Selections[0].Date.Equal(in.Calendar[0]) {
		return nil, fmt.Errorf("first selection on %s does not match first calendar date %s",
			in.Selections[0].Date.Format(time.DateOnly), in.Calendar[0].Format(time.DateOnly))
	}

	portfolio := domain.NewPortfolio(in.InitialCapital)
	result := &SimulateResult{
		Values:    domain.ValueSeries{},
		Snapshots: []RebalanceSnapshot{},
	}

	nextSelection := 0
	for i, date := range in.Calendar {
		if i > 0 && !date.After(in.Calendar[i-1]) {
			return nil, fmt.Errorf("calendar is not strictly ascending at %s", date.Format(time.DateOnly))
		}
		if nextSelection < len(in.Selections) && in.Selections[nextSelection].Date.Before(date) {
			return nil, fmt.Errorf("selection on %s is not a calendar date", in.Selections[nextSelection].Date.Format(time.DateOnly))
		}

		priceMap, err := priceMapOn(in.Prices, portfolio.HeldSymbols(), date)
		if err != nil {
			return nil, err
		}
		value, err := portfolio.TotalValue(priceMap)
		if err != nil {
			return nil, fmt.Errorf("failed to value portfolio on %s: %w", date.Format(time.DateOnly), err)
		}

		if nextSelection < len(in.Selections) && in.Selections[nextSelection].Date.Equal(date) {
			selection := in.Selections[nextSelection]
			nextSelection++

			portfolio, err = ComputeTargetPortfolio(in.Prices, selection, value)
			if err != nil {
				return nil, err
			}
			result.Snapshots = append(result.Snapshots, RebalanceSnapshot{
				Date:      date,
				Value:     value,
				Portfolio: portfolio.DeepCopy(),
			})
			logger.FromContext(ctx).Debugf("rebalanced on %s into %d positions, value %s", date.Format(time.DateOnly), len(portfolio.Positions), value.StringFixed(2))
		}

		result.Values = append(result.Values, domain.ValuePoint{
			Date:  date,
			Value: value.InexactFloat64(),
		})
	}

	if nextSelection < len(in.Selections) {
		return nil, fmt.Errorf("selection on %s is after the last calendar date", in.Selections[nextSelection].Date.Format(time.DateOnly))
	}

	return result, nil
}

// ComputeTargetPortfolio converts weights into quantities at the prices
// on the selection date. Whatever is not allocated stays in cash.
func ComputeTargetPortfolio(prices *domain.PriceSeries, selection domain.SelectionSet, value decimal.Decimal) (*domain.Portfolio, error) {
	symbols := make([]string, 0, len(selection.Assets))
	for _, a := range selection.Assets {
		symbols = append(symbols, a.Symbol)
	}
	priceMap, err := priceMapOn(prices, symbols, selection.Date)
	if err != nil {
		return nil, err
	}

	target := domain.NewPortfolio(value)
	for _, a := range selection.Assets {
		price := priceMap[a.Symbol]
		if !price.IsPositive() {
			return nil, fmt.Errorf("cannot buy %s at non-positive price %s on %s", a.Symbol, price.String(), selection.Date.Format(time.DateOnly))
		}
		dollars := value.Mul(decimal.NewFromFloat(a.Weight))
		quantity := dollars.Div(price)
		target.Positions[a.Symbol] = &domain.Position{
			Symbol:   a.Symbol,
			Quantity: quantity,
		}
		target.Cash = target.Cash.Sub(quantity.Mul(price))
	}

	return target, nil
}

func priceMapOn(prices *domain.PriceSeries, symbols []string, date time.Time) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, symbol := range symbols {
		p, ok := prices.PriceOn(symbol, date)
		if !ok {
			return nil, domain.MissingDataError{
				Symbol: symbol,
				Date:   date,
				Err:    domain.ErrMissingPrice,
			}
		}
		out[symbol] = decimal.NewFromFloat(p)
	}
	return out, nil
}
