//go:generate mockgen -source=adj_price.repository.go -destination=mocks/mock_price_store.go

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"factorlab/internal/db/models/postgres/public/model"
	. "factorlab/internal/db/models/postgres/public/table"
	"factorlab/internal/domain"

	. "github.com/go-jet/jet/v2/postgres"
)

// PriceStore is a durable local copy of provider prices.
type PriceStore interface {
	Add(ctx context.Context, prices []domain.AssetPrice) error
	List(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error)
}

type adjustedPriceRepositoryHandler struct {
	Db *sql.DB
}

// NewAdjustedPriceRepository is the Postgres-backed PriceStore.
func NewAdjustedPriceRepository(db *sql.DB) PriceStore {
	return adjustedPriceRepositoryHandler{Db: db}
}

func (h adjustedPriceRepositoryHandler) Add(ctx context.Context, prices []domain.AssetPrice) error {
	if len(prices) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]model.AdjustedPrice, 0, len(prices))
	for _, p := range prices {
		models = append(models, model.AdjustedPrice{
			Symbol:    p.Symbol,
			Date:      domain.TruncateDate(p.Date),
			Price:     p.Price,
			CreatedAt: now,
		})
	}

	query := AdjustedPrice.
		INSERT(AdjustedPrice.MutableColumns).
		MODELS(models).
		ON_CONFLICT(
			AdjustedPrice.Symbol, AdjustedPrice.Date,
		).DO_UPDATE(
		SET(
			AdjustedPrice.Price.SET(AdjustedPrice.EXCLUDED.Price),
		),
	)

	_, err := query.ExecContext(ctx, h.Db)
	if err != nil {
		return fmt.Errorf("failed to add adjusted prices to db: %w", err)
	}

	return nil
}

func (h adjustedPriceRepositoryHandler) List(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error) {
	query := AdjustedPrice.
		SELECT(AdjustedPrice.AllColumns).
		WHERE(
			AND(
				AdjustedPrice.Symbol.EQ(String(symbol)),
				AdjustedPrice.Date.BETWEEN(DateT(start), DateT(end)),
			),
		).
		ORDER_BY(AdjustedPrice.Date.ASC())

	result := []model.AdjustedPrice{}
	err := query.QueryContext(ctx, h.Db, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices for %s: %w", symbol, err)
	}

	out := []domain.AssetPrice{}
	for _, p := range result {
		out = append(out, domain.AssetPrice{
			Symbol: p.Symbol,
			Date:   domain.TruncateDate(p.Date),
			Price:  p.Price,
		})
	}

	return out, nil
}
