package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"factorlab/internal/domain"

	"github.com/gocarina/gocsv"
)

type priceFileRow struct {
	Date     string  `csv:"date"`
	AdjClose float64 `csv:"adj_close"`
}

type priceFileRepositoryHandler struct {
	Dir string
}

// NewPriceFileRepository stores prices as one CSV per symbol under dir.
func NewPriceFileRepository(dir string) PriceStore {
	return priceFileRepositoryHandler{Dir: dir}
}

func (h priceFileRepositoryHandler) path(symbol string) string {
	return filepath.Join(h.Dir, strings.ToUpper(symbol)+".csv")
}

func (h priceFileRepositoryHandler) read(symbol string) ([]priceFileRow, error) {
	f, err := os.Open(h.path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return []priceFileRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open price file for %s: %w", symbol, err)
	}
	defer f.Close()

	rows := []priceFileRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return []priceFileRow{}, nil
		}
		return nil, fmt.Errorf("failed to parse price file for %s: %w", symbol, err)
	}
	return rows, nil
}

func (h priceFileRepositoryHandler) Add(ctx context.Context, prices []domain.AssetPrice) error {
	bySymbol := map[string][]domain.AssetPrice{}
	for _, p := range prices {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}
	if len(bySymbol) == 0 {
		return nil
	}
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create price cache dir %s: %w", h.Dir, err)
	}

	for symbol, newPrices := range bySymbol {
		if err := ctx.Err(); err != nil {
			return err
		}
		existing, err := h.read(symbol)
		if err != nil {
			return err
		}

		// new prices overwrite existing ones on the same date
		merged := map[string]float64{}
		for _, r := range existing {
			merged[r.Date] = r.AdjClose
		}
		for _, p := range newPrices {
			merged[p.Date.Format(time.DateOnly)] = p.Price
		}

		rows := make([]priceFileRow, 0, len(merged))
		for d, price := range merged {
			rows = append(rows, priceFileRow{Date: d, AdjClose: price})
		}
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Date < rows[j].Date
		})

		if err := h.write(symbol, rows); err != nil {
			return err
		}
	}

	return nil
}

func (h priceFileRepositoryHandler) write(symbol string, rows []priceFileRow) error {
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create price dir %s: %w", h.Dir, err)
	}
	tmp, err := os.CreateTemp(h.Dir, strings.ToUpper(symbol)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp price file for %s: %w", symbol, err)
	}
	if err := gocsv.MarshalFile(&rows, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write price file for %s: %w", symbol, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), h.path(symbol))
}

func (h priceFileRepositoryHandler) List(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, error) {
	rows, err := h.read(symbol)
	if err != nil {
		return nil, err
	}

	start = domain.TruncateDate(start)
	end = domain.TruncateDate(end)
	out := []domain.AssetPrice{}
	for _, r := range rows {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date '%s' in price file for %s: %w", r.Date, symbol, err)
		}
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, domain.AssetPrice{
			Symbol: symbol,
			Date:   d,
			Price:  r.AdjClose,
		})
	}

	return out, nil
}
