package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

type AssetFundamental struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	EPS       float64
}

type assetFundamentalRow struct {
	Symbol    string  `csv:"symbol"`
	StartDate string  `csv:"start_date"`
	EndDate   string  `csv:"end_date"`
	EPS       float64 `csv:"eps"`
}

type AssetFundamentalsRepository interface {
	// Get returns the record effective on date, or nil.
	Get(symbol string, date time.Time) *AssetFundamental
}

type assetFundamentalsRepositoryHandler struct {
	bySymbol map[string][]AssetFundamental
}

// NewAssetFundamentalsRepository loads trailing EPS records from a CSV
// file with columns symbol,start_date,end_date,eps. Each record is
// effective over [start_date, end_date]. EPS is as reported; prices are
// split and dividend adjusted, so historical P/E reads slightly low for
// dividend payers.
func NewAssetFundamentalsRepository(path string) (AssetFundamentalsRepository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fundamentals file: %w", err)
	}
	defer f.Close()

	rows := []assetFundamentalRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse fundamentals file %s: %w", path, err)
	}

	return newAssetFundamentalsRepository(rows)
}

func newAssetFundamentalsRepository(rows []assetFundamentalRow) (AssetFundamentalsRepository, error) {
	bySymbol := map[string][]AssetFundamental{}
	for i, r := range rows {
		start, err := time.Parse(time.DateOnly, strings.TrimSpace(r.StartDate))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad start_date: %w", i+1, err)
		}
		end, err := time.Parse(time.DateOnly, strings.TrimSpace(r.EndDate))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad end_date: %w", i+1, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("row %d: end_date before start_date", i+1)
		}
		symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
		bySymbol[symbol] = append(bySymbol[symbol], AssetFundamental{
			Symbol:    symbol,
			StartDate: start,
			EndDate:   end,
			EPS:       r.EPS,
		})
	}
	for _, records := range bySymbol {
		sort.Slice(records, func(i, j int) bool {
			return records[i].StartDate.Before(records[j].StartDate)
		})
	}

	return assetFundamentalsRepositoryHandler{bySymbol: bySymbol}, nil
}

func (h assetFundamentalsRepositoryHandler) Get(symbol string, date time.Time) *AssetFundamental {
	records := h.bySymbol[strings.ToUpper(symbol)]
	var out *AssetFundamental
	// latest-starting record wins when ranges overlap
	for i := range records {
		r := records[i]
		if !date.Before(r.StartDate) && !date.After(r.EndDate) {
			out = &r
		}
	}
	return out
}

// WriteAssetFundamentals replaces the CSV at path with records, in the
// format NewAssetFundamentalsRepository reads.
func WriteAssetFundamentals(path string, records []AssetFundamental) error {
	rows := make([]assetFundamentalRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, assetFundamentalRow{
			Symbol:    r.Symbol,
			StartDate: r.StartDate.Format(time.DateOnly),
			EndDate:   r.EndDate.Format(time.DateOnly),
			EPS:       r.EPS,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Symbol == rows[j].Symbol {
			return rows[i].StartDate < rows[j].StartDate
		}
		return rows[i].Symbol < rows[j].Symbol
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fundamentals dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp fundamentals file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write fundamentals file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
