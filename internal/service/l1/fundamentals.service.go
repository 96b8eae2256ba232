package l1_service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"factorlab/internal/logger"
	"factorlab/internal/repository"
	"factorlab/pkg/datajockey"
)

const (
	// quarterly results are usually filed within this many days of the
	// quarter end; records only take effect after it
	reportingLagDays = 45
	// the last known TTM figure is not used beyond this
	maxRecordDays = 120
)

var quarterKeyPattern = regexp.MustCompile(`(\d{4})Q([1-4])`)

type FundamentalsProvider interface {
	GetAssetMetrics(ctx context.Context, symbol string) (*datajockey.FinancialResponse, error)
}

type FundamentalsService interface {
	// SyncFundamentals fetches quarterly EPS for every symbol and
	// replaces the fundamentals file at path with trailing twelve month
	// records. Symbols that fail are excluded.
	SyncFundamentals(ctx context.Context, symbols []string, path string) (*SyncFundamentalsResult, error)
}

type SyncFundamentalsResult struct {
	Records []repository.AssetFundamental
	// symbol -> reason
	Excluded map[string]error
}

type fundamentalsServiceHandler struct {
	Provider FundamentalsProvider
}

func NewFundamentalsService(provider FundamentalsProvider) FundamentalsService {
	return fundamentalsServiceHandler{Provider: provider}
}

func (h fundamentalsServiceHandler) SyncFundamentals(ctx context.Context, symbols []string, path string) (*SyncFundamentalsResult, error) {
	log := logger.FromContext(ctx)
	result := &SyncFundamentalsResult{
		Records:  []repository.AssetFundamental{},
		Excluded: map[string]error{},
	}

	for _, symbol := range symbols {
		response, err := h.Provider.GetAssetMetrics(ctx, symbol)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fundamentals sync interrupted at %s: %w", symbol, ctxErr)
		}
		if err != nil {
			log.Warnf("excluding %s from fundamentals: %v", symbol, err)
			result.Excluded[symbol] = err
			continue
		}

		records, err := TrailingEPSRecords(symbol, response.FinancialData.Quarterly)
		if err != nil {
			log.Warnf("excluding %s from fundamentals: %v", symbol, err)
			result.Excluded[symbol] = err
			continue
		}
		if len(records) == 0 {
			err = fmt.Errorf("fewer than four consecutive quarters of eps")
			log.Warnf("excluding %s from fundamentals: %v", symbol, err)
			result.Excluded[symbol] = err
			continue
		}
		log.Infof("built %d eps records for %s", len(records), symbol)
		result.Records = append(result.Records, records...)
	}

	if len(result.Records) == 0 {
		return nil, fmt.Errorf("no fundamentals for any of %d symbols", len(symbols))
	}
	if err := repository.WriteAssetFundamentals(path, result.Records); err != nil {
		return nil, err
	}

	return result, nil
}

type quarter struct {
	year    int
	quarter int
}

func (q quarter) next() quarter {
	if q.quarter == 4 {
		return quarter{year: q.year + 1, quarter: 1}
	}
	return quarter{year: q.year, quarter: q.quarter + 1}
}

func (q quarter) end() time.Time {
	return time.Date(q.year, time.Month(3*q.quarter+1), 0, 0, 0, 0, 0, time.UTC)
}

func parseQuarter(key string) (quarter, error) {
	matches := quarterKeyPattern.FindStringSubmatch(key)
	if len(matches) != 3 {
		return quarter{}, fmt.Errorf("unexpected period key '%s'", key)
	}
	year, err := strconv.Atoi(matches[1])
	if err != nil {
		return quarter{}, err
	}
	q, err := strconv.Atoi(matches[2])
	if err != nil {
		return quarter{}, err
	}
	return quarter{year: year, quarter: q}, nil
}

// TrailingEPSRecords sums each run of four consecutive quarters into a
// trailing twelve month EPS. A record takes effect reportingLagDays
// after its last quarter ends and lasts until the next record, at most
// maxRecordDays. Diluted EPS is used where reported, basic otherwise.
func TrailingEPSRecords(symbol string, fields datajockey.Fields) ([]repository.AssetFundamental, error) {
	epsByQuarter := map[quarter]float64{}
	for _, source := range []map[string]float64{fields.EpsBasic, fields.EpsDiluted} {
		for key, eps := range source {
			q, err := parseQuarter(key)
			if err != nil {
				return nil, err
			}
			epsByQuarter[q] = eps
		}
	}

	quarters := make([]quarter, 0, len(epsByQuarter))
	for q := range epsByQuarter {
		quarters = append(quarters, q)
	}
	sort.Slice(quarters, func(i, j int) bool {
		return quarters[i].end().Before(quarters[j].end())
	})

	out := []repository.AssetFundamental{}
	for i := 3; i < len(quarters); i++ {
		window := quarters[i-3 : i+1]
		consecutive := true
		for j := 1; j < len(window); j++ {
			if window[j] != window[j-1].next() {
				consecutive = false
				break
			}
		}
		if !consecutive {
			continue
		}

		ttm := 0.0
		for _, q := range window {
			ttm += epsByQuarter[q]
		}
		start := quarters[i].end().AddDate(0, 0, reportingLagDays)
		out = append(out, repository.AssetFundamental{
			Symbol:    symbol,
			StartDate: start,
			EndDate:   start.AddDate(0, 0, maxRecordDays-1),
			EPS:       ttm,
		})
	}

	for i := 0; i+1 < len(out); i++ {
		nextStart := out[i+1].StartDate.AddDate(0, 0, -1)
		if nextStart.Before(out[i].EndDate) {
			out[i].EndDate = nextStart
		}
	}

	return out, nil
}
