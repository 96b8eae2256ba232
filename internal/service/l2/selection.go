package l2_service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"factorlab/internal/domain"
	"factorlab/internal/logger"

	"github.com/montanaflynn/stats"
)

// Weighter assigns portfolio weights to an ordered selection.
type Weighter interface {
	Weights(symbols []string) (map[string]float64, error)
}

type EqualWeighter struct{}

func (EqualWeighter) Weights(symbols []string) (map[string]float64, error) {
	out := map[string]float64{}
	if len(symbols) == 0 {
		return out, nil
	}
	w := 1.0 / float64(len(symbols))
	for _, s := range symbols {
		out[s] = w
	}
	return out, nil
}

type SelectionConfig struct {
	TopN int
	// empty means equal weights across requested factors
	CompositeWeights map[domain.FactorType]float64
	// overrides the weighted sum in composite mode
	CompositeExpression string
}

type SelectionService interface {
	// Select ranks the eligible instruments in row and returns the top
	// N with weights, plus the rank score of every eligible instrument.
	Select(ctx context.Context, row *domain.FactorScoreRow) (*SelectionResult, error)
}

type SelectionResult struct {
	Selection  domain.SelectionSet
	RankScores map[string]float64
}

type selectionServiceHandler struct {
	Config                  SelectionConfig
	Weighter                Weighter
	FactorExpressionService FactorExpressionService
}

func NewSelectionService(cfg SelectionConfig, weighter Weighter, factorExpressionService FactorExpressionService) SelectionService {
	return selectionServiceHandler{
		Config:                  cfg,
		Weighter:                weighter,
		FactorExpressionService: factorExpressionService,
	}
}

type rankedAsset struct {
	Symbol string
	Score  float64
}

func (h selectionServiceHandler) Select(ctx context.Context, row *domain.FactorScoreRow) (*SelectionResult, error) {
	if len(row.Factors) == 0 {
		return nil, fmt.Errorf("no factors to rank by")
	}

	eligible := row.Eligible()
	var (
		rankScores map[string]float64
		err        error
	)
	if len(row.Factors) == 1 {
		rankScores = singleFactorScores(row, eligible, row.Factors[0])
	} else {
		rankScores, err = h.compositeScores(row, eligible)
		if err != nil {
			return nil, err
		}
	}

	top := topN(rankScores, h.Config.TopN)
	weights, err := h.Weighter.Weights(top)
	if err != nil {
		return nil, fmt.Errorf("failed to weight selection: %w", err)
	}

	selection := domain.SelectionSet{
		Date:   row.Date,
		Assets: []domain.SelectedAsset{},
	}
	for _, symbol := range top {
		selection.Assets = append(selection.Assets, domain.SelectedAsset{
			Symbol:    symbol,
			Weight:    weights[symbol],
			RankScore: rankScores[symbol],
		})
	}
	if !selection.Valid() {
		return nil, fmt.Errorf("selection on %s has weights summing to %f", row.Date.Format("2006-01-02"), selection.TotalWeight())
	}

	if len(top) == 0 {
		logger.FromContext(ctx).Warnf("no eligible instruments on %s, holding cash", row.Date.Format("2006-01-02"))
	}

	return &SelectionResult{
		Selection:  selection,
		RankScores: rankScores,
	}, nil
}

// singleFactorScores orients the raw factor so that higher ranks first.
func singleFactorScores(row *domain.FactorScoreRow, eligible []string, f domain.FactorType) map[string]float64 {
	out := map[string]float64{}
	for _, symbol := range eligible {
		v := *row.Scores[symbol].Get(f)
		if !f.HigherIsBetter() {
			v = -v
		}
		out[symbol] = v
	}
	return out
}

func (h selectionServiceHandler) compositeScores(row *domain.FactorScoreRow, eligible []string) (map[string]float64, error) {
	// symbol -> factor -> oriented z-score
	z := map[string]map[domain.FactorType]float64{}
	for _, symbol := range eligible {
		z[symbol] = map[domain.FactorType]float64{}
	}

	for _, f := range row.Factors {
		values := map[string]float64{}
		for _, symbol := range eligible {
			values[symbol] = *row.Scores[symbol].Get(f)
		}
		scores, err := zScoreBySymbol(values)
		if err != nil {
			return nil, fmt.Errorf("failed to z-score %s: %w", f, err)
		}
		for symbol, s := range scores {
			if !f.HigherIsBetter() {
				s = -s
			}
			z[symbol][f] = s
		}
	}

	weights := h.factorWeights(row.Factors)
	out := map[string]float64{}
	for _, symbol := range eligible {
		if h.Config.CompositeExpression != "" {
			v, err := h.FactorExpressionService.Evaluate(h.Config.CompositeExpression, z[symbol])
			if err != nil {
				return nil, fmt.Errorf("failed to score %s: %w", symbol, err)
			}
			out[symbol] = v
			continue
		}
		total := 0.0
		for _, f := range row.Factors {
			total += weights[f] * z[symbol][f]
		}
		out[symbol] = total
	}

	return out, nil
}

func (h selectionServiceHandler) factorWeights(factors []domain.FactorType) map[domain.FactorType]float64 {
	out := map[domain.FactorType]float64{}
	if len(h.Config.CompositeWeights) == 0 {
		for _, f := range factors {
			out[f] = 1 / float64(len(factors))
		}
		return out
	}
	for _, f := range factors {
		out[f] = h.Config.CompositeWeights[f]
	}
	return out
}

// below this the cross-section is treated as having no dispersion
const minDispersion = 1e-12

// zScoreBySymbol standardizes values with the sample standard deviation.
// With fewer than two values or no dispersion every score is 0.
func zScoreBySymbol(values map[string]float64) (map[string]float64, error) {
	out := map[string]float64{}
	if len(values) == 0 {
		return out, nil
	}
	if len(values) < 2 {
		for symbol := range values {
			out[symbol] = 0
		}
		return out, nil
	}

	symbols := make([]string, 0, len(values))
	for symbol := range values {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	data := make([]float64, 0, len(values))
	for _, symbol := range symbols {
		data = append(data, values[symbol])
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return nil, err
	}
	stdev, err := stats.StandardDeviationSample(data)
	if err != nil {
		return nil, err
	}

	for symbol, v := range values {
		if stdev < minDispersion || math.IsNaN(stdev) {
			out[symbol] = 0
			continue
		}
		out[symbol] = (v - mean) / stdev
	}
	return out, nil
}

// topN orders by score descending, then symbol ascending.
func topN(scores map[string]float64, n int) []string {
	assets := make([]rankedAsset, 0, len(scores))
	for symbol, score := range scores {
		assets = append(assets, rankedAsset{Symbol: symbol, Score: score})
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].Score == assets[j].Score {
			return assets[i].Symbol < assets[j].Symbol
		}
		return assets[i].Score > assets[j].Score
	})

	out := []string{}
	for i := 0; i < len(assets) && i < n; i++ {
		out = append(out, assets[i].Symbol)
	}
	return out
}
