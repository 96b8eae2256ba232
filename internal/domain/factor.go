package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type FactorType string

const (
	FactorType_Value      FactorType = "value"
	FactorType_Momentum   FactorType = "momentum"
	FactorType_Volatility FactorType = "volatility"
)

// AllFactorTypes in canonical order
var AllFactorTypes = []FactorType{
	FactorType_Value,
	FactorType_Momentum,
	FactorType_Volatility,
}

func NewFactorType(s string) (FactorType, error) {
	for _, f := range AllFactorTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("could not convert '%s' to known factor", s)
}

// HigherIsBetter reports the ranking direction of the raw score.
// Value (P/E) and volatility rank ascending; momentum descending.
func (f FactorType) HigherIsBetter() bool {
	return f == FactorType_Momentum
}

// FactorScores holds one instrument's scores on one rebalance date.
// A nil entry means the score is missing.
type FactorScores struct {
	Symbol string
	Scores map[FactorType]*float64
}

func (fs FactorScores) Get(f FactorType) *float64 {
	if fs.Scores == nil {
		return nil
	}
	return fs.Scores[f]
}

// Complete reports whether every requested factor has a score.
func (fs FactorScores) Complete(factors []FactorType) bool {
	for _, f := range factors {
		if fs.Get(f) == nil {
			return false
		}
	}
	return true
}

// FactorScoreRow is the Factor Score Table for a single rebalance date.
type FactorScoreRow struct {
	Date    time.Time
	Factors []FactorType
	// keyed by symbol
	Scores map[string]FactorScores
}

// Symbols returns the symbols in the row, sorted.
func (r FactorScoreRow) Symbols() []string {
	out := make([]string, 0, len(r.Scores))
	for symbol := range r.Scores {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Eligible returns the sorted symbols that have every requested factor.
func (r FactorScoreRow) Eligible() []string {
	out := []string{}
	for _, symbol := range r.Symbols() {
		if r.Scores[symbol].Complete(r.Factors) {
			out = append(out, symbol)
		}
	}
	return out
}

// FactorScoreHistory keeps the per-date rank scores that drove each
// selection, for the heatmap and reports.
type FactorScoreHistory struct {
	Dates   []time.Time
	Symbols []string
	// date index -> symbol -> rank score, absent when excluded
	RankScores []map[string]float64
}

func (h *FactorScoreHistory) Add(date time.Time, rankScores map[string]float64) {
	h.Dates = append(h.Dates, date)
	h.RankScores = append(h.RankScores, rankScores)

	known := map[string]bool{}
	for _, s := range h.Symbols {
		known[s] = true
	}
	for s := range rankScores {
		if !known[s] {
			h.Symbols = append(h.Symbols, s)
		}
	}
	sort.Strings(h.Symbols)
}
