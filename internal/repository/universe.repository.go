package repository

import (
	"sort"
	"strings"
)

var defaultUniverse = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA", "BRK-B", "JPM", "JNJ",
	"V", "PG", "UNH", "HD", "MA", "XOM", "LLY", "ABBV", "MRK", "PEP",
	"COST", "AVGO", "KO", "TMO", "MCD", "WMT", "CVX", "BAC", "ADBE", "PFE",
	"CSCO", "ABT", "ACN", "DHR", "DIS", "LIN", "VZ", "WFC", "INTC", "TXN",
	"NEE", "PM", "UNP", "MS", "HON", "AMGN", "IBM", "QCOM", "LOW", "SBUX",
}

type UniverseRepository interface {
	List() []string
}

type universeRepositoryHandler struct {
	symbols []string
}

// NewUniverseRepository returns the given symbols, or the default
// large-cap list when none are given. Symbols are upper-cased,
// de-duplicated and sorted.
func NewUniverseRepository(symbols []string) UniverseRepository {
	if len(symbols) == 0 {
		symbols = defaultUniverse
	}
	seen := map[string]bool{}
	out := []string{}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return universeRepositoryHandler{symbols: out}
}

func (h universeRepositoryHandler) List() []string {
	out := make([]string, len(h.symbols))
	copy(out, h.symbols)
	return out
}
