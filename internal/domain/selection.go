package domain

import (
	"math"
	"time"
)

// WeightTolerance bounds how far a non-empty selection's weights may
// drift from 1.
const WeightTolerance = 1e-9

type SelectedAsset struct {
	Symbol    string
	Weight    float64
	RankScore float64
}

// SelectionSet is the ordered basket chosen on a rebalance date.
type SelectionSet struct {
	Date   time.Time
	Assets []SelectedAsset
}

func (s SelectionSet) Weights() map[string]float64 {
	out := map[string]float64{}
	for _, a := range s.Assets {
		out[a.Symbol] = a.Weight
	}
	return out
}

func (s SelectionSet) TotalWeight() float64 {
	sum := 0.0
	for _, a := range s.Assets {
		sum += a.Weight
	}
	return sum
}

// Valid checks that weights sum to 1, or to 0 for an empty basket.
func (s SelectionSet) Valid() bool {
	sum := s.TotalWeight()
	if len(s.Assets) == 0 {
		return sum == 0
	}
	for _, a := range s.Assets {
		if math.IsNaN(a.Weight) || a.Weight < 0 {
			return false
		}
	}
	return math.Abs(sum-1) <= WeightTolerance
}
