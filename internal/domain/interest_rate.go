package domain

import (
	"fmt"
	"sort"
)

// InterestRateMap holds yields keyed by duration in months, as
// decimals (0.05 = 5%).
type InterestRateMap struct {
	Rates map[int]float64
}

// GetRate returns the rate for the given duration. Durations outside
// the known range clamp to the nearest end; durations between two known
// points take their midpoint.
func (im InterestRateMap) GetRate(months int) (float64, error) {
	v, ok := im.Rates[months]
	if ok {
		return v, nil
	}

	keys := []int{}
	for k := range im.Rates {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	if len(keys) == 0 {
		return 0, fmt.Errorf("no rates in given map")
	}

	if months < keys[0] {
		return im.Rates[keys[0]], nil
	}
	if months > keys[len(keys)-1] {
		return im.Rates[keys[len(keys)-1]], nil
	}

	for i := 0; i < len(keys)-1; i++ {
		lo, hi := keys[i], keys[i+1]
		if months > lo && months < hi {
			return (im.Rates[lo] + im.Rates[hi]) / 2, nil
		}
	}

	return 0, fmt.Errorf("unable to compute rate for %d months", months)
}
