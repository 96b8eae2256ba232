package domain

import (
	"time"
)

type ValuePoint struct {
	Date  time.Time `json:"date" csv:"date"`
	Value float64   `json:"value" csv:"value"`
}

// ValueSeries is ordered by date, ascending.
type ValueSeries []ValuePoint

func (vs ValueSeries) Values() []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v.Value
	}
	return out
}

// Normalized rescales the series so that it starts at 1.
func (vs ValueSeries) Normalized() ValueSeries {
	if len(vs) == 0 || vs[0].Value == 0 {
		return ValueSeries{}
	}
	out := make(ValueSeries, len(vs))
	for i, v := range vs {
		out[i] = ValuePoint{
			Date:  v.Date,
			Value: v.Value / vs[0].Value,
		}
	}
	return out
}

// Drawdowns is value / running max - 1 at every point.
func (vs ValueSeries) Drawdowns() ValueSeries {
	out := make(ValueSeries, len(vs))
	peak := 0.0
	for i, v := range vs {
		if i == 0 || v.Value > peak {
			peak = v.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = v.Value/peak - 1
		}
		out[i] = ValuePoint{Date: v.Date, Value: dd}
	}
	return out
}

type ReturnFrequency string

const (
	ReturnFrequency_Daily   ReturnFrequency = "daily"
	ReturnFrequency_Monthly ReturnFrequency = "monthly"
)

func (f ReturnFrequency) PeriodsPerYear() int {
	if f == ReturnFrequency_Monthly {
		return 12
	}
	return 252
}

type PerformanceReport struct {
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	StartValue           float64   `json:"startValue"`
	EndValue             float64   `json:"endValue"`
	CumulativeReturn     float64   `json:"cumulativeReturn"`
	CAGR                 float64   `json:"cagr"`
	AnnualizedVolatility *float64  `json:"annualizedVolatility"`
	// nil when undefined, e.g. zero dispersion
	SharpeRatio *float64 `json:"sharpeRatio"`
	MaxDrawdown float64  `json:"maxDrawdown"`
}
