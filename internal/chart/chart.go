package chart

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"sort"
	"time"

	"factorlab/internal/domain"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	CumulativeReturnsFile = "cumulative_returns.png"
	DrawdownFile          = "drawdown.png"
	FactorHeatmapFile     = "factor_heatmap.png"
)

var (
	portfolioColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	benchmarkColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

type RenderInput struct {
	Portfolio domain.ValueSeries
	// optional
	Benchmark     domain.ValueSeries
	BenchmarkName string
	History       *domain.FactorScoreHistory
}

// RenderAll writes every chart into dir and returns the paths written.
// It keeps going after a failed chart and returns the first error.
func RenderAll(dir string, in RenderInput) ([]string, error) {
	written := []string{}
	var firstErr error
	record := func(name string, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to render %s: %w", name, err)
			}
			return
		}
		written = append(written, filepath.Join(dir, name))
	}

	record(CumulativeReturnsFile, CumulativeReturns(filepath.Join(dir, CumulativeReturnsFile), in.Portfolio, in.Benchmark, in.BenchmarkName))
	record(DrawdownFile, Drawdown(filepath.Join(dir, DrawdownFile), in.Portfolio, in.Benchmark, in.BenchmarkName))
	if in.History != nil {
		record(FactorHeatmapFile, FactorHeatmap(filepath.Join(dir, FactorHeatmapFile), in.History))
	}

	return written, firstErr
}

// CumulativeReturns plots growth of 1 for the portfolio and, when
// present, the benchmark.
func CumulativeReturns(path string, portfolio, benchmark domain.ValueSeries, benchmarkName string) error {
	p := newTimePlot("Cumulative Returns", "growth of 1")
	if err := addLine(p, "Portfolio", portfolio.Normalized(), portfolioColor); err != nil {
		return err
	}
	if len(benchmark) > 0 {
		if err := addLine(p, benchmarkLabel(benchmarkName), benchmark.Normalized(), benchmarkColor); err != nil {
			return err
		}
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

func Drawdown(path string, portfolio, benchmark domain.ValueSeries, benchmarkName string) error {
	p := newTimePlot("Drawdown", "drawdown")
	if err := addLine(p, "Portfolio", portfolio.Drawdowns(), portfolioColor); err != nil {
		return err
	}
	if len(benchmark) > 0 {
		if err := addLine(p, benchmarkLabel(benchmarkName), benchmark.Drawdowns(), benchmarkColor); err != nil {
			return err
		}
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// FactorHeatmap draws each instrument's rank percentile by rebalance
// date. Cells where the instrument was not ranked are left blank.
func FactorHeatmap(path string, history *domain.FactorScoreHistory) error {
	if len(history.Dates) == 0 || len(history.Symbols) == 0 {
		return fmt.Errorf("no factor scores to plot")
	}

	grid := newRankGrid(history)
	hm := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	hm.Min = 0
	hm.Max = 1

	p := plot.New()
	p.Title.Text = "Factor Rank by Rebalance Date"
	p.X.Label.Text = "rebalance date"
	p.Add(hm)
	p.NominalY(history.Symbols...)
	p.X.Tick.Marker = dateTicks(history.Dates)

	height := vg.Length(math.Max(4, float64(len(history.Symbols))*0.2)) * vg.Inch
	return p.Save(12*vg.Inch, height, path)
}

func newTimePlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = yLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())
	return p
}

func addLine(p *plot.Plot, name string, series domain.ValueSeries, c color.Color) error {
	if len(series) == 0 {
		return fmt.Errorf("%s has no values", name)
	}
	xys := make(plotter.XYs, len(series))
	for i, v := range series {
		xys[i].X = float64(v.Date.Unix())
		xys[i].Y = v.Value
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("failed to build %s line: %w", name, err)
	}
	line.LineStyle.Color = c
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func benchmarkLabel(name string) string {
	if name == "" {
		return "Benchmark"
	}
	return name
}

// at most ~12 labels along the date axis
func dateTicks(dates []time.Time) plot.ConstantTicks {
	step := len(dates)/12 + 1
	out := plot.ConstantTicks{}
	for i, d := range dates {
		label := ""
		if i%step == 0 {
			label = d.Format("2006-01")
		}
		out = append(out, plot.Tick{Value: float64(i), Label: label})
	}
	return out
}

// rankGrid implements plotter.GridXYZ with dates as columns and symbols
// as rows.
type rankGrid struct {
	cols, rows int
	z          [][]float64
}

func newRankGrid(history *domain.FactorScoreHistory) rankGrid {
	rowBySymbol := map[string]int{}
	for i, s := range history.Symbols {
		rowBySymbol[s] = i
	}

	z := make([][]float64, len(history.Dates))
	for c := range history.Dates {
		z[c] = make([]float64, len(history.Symbols))
		for r := range z[c] {
			z[c][r] = math.NaN()
		}
		for symbol, pct := range RankPercentiles(history.RankScores[c]) {
			z[c][rowBySymbol[symbol]] = pct
		}
	}

	return rankGrid{
		cols: len(history.Dates),
		rows: len(history.Symbols),
		z:    z,
	}
}

func (g rankGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g rankGrid) Z(c, r int) float64 { return g.z[c][r] }
func (g rankGrid) X(c int) float64    { return float64(c) }
func (g rankGrid) Y(r int) float64    { return float64(r) }

// RankPercentiles maps rank scores on one date onto [0, 1], 1 being the
// best ranked. Ties share the lower percentile.
func RankPercentiles(scores map[string]float64) map[string]float64 {
	out := map[string]float64{}
	if len(scores) == 0 {
		return out
	}
	if len(scores) == 1 {
		for symbol := range scores {
			out[symbol] = 1
		}
		return out
	}

	values := make([]float64, 0, len(scores))
	for _, v := range scores {
		values = append(values, v)
	}
	sort.Float64s(values)

	for symbol, v := range scores {
		below := sort.SearchFloat64s(values, v)
		out[symbol] = float64(below) / float64(len(values)-1)
	}
	return out
}
