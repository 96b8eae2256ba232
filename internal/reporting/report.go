package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"factorlab/internal/config"
	"factorlab/internal/domain"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

const (
	ReportFile          = "report.json"
	SummaryFile         = "summary.md"
	PortfolioValuesFile = "portfolio_values.csv"
	SelectionsFile      = "selections.csv"
)

type Report struct {
	RunID       uuid.UUID      `json:"runId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Config      *config.Config `json:"config"`
	Universe    []string       `json:"universe"`
	// symbol -> reason
	Excluded        map[string]string         `json:"excluded"`
	RebalanceCount  int                       `json:"rebalanceCount"`
	RiskFreeRate    float64                   `json:"riskFreeRate"`
	Portfolio       *domain.PerformanceReport `json:"portfolio"`
	BenchmarkSymbol string                    `json:"benchmarkSymbol,omitempty"`
	Benchmark       *domain.PerformanceReport `json:"benchmark,omitempty"`
}

type WriteInput struct {
	Report          Report
	PortfolioValues domain.ValueSeries
	BenchmarkValues domain.ValueSeries
	Selections      []domain.SelectionSet
}

type portfolioValueRow struct {
	Date      string  `csv:"date"`
	Portfolio float64 `csv:"portfolio_value"`
	// empty when the benchmark is unavailable
	Benchmark string `csv:"benchmark_value"`
}

type selectionRow struct {
	Date      string  `csv:"date"`
	Rank      int     `csv:"rank"`
	Symbol    string  `csv:"symbol"`
	Weight    float64 `csv:"weight"`
	RankScore float64 `csv:"rank_score"`
}

// Write persists every report file into dir, creating it if needed, and
// returns the paths written.
func Write(dir string, in WriteInput) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	written := []string{}
	steps := []struct {
		name string
		fn   func(path string) error
	}{
		{ReportFile, func(path string) error { return writeJSON(path, in.Report) }},
		{SummaryFile, func(path string) error { return os.WriteFile(path, []byte(SummaryMarkdown(in.Report)), 0o644) }},
		{PortfolioValuesFile, func(path string) error { return writeValues(path, in.PortfolioValues, in.BenchmarkValues) }},
		{SelectionsFile, func(path string) error { return writeSelections(path, in.Selections) }},
	}
	for _, step := range steps {
		path := filepath.Join(dir, step.name)
		if err := step.fn(path); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", step.name, err)
		}
		written = append(written, path)
	}

	return written, nil
}

func writeJSON(path string, report Report) error {
	bytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(bytes, '\n'), 0o644)
}

func writeValues(path string, portfolio, benchmark domain.ValueSeries) error {
	benchmarkByDate := map[string]float64{}
	for _, v := range benchmark {
		benchmarkByDate[v.Date.Format(time.DateOnly)] = v.Value
	}

	rows := []portfolioValueRow{}
	for _, v := range portfolio {
		date := v.Date.Format(time.DateOnly)
		row := portfolioValueRow{
			Date:      date,
			Portfolio: v.Value,
		}
		if b, ok := benchmarkByDate[date]; ok {
			row.Benchmark = fmt.Sprintf("%f", b)
		}
		rows = append(rows, row)
	}

	return marshalFile(path, &rows)
}

func writeSelections(path string, selections []domain.SelectionSet) error {
	rows := []selectionRow{}
	for _, s := range selections {
		for i, a := range s.Assets {
			rows = append(rows, selectionRow{
				Date:      s.Date.Format(time.DateOnly),
				Rank:      i + 1,
				Symbol:    a.Symbol,
				Weight:    a.Weight,
				RankScore: a.RankScore,
			})
		}
	}
	return marshalFile(path, &rows)
}

func marshalFile(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(rows, f)
}

// SummaryMarkdown renders the human-readable run summary.
func SummaryMarkdown(r Report) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "# Backtest %s\n\n", r.RunID.String())
	if r.Config != nil {
		fmt.Fprintf(b, "- Period: %s to %s\n", r.Config.Start, r.Config.End)
		fmt.Fprintf(b, "- Factors: %s\n", strings.Join(r.Config.Factors, ", "))
		fmt.Fprintf(b, "- Top N: %d\n", r.Config.TopN)
		fmt.Fprintf(b, "- Initial capital: %.2f\n", r.Config.InitialCapital)
	}
	fmt.Fprintf(b, "- Universe: %d instruments, %d excluded\n", len(r.Universe), len(r.Excluded))
	fmt.Fprintf(b, "- Rebalances: %d\n", r.RebalanceCount)
	fmt.Fprintf(b, "- Risk-free rate: %s\n\n", formatPercent(r.RiskFreeRate))

	b.WriteString("| Metric | Portfolio |")
	if r.Benchmark != nil {
		fmt.Fprintf(b, " %s |", r.BenchmarkSymbol)
	}
	b.WriteString("\n|---|---|")
	if r.Benchmark != nil {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	for _, m := range metricRows(r.Portfolio, r.Benchmark) {
		fmt.Fprintf(b, "| %s | %s |", m.name, m.portfolio)
		if r.Benchmark != nil {
			fmt.Fprintf(b, " %s |", m.benchmark)
		}
		b.WriteString("\n")
	}

	if len(r.Excluded) > 0 {
		b.WriteString("\n## Excluded instruments\n\n")
		symbols := make([]string, 0, len(r.Excluded))
		for s := range r.Excluded {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			fmt.Fprintf(b, "- %s: %s\n", s, r.Excluded[s])
		}
	}

	return b.String()
}

// PrintSummary writes the headline metrics for the terminal.
func PrintSummary(w io.Writer, r Report) {
	fmt.Fprintf(w, "run %s\n", r.RunID.String())
	for _, m := range metricRows(r.Portfolio, r.Benchmark) {
		if r.Benchmark != nil {
			fmt.Fprintf(w, "  %-22s %12s   %s %s\n", m.name, m.portfolio, r.BenchmarkSymbol, m.benchmark)
		} else {
			fmt.Fprintf(w, "  %-22s %12s\n", m.name, m.portfolio)
		}
	}
}

type metricRow struct {
	name      string
	portfolio string
	benchmark string
}

func metricRows(portfolio, benchmark *domain.PerformanceReport) []metricRow {
	get := func(r *domain.PerformanceReport, fn func(*domain.PerformanceReport) string) string {
		if r == nil {
			return "n/a"
		}
		return fn(r)
	}
	defs := []struct {
		name string
		fn   func(*domain.PerformanceReport) string
	}{
		{"Cumulative return", func(r *domain.PerformanceReport) string { return formatPercent(r.CumulativeReturn) }},
		{"CAGR", func(r *domain.PerformanceReport) string { return formatPercent(r.CAGR) }},
		{"Sharpe ratio", func(r *domain.PerformanceReport) string { return formatOptional(r.SharpeRatio, "%.2f") }},
		{"Max drawdown", func(r *domain.PerformanceReport) string { return formatPercent(r.MaxDrawdown) }},
		{"Annualized volatility", func(r *domain.PerformanceReport) string {
			if r.AnnualizedVolatility == nil {
				return "undefined"
			}
			return formatPercent(*r.AnnualizedVolatility)
		}},
		{"Final value", func(r *domain.PerformanceReport) string { return fmt.Sprintf("%.2f", r.EndValue) }},
	}

	out := []metricRow{}
	for _, d := range defs {
		out = append(out, metricRow{
			name:      d.name,
			portfolio: get(portfolio, d.fn),
			benchmark: get(benchmark, d.fn),
		})
	}
	return out
}

func formatPercent(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func formatOptional(f *float64, format string) string {
	if f == nil {
		return "undefined"
	}
	return fmt.Sprintf(format, *f)
}
