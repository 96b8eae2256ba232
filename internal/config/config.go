package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDatabaseURL = "FACTORLAB_DATABASE_URL"
	EnvCacheDir    = "FACTORLAB_CACHE_DIR"
	EnvDataJockey  = "FACTORLAB_DATAJOCKEY_API_KEY"

	// where ingest writes fundamentals when value.fundamentals_file is unset
	DefaultFundamentalsFile = ".factorlab/fundamentals.csv"

	ValueMissingPolicy_Exclude = "exclude"
	ValueMissingPolicy_Median  = "median"

	RiskFreeSource_Constant = "constant"
	RiskFreeSource_Treasury = "treasury"
)

type Config struct {
	Start          string   `yaml:"start" json:"start"`
	End            string   `yaml:"end" json:"end"`
	Factors        []string `yaml:"factors" json:"factors"`
	TopN           int      `yaml:"top_n" json:"top_n"`
	InitialCapital float64  `yaml:"initial_capital" json:"initial_capital"`
	Benchmark      string   `yaml:"benchmark" json:"benchmark"`
	// empty means the built-in default universe
	Universe  []string `yaml:"universe" json:"universe"`
	OutputDir string   `yaml:"output_dir" json:"output_dir"`
	NoPlots   bool     `yaml:"no_plots" json:"no_plots"`

	Momentum   MomentumConfig   `yaml:"momentum" json:"momentum"`
	Volatility VolatilityConfig `yaml:"volatility" json:"volatility"`
	Value      ValueConfig      `yaml:"value" json:"value"`
	Composite  CompositeConfig  `yaml:"composite" json:"composite"`
	RiskFree   RiskFreeConfig   `yaml:"risk_free" json:"risk_free"`
	Sharpe     SharpeConfig     `yaml:"sharpe" json:"sharpe"`
	Data       DataConfig       `yaml:"data" json:"data"`
}

type MomentumConfig struct {
	LookbackMonths int `yaml:"lookback_months" json:"lookback_months"`
	SkipMonths     int `yaml:"skip_months" json:"skip_months"`
}

type VolatilityConfig struct {
	Window          int `yaml:"window" json:"window"`
	MinObservations int `yaml:"min_observations" json:"min_observations"`
}

type ValueConfig struct {
	FundamentalsFile string `yaml:"fundamentals_file" json:"fundamentals_file"`
	MissingPolicy    string `yaml:"missing_policy" json:"missing_policy"`
	// only needed by ingest --fundamentals
	DataJockeyApiKey string `yaml:"datajockey_api_key" json:"-"`
}

type CompositeConfig struct {
	Weights    map[string]float64 `yaml:"weights" json:"weights"`
	Expression string             `yaml:"expression" json:"expression"`
}

type RiskFreeConfig struct {
	Source string  `yaml:"source" json:"source"`
	Rate   float64 `yaml:"rate" json:"rate"`
}

type SharpeConfig struct {
	Frequency string `yaml:"frequency" json:"frequency"`
}

type DataConfig struct {
	CacheDir    string `yaml:"cache_dir" json:"cache_dir"`
	DatabaseURL string `yaml:"database_url" json:"-"`
	MaxRetries  int    `yaml:"max_retries" json:"max_retries"`
	// instruments with prices on fewer than this fraction of the
	// trading calendar are dropped
	MinCoverage float64 `yaml:"min_coverage" json:"min_coverage"`
}

func Default() *Config {
	return &Config{
		Start:          "2018-01-01",
		End:            "2023-01-01",
		Factors:        []string{"momentum", "volatility"},
		TopN:           10,
		InitialCapital: 10000,
		Benchmark:      "SPY",
		OutputDir:      "output",
		Momentum: MomentumConfig{
			LookbackMonths: 12,
			SkipMonths:     1,
		},
		Volatility: VolatilityConfig{
			Window:          21,
			MinObservations: 15,
		},
		Value: ValueConfig{
			MissingPolicy: ValueMissingPolicy_Exclude,
		},
		RiskFree: RiskFreeConfig{
			Source: RiskFreeSource_Constant,
		},
		Sharpe: SharpeConfig{
			Frequency: string(domain.ReturnFrequency_Daily),
		},
		Data: DataConfig{
			CacheDir:    ".factorlab/prices",
			MaxRetries:  3,
			MinCoverage: 0.8,
		},
	}
}

// Load layers defaults, the optional YAML file at path, then .env and
// the process environment. Flags are applied by the caller afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewConfigError("config", "failed to read %s: %s", path, err.Error())
		}
		if err := yaml.Unmarshal(bytes, cfg); err != nil {
			return nil, domain.NewConfigError("config", "failed to parse %s: %s", path, err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Data.DatabaseURL = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.Data.CacheDir = v
	}
	if v := os.Getenv(EnvDataJockey); v != "" {
		cfg.Value.DataJockeyApiKey = v
	}

	return cfg, nil
}

func (c Config) StartDate() (time.Time, error) {
	return util.ParseDate(c.Start)
}

func (c Config) EndDate() (time.Time, error) {
	return util.ParseDate(c.End)
}

// FactorTypes returns the parsed, de-duplicated factor list in the
// order given.
func (c Config) FactorTypes() ([]domain.FactorType, error) {
	out := []domain.FactorType{}
	seen := map[domain.FactorType]bool{}
	for _, f := range c.Factors {
		ft, err := domain.NewFactorType(f)
		if err != nil {
			return nil, domain.NewConfigError("factors", "%s", err.Error())
		}
		if seen[ft] {
			continue
		}
		seen[ft] = true
		out = append(out, ft)
	}
	return out, nil
}

func (c Config) ReturnFrequency() domain.ReturnFrequency {
	return domain.ReturnFrequency(c.Sharpe.Frequency)
}

// Validate returns a domain.ConfigError describing the first problem
// found.
func (c Config) Validate() error {
	start, err := c.StartDate()
	if err != nil {
		return domain.NewConfigError("start", "%s", err.Error())
	}
	end, err := c.EndDate()
	if err != nil {
		return domain.NewConfigError("end", "%s", err.Error())
	}
	if !start.Before(end) {
		return domain.NewConfigError("start", "start date %s must be before end date %s", c.Start, c.End)
	}

	if len(c.Factors) == 0 {
		return domain.NewConfigError("factors", "at least one factor is required (value, momentum, volatility)")
	}
	factors, err := c.FactorTypes()
	if err != nil {
		return err
	}

	if c.TopN <= 0 {
		return domain.NewConfigError("top_n", "must be positive, got %d", c.TopN)
	}
	if c.InitialCapital <= 0 {
		return domain.NewConfigError("initial_capital", "must be positive, got %f", c.InitialCapital)
	}

	if c.Momentum.LookbackMonths <= 0 {
		return domain.NewConfigError("momentum.lookback_months", "must be positive, got %d", c.Momentum.LookbackMonths)
	}
	if c.Momentum.SkipMonths < 0 || c.Momentum.SkipMonths >= c.Momentum.LookbackMonths {
		return domain.NewConfigError("momentum.skip_months", "must be in [0, %d), got %d", c.Momentum.LookbackMonths, c.Momentum.SkipMonths)
	}

	if c.Volatility.Window < 2 {
		return domain.NewConfigError("volatility.window", "must be at least 2, got %d", c.Volatility.Window)
	}
	if c.Volatility.MinObservations < 2 || c.Volatility.MinObservations > c.Volatility.Window {
		return domain.NewConfigError("volatility.min_observations", "must be in [2, %d], got %d", c.Volatility.Window, c.Volatility.MinObservations)
	}

	switch c.Value.MissingPolicy {
	case ValueMissingPolicy_Exclude, ValueMissingPolicy_Median:
	default:
		return domain.NewConfigError("value.missing_policy", "must be '%s' or '%s', got '%s'", ValueMissingPolicy_Exclude, ValueMissingPolicy_Median, c.Value.MissingPolicy)
	}
	for _, f := range factors {
		if f == domain.FactorType_Value && c.Value.FundamentalsFile == "" {
			return domain.NewConfigError("value.fundamentals_file", "required when the value factor is selected")
		}
	}

	requested := map[domain.FactorType]bool{}
	for _, f := range factors {
		requested[f] = true
	}
	requestedWeight := 0.0
	for name, w := range c.Composite.Weights {
		f, err := domain.NewFactorType(name)
		if err != nil {
			return domain.NewConfigError("composite.weights", "%s", err.Error())
		}
		if w < 0 {
			return domain.NewConfigError("composite.weights", "weight for %s must be non-negative", name)
		}
		if requested[f] {
			requestedWeight += w
		}
	}
	if len(factors) > 1 && len(c.Composite.Weights) > 0 && requestedWeight <= 0 {
		return domain.NewConfigError("composite.weights", "weights of the selected factors %v sum to 0", c.Factors)
	}
	if len(factors) == 1 && strings.TrimSpace(c.Composite.Expression) != "" {
		return domain.NewConfigError("composite.expression", "only applies when two or more factors are selected, got %s", factors[0])
	}

	switch c.RiskFree.Source {
	case RiskFreeSource_Constant, RiskFreeSource_Treasury:
	default:
		return domain.NewConfigError("risk_free.source", "must be '%s' or '%s', got '%s'", RiskFreeSource_Constant, RiskFreeSource_Treasury, c.RiskFree.Source)
	}

	switch c.ReturnFrequency() {
	case domain.ReturnFrequency_Daily, domain.ReturnFrequency_Monthly:
	default:
		return domain.NewConfigError("sharpe.frequency", "must be 'daily' or 'monthly', got '%s'", c.Sharpe.Frequency)
	}

	if c.Data.MaxRetries < 0 {
		return domain.NewConfigError("data.max_retries", "must be non-negative")
	}
	if c.Data.MinCoverage < 0 || c.Data.MinCoverage > 1 {
		return domain.NewConfigError("data.min_coverage", "must be in [0, 1], got %f", c.Data.MinCoverage)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return domain.NewConfigError("output_dir", "must not be empty")
	}

	return nil
}
