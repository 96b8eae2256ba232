package config

import (
	"os"
	"path/filepath"
	"testing"

	"factorlab/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		err := os.WriteFile(path, []byte(`
start: "2020-01-01"
end: "2021-06-30"
factors: [momentum]
top_n: 5
momentum:
  lookback_months: 6
composite:
  weights:
    momentum: 2
`), 0o644)
		require.NoError(t, err)

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "2020-01-01", cfg.Start)
		require.Equal(t, []string{"momentum"}, cfg.Factors)
		require.Equal(t, 5, cfg.TopN)
		require.Equal(t, 6, cfg.Momentum.LookbackMonths)
		// untouched keys keep their defaults
		require.Equal(t, 1, cfg.Momentum.SkipMonths)
		require.Equal(t, "SPY", cfg.Benchmark)
		require.Equal(t, "", cmp.Diff(map[string]float64{"momentum": 2}, cfg.Composite.Weights))
		require.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv(EnvCacheDir, "/tmp/prices")
		t.Setenv(EnvDatabaseURL, "postgres://localhost/factorlab")
		t.Setenv(EnvDataJockey, "dj-key")

		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, "/tmp/prices", cfg.Data.CacheDir)
		require.Equal(t, "postgres://localhost/factorlab", cfg.Data.DatabaseURL)
		require.Equal(t, "dj-key", cfg.Value.DataJockeyApiKey)
	})

	t.Run("missing file is a config error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.True(t, domain.IsConfigError(err))
	})

	t.Run("bad yaml is a config error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("top_n: [1"), 0o644))
		_, err := Load(path)
		require.True(t, domain.IsConfigError(err))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"empty factors", func(c *Config) { c.Factors = nil }, "factors"},
		{"unknown factor", func(c *Config) { c.Factors = []string{"quality"} }, "factors"},
		{"non-positive top n", func(c *Config) { c.TopN = 0 }, "top_n"},
		{"start after end", func(c *Config) { c.Start, c.End = "2022-01-01", "2021-01-01" }, "start"},
		{"start equals end", func(c *Config) { c.Start, c.End = "2022-01-01", "2022-01-01" }, "start"},
		{"bad date", func(c *Config) { c.End = "tomorrow" }, "end"},
		{"value without fundamentals", func(c *Config) { c.Factors = []string{"value"} }, "value.fundamentals_file"},
		{"bad missing policy", func(c *Config) { c.Value.MissingPolicy = "zero" }, "value.missing_policy"},
		{"skip >= lookback", func(c *Config) { c.Momentum.SkipMonths = 12 }, "momentum.skip_months"},
		{"min obs > window", func(c *Config) { c.Volatility.MinObservations = 30 }, "volatility.min_observations"},
		{"bad risk free source", func(c *Config) { c.RiskFree.Source = "fed" }, "risk_free.source"},
		{"bad frequency", func(c *Config) { c.Sharpe.Frequency = "weekly" }, "sharpe.frequency"},
		{"negative composite weight", func(c *Config) { c.Composite.Weights = map[string]float64{"momentum": -1} }, "composite.weights"},
		{"composite weights only on unselected factors", func(c *Config) {
			c.Factors = []string{"momentum", "volatility"}
			c.Composite.Weights = map[string]float64{"value": 1}
		}, "composite.weights"},
		{"composite weights all zero", func(c *Config) {
			c.Composite.Weights = map[string]float64{"momentum": 0, "volatility": 0}
		}, "composite.weights"},
		{"expression with a single factor", func(c *Config) {
			c.Factors = []string{"momentum"}
			c.Composite.Expression = "2*momentum"
		}, "composite.expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			require.Error(t, err)

			var ce domain.ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tt.field, ce.Field)
		})
	}

	t.Run("composite weights may name unselected factors", func(t *testing.T) {
		c := Default()
		c.Composite.Weights = map[string]float64{"value": 1, "volatility": 0.5}
		require.NoError(t, c.Validate())
	})

	t.Run("weights are ignored for a single factor", func(t *testing.T) {
		c := Default()
		c.Factors = []string{"momentum"}
		c.Composite.Weights = map[string]float64{"value": 1}
		require.NoError(t, c.Validate())
	})

	t.Run("duplicate factors collapse", func(t *testing.T) {
		c := Default()
		c.Factors = []string{"momentum", "Momentum", "volatility"}
		require.NoError(t, c.Validate())
		f, err := c.FactorTypes()
		require.NoError(t, err)
		require.Equal(t, []domain.FactorType{domain.FactorType_Momentum, domain.FactorType_Volatility}, f)
	})
}
