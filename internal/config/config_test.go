package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RISK_FREE_RATE", "REHEDGE_THRESHOLD", "RISK_ENGINE_DB", "RISK_ENGINE_WEBHOOK_URL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))
	return dir
}

func TestLoad_CreatesTemplateWithDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	assert.Equal(t, 0.05, cfg.Engine.RiskFreeRate)
	assert.Equal(t, 100, cfg.Engine.Multiplier)
	assert.Equal(t, 0.10, cfg.Hedging.RehedgeThreshold)
	assert.Equal(t, 0.005, cfg.Hedging.CommissionRate)
	assert.Equal(t, filepath.Join(dir, "riskengine.db"), cfg.Store.Path)
	assert.Equal(t, "all", cfg.Notifications.Level)
	assert.Len(t, cfg.RiskLimits(), 4)

	// the written template must load back to the same values
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Hedging, again.Hedging)
	assert.Equal(t, cfg.Risk.MaxConcentration, again.Risk.MaxConcentration)
}

func TestLoad_ExplicitLimitsAndQuotes(t *testing.T) {
	clearEnv(t)
	dir := writeConfig(t, `
[engine]
risk_free_rate = 0.04

[[risk.limits]]
name = "desk delta"
metric = "delta"
threshold = 5000

[[risk.limits]]
name = "single name"
metric = "concentration"
threshold = 0.5

[market_data.quotes.AAPL]
spot = 150.0
volatility = 0.25

[market_data.quotes.SPY]
spot = 500.0
volatility = 0.15
rate = 0.05
dividend_yield = 0.013
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	limits := cfg.RiskLimits()
	require.Len(t, limits, 2)
	assert.Equal(t, models.RiskLimit{Name: "desk delta", Metric: models.MetricDelta, Threshold: 5000}, limits[0])
	assert.Equal(t, models.MetricConcentration, limits[1].Metric)

	quotes := cfg.MarketQuotes()
	require.Len(t, quotes, 2)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, 0.04, quotes[0].Rate, "missing rate falls back to the engine rate")
	assert.Equal(t, "SPY", quotes[1].Symbol)
	assert.Equal(t, 0.013, quotes[1].DividendYield)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_FREE_RATE", "0.03")
	t.Setenv("REHEDGE_THRESHOLD", "0.2")
	t.Setenv("RISK_ENGINE_DB", "/tmp/override.db")
	t.Setenv("RISK_ENGINE_WEBHOOK_URL", "http://localhost:9999/hook")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0.03, cfg.Engine.RiskFreeRate)
	assert.Equal(t, 0.2, cfg.HedgerConfig().RehedgeThreshold)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.True(t, cfg.Notifications.Webhook.Enabled)

	t.Setenv("REHEDGE_THRESHOLD", "ten percent")
	_, err = Load(t.TempDir())
	assert.ErrorIs(t, err, errors.ErrConfigInvalid)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown metric", "[[risk.limits]]\nname = \"g\"\nmetric = \"gamma\"\nthreshold = 1\n"},
		{"negative commission", "[hedging]\ncommission_rate = -0.1\n"},
		{"zero threshold", "[hedging]\nrehedge_threshold = 0.0\n"},
		{"concentration above one", "[risk]\nmax_concentration = 1.5\n"},
		{"bad level", "[notifications]\nlevel = \"trades_only\"\n"},
		{"webhook without url", "[notifications.webhook]\nenabled = true\n"},
		{"quote without spot", "[market_data.quotes.AAPL]\nvolatility = 0.2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
		})
	}
}
