// Package config provides configuration management for the risk engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/hedging"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Hedging       HedgingConfig      `mapstructure:"hedging"`
	Risk          RiskConfig         `mapstructure:"risk"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Store         StoreConfig        `mapstructure:"store"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
	Dir           string             `mapstructure:"-"`
}

// EngineConfig holds pricing defaults.
type EngineConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
	Multiplier   int     `mapstructure:"multiplier"`
}

// HedgingConfig holds delta-hedging parameters.
type HedgingConfig struct {
	RehedgeThreshold float64 `mapstructure:"rehedge_threshold"`
	ZeroDeltaEpsilon float64 `mapstructure:"zero_delta_epsilon"`
	CommissionRate   float64 `mapstructure:"commission_rate"` // fraction of notional
	FixedFee         float64 `mapstructure:"fixed_fee"`
}

// RiskConfig holds risk limits. Limits, when set, replace the limits
// derived from the max_* fields.
type RiskConfig struct {
	MaxPositionSize   float64       `mapstructure:"max_position_size"`
	MaxDeltaExposure  float64       `mapstructure:"max_delta_exposure"`
	MaxVegaExposure   float64       `mapstructure:"max_vega_exposure"`
	MaxConcentration  float64       `mapstructure:"max_concentration"`
	ExpiryWarningDays int           `mapstructure:"expiry_warning_days"`
	Limits            []LimitConfig `mapstructure:"limits"`
}

// LimitConfig is one [[risk.limits]] entry.
type LimitConfig struct {
	Name      string  `mapstructure:"name"`
	Metric    string  `mapstructure:"metric"`
	Threshold float64 `mapstructure:"threshold"`
}

// MarketDataConfig holds market data settings for the static provider.
type MarketDataConfig struct {
	CacheSeconds  int                    `mapstructure:"cache_seconds"`
	MaxAgeSeconds int                    `mapstructure:"max_age_seconds"`
	Quotes        map[string]QuoteConfig `mapstructure:"quotes"`
}

// QuoteConfig is a configured quote for one underlying.
type QuoteConfig struct {
	Spot          float64 `mapstructure:"spot"`
	Volatility    float64 `mapstructure:"volatility"`
	Rate          float64 `mapstructure:"rate"`
	DividendYield float64 `mapstructure:"dividend_yield"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Level   string        `mapstructure:"level"` // all, breaches_only, errors_only
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/options-risk-engine"
	}
	return filepath.Join(home, ".config", "options-risk-engine")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a commented template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env files are optional; existing env vars win
	for _, f := range []string{".env", filepath.Join(configDir, ".env")} {
		_ = godotenv.Load(f)
	}

	cfg := &Config{Dir: configDir}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "riskengine.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.risk_free_rate", 0.05)
	v.SetDefault("engine.multiplier", models.DefaultMultiplier)

	def := hedging.DefaultConfig()
	v.SetDefault("hedging.rehedge_threshold", def.RehedgeThreshold)
	v.SetDefault("hedging.zero_delta_epsilon", def.ZeroDeltaEpsilon)
	v.SetDefault("hedging.commission_rate", def.CommissionRate)
	v.SetDefault("hedging.fixed_fee", def.FixedFee)

	v.SetDefault("risk.max_position_size", 100.0)
	v.SetDefault("risk.max_delta_exposure", 10000.0)
	v.SetDefault("risk.max_vega_exposure", 5000.0)
	v.SetDefault("risk.max_concentration", 0.30)
	v.SetDefault("risk.expiry_warning_days", 7)

	v.SetDefault("market_data.cache_seconds", 60)
	v.SetDefault("market_data.max_age_seconds", 900)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "all")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) error {
	floats := []struct {
		key    string
		target *float64
	}{
		{"RISK_FREE_RATE", &cfg.Engine.RiskFreeRate},
		{"REHEDGE_THRESHOLD", &cfg.Hedging.RehedgeThreshold},
	}
	for _, f := range floats {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", errors.ErrConfigInvalid, f.key, v)
		}
		*f.target = n
	}

	if v := os.Getenv("RISK_ENGINE_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RISK_ENGINE_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", errors.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	if c.Engine.RiskFreeRate < -1 || c.Engine.RiskFreeRate > 1 {
		return invalid("risk_free_rate must be between -1 and 1")
	}
	if c.Engine.Multiplier <= 0 {
		return invalid("multiplier must be positive")
	}

	if c.Hedging.RehedgeThreshold <= 0 {
		return invalid("rehedge_threshold must be positive")
	}
	if c.Hedging.ZeroDeltaEpsilon < 0 {
		return invalid("zero_delta_epsilon must be non-negative")
	}
	if c.Hedging.CommissionRate < 0 || c.Hedging.CommissionRate >= 1 {
		return invalid("commission_rate must be in [0, 1)")
	}
	if c.Hedging.FixedFee < 0 {
		return invalid("fixed_fee must be non-negative")
	}

	if c.Risk.MaxConcentration < 0 || c.Risk.MaxConcentration > 1 {
		return invalid("max_concentration must be between 0 and 1")
	}
	if c.Risk.ExpiryWarningDays < 0 {
		return invalid("expiry_warning_days must be non-negative")
	}
	for _, l := range c.Risk.Limits {
		if l.Name == "" {
			return invalid("risk limit without a name")
		}
		if !models.LimitMetric(l.Metric).Valid() {
			return invalid("risk limit %q has unknown metric %q", l.Name, l.Metric)
		}
		if l.Threshold < 0 {
			return invalid("risk limit %q threshold must be non-negative", l.Name)
		}
	}

	if c.MarketData.CacheSeconds < 0 || c.MarketData.MaxAgeSeconds < 0 {
		return invalid("market_data durations must be non-negative")
	}
	for sym, q := range c.MarketData.Quotes {
		if q.Spot <= 0 || q.Volatility < 0 {
			return invalid("quote %s needs a positive spot and non-negative volatility", sym)
		}
	}

	switch c.Notifications.Level {
	case "", "all", "breaches_only", "errors_only":
	default:
		return invalid("notifications.level must be all, breaches_only or errors_only")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return invalid("notifications.webhook.url is required when the webhook is enabled")
	}

	return nil
}

// RiskLimits returns the configured limits. Explicit [[risk.limits]]
// entries win; otherwise one limit per non-zero max_* field.
func (c *Config) RiskLimits() []models.RiskLimit {
	if len(c.Risk.Limits) > 0 {
		out := make([]models.RiskLimit, 0, len(c.Risk.Limits))
		for _, l := range c.Risk.Limits {
			out = append(out, models.RiskLimit{
				Name:      l.Name,
				Metric:    models.LimitMetric(l.Metric),
				Threshold: l.Threshold,
			})
		}
		return out
	}

	var out []models.RiskLimit
	add := func(name string, metric models.LimitMetric, threshold float64) {
		if threshold > 0 {
			out = append(out, models.RiskLimit{Name: name, Metric: metric, Threshold: threshold})
		}
	}
	add("max_position_size", models.MetricPositionSize, c.Risk.MaxPositionSize)
	add("max_delta_exposure", models.MetricDelta, c.Risk.MaxDeltaExposure)
	add("max_vega_exposure", models.MetricVega, c.Risk.MaxVegaExposure)
	add("max_concentration", models.MetricConcentration, c.Risk.MaxConcentration)
	return out
}

// HedgerConfig converts the hedging section for the hedger.
func (c *Config) HedgerConfig() hedging.Config {
	return hedging.Config{
		RehedgeThreshold: c.Hedging.RehedgeThreshold,
		ZeroDeltaEpsilon: c.Hedging.ZeroDeltaEpsilon,
		CommissionRate:   c.Hedging.CommissionRate,
		FixedFee:         c.Hedging.FixedFee,
	}
}

// MarketQuotes returns the configured quotes, sorted by symbol. Quotes
// without a rate use the engine risk-free rate.
func (c *Config) MarketQuotes() []models.MarketData {
	symbols := make([]string, 0, len(c.MarketData.Quotes))
	for sym := range c.MarketData.Quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]models.MarketData, 0, len(symbols))
	for _, sym := range symbols {
		q := c.MarketData.Quotes[sym]
		rate := q.Rate
		if rate == 0 {
			rate = c.Engine.RiskFreeRate
		}
		out = append(out, models.MarketData{
			Symbol:        strings.ToUpper(sym),
			Spot:          q.Spot,
			Volatility:    q.Volatility,
			Rate:          rate,
			DividendYield: q.DividendYield,
		})
	}
	return out
}

// CacheTTL returns the market data cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.MarketData.CacheSeconds) * time.Second
}

// MaxQuoteAge returns the staleness bound for quotes.
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.MarketData.MaxAgeSeconds) * time.Second
}

// ExpiryWarningWindow returns the look-ahead for expiring positions.
func (c *Config) ExpiryWarningWindow() time.Duration {
	return time.Duration(c.Risk.ExpiryWarningDays) * 24 * time.Hour
}
