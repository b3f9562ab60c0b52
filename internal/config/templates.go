package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Options Risk Engine Configuration

[engine]
# Continuously compounded annual risk-free rate
risk_free_rate = 0.05
# Shares per option contract
multiplier = 100

[hedging]
# Relative delta drift that makes a hedge stale (0.10 = 10%)
rehedge_threshold = 0.10
# Delta (in shares) above which a position hedged at zero delta is stale
zero_delta_epsilon = 1.0
# Transaction cost as a fraction of traded notional
commission_rate = 0.005
# Flat fee per hedge trade
fixed_fee = 0.0

[risk]
# Maximum contracts in any single position
max_position_size = 100
# Maximum absolute net portfolio delta, in shares
max_delta_exposure = 10000
# Maximum absolute portfolio vega
max_vega_exposure = 5000
# Maximum share of notional in one underlying (0.30 = 30%)
max_concentration = 0.30
# Warn about open positions expiring within this many days
expiry_warning_days = 7

# Explicit limits replace the max_* values above.
# [[risk.limits]]
# name = "desk delta"
# metric = "delta"        # delta, vega, position_size, concentration
# threshold = 5000

[market_data]
# How long a fetched quote is reused
cache_seconds = 60
# Quotes older than this are treated as unavailable
max_age_seconds = 900

# Static quotes used when no live feed is configured.
# [market_data.quotes.AAPL]
# spot = 150.0
# volatility = 0.25
# rate = 0.05
# dividend_yield = 0.0

[store]
# SQLite database path (defaults to riskengine.db in this directory)
path = ""

[notifications]
# Enable notifications
enabled = false
# Notification level: all, breaches_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[logging]
level = "info"
console = true
file = false
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
