// Package cli provides the command-line interface for the risk engine.
package cli

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-risk-engine/internal/config"
	"options-risk-engine/internal/engine"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/pricing"
	"options-risk-engine/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Store     *store.SQLiteStore

	engine *engine.Engine
}

// Engine returns the risk engine, opening the store and restoring state on
// first use.
func (a *App) Engine(ctx context.Context) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	st, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	opts, err := engine.OptionsFromConfig(a.Config, st, a.Logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	eng, err := engine.New(opts)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := eng.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	a.Store = st
	a.engine = eng
	return eng, nil
}

// Pricer returns a standalone pricing engine; it needs no stored state.
func (a *App) Pricer() *pricing.Engine {
	return pricing.NewEngine(pricing.DefaultSolver(), a.Logger)
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	a.engine = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "riskengine",
		Short: "Options Risk Engine - pricing, Greeks, hedging and risk limits",
		Long: `Options Risk Engine prices European options, aggregates portfolio Greeks,
tracks P&L, manages delta hedges and checks positions against risk limits.

Positions, hedges and snapshots are kept in a local SQLite database.
Quotes come from the [market_data.quotes] section of the configuration.

Use 'riskengine help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/options-risk-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPricingCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addHedgeCommands(rootCmd, app)
	addPnLCommands(rootCmd, app)
	addRiskCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addWatchCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Options Risk Engine v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := filepath.Join(app.ConfigDir, "config.toml")
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path, "database": app.Config.Store.Path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.KeyValues("Engine", [][2]string{
		{"Risk-free rate", FormatIV(cfg.Engine.RiskFreeRate)},
		{"Multiplier", formatInt(cfg.Engine.Multiplier)},
	})
	output.Println()

	output.KeyValues("Hedging", [][2]string{
		{"Rehedge threshold", FormatIV(cfg.Hedging.RehedgeThreshold)},
		{"Zero-delta epsilon", FormatPrice(cfg.Hedging.ZeroDeltaEpsilon)},
		{"Commission rate", FormatIV(cfg.Hedging.CommissionRate)},
		{"Fixed fee", FormatPrice(cfg.Hedging.FixedFee)},
	})
	output.Println()

	pairs := make([][2]string, 0, 4)
	for _, l := range cfg.RiskLimits() {
		pairs = append(pairs, [2]string{l.Name, string(l.Metric) + " <= " + FormatPrice(l.Threshold)})
	}
	output.KeyValues("Risk Limits", pairs)
	output.Println()

	output.KeyValues("Market Data", [][2]string{
		{"Quotes", formatInt(len(cfg.MarketData.Quotes))},
		{"Cache TTL", FormatDuration(cfg.CacheTTL())},
		{"Max quote age", FormatDuration(cfg.MaxQuoteAge())},
	})
	output.Println()

	output.KeyValues("Notifications", [][2]string{
		{"Enabled", formatBool(cfg.Notifications.Enabled)},
		{"Level", cfg.Notifications.Level},
		{"Webhook", formatBool(cfg.Notifications.Webhook.Enabled)},
	})
	output.Println()

	output.KeyValues("Store", [][2]string{{"Database", cfg.Store.Path}})
}
