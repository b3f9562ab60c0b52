package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"options-risk-engine/internal/engine"
	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/metrics"
)

// addWatchCommands adds the monitoring loop.
func addWatchCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newWatchCmd(app))
}

func newWatchCmd(app *App) *cobra.Command {
	var (
		interval    time.Duration
		once        bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the monitoring cycle on an interval",
		Long: `Run the monitoring cycle on an interval.

Each cycle expires due positions, rehedges stale hedges, checks risk limits,
records a P&L snapshot and warns about upcoming expiries. With --metrics-addr
Prometheus metrics are served at /metrics.`,
		Example: `  riskengine watch --interval 5m
  riskengine watch --interval 1m --metrics-addr :9464
  riskengine watch --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if interval <= 0 {
				return errors.NewValidationError("interval", interval, "must be positive")
			}
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := startMetricsServer(metricsAddr, app)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				output.Info("Serving metrics on %s/metrics", metricsAddr)
			}

			runCycle := func() {
				cycle, err := eng.RunCycle(ctx)
				if output.IsJSON() {
					output.JSON(cycleJSON(cycle, err))
					return
				}
				renderCycle(output, cycle, err)
			}

			runCycle()
			if once {
				return nil
			}

			output.Dim("Press Ctrl+C to stop")
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					output.Println()
					output.Info("Stopping monitor")
					return nil
				case <-ticker.C:
					runCycle()
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between cycles")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func startMetricsServer(addr string, app *App) *http.Server {
	metrics.Register(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	return srv
}

func renderCycle(output *Output, c engine.Cycle, err error) {
	output.Bold("Cycle %s", FormatDateTime(c.At))
	output.Printf("  Expired:   %d\n", len(c.Expired.Expired))
	output.Printf("  Rehedged:  %d\n", len(c.Rehedge.Executed))
	if n := len(c.Risk.Breaches); n > 0 {
		output.Printf("  Breaches:  %s\n", output.Red(formatInt(n)))
	} else {
		output.Printf("  Breaches:  0\n")
	}
	output.Printf("  Total P&L: %s\n", output.PnL(c.Snapshot.TotalPnL))
	output.Printf("  Net delta: %s\n", FormatGreek(c.Risk.Exposure.NetDelta))
	if n := len(c.Expiring); n > 0 {
		output.Printf("  Expiring:  %s\n", output.Yellow(formatInt(n)))
	}
	if err != nil {
		output.Error("✗ %v", err)
	}
}

func cycleJSON(c engine.Cycle, err error) map[string]interface{} {
	out := map[string]interface{}{
		"at":        c.At,
		"expired":   len(c.Expired.Expired),
		"rehedged":  len(c.Rehedge.Executed),
		"breaches":  c.Risk.Breaches,
		"total_pnl": c.Snapshot.TotalPnL,
		"net_delta": c.Risk.Exposure.NetDelta,
		"expiring":  len(c.Expiring),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}
