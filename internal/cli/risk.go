package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/risk"
	"options-risk-engine/internal/store"
	"options-risk-engine/pkg/utils"
)

// addRiskCommands adds limit checks and stress testing.
func addRiskCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk limits and stress tests",
	}
	cmd.AddCommand(newRiskCheckCmd(app))
	cmd.AddCommand(newRiskStressCmd(app))
	cmd.AddCommand(newRiskLimitsCmd(app))
	cmd.AddCommand(newRiskBreachesCmd(app))
	rootCmd.AddCommand(cmd)
}

func newRiskCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the book against the configured limits",
		Long: `Check the book against the configured limits.

Breaches are recorded in the database and sent to the configured
notification channels. Delta is measured net of hedge shares.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := eng.CheckRisk(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			table := NewTable(output, "LIMIT", "METRIC", "CURRENT", "THRESHOLD", "USED", "STATUS")
			for _, ls := range report.Limits {
				status := "OK"
				if ls.Breached {
					status = "BREACH"
				}
				table.AddRow(
					ls.Limit.Name,
					string(ls.Limit.Metric),
					formatMetric(ls.Limit.Metric, ls.Current),
					formatMetric(ls.Limit.Metric, ls.Limit.Threshold),
					utils.FormatPercent(ls.Utilization),
					output.Status(status),
				)
			}
			table.Render()
			output.Println()

			exp := report.Exposure
			output.KeyValues("Exposure", [][2]string{
				{"Net delta", FormatGreek(exp.NetDelta)},
				{"Hedge shares", utils.FormatShares(exp.HedgeShares)},
				{"Vega /pt", FormatGreek(greeks.VegaPerPoint(exp.Greeks.Vega))},
				{"Largest position", formatInt(exp.MaxPosition)},
				{"Top concentration", exp.MaxConcentrationSymbol + " " + FormatIV(exp.MaxConcentration)},
			})
			if n := len(report.Breaches); n > 0 {
				output.Println()
				output.Error("✗ %d limit(s) breached", n)
			} else {
				output.Println()
				output.Success("✓ All limits within threshold")
			}
			renderSkipped(output, report.Skipped)
			return nil
		},
	}
}

// formatMetric renders a limit value in the metric's unit.
func formatMetric(metric models.LimitMetric, v float64) string {
	switch metric {
	case models.MetricConcentration:
		return FormatIV(v)
	case models.MetricPositionSize:
		return strconv.FormatFloat(v, 'f', 0, 64)
	default:
		return FormatPrice(v)
	}
}

// parseShock parses "name:spot:vol", e.g. "gap down:-0.15:0.10".
func parseShock(s string) (risk.Shock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return risk.Shock{}, errors.NewValidationError("shock", s, "must be name:spot_change:vol_change")
	}
	spot, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return risk.Shock{}, errors.NewValidationError("shock", s, "spot change must be a number")
	}
	vol, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return risk.Shock{}, errors.NewValidationError("shock", s, "vol change must be a number")
	}
	shock := risk.Shock{Name: strings.TrimSpace(parts[0]), SpotChange: spot, VolChange: vol}
	return shock, shock.Validate()
}

func newRiskStressCmd(app *App) *cobra.Command {
	var shocks []string
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Revalue the book under market shocks",
		Long: `Revalue the book under market shocks.

Spot changes are relative (-0.10 moves every spot down 10%); volatility
changes are absolute (0.05 adds five points). Hedge shares are held
constant. Without --shock the default scenario ladder runs.`,
		Example: `  riskengine risk stress
  riskengine risk stress --shock "gap down:-0.15:0.10" --shock "melt up:0.08:-0.03"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			parsed := make([]risk.Shock, 0, len(shocks))
			for _, s := range shocks {
				shock, err := parseShock(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, shock)
			}
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := eng.Stress(cmd.Context(), parsed)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			table := NewTable(output, "SCENARIO", "SPOT", "VOL", "OPTION P&L", "HEDGE P&L", "TOTAL", "NET DELTA")
			for _, s := range report.Scenarios {
				table.AddRow(
					s.Shock.Name,
					utils.FormatPercent(s.Shock.SpotChange*100),
					FormatGreek(s.Shock.VolChange),
					output.PnL(s.OptionPnL),
					output.PnL(s.HedgePnL),
					output.PnL(s.TotalPnL),
					FormatGreek(s.NetDelta),
				)
			}
			table.Render()
			if worst, ok := report.Worst(); ok {
				output.Println()
				output.Warning("Worst scenario: %s (%s)", worst.Shock.Name, utils.FormatPnL(worst.TotalPnL))
			}
			renderSkipped(output, report.Skipped)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&shocks, "shock", nil, "custom shock as name:spot_change:vol_change (repeatable)")
	return cmd
}

func newRiskLimitsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "List the configured risk limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limits := app.Config.RiskLimits()
			if output.IsJSON() {
				return output.JSON(limits)
			}
			table := NewTable(output, "LIMIT", "METRIC", "THRESHOLD")
			for _, l := range limits {
				table.AddRow(l.Name, string(l.Metric), formatMetric(l.Metric, l.Threshold))
			}
			table.Render()
			return nil
		},
	}
}

func newRiskBreachesCmd(app *App) *cobra.Command {
	var limitName, since string
	var limit int
	cmd := &cobra.Command{
		Use:   "breaches",
		Short: "Show recorded limit breaches",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			from, err := parseSince(since, eng.Now())
			if err != nil {
				return err
			}
			records, err := app.Store.GetBreaches(cmd.Context(), store.BreachFilter{
				LimitName: limitName,
				Since:     from,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No breaches recorded")
				return nil
			}
			table := NewTable(output, "TIME", "LIMIT", "CURRENT", "THRESHOLD", "SEVERITY")
			for _, r := range records {
				table.AddRow(
					FormatDateTime(r.Timestamp),
					r.LimitName,
					formatMetric(r.Metric, r.Current),
					formatMetric(r.Metric, r.Threshold),
					output.Status(string(r.Severity)),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&limitName, "limit", "", "filter by limit name")
	cmd.Flags().StringVar(&since, "since", "", "only breaches after this (7d, 12h or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "max", 50, "maximum rows")
	return cmd
}
