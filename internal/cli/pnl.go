package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/pnl"
	"options-risk-engine/pkg/utils"
)

// addPnLCommands adds P&L tracking commands.
func addPnLCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Profit and loss tracking",
	}
	cmd.AddCommand(newPnLShowCmd(app))
	cmd.AddCommand(newPnLSnapshotCmd(app))
	cmd.AddCommand(newPnLHistoryCmd(app))
	cmd.AddCommand(newPnLPerformanceCmd(app))
	rootCmd.AddCommand(cmd)
}

func newPnLShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [position-id]",
		Short: "Show portfolio P&L, or one position's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				report, err := eng.PositionPnL(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(report)
				}
				renderPositionPnL(output, report)
				return nil
			}

			p, err := eng.PnL(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(p)
			}
			table := NewTable(output, "POSITION", "SYMBOL", "STATUS", "OPTION", "HEDGE", "COSTS", "TOTAL", "ROI")
			for _, r := range p.Positions {
				table.AddRow(
					TruncateString(r.PositionID, 12),
					r.Symbol,
					output.Status(string(r.Status)),
					output.PnL(r.OptionPnL),
					output.PnL(r.HedgePnL),
					utils.FormatCurrency(r.TransactionCost),
					output.PnL(r.TotalPnL),
					utils.FormatPercent(r.ROI),
				)
			}
			table.Render()
			output.Println()
			output.KeyValues("Portfolio P&L", [][2]string{
				{"Realized today", output.PnL(p.Realized)},
				{"Unrealized", output.PnL(p.Unrealized)},
				{"Total", output.PnL(p.Total)},
				{"Option value", utils.FormatCurrency(p.OptionValue)},
				{"Hedge value", utils.FormatCurrency(p.HedgeValue)},
				{"Costs", utils.FormatCurrency(p.TransactionCost)},
			})
			renderSkipped(output, p.Skipped)
			return nil
		},
	}
}

func renderPositionPnL(output *Output, r pnl.PositionReport) {
	pairs := [][2]string{
		{"Status", output.Status(string(r.PnL.Status))},
		{"Spot", FormatPrice(r.Spot)},
		{"Option price", FormatPrice(r.PnL.OptionPrice)},
		{"Option P&L", output.PnL(r.PnL.OptionPnL)},
		{"Hedge P&L", output.PnL(r.PnL.HedgePnL)},
		{"Hedge shares", utils.FormatShares(r.PnL.HedgeShares)},
		{"Costs", utils.FormatCurrency(r.PnL.TransactionCost)},
		{"Total P&L", output.PnL(r.PnL.TotalPnL)},
		{"ROI", utils.FormatPercent(r.PnL.ROI)},
		{"Days held", formatInt(r.PnL.DaysHeld)},
	}
	if r.Attribution != nil {
		pairs = append(pairs,
			[2]string{"Theta P&L", output.PnL(r.Attribution.ThetaPnL)},
			[2]string{"Delta P&L", output.PnL(r.Attribution.DeltaPnL)},
			[2]string{"Unexplained", output.PnL(r.Attribution.Unexplained)},
		)
	}
	output.KeyValues("P&L "+r.PnL.PositionID, pairs)
}

func newPnLSnapshotCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Record a portfolio P&L snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			snap, skipped, err := eng.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			output.Success("✓ Snapshot recorded at %s", FormatDateTime(snap.Timestamp))
			output.KeyValues("", [][2]string{
				{"Total P&L", output.PnL(snap.TotalPnL)},
				{"Realized", output.PnL(snap.RealizedPnL)},
				{"Unrealized", output.PnL(snap.UnrealizedPnL)},
				{"Delta", FormatGreek(snap.Delta)},
			})
			renderSkipped(output, skipped)
			return nil
		},
	}
}

// parseSince accepts a duration with a day suffix ("7d", "36h") or a date.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewValidationError("since", s, "must be like 7d, 12h or YYYY-MM-DD")
}

func newPnLHistoryCmd(app *App) *cobra.Command {
	var positionID, since string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded P&L snapshots",
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
			snaps := eng.History(positionID, from)

			if output.IsJSON() {
				return output.JSON(snaps)
			}
			if len(snaps) == 0 {
				output.Dim("No snapshots")
				return nil
			}
			table := NewTable(output, "TIME", "OPTION", "HEDGE", "COSTS", "REALIZED", "UNREALIZED", "TOTAL", "DELTA")
			for _, s := range snaps {
				table.AddRow(
					FormatDateTime(s.Timestamp),
					utils.FormatCurrency(s.OptionValue),
					utils.FormatCurrency(s.HedgeValue),
					utils.FormatCurrency(s.TransactionCost),
					output.PnL(s.RealizedPnL),
					output.PnL(s.UnrealizedPnL),
					output.PnL(s.TotalPnL),
					FormatGreek(s.Delta),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&positionID, "position", "", "position ID (default: portfolio series)")
	cmd.Flags().StringVar(&since, "since", "", "only snapshots after this (7d, 12h or YYYY-MM-DD)")
	return cmd
}

func newPnLPerformanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Score closed and expired positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			p := eng.Performance()

			if output.IsJSON() {
				return output.JSON(performanceJSON(p))
			}
			if p.Trades == 0 {
				output.Dim("No closed positions")
				return nil
			}
			output.KeyValues("Performance", [][2]string{
				{"Trades", formatInt(p.Trades)},
				{"Win rate", FormatIV(p.WinRate)},
				{"Net P&L", output.PnL(p.NetPnL)},
				{"Gross profit", utils.FormatCurrency(p.GrossProfit)},
				{"Gross loss", utils.FormatCurrency(p.GrossLoss)},
				{"Average win", utils.FormatCurrency(p.AverageWin)},
				{"Average loss", utils.FormatCurrency(p.AverageLoss)},
				{"Profit factor", utils.FormatRatio(p.ProfitFactor, p.Trades > 0)},
				{"Sharpe", utils.FormatRatio(p.Sharpe, p.SharpeDefined)},
			})
			return nil
		},
	}
}

// performanceJSON drops ratios that are undefined or infinite, which JSON
// cannot carry.
func performanceJSON(p pnl.Performance) map[string]interface{} {
	out := map[string]interface{}{
		"trades":       p.Trades,
		"wins":         p.Wins,
		"losses":       p.Losses,
		"win_rate":     p.WinRate,
		"gross_profit": p.GrossProfit,
		"gross_loss":   p.GrossLoss,
		"net_pnl":      p.NetPnL,
		"average_win":  p.AverageWin,
		"average_loss": p.AverageLoss,
		"no_losses":    p.NoLosses,
		"periods":      p.Periods,
	}
	if !p.NoLosses && p.Trades > 0 {
		out["profit_factor"] = p.ProfitFactor
	}
	if p.SharpeDefined {
		out["sharpe"] = p.Sharpe
	}
	return out
}
