package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
	"options-risk-engine/pkg/utils"
)

// addPositionCommands adds position lifecycle and portfolio views.
func addPositionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
}

func newPositionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "position",
		Aliases: []string{"pos"},
		Short:   "Manage option positions",
	}
	cmd.AddCommand(newPositionAddCmd(app))
	cmd.AddCommand(newPositionListCmd(app))
	cmd.AddCommand(newPositionShowCmd(app))
	cmd.AddCommand(newPositionCloseCmd(app))
	cmd.AddCommand(newPositionExpireCmd(app))
	cmd.AddCommand(newPositionExpiringCmd(app))
	return cmd
}

// parseExpiry accepts a date (expiring at 00:00 UTC) or an RFC 3339 time.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewPositionValidationError("expiry", s, "must be YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

func newPositionAddCmd(app *App) *cobra.Command {
	var (
		id, symbol, kind, expiry string
		strike, premium          float64
		spot, vol                float64
		quantity, multiplier     int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Open a new option position",
		Long: `Open a new option position.

Quantity is signed: negative for short. Entry spot and volatility default to
the current quote for the symbol.`,
		Example: `  riskengine position add --symbol AAPL --kind call --strike 155 --expiry 2026-12-18 --qty -10 --premium 3.20
  riskengine position add --symbol SPY --kind put --strike 480 --expiry 2026-11-20 --qty 5 --premium 6.15 --vol 0.18`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			k, err := models.ParseOptionKind(kind)
			if err != nil {
				return err
			}
			exp, err := parseExpiry(expiry)
			if err != nil {
				return err
			}
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}

			pos, err := eng.OpenPosition(cmd.Context(), models.Position{
				ID:              id,
				Symbol:          symbol,
				Kind:            k,
				Strike:          strike,
				Expiry:          exp,
				Quantity:        quantity,
				Multiplier:      multiplier,
				EntryPremium:    premium,
				EntrySpot:       spot,
				EntryVolatility: vol,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(pos)
			}
			output.Success("✓ Opened %s", FormatContract(pos))
			output.Dim("ID: %s", pos.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "position ID (default: generated)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "underlying symbol")
	cmd.Flags().StringVar(&kind, "kind", "", "option kind: call or put")
	cmd.Flags().Float64Var(&strike, "strike", 0, "strike price")
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().IntVar(&quantity, "qty", 0, "signed contracts, negative for short")
	cmd.Flags().IntVar(&multiplier, "multiplier", 0, "shares per contract (default: engine.multiplier)")
	cmd.Flags().Float64Var(&premium, "premium", 0, "entry premium per share")
	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price at entry (default: quote)")
	cmd.Flags().Float64Var(&vol, "vol", 0, "volatility at entry (default: quote)")
	for _, f := range []string{"symbol", "kind", "strike", "expiry", "qty", "premium"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newPositionListCmd(app *App) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			positions := eng.Positions(models.PositionStatus(status))

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No positions")
				return nil
			}
			now := eng.Now()
			table := NewTable(output, "ID", "CONTRACT", "EXPIRY", "PREMIUM", "STATUS")
			for _, p := range positions {
				table.AddRow(
					TruncateString(p.ID, 12),
					FormatContract(p),
					FormatExpiry(p.Expiry, now),
					FormatPrice(p.EntryPremium),
					output.Status(string(p.Status)),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: open, closed, expired")
	return cmd
}

func newPositionShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a position with its valuation and P&L",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			pos, err := eng.Position(args[0])
			if err != nil {
				return err
			}
			report, err := eng.PositionPnL(cmd.Context(), pos.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"position": pos,
					"pnl":      report,
				})
			}
			pairs := [][2]string{
				{"Contract", FormatContract(pos)},
				{"Status", output.Status(string(pos.Status))},
				{"Expiry", FormatExpiry(pos.Expiry, eng.Now())},
				{"Entry", fmt.Sprintf("%s @ spot %s, vol %s", FormatPrice(pos.EntryPremium), FormatPrice(pos.EntrySpot), FormatIV(pos.EntryVolatility))},
				{"Breakeven", FormatPrice(pos.Breakeven())},
				{"Option price", FormatPrice(report.PnL.OptionPrice)},
				{"Option P&L", output.PnL(report.PnL.OptionPnL)},
				{"Hedge P&L", output.PnL(report.PnL.HedgePnL)},
				{"Costs", utils.FormatCurrency(report.PnL.TransactionCost)},
				{"Total P&L", output.PnL(report.PnL.TotalPnL)},
				{"ROI", utils.FormatPercent(report.PnL.ROI)},
			}
			if report.Greeks != nil {
				pairs = append(pairs, [2]string{"Greeks", FormatGreeks(displayGreeks(*report.Greeks))})
			}
			output.KeyValues("Position "+pos.ID, pairs)
			return nil
		},
	}
}

func newPositionCloseCmd(app *App) *cobra.Command {
	var price, spot float64
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an open position",
		Long: `Close an open position.

Without --price the position closes at the current model value. Without
--spot the current quote is recorded as the closing underlying price.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			var pricePtr, spotPtr *float64
			if cmd.Flags().Changed("price") {
				pricePtr = &price
			}
			if cmd.Flags().Changed("spot") {
				spotPtr = &spot
			}
			pos, err := eng.ClosePosition(cmd.Context(), args[0], pricePtr, spotPtr)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(pos)
			}
			output.Success("✓ Closed %s at %s", FormatContract(pos), FormatPrice(*pos.ClosePrice))
			return nil
		},
	}
	cmd.Flags().Float64Var(&price, "price", 0, "close price per share (default: model value)")
	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying price at close (default: quote)")
	return cmd
}

func newPositionExpireCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire positions past their expiry at intrinsic value",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := eng.ExpireDue(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			for _, p := range res.Expired {
				output.Success("✓ Expired %s at %s", FormatContract(p), FormatPrice(*p.ClosePrice))
			}
			renderSkipped(output, res.Skipped)
			if len(res.Expired) == 0 && len(res.Skipped) == 0 {
				output.Dim("Nothing to expire")
			}
			return nil
		},
	}
}

func newPositionExpiringCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "expiring",
		Short: "List open positions inside the expiry warning window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			soon := eng.Expiring(cmd.Context())

			if output.IsJSON() {
				return output.JSON(soon)
			}
			if len(soon) == 0 {
				output.Dim("No positions expiring within %s", FormatDuration(app.Config.ExpiryWarningWindow()))
				return nil
			}
			now := eng.Now()
			table := NewTable(output, "ID", "CONTRACT", "EXPIRY")
			for _, p := range soon {
				table.AddRow(TruncateString(p.ID, 12), FormatContract(p), output.Yellow(FormatExpiry(p.Expiry, now)))
			}
			table.Render()
			return nil
		},
	}
}

func newPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Portfolio Greeks and exposure",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "greeks",
		Short: "Show Greeks per open position and in total",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := eng.Greeks(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			table := NewTable(output, "ID", "CONTRACT", "PRICE", "DELTA", "GAMMA", "VEGA/PT", "THETA/DAY")
			for _, v := range report.Positions {
				d := displayGreeks(v.Scaled)
				table.AddRow(
					TruncateString(v.Position.ID, 12),
					FormatContract(v.Position),
					FormatPrice(v.Price),
					FormatGreek(d.Delta),
					FormatGreek(d.Gamma),
					FormatGreek(d.Vega),
					FormatGreek(d.Theta),
				)
			}
			total := displayGreeks(report.Total)
			table.AddRow("TOTAL", "", "", FormatGreek(total.Delta), FormatGreek(total.Gamma), FormatGreek(total.Vega), FormatGreek(total.Theta))
			table.Render()
			renderSkipped(output, report.Skipped)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exposure",
		Short: "Show exposure grouped by underlying",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := eng.Exposure(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			conc := report.Concentration()
			table := NewTable(output, "SYMBOL", "POSITIONS", "CONTRACTS", "NOTIONAL", "SHARE", "DELTA", "VEGA/PT")
			for _, u := range report.Underlyings {
				table.AddRow(
					u.Symbol,
					formatInt(u.Positions),
					formatInt(u.Contracts),
					utils.FormatCurrency(u.Notional),
					FormatIV(conc[u.Symbol]),
					FormatGreek(u.Greeks.Delta),
					FormatGreek(greeks.VegaPerPoint(u.Greeks.Vega)),
				)
			}
			table.Render()
			output.Printf("\nTotal notional: %s\n", utils.FormatCurrency(report.TotalNotional))
			renderSkipped(output, report.Skipped)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show a headline summary of the book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			s, err := eng.Summary(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(s)
			}
			output.KeyValues("Portfolio", [][2]string{
				{"Open", formatInt(s.OpenPositions)},
				{"Closed", formatInt(s.ClosedPositions)},
				{"Expired", formatInt(s.ExpiredPositions)},
				{"Value", utils.FormatCurrency(s.TotalValue)},
				{"Notional", utils.FormatCurrency(s.TotalNotional)},
				{"Greeks", FormatGreeks(displayGreeks(s.Greeks))},
			})
			renderSkipped(output, s.Skipped)
			return nil
		},
	})

	return cmd
}

// displayGreeks converts vega, rho and theta to per-point and per-day units.
func displayGreeks(g models.Greeks) models.Greeks {
	g.Vega = greeks.VegaPerPoint(g.Vega)
	g.Rho = greeks.RhoPerPoint(g.Rho)
	g.Theta = greeks.ThetaPerDay(g.Theta)
	return g
}

// renderSkipped warns about positions a batch operation left out.
func renderSkipped(output *Output, skipped []models.SkippedItem) {
	if len(skipped) == 0 {
		return
	}
	output.Warning("⚠ Skipped %d position(s):", len(skipped))
	for _, s := range skipped {
		output.Dim("  %s %s: %s", TruncateString(s.PositionID, 12), s.Symbol, s.Reason)
	}
}
