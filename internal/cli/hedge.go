package cli

import (
	"github.com/spf13/cobra"

	"options-risk-engine/internal/hedging"
	"options-risk-engine/internal/models"
	"options-risk-engine/pkg/utils"
)

// addHedgeCommands adds delta hedging commands.
func addHedgeCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "hedge",
		Short: "Delta hedging",
		Long: `Hedge option positions with the underlying.

A hedge becomes stale when the position delta drifts more than the configured
rehedge threshold from the delta at the last hedge.`,
	}
	cmd.AddCommand(newHedgeExecuteCmd(app))
	cmd.AddCommand(newHedgeAutoCmd(app))
	cmd.AddCommand(newHedgeStatusCmd(app))
	cmd.AddCommand(newHedgeRequirementCmd(app))
	cmd.AddCommand(newHedgeHistoryCmd(app))
	cmd.AddCommand(newHedgeEfficiencyCmd(app))
	rootCmd.AddCommand(cmd)
}

func newHedgeExecuteCmd(app *App) *cobra.Command {
	var shares float64
	cmd := &cobra.Command{
		Use:   "execute <position-id>",
		Short: "Trade the underlying against a position",
		Long: `Trade the underlying against a position.

Without --shares the trade brings the position and its existing hedge back
to delta neutral. Positive shares buy, negative shares sell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			var sharesPtr *float64
			if cmd.Flags().Changed("shares") {
				sharesPtr = &shares
			}
			exec, err := eng.Hedge(cmd.Context(), args[0], sharesPtr)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(exec)
			}
			r := exec.Record
			output.Success("✓ %s %s %s @ %s", r.Kind, utils.FormatShares(r.Shares), r.Symbol, FormatPrice(r.Price))
			output.KeyValues("", [][2]string{
				{"Cost", utils.FormatCurrency(r.Cost)},
				{"Delta before", FormatGreek(r.DeltaBefore)},
				{"Delta after", FormatGreek(exec.NetDelta)},
				{"State", output.Status(string(exec.State))},
			})
			return nil
		},
	}
	cmd.Flags().Float64Var(&shares, "shares", 0, "signed shares to trade (default: to neutral)")
	return cmd
}

func newHedgeAutoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Rehedge every position whose hedge is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := eng.AutoRehedge(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			if len(res.Executed) == 0 {
				output.Dim("No stale hedges")
			} else {
				renderHedges(output, res.Executed)
			}
			renderSkipped(output, res.Skipped)
			return nil
		},
	}
}

func newHedgeStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show portfolio delta after hedges",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			exp, err := eng.HedgeStatus(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(exp)
			}
			output.KeyValues("Delta Exposure", [][2]string{
				{"Option delta", FormatGreek(exp.OptionDelta)},
				{"Hedge shares", utils.FormatShares(exp.HedgeShares)},
				{"Net delta", FormatGreek(exp.NetDelta)},
				{"Hedge notional", utils.FormatCurrency(exp.HedgeNotional)},
			})
			if len(exp.NeedingRehedge) > 0 {
				output.Println()
				output.Warning("⚠ %d position(s) need rehedging", len(exp.NeedingRehedge))
				renderRequirements(output, exp.NeedingRehedge)
			}
			renderSkipped(output, exp.Skipped)
			return nil
		},
	}
}

func newHedgeRequirementCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "requirement <position-id>",
		Short: "Show the trade needed to neutralize a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			req, err := eng.HedgeRequirement(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(req)
			}
			renderRequirements(output, []hedging.Requirement{req})
			return nil
		},
	}
}

func newHedgeHistoryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "history <position-id>",
		Short: "Show hedge trades and their P&L",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			h, err := eng.HedgeHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(h)
			}
			if len(h.Lines) == 0 {
				output.Dim("No hedges for %s", args[0])
				return nil
			}
			table := NewTable(output, "TIME", "KIND", "SHARES", "PRICE", "COST", "P&L")
			for _, l := range h.Lines {
				table.AddRow(
					FormatDateTime(l.Record.Timestamp),
					string(l.Record.Kind),
					utils.FormatShares(l.Record.Shares),
					FormatPrice(l.Record.Price),
					utils.FormatCurrency(l.Record.Cost),
					output.PnL(l.PnL),
				)
			}
			table.Render()
			output.Println()
			output.KeyValues("", [][2]string{
				{"Held shares", utils.FormatShares(h.TotalShares)},
				{"Marked at", FormatPrice(h.Spot)},
				{"Gross P&L", output.PnL(h.GrossPnL)},
				{"Costs", utils.FormatCurrency(h.Costs)},
				{"Net P&L", output.PnL(h.NetPnL)},
			})
			return nil
		},
	}
}

func newHedgeEfficiencyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "efficiency <position-id>",
		Short: "Show how well a position is hedged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			e, err := eng.HedgeEfficiency(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(e)
			}
			output.KeyValues("Hedge Efficiency", [][2]string{
				{"Hedge ratio", utils.FormatRatio(e.HedgeRatio, true)},
				{"Neutrality", FormatIV(e.Neutrality)},
				{"Cost ratio", utils.FormatPercent(e.CostRatio)},
				{"Rehedges", formatInt(e.Rehedges)},
				{"Net delta", FormatGreek(e.NetDelta)},
			})
			return nil
		},
	}
}

func renderHedges(output *Output, records []models.HedgeRecord) {
	table := NewTable(output, "POSITION", "SYMBOL", "KIND", "SHARES", "PRICE", "COST")
	for _, r := range records {
		table.AddRow(
			TruncateString(r.PositionID, 12),
			r.Symbol,
			string(r.Kind),
			utils.FormatShares(r.Shares),
			FormatPrice(r.Price),
			utils.FormatCurrency(r.Cost),
		)
	}
	table.Render()
}

func renderRequirements(output *Output, reqs []hedging.Requirement) {
	table := NewTable(output, "POSITION", "SYMBOL", "DELTA", "HELD", "NET", "TRADE", "EST COST", "STATE")
	for _, r := range reqs {
		table.AddRow(
			TruncateString(r.PositionID, 12),
			r.Symbol,
			FormatGreek(r.PositionDelta),
			utils.FormatShares(r.HeldShares),
			FormatGreek(r.NetDelta),
			utils.FormatShares(r.RequiredShares),
			utils.FormatCurrency(r.EstimatedCost),
			output.Status(string(r.State)),
		)
	}
	table.Render()
}
