package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

// addMarketCommands adds market data commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Market data",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "quote [symbol...]",
		Short: "Show quotes for symbols, or for every underlying in the book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			eng, err := app.Engine(cmd.Context())
			if err != nil {
				return err
			}
			symbols := make([]string, 0, len(args))
			for _, a := range args {
				symbols = append(symbols, strings.ToUpper(a))
			}
			if len(symbols) == 0 {
				symbols = app.configuredSymbols()
			}
			market, err := eng.Market(cmd.Context(), symbols...)
			if err != nil {
				return err
			}

			now := eng.Now()
			type row struct {
				Symbol        string  `json:"symbol"`
				Spot          float64 `json:"spot"`
				Volatility    float64 `json:"volatility"`
				Rate          float64 `json:"rate"`
				DividendYield float64 `json:"dividend_yield"`
				Error         string  `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(symbols))
			for _, s := range symbols {
				md, err := market.Lookup(s, now)
				if err != nil {
					rows = append(rows, row{Symbol: s, Error: err.Error()})
					continue
				}
				rows = append(rows, row{Symbol: s, Spot: md.Spot, Volatility: md.Volatility, Rate: md.Rate, DividendYield: md.DividendYield})
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Dim("No symbols")
				return nil
			}
			table := NewTable(output, "SYMBOL", "SPOT", "VOL", "RATE", "DIV")
			for _, r := range rows {
				if r.Error != "" {
					table.AddRow(r.Symbol, output.Red("unavailable"), "", "", "")
					continue
				}
				table.AddRow(r.Symbol, FormatPrice(r.Spot), FormatIV(r.Volatility), FormatIV(r.Rate), FormatIV(r.DividendYield))
			}
			table.Render()
			return nil
		},
	})

	rootCmd.AddCommand(cmd)
}

// configuredSymbols returns the book's underlyings followed by any
// configured quote not already listed.
func (a *App) configuredSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	if a.engine != nil {
		for _, p := range a.engine.Positions("") {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				out = append(out, p.Symbol)
			}
		}
	}
	for _, md := range a.Config.MarketQuotes() {
		if !seen[md.Symbol] {
			seen[md.Symbol] = true
			out = append(out, md.Symbol)
		}
	}
	return out
}
