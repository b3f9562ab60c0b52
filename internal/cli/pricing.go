package cli

import (
	"github.com/spf13/cobra"

	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/pricing"
)

// addPricingCommands adds the single-contract pricing commands.
func addPricingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newIVCmd(app))
	rootCmd.AddCommand(newGreeksCmd(app))
	rootCmd.AddCommand(newParityCmd(app))
}

type contractFlags struct {
	spot   float64
	strike float64
	days   float64
	vol    float64
	rate   float64
	div    float64
	kind   string
}

func addContractFlags(cmd *cobra.Command, f *contractFlags, withVol bool) {
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike price")
	cmd.Flags().Float64Var(&f.days, "days", 0, "calendar days to expiry")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "risk-free rate (default: engine.risk_free_rate)")
	cmd.Flags().Float64Var(&f.div, "div", 0, "continuous dividend yield")
	cmd.Flags().StringVar(&f.kind, "kind", "call", "option kind: call or put")
	cmd.MarkFlagRequired("spot")
	cmd.MarkFlagRequired("strike")
	cmd.MarkFlagRequired("days")
	if withVol {
		cmd.Flags().Float64Var(&f.vol, "vol", 0, "annualized volatility (0.25 = 25%)")
		cmd.MarkFlagRequired("vol")
	}
}

func (f *contractFlags) params(cmd *cobra.Command, app *App) (models.ContractParams, error) {
	kind, err := models.ParseOptionKind(f.kind)
	if err != nil {
		return models.ContractParams{}, err
	}
	rate := f.rate
	if !cmd.Flags().Changed("rate") {
		rate = app.Config.Engine.RiskFreeRate
	}
	p := models.ContractParams{
		Spot:          f.spot,
		Strike:        f.strike,
		TimeToExpiry:  f.days / models.DaysPerYear,
		Volatility:    f.vol,
		Rate:          rate,
		DividendYield: f.div,
		Kind:          kind,
	}
	return p, p.Validate()
}

func newPriceCmd(app *App) *cobra.Command {
	var f contractFlags
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a European option",
		Example: `  riskengine price --spot 100 --strike 100 --days 365 --vol 0.2
  riskengine price --spot 100 --strike 95 --days 30 --vol 0.3 --kind put --div 0.01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			price, err := app.Pricer().Price(p)
			if err != nil {
				return err
			}
			intrinsic := pricing.Intrinsic(p.Kind, p.Spot, p.Strike)
			lower, upper := pricing.ArbitrageBounds(p)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"kind":        p.Kind,
					"price":       price,
					"intrinsic":   intrinsic,
					"time_value":  price - intrinsic,
					"lower_bound": lower,
					"upper_bound": upper,
				})
			}
			output.KeyValues("Black-Scholes "+string(p.Kind), [][2]string{
				{"Price", FormatPrice(price)},
				{"Intrinsic", FormatPrice(intrinsic)},
				{"Time value", FormatPrice(price - intrinsic)},
				{"Bounds", FormatPrice(lower) + " - " + FormatPrice(upper)},
			})
			return nil
		},
	}
	addContractFlags(cmd, &f, true)
	return cmd
}

func newIVCmd(app *App) *cobra.Command {
	var f contractFlags
	var marketPrice float64
	cmd := &cobra.Command{
		Use:     "iv",
		Short:   "Solve implied volatility from a market price",
		Example: `  riskengine iv --price 10.45 --spot 100 --strike 100 --days 365`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			pricer := app.Pricer()
			iv, err := pricer.ImpliedVolatility(marketPrice, p)
			if err != nil {
				return err
			}
			repriced, err := pricer.Price(p.WithVolatility(iv))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"market_price":       marketPrice,
					"implied_volatility": iv,
					"model_price":        repriced,
				})
			}
			output.KeyValues("Implied Volatility", [][2]string{
				{"Market price", FormatPrice(marketPrice)},
				{"Implied vol", FormatIV(iv)},
				{"Model price", FormatPrice(repriced)},
			})
			return nil
		},
	}
	addContractFlags(cmd, &f, false)
	cmd.Flags().Float64Var(&marketPrice, "price", 0, "observed option price")
	cmd.MarkFlagRequired("price")
	return cmd
}

func newGreeksCmd(app *App) *cobra.Command {
	var f contractFlags
	var quantity, multiplier int
	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Compute option Greeks",
		Long: `Compute option Greeks for one contract.

Delta and gamma are per share. Vega and rho are shown per volatility or
rate point, theta per calendar day. With --qty the Greeks are scaled to
the position (quantity x multiplier).`,
		Example: `  riskengine greeks --spot 100 --strike 100 --days 30 --vol 0.25
  riskengine greeks --spot 150 --strike 155 --days 30 --vol 0.25 --qty -10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			calc := greeks.NewCalculator()
			g, err := calc.Compute(p)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("qty") {
				if multiplier == 0 {
					multiplier = app.Config.Engine.Multiplier
				}
				g = greeks.Scale(g, quantity, multiplier)
			}

			if output.IsJSON() {
				return output.JSON(greeksJSON(g))
			}
			lambda := "undefined"
			if g.LambdaDefined {
				lambda = FormatGreek(g.Lambda)
			}
			output.KeyValues("Greeks ("+string(p.Kind)+")", [][2]string{
				{"Delta", FormatGreek(g.Delta)},
				{"Gamma", FormatGreek(g.Gamma)},
				{"Vega /pt", FormatGreek(greeks.VegaPerPoint(g.Vega))},
				{"Theta /day", FormatGreek(greeks.ThetaPerDay(g.Theta))},
				{"Rho /pt", FormatGreek(greeks.RhoPerPoint(g.Rho))},
				{"Lambda", lambda},
			})
			return nil
		},
	}
	addContractFlags(cmd, &f, true)
	cmd.Flags().IntVar(&quantity, "qty", 0, "signed contracts to scale to")
	cmd.Flags().IntVar(&multiplier, "multiplier", 0, "shares per contract (default: engine.multiplier)")
	return cmd
}

func newParityCmd(app *App) *cobra.Command {
	var f contractFlags
	var callPrice, putPrice float64
	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Check put-call parity for a call/put pair",
		Long: `Check put-call parity for a call/put pair at the same strike and expiry.

The residual is C - P - (S·e^(-qT) - K·e^(-rT)); a non-zero residual is a
mispricing between the two quotes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := f.params(cmd, app)
			if err != nil {
				return err
			}
			residual, err := app.Pricer().PutCallParityResidual(callPrice, putPrice, p)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]float64{"residual": residual})
			}
			output.KeyValues("Put-Call Parity", [][2]string{
				{"Call", FormatPrice(callPrice)},
				{"Put", FormatPrice(putPrice)},
				{"Residual", FormatGreek(residual)},
			})
			return nil
		},
	}
	addContractFlags(cmd, &f, false)
	cmd.Flags().Float64Var(&callPrice, "call", 0, "call price")
	cmd.Flags().Float64Var(&putPrice, "put", 0, "put price")
	cmd.MarkFlagRequired("call")
	cmd.MarkFlagRequired("put")
	return cmd
}

// greeksJSON renders Greeks with display units alongside raw values.
func greeksJSON(g models.Greeks) map[string]interface{} {
	out := map[string]interface{}{
		"delta":         g.Delta,
		"gamma":         g.Gamma,
		"vega":          g.Vega,
		"theta":         g.Theta,
		"rho":           g.Rho,
		"vega_per_pt":   greeks.VegaPerPoint(g.Vega),
		"theta_per_day": greeks.ThetaPerDay(g.Theta),
		"rho_per_pt":    greeks.RhoPerPoint(g.Rho),
	}
	if g.LambdaDefined {
		out["lambda"] = g.Lambda
	}
	return out
}
