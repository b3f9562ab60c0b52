package risk

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/portfolio"
)

// Property: a short call book loses more as the spot shock grows, and a
// zero shock reproduces the live book exactly.
func TestProperty_StressMonotoneForShortCalls(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("P&L decreases in spot shock", prop.ForAll(
		func(strike float64, qty int, small, large float64) bool {
			agg := portfolio.NewAggregator(greeks.NewCalculator(), zerolog.Nop())
			if _, err := agg.Add(shortCall("AAPL", strike, -qty)); err != nil {
				return false
			}
			m := NewManager(agg, nil, agg.Calculator(), zerolog.Nop())
			report, err := m.StressTest(context.Background(), testNow, testMarket(), []Shock{
				{Name: "flat"},
				{Name: "small", SpotChange: small},
				{Name: "large", SpotChange: small + large},
			})
			if err != nil {
				return false
			}
			flat, lo, hi := report.Scenarios[0], report.Scenarios[1], report.Scenarios[2]
			return math.Abs(flat.TotalPnL) < 1e-9 && lo.TotalPnL <= 0 && hi.TotalPnL < lo.TotalPnL
		},
		gen.Float64Range(130, 170),
		gen.IntRange(1, 50),
		gen.Float64Range(0.01, 0.2),
		gen.Float64Range(0.05, 0.3),
	))

	properties.TestingRun(t)
}
