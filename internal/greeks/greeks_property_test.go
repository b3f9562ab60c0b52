package greeks

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"options-risk-engine/internal/models"
	"options-risk-engine/internal/pricing"
)

func newParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

func kindOf(isCall bool) models.OptionKind {
	if isCall {
		return models.Call
	}
	return models.Put
}

// Property: call delta is in [0, e^(-qT)], put delta in [-e^(-qT), 0].
func TestProperty_DeltaBounds(t *testing.T) {
	properties := gopter.NewProperties(newParameters())

	properties.Property("delta within carry bounds", prop.ForAll(
		func(spot, strike, expiry, sigma, rate, div float64, isCall bool) bool {
			p := models.ContractParams{
				Spot: spot, Strike: strike, TimeToExpiry: expiry,
				Volatility: sigma, Rate: rate, DividendYield: div, Kind: kindOf(isCall),
			}
			d, err := Delta(p)
			if err != nil {
				return false
			}
			carry := math.Exp(-div * expiry)
			if isCall {
				return d >= 0 && d <= carry+1e-12
			}
			return d <= 0 && d >= -carry-1e-12
		},
		gen.Float64Range(1, 500),
		gen.Float64Range(1, 500),
		gen.Float64Range(0, 3),
		gen.Float64Range(0, 2),
		gen.Float64Range(-0.02, 0.1),
		gen.Float64Range(0, 0.08),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: analytical delta, vega and theta agree with central differences
// of the pricing function.
func TestProperty_AnalyticalMatchesFiniteDifference(t *testing.T) {
	properties := gopter.NewProperties(newParameters())
	calc := NewCalculator()

	properties.Property("closed form ~ numerical derivative", prop.ForAll(
		func(moneyness, expiry, sigma float64, isCall bool) bool {
			p := models.ContractParams{
				Spot: 100 * moneyness, Strike: 100, TimeToExpiry: expiry,
				Volatility: sigma, Rate: 0.04, DividendYield: 0.02, Kind: kindOf(isCall),
			}
			g, err := calc.Compute(p)
			if err != nil {
				return false
			}

			h := 1e-3
			up, _ := pricing.Price(p.WithSpot(p.Spot + h))
			down, _ := pricing.Price(p.WithSpot(p.Spot - h))
			numDelta := (up - down) / (2 * h)

			vu, _ := pricing.Price(p.WithVolatility(sigma + 1e-4))
			vd, _ := pricing.Price(p.WithVolatility(sigma - 1e-4))
			numVega := (vu - vd) / 2e-4

			later, earlier := p, p
			later.TimeToExpiry -= 1e-5
			earlier.TimeToExpiry += 1e-5
			tl, _ := pricing.Price(later)
			te, _ := pricing.Price(earlier)
			numTheta := (tl - te) / 2e-5

			return math.Abs(g.Delta-numDelta) < 1e-4 &&
				math.Abs(g.Vega-numVega) < 1e-3 &&
				math.Abs(g.Theta-numTheta) < 1e-2
		},
		gen.Float64Range(0.7, 1.3),
		gen.Float64Range(0.1, 2),
		gen.Float64Range(0.1, 1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: position scaling flips sign between long and short.
func TestProperty_ScalingPreservesSign(t *testing.T) {
	properties := gopter.NewProperties(newParameters())
	calc := NewCalculator()

	properties.Property("short exposure == -long exposure", prop.ForAll(
		func(qty int, moneyness float64) bool {
			p := models.ContractParams{
				Spot: 100 * moneyness, Strike: 100, TimeToExpiry: 0.5,
				Volatility: 0.3, Rate: 0.05, Kind: models.Call,
			}
			long, err := calc.ComputePosition(p, qty, 100)
			if err != nil {
				return false
			}
			short, err := calc.ComputePosition(p, -qty, 100)
			if err != nil {
				return false
			}
			return long.Delta == -short.Delta && long.Gamma == -short.Gamma &&
				long.Vega == -short.Vega && long.Theta == -short.Theta
		},
		gen.IntRange(1, 500),
		gen.Float64Range(0.5, 1.5),
	))

	properties.TestingRun(t)
}
