package portfolio

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
)

type positionSpec struct {
	Strike float64
	Qty    int
	Days   int
	Call   bool
}

func genPositionSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(80, 120),
		gen.IntRange(-50, 50).SuchThat(func(n int) bool { return n != 0 }),
		gen.IntRange(1, 365),
		gen.Bool(),
	).Map(func(v []interface{}) positionSpec {
		return positionSpec{Strike: v[0].(float64), Qty: v[1].(int), Days: v[2].(int), Call: v[3].(bool)}
	})
}

func (s positionSpec) position() models.Position {
	kind := models.Put
	if s.Call {
		kind = models.Call
	}
	return models.Position{
		Symbol:          "XYZ",
		Kind:            kind,
		Strike:          s.Strike,
		Expiry:          testNow.AddDate(0, 0, s.Days),
		Quantity:        s.Qty,
		EntryVolatility: 0.3,
	}
}

// Property: portfolio Greeks equal the sum of each position's scaled
// Greeks regardless of insertion order.
func TestProperty_PortfolioGreeksAdditivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	market := testMarket(models.MarketData{Symbol: "XYZ", Spot: 100, Volatility: 0.3, Rate: 0.04, DividendYield: 0.01})
	calc := greeks.NewCalculator()

	properties.Property("sum of parts, order independent", prop.ForAll(
		func(specs []positionSpec, seed int64) bool {
			var expected models.Greeks
			for _, s := range specs {
				pos := s.position()
				g, err := calc.ComputePosition(pos.Params(market.Quotes["XYZ"], testNow), pos.Quantity, models.DefaultMultiplier)
				if err != nil {
					return false
				}
				expected = expected.Add(g)
			}

			forward := newTestAggregator()
			for _, s := range specs {
				if _, err := forward.Add(s.position()); err != nil {
					return false
				}
			}
			shuffled := newTestAggregator()
			perm := rand.New(rand.NewSource(seed)).Perm(len(specs))
			for _, i := range perm {
				if _, err := shuffled.Add(specs[i].position()); err != nil {
					return false
				}
			}

			a := forward.PortfolioGreeks(testNow, market).Total
			b := shuffled.PortfolioGreeks(testNow, market).Total
			return greeksClose(a, expected) && greeksClose(a, b)
		},
		gen.SliceOfN(12, genPositionSpec()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func greeksClose(a, b models.Greeks) bool {
	near := func(x, y float64) bool {
		return math.Abs(x-y) <= 1e-9*math.Max(1, math.Max(math.Abs(x), math.Abs(y)))
	}
	return near(a.Delta, b.Delta) && near(a.Gamma, b.Gamma) && near(a.Vega, b.Vega) &&
		near(a.Theta, b.Theta) && near(a.Rho, b.Rho)
}
