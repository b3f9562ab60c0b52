package greeks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
)

func TestCompute_ReferenceCall(t *testing.T) {
	p := models.ContractParams{
		Spot: 150, Strike: 150, TimeToExpiry: 30.0 / 365,
		Volatility: 0.25, Rate: 0.05, Kind: models.Call,
	}
	g, err := NewCalculator().Compute(p)
	require.NoError(t, err)

	assert.InDelta(t, 0.53, g.Delta, 0.01)
	assert.Greater(t, g.Gamma, 0.0)
	assert.Greater(t, g.Vega, 0.0)
	assert.Less(t, g.Theta, 0.0)
	assert.Greater(t, g.Rho, 0.0)
	assert.True(t, g.LambdaDefined)
	assert.InDelta(t, g.Delta*150/4.5939, g.Lambda, 1e-3)
}

func TestCompute_GammaAndVegaMatchAcrossKinds(t *testing.T) {
	p := models.ContractParams{Spot: 95, Strike: 100, TimeToExpiry: 0.4, Volatility: 0.3, Rate: 0.03, DividendYield: 0.01}
	calc := NewCalculator()
	call, err := calc.Compute(p.WithKind(models.Call))
	require.NoError(t, err)
	put, err := calc.Compute(p.WithKind(models.Put))
	require.NoError(t, err)

	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
	assert.Less(t, put.Rho, 0.0)
}

func TestCompute_ExpiryEdges(t *testing.T) {
	calc := NewCalculator()
	cases := []struct {
		name  string
		spot  float64
		kind  models.OptionKind
		delta float64
	}{
		{"itm call", 110, models.Call, 1},
		{"otm call", 90, models.Call, 0},
		{"atm call", 100, models.Call, 0.5},
		{"itm put", 90, models.Put, -1},
		{"otm put", 110, models.Put, 0},
		{"atm put", 100, models.Put, -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := models.ContractParams{Spot: tc.spot, Strike: 100, Volatility: 0.3, Rate: 0.05, Kind: tc.kind}
			g, err := calc.Compute(p)
			require.NoError(t, err)
			assert.Equal(t, tc.delta, g.Delta)
			assert.Zero(t, g.Gamma)
			assert.Zero(t, g.Vega)
			assert.Zero(t, g.Theta)
			assert.Zero(t, g.Rho)
		})
	}
}

func TestLambda_WorthlessOptionIsUndefined(t *testing.T) {
	p := models.ContractParams{Spot: 90, Strike: 100, Volatility: 0.3, Rate: 0.05, Kind: models.Call}

	_, err := Lambda(p)
	assert.ErrorIs(t, err, errors.ErrDivisionUndefined)

	g, err := NewCalculator().Compute(p)
	require.NoError(t, err)
	assert.False(t, g.LambdaDefined)
}

func TestScale_ShortCallHedgeExample(t *testing.T) {
	g := Scale(models.Greeks{Delta: 0.6}, -10, 100)
	assert.InDelta(t, -600, g.Delta, 1e-9)
}

func TestDisplayScaling(t *testing.T) {
	assert.InDelta(t, 0.25, VegaPerPoint(25), 1e-12)
	assert.InDelta(t, 0.1, RhoPerPoint(10), 1e-12)
	assert.InDelta(t, -0.1, ThetaPerDay(-36.5), 1e-12)
}

func TestCompute_InvalidInput(t *testing.T) {
	_, err := NewCalculator().Compute(models.ContractParams{Spot: -1, Strike: 100, Kind: models.Call})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
