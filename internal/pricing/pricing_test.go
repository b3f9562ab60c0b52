package pricing

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

func atmCall() models.ContractParams {
	return models.ContractParams{
		Spot: 150, Strike: 150, TimeToExpiry: 30.0 / 365,
		Volatility: 0.25, Rate: 0.05, Kind: models.Call,
	}
}

func TestPrice_ReferenceValues(t *testing.T) {
	v, err := Price(atmCall())
	require.NoError(t, err)
	assert.InDelta(t, 4.5939, v, 1e-3)

	p := models.ContractParams{Spot: 100, Strike: 100, TimeToExpiry: 1, Volatility: 0.2, Rate: 0.05}
	call, err := Price(p.WithKind(models.Call))
	require.NoError(t, err)
	put, err := Price(p.WithKind(models.Put))
	require.NoError(t, err)
	assert.InDelta(t, 10.4506, call, 1e-4)
	assert.InDelta(t, 5.5735, put, 1e-4)
}

func TestPrice_ZeroVolatilityIsIntrinsic(t *testing.T) {
	p := atmCall().WithSpot(160).WithVolatility(0)
	v, err := Price(p)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestPrice_InvalidInput(t *testing.T) {
	cases := map[string]models.ContractParams{
		"zero spot":      atmCall().WithSpot(0),
		"negative vol":   atmCall().WithVolatility(-0.1),
		"negative time":  {Spot: 100, Strike: 100, TimeToExpiry: -1, Kind: models.Call},
		"zero strike":    {Spot: 100, TimeToExpiry: 1, Kind: models.Put},
		"missing kind":   {Spot: 100, Strike: 100, TimeToExpiry: 1},
		"negative yield": {Spot: 100, Strike: 100, TimeToExpiry: 1, DividendYield: -0.01, Kind: models.Call},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Price(p)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
		})
	}
}

func TestImpliedVolatility_Recovers(t *testing.T) {
	engine := NewEngine(DefaultSolver(), zerologNop())
	p := atmCall()
	v, err := Price(p)
	require.NoError(t, err)

	iv, err := engine.ImpliedVolatility(v, p)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, iv, 1e-6)
}

func TestImpliedVolatility_DeepOutOfTheMoney(t *testing.T) {
	engine := NewEngine(DefaultSolver(), zerologNop())
	p := models.ContractParams{
		Spot: 100, Strike: 160, TimeToExpiry: 0.1,
		Volatility: 1.2, Rate: 0.02, Kind: models.Call,
	}
	v, err := Price(p)
	require.NoError(t, err)

	iv, err := engine.ImpliedVolatility(v, p)
	require.NoError(t, err)
	assert.InDelta(t, 1.2, iv, 1e-4)
}

func TestImpliedVolatility_NoSolution(t *testing.T) {
	engine := NewEngine(DefaultSolver(), zerologNop())
	p := atmCall().WithSpot(170)

	_, err := engine.ImpliedVolatility(5, p)
	assert.ErrorIs(t, err, errors.ErrNoSolution, "below intrinsic")

	_, err = engine.ImpliedVolatility(171, p)
	assert.ErrorIs(t, err, errors.ErrNoSolution, "above spot bound")

	expired := p
	expired.TimeToExpiry = 0
	_, err = engine.ImpliedVolatility(20, expired)
	assert.ErrorIs(t, err, errors.ErrNoSolution, "expired")

	_, err = engine.ImpliedVolatility(5, atmCall().WithSpot(-1))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestImpliedVolatility_FlatPriceIsNoSolution(t *testing.T) {
	engine := NewEngine(DefaultSolver(), zerologNop())
	// Forward deep in the money with tiny vol: the price is intrinsic to
	// machine precision across a wide band of sigma.
	p := models.ContractParams{
		Spot: 110, Strike: 100, TimeToExpiry: 0.08,
		Volatility: 0.011, Kind: models.Call,
	}
	v, err := Price(p)
	require.NoError(t, err)

	_, err = engine.ImpliedVolatility(v, p)
	assert.ErrorIs(t, err, errors.ErrNoSolution)

	// The same strike with a live time value still solves.
	p = p.WithVolatility(0.2)
	v, err = Price(p)
	require.NoError(t, err)
	iv, err := engine.ImpliedVolatility(v, p)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, iv, 1e-6)
}

func TestPutCallParityResidual_DetectsMispricing(t *testing.T) {
	p := atmCall()
	call, _ := Price(p)
	put, _ := Price(p.WithKind(models.Put))

	r, err := PutCallParityResidual(call, put, p)
	require.NoError(t, err)
	assert.InDelta(t, 0, r, 1e-9)

	r, err = PutCallParityResidual(call+0.5, put, p)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r, 1e-9)
}
