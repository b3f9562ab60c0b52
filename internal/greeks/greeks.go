// Package greeks computes closed-form Black-Scholes sensitivities.
package greeks

import (
	"math"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/pricing"
)

// Calculator computes per-share and position-scaled Greeks.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute returns every Greek for p in one pass. Lambda is marked undefined
// instead of failing when the option is worthless.
func (c *Calculator) Compute(p models.ContractParams) (models.Greeks, error) {
	if err := p.Validate(); err != nil {
		return models.Greeks{}, err
	}
	g := models.Greeks{
		Delta: delta(p),
		Gamma: gamma(p),
		Vega:  vega(p),
		Theta: theta(p),
		Rho:   rho(p),
	}
	if l, err := lambda(p, g.Delta); err == nil {
		g.Lambda = l
		g.LambdaDefined = true
	}
	return g, nil
}

// ComputePosition returns Greeks scaled by quantity x multiplier.
func (c *Calculator) ComputePosition(p models.ContractParams, quantity, multiplier int) (models.Greeks, error) {
	g, err := c.Compute(p)
	if err != nil {
		return models.Greeks{}, err
	}
	return Scale(g, quantity, multiplier), nil
}

// Scale multiplies per-share Greeks by quantity x multiplier, keeping the
// quantity sign so a short position has negated exposure.
func Scale(g models.Greeks, quantity, multiplier int) models.Greeks {
	return g.Scale(float64(quantity) * float64(multiplier))
}

// Delta returns dV/dS.
func Delta(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return delta(p), nil
}

// Gamma returns d2V/dS2.
func Gamma(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return gamma(p), nil
}

// Vega returns dV/dSigma per unit volatility.
func Vega(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return vega(p), nil
}

// Theta returns dV/dt per year of calendar time.
func Theta(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return theta(p), nil
}

// Rho returns dV/dr per unit rate.
func Rho(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return rho(p), nil
}

// Lambda returns the elasticity Delta*S/V. It fails with
// ErrDivisionUndefined when the option value is zero.
func Lambda(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return lambda(p, delta(p))
}

func lambda(p models.ContractParams, d float64) (float64, error) {
	v, _ := pricing.Price(p)
	if v == 0 {
		return 0, errors.Wrap(errors.ErrDivisionUndefined, "lambda: option value is zero")
	}
	return d * p.Spot / v, nil
}

func delta(p models.ContractParams) float64 {
	carry := math.Exp(-p.DividendYield * p.TimeToExpiry)
	if pricing.Degenerate(p) {
		return carry * edgeDelta(p)
	}
	d1, _ := pricing.D1D2(p)
	if p.Kind == models.Call {
		return carry * pricing.NormCDF(d1)
	}
	return carry * (pricing.NormCDF(d1) - 1)
}

// edgeDelta collapses delta to the exercise indicator, 0.5 at the money.
func edgeDelta(p models.ContractParams) float64 {
	var call float64
	switch {
	case p.Spot > p.Strike:
		call = 1
	case p.Spot < p.Strike:
		call = 0
	default:
		call = 0.5
	}
	if p.Kind == models.Call {
		return call
	}
	return call - 1
}

func gamma(p models.ContractParams) float64 {
	if pricing.Degenerate(p) {
		return 0
	}
	d1, _ := pricing.D1D2(p)
	return math.Exp(-p.DividendYield*p.TimeToExpiry) * pricing.NormPDF(d1) /
		(p.Spot * p.Volatility * math.Sqrt(p.TimeToExpiry))
}

func vega(p models.ContractParams) float64 {
	if pricing.Degenerate(p) {
		return 0
	}
	d1, _ := pricing.D1D2(p)
	return p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry) * pricing.NormPDF(d1) * math.Sqrt(p.TimeToExpiry)
}

func theta(p models.ContractParams) float64 {
	if pricing.Degenerate(p) {
		return 0
	}
	t := p.TimeToExpiry
	d1, d2 := pricing.D1D2(p)
	spotDisc := p.Spot * math.Exp(-p.DividendYield*t)
	strikeDisc := p.Strike * math.Exp(-p.Rate*t)

	decay := -spotDisc * pricing.NormPDF(d1) * p.Volatility / (2 * math.Sqrt(t))
	if p.Kind == models.Call {
		return decay + p.DividendYield*spotDisc*pricing.NormCDF(d1) - p.Rate*strikeDisc*pricing.NormCDF(d2)
	}
	return decay - p.DividendYield*spotDisc*pricing.NormCDF(-d1) + p.Rate*strikeDisc*pricing.NormCDF(-d2)
}

func rho(p models.ContractParams) float64 {
	t := p.TimeToExpiry
	if t == 0 {
		return 0
	}
	strikeDisc := p.Strike * t * math.Exp(-p.Rate*t)
	if p.Volatility == 0 {
		// exercise is certain or impossible; edgeDelta carries the put sign
		return strikeDisc * edgeDelta(p)
	}
	_, d2 := pricing.D1D2(p)
	if p.Kind == models.Call {
		return strikeDisc * pricing.NormCDF(d2)
	}
	return -strikeDisc * pricing.NormCDF(-d2)
}

// VegaPerPoint converts vega to a 1 volatility-point (0.01) change.
func VegaPerPoint(v float64) float64 {
	return v / 100
}

// RhoPerPoint converts rho to a 1 percentage-point rate change.
func RhoPerPoint(r float64) float64 {
	return r / 100
}

// ThetaPerDay converts annual theta to one calendar day.
func ThetaPerDay(t float64) float64 {
	return t / models.DaysPerYear
}
