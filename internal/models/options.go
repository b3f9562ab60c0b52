package models

import (
	"math"

	"options-risk-engine/internal/errors"
)

// ContractParams holds the inputs of a single pricing call.
type ContractParams struct {
	Spot          float64
	Strike        float64
	TimeToExpiry  float64 // years
	Volatility    float64 // annualized
	Rate          float64
	DividendYield float64
	Kind          OptionKind
}

// Validate checks the parameters are inside the model's domain.
func (p ContractParams) Validate() error {
	switch {
	case !p.Kind.Valid():
		return errors.NewValidationError("kind", p.Kind, "must be call or put")
	case !(p.Spot > 0) || math.IsInf(p.Spot, 0):
		return errors.NewValidationError("spot", p.Spot, "must be positive")
	case !(p.Strike > 0) || math.IsInf(p.Strike, 0):
		return errors.NewValidationError("strike", p.Strike, "must be positive")
	case !(p.TimeToExpiry >= 0) || math.IsInf(p.TimeToExpiry, 0):
		return errors.NewValidationError("time_to_expiry", p.TimeToExpiry, "must be non-negative")
	case !(p.Volatility >= 0) || math.IsInf(p.Volatility, 0):
		return errors.NewValidationError("volatility", p.Volatility, "must be non-negative")
	case math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0):
		return errors.NewValidationError("rate", p.Rate, "must be finite")
	case !(p.DividendYield >= 0) || math.IsInf(p.DividendYield, 0):
		return errors.NewValidationError("dividend_yield", p.DividendYield, "must be non-negative")
	}
	return nil
}

// WithVolatility returns a copy with a different volatility.
func (p ContractParams) WithVolatility(sigma float64) ContractParams {
	p.Volatility = sigma
	return p
}

// WithSpot returns a copy with a different spot price.
func (p ContractParams) WithSpot(spot float64) ContractParams {
	p.Spot = spot
	return p
}

// WithKind returns a copy with a different option kind.
func (p ContractParams) WithKind(kind OptionKind) ContractParams {
	p.Kind = kind
	return p
}

// Greeks represents option sensitivities. Vega and Rho are per unit
// (1.00) change, Theta is per year.
type Greeks struct {
	Delta  float64
	Gamma  float64
	Vega   float64
	Theta  float64
	Rho    float64
	Lambda float64
	// LambdaDefined is false when the option value is zero.
	LambdaDefined bool
}

// Scale multiplies every additive Greek by factor. Lambda is an elasticity
// and does not scale.
func (g Greeks) Scale(factor float64) Greeks {
	return Greeks{
		Delta:         g.Delta * factor,
		Gamma:         g.Gamma * factor,
		Vega:          g.Vega * factor,
		Theta:         g.Theta * factor,
		Rho:           g.Rho * factor,
		Lambda:        g.Lambda,
		LambdaDefined: g.LambdaDefined,
	}
}

// Add sums two sets of Greeks. The result carries no Lambda.
func (g Greeks) Add(o Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + o.Delta,
		Gamma: g.Gamma + o.Gamma,
		Vega:  g.Vega + o.Vega,
		Theta: g.Theta + o.Theta,
		Rho:   g.Rho + o.Rho,
	}
}
