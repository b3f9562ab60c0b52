// Package pricing implements European option valuation under Black-Scholes
// with a continuous dividend yield.
package pricing

import (
	"math"

	"options-risk-engine/internal/models"
)

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal probability density function.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// D1D2 returns the Black-Scholes d1 and d2 terms. Callers must ensure
// T > 0 and sigma > 0.
func D1D2(p models.ContractParams) (d1, d2 float64) {
	volSqrtT := p.Volatility * math.Sqrt(p.TimeToExpiry)
	d1 = (math.Log(p.Spot/p.Strike) + (p.Rate-p.DividendYield+0.5*p.Volatility*p.Volatility)*p.TimeToExpiry) / volSqrtT
	d2 = d1 - volSqrtT
	return d1, d2
}

// Degenerate reports whether the closed form collapses to intrinsic value.
func Degenerate(p models.ContractParams) bool {
	return p.TimeToExpiry == 0 || p.Volatility == 0
}

// Intrinsic returns max(S-K, 0) for calls and max(K-S, 0) for puts.
func Intrinsic(kind models.OptionKind, spot, strike float64) float64 {
	if kind == models.Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

// Price returns the Black-Scholes value of the contract.
func Price(p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return price(p), nil
}

// price assumes validated input.
func price(p models.ContractParams) float64 {
	if Degenerate(p) {
		return Intrinsic(p.Kind, p.Spot, p.Strike)
	}
	d1, d2 := D1D2(p)
	spotDisc := p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry)
	strikeDisc := p.Strike * math.Exp(-p.Rate*p.TimeToExpiry)
	if p.Kind == models.Call {
		return spotDisc*NormCDF(d1) - strikeDisc*NormCDF(d2)
	}
	return strikeDisc*NormCDF(-d2) - spotDisc*NormCDF(-d1)
}

// vega is dPrice/dSigma per unit volatility; zero in the degenerate case.
func vega(p models.ContractParams) float64 {
	if Degenerate(p) {
		return 0
	}
	d1, _ := D1D2(p)
	return p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry) * NormPDF(d1) * math.Sqrt(p.TimeToExpiry)
}

// PutCallParityResidual returns call - put - (S*e^(-qT) - K*e^(-rT)).
// A value far from zero means the quotes are mutually inconsistent.
func PutCallParityResidual(callPrice, putPrice float64, p models.ContractParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	forward := p.Spot*math.Exp(-p.DividendYield*p.TimeToExpiry) - p.Strike*math.Exp(-p.Rate*p.TimeToExpiry)
	return callPrice - putPrice - forward, nil
}
