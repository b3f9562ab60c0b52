package pricing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
)

// Solver holds implied-volatility root-finding settings.
type Solver struct {
	InitialGuess  float64
	Tolerance     float64 // absolute price residual
	MaxIterations int
	MinVolatility float64
	MaxVolatility float64
	// MinVega is the smallest price sensitivity at the root for which sigma
	// counts as identified. Below it a wide band of volatilities reproduces
	// the price within Tolerance.
	MinVega float64
}

// DefaultSolver returns the default solver settings.
func DefaultSolver() Solver {
	return Solver{
		InitialGuess:  0.3,
		Tolerance:     1e-8,
		MaxIterations: 100,
		MinVolatility: 1e-6,
		MaxVolatility: 5.0,
		MinVega:       1e-4,
	}
}

// Engine prices contracts and inverts prices into implied volatility.
type Engine struct {
	solver Solver
	logger zerolog.Logger
}

// NewEngine creates a pricing engine.
func NewEngine(solver Solver, logger zerolog.Logger) *Engine {
	return &Engine{
		solver: solver,
		logger: logging.WithComponent(logger, "pricing"),
	}
}

// Price returns the Black-Scholes value.
func (e *Engine) Price(p models.ContractParams) (float64, error) {
	return Price(p)
}

// PutCallParityResidual returns the parity residual for a call/put pair.
func (e *Engine) PutCallParityResidual(callPrice, putPrice float64, p models.ContractParams) (float64, error) {
	return PutCallParityResidual(callPrice, putPrice, p)
}

// ImpliedVolatility solves price(sigma) = marketPrice. p.Volatility is ignored.
func (e *Engine) ImpliedVolatility(marketPrice float64, p models.ContractParams) (float64, error) {
	p = p.WithVolatility(0)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if math.IsNaN(marketPrice) || math.IsInf(marketPrice, 0) {
		return 0, errors.NewValidationError("market_price", marketPrice, "must be finite")
	}
	if p.TimeToExpiry == 0 {
		return 0, errors.NewSolverError(marketPrice, "option has expired")
	}

	lower, upper := ArbitrageBounds(p)
	tol := e.solver.Tolerance
	if marketPrice < lower-tol {
		return 0, errors.NewSolverError(marketPrice, fmt.Sprintf("below intrinsic bound %.6f", lower))
	}
	if marketPrice > upper+tol {
		return 0, errors.NewSolverError(marketPrice, fmt.Sprintf("above upper bound %.6f", upper))
	}

	sigma, ok := e.newton(marketPrice, p)
	if !ok {
		metrics.SolverFallbacks.Inc()
		e.logger.Debug().
			Float64("market_price", marketPrice).
			Str("kind", string(p.Kind)).
			Msg("Newton-Raphson did not converge, falling back to bisection")

		var err error
		if sigma, err = e.bisect(marketPrice, p); err != nil {
			return 0, err
		}
	}
	return e.identified(marketPrice, sigma, p)
}

// identified rejects a root that sits on a flat stretch of the price curve,
// where the price carries no information about sigma.
func (e *Engine) identified(target, sigma float64, p models.ContractParams) (float64, error) {
	if v := vega(p.WithVolatility(sigma)); v < e.solver.MinVega {
		e.logger.Debug().
			Float64("market_price", target).
			Float64("sigma", sigma).
			Float64("vega", v).
			Msg("Implied volatility not identifiable")
		return 0, errors.NewSolverError(target, fmt.Sprintf("price insensitive to volatility (vega %.3g)", v))
	}
	return sigma, nil
}

// newton runs Newton-Raphson on sigma with vega as the derivative.
func (e *Engine) newton(target float64, p models.ContractParams) (float64, bool) {
	s := e.solver
	sigma := s.InitialGuess
	prevStep := math.Inf(1)

	for i := 0; i < s.MaxIterations; i++ {
		q := p.WithVolatility(sigma)
		diff := price(q) - target
		if math.Abs(diff) < s.Tolerance {
			return sigma, true
		}

		v := vega(q)
		if v < 1e-10 {
			return 0, false
		}

		step := diff / v
		// oscillating or diverging
		if math.Abs(step) > prevStep && i > 2 {
			return 0, false
		}
		prevStep = math.Abs(step)

		sigma -= step
		if sigma <= s.MinVolatility || sigma >= s.MaxVolatility || math.IsNaN(sigma) {
			return 0, false
		}
	}
	return 0, false
}

// bisect brackets sigma in [MinVolatility, MaxVolatility]. Price is
// monotonic in sigma so a sign change is sufficient.
func (e *Engine) bisect(target float64, p models.ContractParams) (float64, error) {
	s := e.solver
	lo, hi := s.MinVolatility, s.MaxVolatility

	fLo := price(p.WithVolatility(lo)) - target
	if math.Abs(fLo) < s.Tolerance {
		return lo, nil
	}
	fHi := price(p.WithVolatility(hi)) - target
	if math.Abs(fHi) < s.Tolerance {
		return hi, nil
	}
	if fLo*fHi > 0 {
		return 0, errors.NewSolverError(target, "price outside solvable volatility range")
	}

	// Enough halvings to shrink the bracket below 1e-15 of its width.
	maxIter := s.MaxIterations
	if maxIter < 200 {
		maxIter = 200
	}
	for i := 0; i < maxIter; i++ {
		mid := 0.5 * (lo + hi)
		fMid := price(p.WithVolatility(mid)) - target
		if math.Abs(fMid) < s.Tolerance || hi-lo < 1e-12 {
			return mid, nil
		}
		if fLo*fMid < 0 {
			hi = mid
		} else {
			lo, fLo = mid, fMid
		}
	}
	return 0, errors.NewSolverError(target, "iteration budget exhausted")
}

// ArbitrageBounds returns the no-arbitrage price range of a European option:
// the discounted intrinsic value below and the discounted spot (call) or
// strike (put) above.
func ArbitrageBounds(p models.ContractParams) (lower, upper float64) {
	spotDisc := p.Spot * math.Exp(-p.DividendYield*p.TimeToExpiry)
	strikeDisc := p.Strike * math.Exp(-p.Rate*p.TimeToExpiry)
	if p.Kind == models.Call {
		return math.Max(spotDisc-strikeDisc, 0), spotDisc
	}
	return math.Max(strikeDisc-spotDisc, 0), strikeDisc
}

// ImpliedVolatility solves with the default solver settings.
func ImpliedVolatility(marketPrice float64, p models.ContractParams) (float64, error) {
	return NewEngine(DefaultSolver(), zerolog.Nop()).ImpliedVolatility(marketPrice, p)
}
