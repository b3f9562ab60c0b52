package portfolio

import (
	"time"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/pricing"
)

// Valuation is a position priced against one set of market data.
type Valuation struct {
	Position models.Position
	Market   models.MarketData
	Params   models.ContractParams
	// Price is the per-share option value.
	Price float64
	// PerShare holds unscaled Greeks; Scaled multiplies by quantity x multiplier.
	PerShare models.Greeks
	Scaled   models.Greeks
}

// Value returns the signed position value (price x quantity x multiplier).
func (v Valuation) Value() float64 {
	return v.Price * v.Position.Shares()
}

// Notional returns |quantity| x multiplier x spot.
func (v Valuation) Notional() float64 {
	return v.Position.AbsShares() * v.Market.Spot
}

// Valuate prices pos at now using md.
func Valuate(calc *greeks.Calculator, pos models.Position, md models.MarketData, now time.Time) (Valuation, error) {
	params := pos.Params(md, now)
	price, err := pricing.Price(params)
	if err != nil {
		return Valuation{}, errors.NewPositionError(pos.ID, "valuate", err)
	}
	g, err := calc.Compute(params)
	if err != nil {
		return Valuation{}, errors.NewPositionError(pos.ID, "valuate", err)
	}
	return Valuation{
		Position: pos,
		Market:   md,
		Params:   params,
		Price:    price,
		PerShare: g,
		Scaled:   greeks.Scale(g, pos.Quantity, multiplierOf(pos)),
	}, nil
}

// ValuateIn looks up pos's underlying in market and prices it.
func ValuateIn(calc *greeks.Calculator, pos models.Position, market models.MarketSnapshot, now time.Time) (Valuation, error) {
	md, err := market.Lookup(pos.Symbol, now)
	if err != nil {
		return Valuation{}, errors.NewPositionError(pos.ID, "valuate", err)
	}
	return Valuate(calc, pos, md, now)
}

func multiplierOf(pos models.Position) int {
	if pos.Multiplier <= 0 {
		return models.DefaultMultiplier
	}
	return pos.Multiplier
}
