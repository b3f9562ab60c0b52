package models

import (
	"math"
	"time"

	"options-risk-engine/internal/errors"
)

// PositionStatus represents the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosed  PositionStatus = "closed"
	StatusExpired PositionStatus = "expired"
)

// DefaultMultiplier is the number of shares per contract.
const DefaultMultiplier = 100

// Position is an option position. Values are immutable; Close and Expire
// return a new value with the transition applied.
type Position struct {
	ID              string
	Symbol          string
	Kind            OptionKind
	Strike          float64
	Expiry          time.Time
	Quantity        int // signed contracts, negative = short
	Multiplier      int
	EntryPremium    float64 // per share
	EntryVolatility float64
	EntrySpot       float64
	EntryTime       time.Time
	Status          PositionStatus
	ClosedAt        *time.Time
	ClosePrice      *float64 // per share
	CloseSpot       *float64
	// Greeks is the last computed snapshot; never a source of truth.
	Greeks *Greeks
}

// Validate checks the position can be booked.
func (p Position) Validate() error {
	switch {
	case p.Symbol == "":
		return errors.NewPositionValidationError("symbol", p.Symbol, "is required")
	case !p.Kind.Valid():
		return errors.NewPositionValidationError("kind", p.Kind, "must be call or put")
	case p.Quantity == 0:
		return errors.NewPositionValidationError("quantity", p.Quantity, "must be non-zero")
	case !(p.Strike > 0) || math.IsInf(p.Strike, 0):
		return errors.NewPositionValidationError("strike", p.Strike, "must be positive")
	case p.Expiry.IsZero():
		return errors.NewPositionValidationError("expiry", p.Expiry, "is required")
	case !p.EntryTime.IsZero() && p.Expiry.Before(p.EntryTime):
		return errors.NewPositionValidationError("expiry", p.Expiry, "is before entry")
	case p.Multiplier < 0:
		return errors.NewPositionValidationError("multiplier", p.Multiplier, "must be positive")
	case p.EntryPremium < 0 || math.IsNaN(p.EntryPremium):
		return errors.NewPositionValidationError("entry_premium", p.EntryPremium, "must be non-negative")
	case p.EntryVolatility < 0 || math.IsNaN(p.EntryVolatility):
		return errors.NewPositionValidationError("entry_volatility", p.EntryVolatility, "must be non-negative")
	}
	return nil
}

// IsOpen reports whether the position is open.
func (p Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsShort reports whether the position was sold.
func (p Position) IsShort() bool {
	return p.Quantity < 0
}

// Shares returns the signed share-equivalent size (quantity x multiplier).
func (p Position) Shares() float64 {
	return float64(p.Quantity) * float64(p.multiplier())
}

// AbsShares returns |quantity| x multiplier.
func (p Position) AbsShares() float64 {
	return math.Abs(p.Shares())
}

func (p Position) multiplier() int {
	if p.Multiplier <= 0 {
		return DefaultMultiplier
	}
	return p.Multiplier
}

// TimeToExpiry returns the remaining life in years at now.
func (p Position) TimeToExpiry(now time.Time) float64 {
	return YearFraction(now, p.Expiry)
}

// Intrinsic returns the per-share intrinsic value at spot.
func (p Position) Intrinsic(spot float64) float64 {
	if p.Kind == Call {
		return math.Max(spot-p.Strike, 0)
	}
	return math.Max(p.Strike-spot, 0)
}

// Breakeven returns the underlying price at expiry where the option P&L is zero.
func (p Position) Breakeven() float64 {
	if p.Kind == Call {
		return p.Strike + p.EntryPremium
	}
	return p.Strike - p.EntryPremium
}

// Params builds pricing inputs from market data. The market volatility is
// used when present, otherwise the entry implied volatility.
func (p Position) Params(md MarketData, now time.Time) ContractParams {
	sigma := md.Volatility
	if sigma <= 0 {
		sigma = p.EntryVolatility
	}
	return ContractParams{
		Spot:          md.Spot,
		Strike:        p.Strike,
		TimeToExpiry:  p.TimeToExpiry(now),
		Volatility:    sigma,
		Rate:          md.Rate,
		DividendYield: md.DividendYield,
		Kind:          p.Kind,
	}
}

// Close returns the position transitioned to closed.
func (p Position) Close(price float64, spot *float64, at time.Time) (Position, error) {
	if !p.IsOpen() {
		return p, errors.NewPositionError(p.ID, "close", errors.ErrAlreadyClosed)
	}
	if price < 0 || math.IsNaN(price) {
		return p, errors.NewValidationError("close_price", price, "must be non-negative")
	}
	return p.transition(StatusClosed, price, spot, at), nil
}

// Expire returns the position transitioned to expired, valued at intrinsic.
func (p Position) Expire(spot float64, at time.Time) (Position, error) {
	if !p.IsOpen() {
		return p, errors.NewPositionError(p.ID, "expire", errors.ErrAlreadyClosed)
	}
	return p.transition(StatusExpired, p.Intrinsic(spot), &spot, at), nil
}

func (p Position) transition(status PositionStatus, price float64, spot *float64, at time.Time) Position {
	next := p
	next.Status = status
	closedAt := at
	next.ClosedAt = &closedAt
	closePrice := price
	next.ClosePrice = &closePrice
	if spot != nil {
		s := *spot
		next.CloseSpot = &s
	}
	next.Greeks = nil
	return next
}

// WithGreeks returns a copy carrying a cached Greeks snapshot.
func (p Position) WithGreeks(g Greeks) Position {
	p.Greeks = &g
	return p
}
