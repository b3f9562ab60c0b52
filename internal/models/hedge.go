package models

import "time"

// HedgeState is the hedging status of a position.
type HedgeState string

const (
	HedgeUnhedged HedgeState = "unhedged"
	HedgeHedged   HedgeState = "hedged"
	HedgeStale    HedgeState = "stale"
)

// HedgeKind labels why a hedge was placed.
type HedgeKind string

const (
	HedgeInitial   HedgeKind = "initial"
	HedgeRebalance HedgeKind = "rebalance"
	HedgeClose     HedgeKind = "close"
)

// HedgeRecord is an append-only stock transaction against a position.
// Corrections are new offsetting records.
type HedgeRecord struct {
	ID         string
	PositionID string
	Symbol     string
	Shares     float64 // signed
	Price      float64
	Cost       float64
	Timestamp  time.Time
	// PositionDelta is the option position's delta when the hedge was placed.
	PositionDelta float64
	// DeltaBefore and DeltaAfter are net of hedge shares.
	DeltaBefore float64
	DeltaAfter  float64
	Kind        HedgeKind
}

// Notional returns |shares| x price.
func (h HedgeRecord) Notional() float64 {
	if h.Shares < 0 {
		return -h.Shares * h.Price
	}
	return h.Shares * h.Price
}

// MarkToMarket returns the stock P&L of the record at spot.
func (h HedgeRecord) MarkToMarket(spot float64) float64 {
	return h.Shares * (spot - h.Price)
}
