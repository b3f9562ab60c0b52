package models

import "time"

// PnLSnapshot is one point of the append-only P&L time series. An empty
// PositionID marks a portfolio-level snapshot.
type PnLSnapshot struct {
	ID              string
	Timestamp       time.Time
	PositionID      string
	OptionValue     float64
	HedgeValue      float64
	TransactionCost float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	TotalPnL        float64
	Delta           float64
	Gamma           float64
	Vega            float64
	Theta           float64
}

// IsPortfolio reports whether the snapshot is portfolio-level.
func (s PnLSnapshot) IsPortfolio() bool {
	return s.PositionID == ""
}
