// Package pnl tracks option and hedge P&L per position and across the book.
package pnl

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"options-risk-engine/internal/models"
)

// PositionPnL is the P&L of one position at a point in time.
type PositionPnL struct {
	PositionID string
	Symbol     string
	Status     models.PositionStatus
	Short      bool
	// OptionPrice is the per-share value used: the close price for a closed
	// position, the current model price otherwise.
	OptionPrice     float64
	PremiumNotional float64
	OptionValue     float64 // signed, price x quantity x multiplier
	OptionPnL       float64
	HedgePnL        float64
	HedgeShares     float64
	TransactionCost float64
	TotalPnL        float64
	// ROI is TotalPnL as a percentage of premium notional.
	ROI       float64
	Breakeven float64
	DaysHeld  int
}

// Realized reports whether the P&L is locked in.
func (p PositionPnL) Realized() bool {
	return p.Status != models.StatusOpen
}

// ComputePositionPnL values pos at optionPrice with its hedges marked at
// spot. A closed position uses its close price, and its close spot when
// one was recorded, so its P&L no longer moves with the market.
//
// The option component is (price - premium) x quantity x multiplier: for a
// seller that is premium collected minus current value, for a buyer current
// value minus premium paid. Hedge P&L and costs apply to both sides.
func ComputePositionPnL(pos models.Position, optionPrice, spot float64, hedges []models.HedgeRecord, now time.Time) PositionPnL {
	end := now
	if !pos.IsOpen() {
		if pos.ClosePrice != nil {
			optionPrice = *pos.ClosePrice
		}
		spot = frozenSpot(pos, spot, hedges)
		if pos.ClosedAt != nil {
			end = *pos.ClosedAt
		}
		if pos.Status == models.StatusExpired && end.After(pos.Expiry) {
			end = pos.Expiry
		}
	}

	shares := pos.Shares()
	out := PositionPnL{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Status:          pos.Status,
		Short:           pos.IsShort(),
		OptionPrice:     optionPrice,
		PremiumNotional: pos.EntryPremium * math.Abs(shares),
		OptionValue:     optionPrice * shares,
		OptionPnL:       (optionPrice - pos.EntryPremium) * shares,
		Breakeven:       pos.Breakeven(),
		DaysHeld:        daysBetween(pos.EntryTime, end),
	}

	hedgePnL, costs := decimal.Zero, decimal.Zero
	for _, h := range hedges {
		out.HedgeShares += h.Shares
		hedgePnL = hedgePnL.Add(decimal.NewFromFloat(h.MarkToMarket(spot)))
		costs = costs.Add(decimal.NewFromFloat(h.Cost))
	}
	out.HedgePnL, _ = hedgePnL.Float64()
	out.TransactionCost, _ = costs.Float64()

	total := decimal.NewFromFloat(out.OptionPnL).Add(hedgePnL).Sub(costs)
	out.TotalPnL, _ = total.Float64()
	if out.PremiumNotional > 0 {
		out.ROI = out.TotalPnL / out.PremiumNotional * 100
	}
	return out
}

// frozenSpot picks the spot that marks a closed position's hedges: the
// recorded close spot, else the last hedge price.
func frozenSpot(pos models.Position, spot float64, hedges []models.HedgeRecord) float64 {
	if pos.CloseSpot != nil {
		return *pos.CloseSpot
	}
	if n := len(hedges); n > 0 {
		return hedges[n-1].Price
	}
	return spot
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// Attribution splits an open position's P&L into estimated Greek drivers.
type Attribution struct {
	// ThetaPnL is position theta per day times days held.
	ThetaPnL float64
	// DeltaPnL is position delta times the underlying move since entry.
	DeltaPnL float64
	// Unexplained is option P&L not covered by the two estimates.
	Unexplained float64
}

// Attribute estimates where an option P&L came from given the current
// position-scaled Greeks.
func Attribute(pos models.Position, result PositionPnL, scaled models.Greeks, spot float64) Attribution {
	var a Attribution
	a.ThetaPnL = scaled.Theta / models.DaysPerYear * float64(result.DaysHeld)
	if pos.EntrySpot > 0 {
		a.DeltaPnL = scaled.Delta * (spot - pos.EntrySpot)
	}
	a.Unexplained = result.OptionPnL - a.ThetaPnL - a.DeltaPnL
	return a
}
