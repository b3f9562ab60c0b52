package hedging

import (
	"math"
	"time"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
)

// Requirement describes what it takes to bring one position to neutral.
type Requirement struct {
	PositionID     string
	Symbol         string
	OptionDelta    float64 // per share
	PositionDelta  float64
	HeldShares     float64
	NetDelta       float64
	RequiredShares float64
	Spot           float64
	EstimatedCost  float64
	State          models.HedgeState
	ShouldRehedge  bool
}

// Requirements computes the hedge requirement of pos against md.
func (h *Hedger) Requirements(pos models.Position, md models.MarketData, now time.Time) (Requirement, error) {
	v, err := portfolio.Valuate(h.calc, pos, md, now)
	if err != nil {
		return Requirement{}, err
	}
	held := h.HeldShares(pos.ID)
	net := v.Scaled.Delta + held
	state := h.State(pos.ID, v.Scaled.Delta)
	return Requirement{
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		OptionDelta:    v.PerShare.Delta,
		PositionDelta:  v.Scaled.Delta,
		HeldShares:     held,
		NetDelta:       net,
		RequiredShares: -net,
		Spot:           md.Spot,
		EstimatedCost:  TransactionCost(net, md.Spot, h.cfg.CommissionRate, h.cfg.FixedFee),
		State:          state,
		ShouldRehedge:  state == models.HedgeStale,
	}, nil
}

// Exposure is the portfolio-wide delta picture after hedges.
type Exposure struct {
	AsOf           time.Time
	NetDelta       float64
	OptionDelta    float64
	HedgeShares    float64
	HedgeNotional  float64
	NeedingRehedge []Requirement
	Skipped        []models.SkippedItem
}

// PortfolioDeltaExposure recomputes every open position's delta and nets
// it against shares held. Nothing is cached between calls.
func (h *Hedger) PortfolioDeltaExposure(now time.Time, market models.MarketSnapshot) Exposure {
	exp := Exposure{AsOf: now}
	for _, pos := range h.book.Open() {
		md, err := market.Lookup(pos.Symbol, now)
		if err != nil {
			exp.Skipped = append(exp.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
			continue
		}
		req, err := h.Requirements(pos, md, now)
		if err != nil {
			exp.Skipped = append(exp.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
			continue
		}
		exp.OptionDelta += req.PositionDelta
		exp.HedgeShares += req.HeldShares
		exp.NetDelta += req.NetDelta
		exp.HedgeNotional += math.Abs(req.HeldShares) * md.Spot
		if req.ShouldRehedge {
			exp.NeedingRehedge = append(exp.NeedingRehedge, req)
		}
	}
	if len(exp.Skipped) > 0 {
		metrics.BatchSkips.WithLabelValues("delta_exposure").Add(float64(len(exp.Skipped)))
	}
	metrics.PortfolioDelta.Set(exp.NetDelta)
	return exp
}

// HedgeLine is one hedge record marked to market.
type HedgeLine struct {
	Record models.HedgeRecord
	PnL    float64
}

// HedgePnL breaks down a position's stock hedge P&L.
type HedgePnL struct {
	PositionID  string
	Spot        float64
	TotalShares float64
	GrossPnL    float64
	Costs       float64
	NetPnL      float64
	Lines       []HedgeLine
}

// HedgingPnL marks a position's hedges at spot. For a closed position with
// a recorded close spot, that spot is used instead so the result is frozen.
func (h *Hedger) HedgingPnL(positionID string, spot float64) (HedgePnL, error) {
	pos, err := h.book.Get(positionID)
	if err != nil {
		return HedgePnL{}, err
	}
	if !pos.IsOpen() && pos.CloseSpot != nil {
		spot = *pos.CloseSpot
	}
	recs := h.Records(positionID)
	out := HedgePnL{PositionID: positionID, Spot: spot, Lines: make([]HedgeLine, 0, len(recs))}
	costs := make([]float64, 0, len(recs))
	for _, r := range recs {
		pnl := r.MarkToMarket(spot)
		out.Lines = append(out.Lines, HedgeLine{Record: r, PnL: pnl})
		out.TotalShares += r.Shares
		out.GrossPnL += pnl
		costs = append(costs, r.Cost)
	}
	out.Costs = sumCosts(costs)
	out.NetPnL = out.GrossPnL - out.Costs
	return out, nil
}

// Efficiency summarizes how well a position is hedged.
type Efficiency struct {
	PositionID string
	// HedgeRatio is |held shares| / |position delta|.
	HedgeRatio float64
	// Neutrality is 1 - |net delta / position delta|; 1 is perfectly neutral.
	Neutrality float64
	// CostRatio is hedge costs as a percentage of entry premium notional.
	CostRatio float64
	Rehedges  int
	NetDelta  float64
}

// Efficiency reports hedge ratio, neutrality and cost drag for pos.
func (h *Hedger) Efficiency(pos models.Position, md models.MarketData, now time.Time) (Efficiency, error) {
	if !pos.IsOpen() {
		return Efficiency{}, errors.NewPositionError(pos.ID, "efficiency", errors.ErrAlreadyClosed)
	}
	req, err := h.Requirements(pos, md, now)
	if err != nil {
		return Efficiency{}, err
	}
	recs := h.Records(pos.ID)
	costs := make([]float64, 0, len(recs))
	for _, r := range recs {
		costs = append(costs, r.Cost)
	}

	eff := Efficiency{PositionID: pos.ID, Rehedges: len(recs), NetDelta: req.NetDelta}
	if req.PositionDelta != 0 {
		eff.HedgeRatio = math.Abs(req.HeldShares / req.PositionDelta)
		eff.Neutrality = 1 - math.Abs(req.NetDelta/req.PositionDelta)
	}
	if premium := pos.EntryPremium * pos.AbsShares(); premium > 0 {
		eff.CostRatio = sumCosts(costs) / premium * 100
	}
	return eff, nil
}
