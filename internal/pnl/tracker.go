package pnl

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
)

// Book is the read side of the position set.
type Book interface {
	Get(id string) (models.Position, error)
	Snapshot() []models.Position
}

// HedgeLedger supplies hedge records per position.
type HedgeLedger interface {
	Records(positionID string) []models.HedgeRecord
}

// SnapshotRecorder durably stores P&L snapshots.
type SnapshotRecorder interface {
	SaveSnapshot(ctx context.Context, s models.PnLSnapshot) error
}

// Tracker computes P&L and keeps the append-only snapshot series.
type Tracker struct {
	book     Book
	ledger   HedgeLedger
	calc     *greeks.Calculator
	recorder SnapshotRecorder
	logger   zerolog.Logger

	mu     sync.RWMutex
	series []models.PnLSnapshot
}

// NewTracker creates a tracker. recorder may be nil.
func NewTracker(book Book, ledger HedgeLedger, calc *greeks.Calculator, recorder SnapshotRecorder, logger zerolog.Logger) *Tracker {
	return &Tracker{
		book:     book,
		ledger:   ledger,
		calc:     calc,
		recorder: recorder,
		logger:   logging.WithComponent(logger, "pnl"),
	}
}

// PositionReport is the detailed P&L view of one position.
type PositionReport struct {
	PnL         PositionPnL
	Spot        float64
	Greeks      *models.Greeks // position-scaled, open positions only
	Attribution *Attribution
}

// Position reports the P&L of one position. Open positions are revalued
// against market; closed ones need no market data.
func (t *Tracker) Position(positionID string, now time.Time, market models.MarketSnapshot) (PositionReport, error) {
	pos, err := t.book.Get(positionID)
	if err != nil {
		return PositionReport{}, err
	}
	hedges := t.ledger.Records(pos.ID)
	if !pos.IsOpen() {
		res := ComputePositionPnL(pos, 0, 0, hedges, now)
		return PositionReport{PnL: res, Spot: frozenSpot(pos, 0, hedges)}, nil
	}

	v, err := portfolio.ValuateIn(t.calc, pos, market, now)
	if err != nil {
		return PositionReport{}, err
	}
	res := ComputePositionPnL(pos, v.Price, v.Market.Spot, hedges, now)
	attr := Attribute(pos, res, v.Scaled, v.Market.Spot)
	g := v.Scaled
	return PositionReport{PnL: res, Spot: v.Market.Spot, Greeks: &g, Attribution: &attr}, nil
}

// PortfolioPnL is the book-level P&L split into realized and unrealized.
type PortfolioPnL struct {
	AsOf            time.Time
	Realized        float64
	Unrealized      float64
	Total           float64
	OptionValue     float64 // signed value of open positions
	HedgeValue      float64 // hedge mark-to-market
	TransactionCost float64
	Greeks          models.Greeks
	Positions       []PositionPnL
	Skipped         []models.SkippedItem
}

// Err combines the skipped items' errors, or nil.
func (p PortfolioPnL) Err() error {
	return portfolio.SkippedErr(p.Skipped)
}

// PortfolioPnL sums the P&L of every open position and every position
// closed or expired on the UTC day of now. Open positions without usable
// market data are skipped and reported.
func (t *Tracker) PortfolioPnL(now time.Time, market models.MarketSnapshot) PortfolioPnL {
	out := PortfolioPnL{AsOf: now}
	realized, unrealized := decimal.Zero, decimal.Zero
	hedgeValue, costs := decimal.Zero, decimal.Zero
	day := now.UTC().Truncate(24 * time.Hour)

	for _, pos := range t.book.Snapshot() {
		hedges := t.ledger.Records(pos.ID)
		var res PositionPnL
		if pos.IsOpen() {
			v, err := portfolio.ValuateIn(t.calc, pos, market, now)
			if err != nil {
				logging.LogSkip(t.logger, "portfolio_pnl", pos.ID, pos.Symbol, err)
				out.Skipped = append(out.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
				continue
			}
			res = ComputePositionPnL(pos, v.Price, v.Market.Spot, hedges, now)
			out.Greeks = out.Greeks.Add(v.Scaled)
			out.OptionValue += res.OptionValue
			unrealized = unrealized.Add(decimal.NewFromFloat(res.TotalPnL))
		} else {
			if pos.ClosedAt == nil || !pos.ClosedAt.UTC().Truncate(24*time.Hour).Equal(day) {
				continue
			}
			res = ComputePositionPnL(pos, 0, 0, hedges, now)
			realized = realized.Add(decimal.NewFromFloat(res.TotalPnL))
		}
		hedgeValue = hedgeValue.Add(decimal.NewFromFloat(res.HedgePnL))
		costs = costs.Add(decimal.NewFromFloat(res.TransactionCost))
		out.Positions = append(out.Positions, res)
	}

	out.Realized, _ = realized.Float64()
	out.Unrealized, _ = unrealized.Float64()
	out.Total, _ = realized.Add(unrealized).Float64()
	out.HedgeValue, _ = hedgeValue.Float64()
	out.TransactionCost, _ = costs.Float64()

	if len(out.Skipped) > 0 {
		metrics.BatchSkips.WithLabelValues("portfolio_pnl").Add(float64(len(out.Skipped)))
	}
	return out
}

// Snapshot computes the portfolio P&L at now and appends it to the series.
// The snapshot is only appended after the recorder accepted it.
func (t *Tracker) Snapshot(ctx context.Context, now time.Time, market models.MarketSnapshot) (models.PnLSnapshot, []models.SkippedItem, error) {
	p := t.PortfolioPnL(now, market)
	snap := models.PnLSnapshot{
		ID:              uuid.NewString(),
		Timestamp:       now,
		OptionValue:     p.OptionValue,
		HedgeValue:      p.HedgeValue,
		TransactionCost: p.TransactionCost,
		RealizedPnL:     p.Realized,
		UnrealizedPnL:   p.Unrealized,
		TotalPnL:        p.Total,
		Delta:           p.Greeks.Delta,
		Gamma:           p.Greeks.Gamma,
		Vega:            p.Greeks.Vega,
		Theta:           p.Greeks.Theta,
	}
	if err := t.append(ctx, snap); err != nil {
		return models.PnLSnapshot{}, p.Skipped, err
	}
	t.logger.Info().
		Str("snapshot_id", snap.ID).
		Float64("total_pnl", snap.TotalPnL).
		Int("skipped", len(p.Skipped)).
		Msg("P&L snapshot recorded")
	return snap, p.Skipped, nil
}

// SnapshotPosition appends a snapshot for a single position.
func (t *Tracker) SnapshotPosition(ctx context.Context, positionID string, now time.Time, market models.MarketSnapshot) (models.PnLSnapshot, error) {
	rep, err := t.Position(positionID, now, market)
	if err != nil {
		return models.PnLSnapshot{}, err
	}
	snap := models.PnLSnapshot{
		ID:              uuid.NewString(),
		Timestamp:       now,
		PositionID:      positionID,
		OptionValue:     rep.PnL.OptionValue,
		HedgeValue:      rep.PnL.HedgePnL,
		TransactionCost: rep.PnL.TransactionCost,
		TotalPnL:        rep.PnL.TotalPnL,
	}
	if rep.PnL.Realized() {
		snap.RealizedPnL = rep.PnL.TotalPnL
	} else {
		snap.UnrealizedPnL = rep.PnL.TotalPnL
	}
	if rep.Greeks != nil {
		snap.Delta = rep.Greeks.Delta
		snap.Gamma = rep.Greeks.Gamma
		snap.Vega = rep.Greeks.Vega
		snap.Theta = rep.Greeks.Theta
	}
	if err := t.append(ctx, snap); err != nil {
		return models.PnLSnapshot{}, err
	}
	return snap, nil
}

func (t *Tracker) append(ctx context.Context, snap models.PnLSnapshot) error {
	if t.recorder != nil {
		if err := t.recorder.SaveSnapshot(ctx, snap); err != nil {
			return errors.Wrap(err, "recording P&L snapshot")
		}
	}
	t.mu.Lock()
	t.series = append(t.series, snap)
	t.mu.Unlock()
	return nil
}

// Restore loads persisted snapshots into the series.
func (t *Tracker) Restore(snaps ...models.PnLSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.series = append(t.series, snaps...)
	sort.SliceStable(t.series, func(i, j int) bool { return t.series[i].Timestamp.Before(t.series[j].Timestamp) })
}

// History returns snapshots for positionID (empty for portfolio-level) at
// or after since, oldest first.
func (t *Tracker) History(positionID string, since time.Time) []models.PnLSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.PnLSnapshot
	for _, s := range t.series {
		if s.PositionID == positionID && !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// PerformanceMetrics scores closed positions and the portfolio snapshot
// series. Positions that are still open are ignored.
func (t *Tracker) PerformanceMetrics(closed []models.Position, now time.Time) Performance {
	results := make([]PositionPnL, 0, len(closed))
	for _, pos := range closed {
		if pos.IsOpen() {
			continue
		}
		results = append(results, ComputePositionPnL(pos, 0, 0, t.ledger.Records(pos.ID), now))
	}
	return ComputePerformance(results, t.History("", time.Time{}))
}
