// Package hedging implements the per-position delta-hedging control loop.
package hedging

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
)

// Config holds hedging parameters.
type Config struct {
	// RehedgeThreshold is the relative delta drift that makes a hedge stale.
	RehedgeThreshold float64
	// ZeroDeltaEpsilon replaces the relative test when the delta at the
	// last hedge was zero: stale iff |current delta| > epsilon.
	ZeroDeltaEpsilon float64
	CommissionRate   float64
	FixedFee         float64
}

// DefaultConfig returns the default hedging configuration.
func DefaultConfig() Config {
	return Config{
		RehedgeThreshold: 0.10,
		ZeroDeltaEpsilon: 1.0,
		CommissionRate:   0.005,
		FixedFee:         0,
	}
}

// PositionSource is the read side of the portfolio. WithOpen must keep the
// position from being closed or expired until fn returns.
type PositionSource interface {
	Get(id string) (models.Position, error)
	Open() []models.Position
	WithOpen(id, op string, fn func(models.Position) error) error
}

// Recorder durably stores hedge records. A record only enters the ledger
// after the recorder accepted it.
type Recorder interface {
	SaveHedge(ctx context.Context, h models.HedgeRecord) error
}

// Hedger tracks hedge state per position and records executions.
type Hedger struct {
	cfg      Config
	book     PositionSource
	calc     *greeks.Calculator
	recorder Recorder
	logger   zerolog.Logger
	// serial, when set, is held around every per-position hedge step.
	serial sync.Locker

	// mu guards the ledger; executions decide and append under Lock.
	mu       sync.RWMutex
	ledger   map[string][]models.HedgeRecord
	hedgedAt map[string]float64
}

// NewHedger creates a hedger. recorder may be nil.
func NewHedger(cfg Config, book PositionSource, calc *greeks.Calculator, recorder Recorder, logger zerolog.Logger) *Hedger {
	return &Hedger{
		cfg:      cfg,
		book:     book,
		calc:     calc,
		recorder: recorder,
		logger:   logging.WithComponent(logger, "hedger"),
		ledger:   make(map[string][]models.HedgeRecord),
		hedgedAt: make(map[string]float64),
	}
}

// SerializeWith makes every per-position hedge step hold l, so hedges are
// ordered with any other caller that mutates positions under l.
func (h *Hedger) SerializeWith(l sync.Locker) *Hedger {
	h.serial = l
	return h
}

// Config returns the hedging configuration.
func (h *Hedger) Config() Config {
	return h.cfg
}

// Restore replays persisted hedge records, oldest first.
func (h *Hedger) Restore(records ...models.HedgeRecord) {
	sorted := append([]models.HedgeRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range sorted {
		h.ledger[r.PositionID] = append(h.ledger[r.PositionID], r)
		h.hedgedAt[r.PositionID] = r.PositionDelta
	}
}

// RequiredHedgeShares returns the shares that neutralize a position-scaled
// delta.
func RequiredHedgeShares(positionGreeks models.Greeks) float64 {
	return -positionGreeks.Delta
}

// State classifies a position given its current position delta.
func (h *Hedger) State(positionID string, currentDelta float64) models.HedgeState {
	h.mu.RLock()
	at, ok := h.hedgedAt[positionID]
	h.mu.RUnlock()
	if !ok {
		return models.HedgeUnhedged
	}
	if h.drifted(currentDelta, at) {
		return models.HedgeStale
	}
	return models.HedgeHedged
}

func (h *Hedger) drifted(current, hedgedAt float64) bool {
	if hedgedAt == 0 {
		return math.Abs(current) > h.cfg.ZeroDeltaEpsilon
	}
	return math.Abs(current/hedgedAt-1) > h.cfg.RehedgeThreshold
}

// Execution is the outcome of ExecuteHedge.
type Execution struct {
	Record   models.HedgeRecord
	State    models.HedgeState
	NetDelta float64
}

// ExecuteHedge trades shares of the underlying at md.Spot against pos,
// appends one hedge record and marks the current position delta as hedged.
// The position is re-read under lock, so a caller copy that predates a
// close cannot hedge.
func (h *Hedger) ExecuteHedge(ctx context.Context, pos models.Position, shares float64, md models.MarketData, now time.Time) (Execution, error) {
	if shares == 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return Execution{}, errors.NewValidationError("shares", shares, "must be non-zero and finite")
	}
	exec, _, err := h.step(ctx, pos.ID, md, now, func(hedgeView) (float64, bool, error) {
		return shares, true, nil
	})
	return exec, err
}

// Neutralize hedges a position and its existing hedge back to delta
// neutral. The shortfall is sized inside the same critical section that
// records it, so concurrent calls never double up.
func (h *Hedger) Neutralize(ctx context.Context, positionID string, md models.MarketData, now time.Time) (Execution, error) {
	exec, _, err := h.step(ctx, positionID, md, now, func(v hedgeView) (float64, bool, error) {
		shares := v.shortfall()
		if shares == 0 {
			return 0, false, errors.NewValidationError("shares", shares, "position is already delta neutral")
		}
		return shares, true, nil
	})
	return exec, err
}

// hedgeView is what a sizing decision sees, read under the ledger lock.
type hedgeView struct {
	PositionDelta float64
	Held          float64
	HedgedAt      float64
	Hedged        bool
}

func (v hedgeView) shortfall() float64 {
	return -(v.PositionDelta + v.Held)
}

// step is one per-position critical section: the position stays open, and
// sizing plus recording happen under the ledger lock. size returns false to
// leave the position alone.
func (h *Hedger) step(ctx context.Context, positionID string, md models.MarketData, now time.Time, size func(hedgeView) (float64, bool, error)) (Execution, bool, error) {
	if h.serial != nil {
		h.serial.Lock()
		defer h.serial.Unlock()
	}

	var exec Execution
	var done bool
	err := h.book.WithOpen(positionID, "hedge", func(pos models.Position) error {
		v, err := portfolio.Valuate(h.calc, pos, md, now)
		if err != nil {
			return err
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		at, hedged := h.hedgedAt[pos.ID]
		view := hedgeView{
			PositionDelta: v.Scaled.Delta,
			Held:          heldShares(h.ledger[pos.ID]),
			HedgedAt:      at,
			Hedged:        hedged,
		}
		shares, ok, err := size(view)
		if err != nil || !ok {
			return err
		}
		exec, err = h.commitLocked(ctx, pos, view, shares, md, now)
		done = err == nil
		return err
	})
	return exec, done, err
}

// commitLocked records one hedge. Caller holds h.mu.
func (h *Hedger) commitLocked(ctx context.Context, pos models.Position, v hedgeView, shares float64, md models.MarketData, now time.Time) (Execution, error) {
	kind := models.HedgeRebalance
	if len(h.ledger[pos.ID]) == 0 {
		kind = models.HedgeInitial
	}
	rec := models.HedgeRecord{
		ID:            uuid.NewString(),
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Shares:        shares,
		Price:         md.Spot,
		Cost:          TransactionCost(shares, md.Spot, h.cfg.CommissionRate, h.cfg.FixedFee),
		Timestamp:     now,
		PositionDelta: v.PositionDelta,
		DeltaBefore:   v.PositionDelta + v.Held,
		DeltaAfter:    v.PositionDelta + v.Held + shares,
		Kind:          kind,
	}

	if h.recorder != nil {
		if err := h.recorder.SaveHedge(ctx, rec); err != nil {
			return Execution{}, errors.Wrapf(err, "recording hedge for position %s", pos.ID)
		}
	}
	h.ledger[pos.ID] = append(h.ledger[pos.ID], rec)
	h.hedgedAt[pos.ID] = v.PositionDelta

	metrics.HedgesExecuted.WithLabelValues(string(kind)).Inc()
	metrics.HedgeCost.Add(rec.Cost)
	logging.LogHedge(h.logger, rec)

	return Execution{
		Record:   rec,
		State:    models.HedgeHedged,
		NetDelta: rec.DeltaAfter,
	}, nil
}

// RehedgeResult reports an AutoRehedge batch.
type RehedgeResult struct {
	Executed []models.HedgeRecord
	Skipped  []models.SkippedItem
}

// Err combines the skipped items' errors, or nil.
func (r RehedgeResult) Err() error {
	return portfolio.SkippedErr(r.Skipped)
}

// AutoRehedge hedges every stale open position back to neutral. Each
// position is an independent critical section in which staleness is
// re-checked, so concurrent batches rehedge a position at most once. A
// failure on one position is reported and the batch continues. Unhedged
// and still-hedged positions, positions with zero delta and positions
// closed since the batch started are left alone.
func (h *Hedger) AutoRehedge(ctx context.Context, now time.Time, market models.MarketSnapshot) RehedgeResult {
	var res RehedgeResult
	for _, pos := range h.book.Open() {
		if ctx.Err() != nil {
			break
		}
		if !h.hasHedged(pos.ID) {
			continue
		}
		md, err := market.Lookup(pos.Symbol, now)
		if err != nil {
			res.Skipped = append(res.Skipped, h.skip(pos, err))
			continue
		}
		exec, done, err := h.step(ctx, pos.ID, md, now, h.rehedgeSize)
		switch {
		case errors.Is(err, errors.ErrAlreadyClosed), errors.Is(err, errors.ErrNotFound):
			continue
		case err != nil:
			res.Skipped = append(res.Skipped, h.skip(pos, err))
		case done:
			res.Executed = append(res.Executed, exec.Record)
		}
	}

	if len(res.Skipped) > 0 {
		metrics.BatchSkips.WithLabelValues("auto_rehedge").Add(float64(len(res.Skipped)))
	}
	h.logger.Info().
		Int("executed", len(res.Executed)).
		Int("skipped", len(res.Skipped)).
		Msg("Auto-rehedge completed")
	return res
}

func (h *Hedger) rehedgeSize(v hedgeView) (float64, bool, error) {
	if !v.Hedged || v.PositionDelta == 0 || !h.drifted(v.PositionDelta, v.HedgedAt) {
		return 0, false, nil
	}
	shares := v.shortfall()
	return shares, shares != 0, nil
}

func (h *Hedger) skip(pos models.Position, err error) models.SkippedItem {
	logging.LogSkip(h.logger, "auto_rehedge", pos.ID, pos.Symbol, err)
	return models.NewSkippedItem(pos.ID, pos.Symbol, err)
}

func (h *Hedger) hasHedged(positionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.hedgedAt[positionID]
	return ok
}

// Records returns the hedge records of a position, oldest first.
func (h *Hedger) Records(positionID string) []models.HedgeRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.HedgeRecord(nil), h.ledger[positionID]...)
}

// AllRecords returns every hedge record ordered by timestamp.
func (h *Hedger) AllRecords() []models.HedgeRecord {
	h.mu.RLock()
	var out []models.HedgeRecord
	for _, recs := range h.ledger {
		out = append(out, recs...)
	}
	h.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// HeldShares returns the net shares held against a position.
func (h *Hedger) HeldShares(positionID string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return heldShares(h.ledger[positionID])
}

func heldShares(recs []models.HedgeRecord) float64 {
	var total float64
	for _, r := range recs {
		total += r.Shares
	}
	return total
}
