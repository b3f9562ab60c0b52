// Package portfolio owns the live position set and rolls position Greeks up
// into portfolio exposures.
package portfolio

import (
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
)

// Aggregator holds every position booked in this process. Mutations take the
// write lock for their full duration; reads copy under the read lock so they
// never observe a position mid-transition.
type Aggregator struct {
	mu        sync.RWMutex
	positions map[string]models.Position
	order     []string

	calc   *greeks.Calculator
	logger zerolog.Logger
}

// NewAggregator creates an empty aggregator.
func NewAggregator(calc *greeks.Calculator, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		positions: make(map[string]models.Position),
		calc:      calc,
		logger:    logging.WithComponent(logger, "portfolio"),
	}
}

// Add books a new open position. An empty ID is replaced by a UUID and a zero
// multiplier by the default.
func (a *Aggregator) Add(pos models.Position) (models.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.Multiplier == 0 {
		pos.Multiplier = models.DefaultMultiplier
	}
	if pos.Status == "" {
		pos.Status = models.StatusOpen
	}
	if pos.Status != models.StatusOpen {
		return models.Position{}, errors.NewPositionValidationError("status", pos.Status, "new positions must be open")
	}
	if err := pos.Validate(); err != nil {
		return models.Position{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.positions[pos.ID]; exists {
		return models.Position{}, errors.NewPositionValidationError("id", pos.ID, "already exists")
	}
	a.positions[pos.ID] = pos
	a.order = append(a.order, pos.ID)
	metrics.OpenPositions.Set(float64(a.countOpenLocked()))

	a.logger.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("kind", string(pos.Kind)).
		Float64("strike", pos.Strike).
		Int("quantity", pos.Quantity).
		Msg("Position added")
	return pos, nil
}

// Restore loads previously persisted positions of any status. Existing IDs
// are replaced.
func (a *Aggregator) Restore(positions ...models.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pos := range positions {
		if _, exists := a.positions[pos.ID]; !exists {
			a.order = append(a.order, pos.ID)
		}
		a.positions[pos.ID] = pos
	}
	metrics.OpenPositions.Set(float64(a.countOpenLocked()))
}

// Close transitions an open position to closed at closePrice per share.
func (a *Aggregator) Close(id string, closePrice float64, at time.Time) (models.Position, error) {
	return a.close(id, closePrice, nil, at)
}

// CloseAtSpot closes a position and records the underlying spot, which
// freezes the position's hedge P&L.
func (a *Aggregator) CloseAtSpot(id string, closePrice, spot float64, at time.Time) (models.Position, error) {
	return a.close(id, closePrice, &spot, at)
}

func (a *Aggregator) close(id string, closePrice float64, spot *float64, at time.Time) (models.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.positions[id]
	if !ok {
		return models.Position{}, errors.NewPositionError(id, "close", errors.ErrNotFound)
	}
	closed, err := pos.Close(closePrice, spot, at)
	if err != nil {
		return models.Position{}, err
	}
	a.positions[id] = closed
	metrics.OpenPositions.Set(float64(a.countOpenLocked()))

	a.logger.Info().
		Str("position_id", id).
		Float64("close_price", closePrice).
		Msg("Position closed")
	return closed, nil
}

// ExpiryResult lists what ExpireDue changed and what it could not value.
type ExpiryResult struct {
	Expired []models.Position
	Skipped []models.SkippedItem
}

// ExpireDue expires every open position whose expiry is at or before now,
// valuing each at intrinsic. ClosedAt is the processing time, so a late run
// still lands in that day's realized P&L. Positions without market data stay
// open and are reported. Calling it again with the same now changes nothing
// further.
func (a *Aggregator) ExpireDue(now time.Time, market models.MarketSnapshot) ExpiryResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res ExpiryResult
	for _, id := range a.order {
		pos := a.positions[id]
		if !pos.IsOpen() || pos.Expiry.After(now) {
			continue
		}
		md, err := market.Lookup(pos.Symbol, now)
		if err != nil {
			res.Skipped = append(res.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
			continue
		}
		expired, err := pos.Expire(md.Spot, now)
		if err != nil {
			res.Skipped = append(res.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
			continue
		}
		a.positions[id] = expired
		res.Expired = append(res.Expired, expired)
	}

	if len(res.Skipped) > 0 {
		metrics.BatchSkips.WithLabelValues("expire_due").Add(float64(len(res.Skipped)))
		a.logger.Warn().Int("skipped", len(res.Skipped)).Msg("Expiring positions without market data")
	}
	if len(res.Expired) > 0 {
		metrics.OpenPositions.Set(float64(a.countOpenLocked()))
		a.logger.Info().Int("expired", len(res.Expired)).Msg("Positions expired")
	}
	return res
}

// Get returns a position by ID.
func (a *Aggregator) Get(id string) (models.Position, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.positions[id]
	if !ok {
		return models.Position{}, errors.NewPositionError(id, "get", errors.ErrNotFound)
	}
	return pos, nil
}

// WithOpen runs fn on the current copy of an open position while holding
// the read lock, so no close or expiry lands until fn returns. fn must not
// call back into the aggregator.
func (a *Aggregator) WithOpen(id, op string, fn func(models.Position) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.positions[id]
	if !ok {
		return errors.NewPositionError(id, op, errors.ErrNotFound)
	}
	if !pos.IsOpen() {
		return errors.NewPositionError(id, op, errors.ErrAlreadyClosed)
	}
	return fn(pos)
}

// Snapshot returns every position in insertion order.
func (a *Aggregator) Snapshot() []models.Position {
	return a.filter(func(models.Position) bool { return true })
}

// Open returns open positions in insertion order.
func (a *Aggregator) Open() []models.Position {
	return a.filter(models.Position.IsOpen)
}

// Closed returns closed and expired positions in insertion order.
func (a *Aggregator) Closed() []models.Position {
	return a.filter(func(p models.Position) bool { return !p.IsOpen() })
}

// ExpiringWithin returns open positions expiring in (now, now+window].
func (a *Aggregator) ExpiringWithin(now time.Time, window time.Duration) []models.Position {
	cutoff := now.Add(window)
	out := a.filter(func(p models.Position) bool {
		return p.IsOpen() && !p.Expiry.After(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Expiry.Before(out[j].Expiry) })
	return out
}

// Symbols returns the distinct underlyings of open positions.
func (a *Aggregator) Symbols() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range a.Open() {
		if _, ok := seen[p.Symbol]; !ok {
			seen[p.Symbol] = struct{}{}
			out = append(out, p.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

func (a *Aggregator) filter(keep func(models.Position) bool) []models.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Position, 0, len(a.order))
	for _, id := range a.order {
		if p := a.positions[id]; keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (a *Aggregator) countOpenLocked() int {
	n := 0
	for _, p := range a.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// Calculator returns the Greeks calculator used for valuation.
func (a *Aggregator) Calculator() *greeks.Calculator {
	return a.calc
}
