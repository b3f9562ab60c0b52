// Package engine wires the risk components to persistence, market data and
// notifications. Every state change is persisted before it becomes visible
// in memory, except expiry which is idempotent and re-applied on the next
// run if persisting fails.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"options-risk-engine/internal/config"
	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/hedging"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/marketdata"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/notify"
	"options-risk-engine/internal/pnl"
	"options-risk-engine/internal/portfolio"
	"options-risk-engine/internal/pricing"
	"options-risk-engine/internal/risk"
	"options-risk-engine/internal/store"
)

// Options configures an Engine.
type Options struct {
	Store    store.DataStore
	Provider marketdata.Provider
	// Notifier is optional.
	Notifier      notify.Notifier
	Hedging       hedging.Config
	Solver        pricing.Solver
	Limits        []models.RiskLimit
	Multiplier    int
	MaxQuoteAge   time.Duration
	ExpiryWarning time.Duration
	Logger        zerolog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// OptionsFromConfig builds engine options from the loaded configuration.
// Quotes come from the configured static quotes behind a TTL cache.
func OptionsFromConfig(cfg *config.Config, st store.DataStore, logger zerolog.Logger) (Options, error) {
	provider, err := marketdata.NewCachingProvider(
		marketdata.NewStaticProvider(cfg.MarketQuotes()...), cfg.CacheTTL(), logger)
	if err != nil {
		return Options{}, err
	}

	mn := notify.NewMultiNotifier(cfg.Notifications)
	mn.AddChannel(notify.NewLogNotifier(logger))

	return Options{
		Store:         st,
		Provider:      provider,
		Notifier:      mn,
		Hedging:       cfg.HedgerConfig(),
		Solver:        pricing.DefaultSolver(),
		Limits:        cfg.RiskLimits(),
		Multiplier:    cfg.Engine.Multiplier,
		MaxQuoteAge:   cfg.MaxQuoteAge(),
		ExpiryWarning: cfg.ExpiryWarningWindow(),
		Logger:        logger,
	}, nil
}

// Engine is the application facade over the risk components.
type Engine struct {
	store    store.DataStore
	provider marketdata.Provider
	notifier notify.Notifier

	pricer  *pricing.Engine
	calc    *greeks.Calculator
	book    *portfolio.Aggregator
	hedger  *hedging.Hedger
	tracker *pnl.Tracker
	risk    *risk.Manager

	limits        []models.RiskLimit
	multiplier    int
	maxQuoteAge   time.Duration
	expiryWarning time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	// lifecycle serializes check-persist-apply sequences on positions and
	// each per-position hedge step.
	lifecycle sync.Mutex
}

// New creates an engine. Store and Provider are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("store", nil, "is required")
	}
	if opts.Provider == nil {
		return nil, errors.NewValidationError("provider", nil, "is required")
	}
	if err := risk.ValidateLimits(opts.Limits); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = models.DefaultMultiplier
	}
	if opts.Solver == (pricing.Solver{}) {
		opts.Solver = pricing.DefaultSolver()
	}

	logger := opts.Logger
	calc := greeks.NewCalculator()
	book := portfolio.NewAggregator(calc, logger)
	hedger := hedging.NewHedger(opts.Hedging, book, calc, opts.Store, logger)

	e := &Engine{
		store:         opts.Store,
		provider:      opts.Provider,
		notifier:      opts.Notifier,
		pricer:        pricing.NewEngine(opts.Solver, logger),
		calc:          calc,
		book:          book,
		hedger:        hedger,
		tracker:       pnl.NewTracker(book, hedger, calc, opts.Store, logger),
		risk:          risk.NewManager(book, hedger, calc, logger),
		limits:        opts.Limits,
		multiplier:    opts.Multiplier,
		maxQuoteAge:   opts.MaxQuoteAge,
		expiryWarning: opts.ExpiryWarning,
		logger:        logging.WithComponent(logger, "engine"),
		now:           opts.Clock,
	}
	hedger.SerializeWith(&e.lifecycle)
	return e, nil
}

// Load restores positions, hedge records and P&L snapshots from the store.
func (e *Engine) Load(ctx context.Context) error {
	positions, err := e.store.GetPositions(ctx, store.PositionFilter{})
	if err != nil {
		return errors.Wrap(err, "loading positions")
	}
	hedges, err := e.store.GetHedges(ctx, store.HedgeFilter{})
	if err != nil {
		return errors.Wrap(err, "loading hedges")
	}
	snaps, err := e.store.GetSnapshots(ctx, store.SnapshotFilter{})
	if err != nil {
		return errors.Wrap(err, "loading snapshots")
	}

	e.book.Restore(positions...)
	e.hedger.Restore(hedges...)
	e.tracker.Restore(snaps...)

	e.logger.Info().
		Int("positions", len(positions)).
		Int("hedges", len(hedges)).
		Int("snapshots", len(snaps)).
		Msg("State restored")
	return nil
}

// Pricer returns the pricing engine.
func (e *Engine) Pricer() *pricing.Engine { return e.pricer }

// Calculator returns the Greeks calculator.
func (e *Engine) Calculator() *greeks.Calculator { return e.calc }

// Limits returns the configured risk limits.
func (e *Engine) Limits() []models.RiskLimit {
	return append([]models.RiskLimit(nil), e.limits...)
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Market fetches quotes for symbols, or for every underlying in the book
// when none are given. Symbols without a quote are absent from the result.
func (e *Engine) Market(ctx context.Context, symbols ...string) (models.MarketSnapshot, error) {
	if len(symbols) == 0 {
		symbols = e.book.Symbols()
	}
	return marketdata.Snapshot(ctx, e.provider, symbols, e.maxQuoteAge, e.logger)
}

// Quote returns a usable quote for one underlying.
func (e *Engine) Quote(ctx context.Context, symbol string) (models.MarketData, error) {
	market, err := e.Market(ctx, symbol)
	if err != nil {
		return models.MarketData{}, err
	}
	return market.Lookup(symbol, e.now())
}

// Positions returns the book in insertion order, optionally filtered by
// status.
func (e *Engine) Positions(status models.PositionStatus) []models.Position {
	all := e.book.Snapshot()
	if status == "" {
		return all
	}
	out := make([]models.Position, 0, len(all))
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// Position returns one position.
func (e *Engine) Position(id string) (models.Position, error) {
	return e.book.Get(id)
}

// OpenPosition books and persists a new position. Missing entry spot and
// volatility are taken from the current quote when one is available.
func (e *Engine) OpenPosition(ctx context.Context, pos models.Position) (models.Position, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	now := e.now()
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	if pos.Multiplier == 0 {
		pos.Multiplier = e.multiplier
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = now
	}
	if pos.Status == "" {
		pos.Status = models.StatusOpen
	}
	if pos.EntrySpot == 0 || pos.EntryVolatility == 0 {
		if md, err := e.Quote(ctx, pos.Symbol); err == nil {
			if pos.EntrySpot == 0 {
				pos.EntrySpot = md.Spot
			}
			if pos.EntryVolatility == 0 {
				pos.EntryVolatility = md.Volatility
			}
		} else {
			e.logger.Debug().Err(err).Str("symbol", pos.Symbol).Msg("No quote for entry defaults")
		}
	}

	if pos.Status != models.StatusOpen {
		return models.Position{}, errors.NewPositionValidationError("status", pos.Status, "new positions must be open")
	}
	if err := pos.Validate(); err != nil {
		return models.Position{}, err
	}
	if _, err := e.book.Get(pos.ID); err == nil {
		return models.Position{}, errors.NewPositionValidationError("id", pos.ID, "already exists")
	}

	if err := e.store.SavePosition(ctx, pos); err != nil {
		return models.Position{}, err
	}
	return e.book.Add(pos)
}

// ClosePosition closes an open position. A nil price closes at the current
// model value; a nil spot uses the current quote when available, which
// freezes the position's hedge P&L at that level.
func (e *Engine) ClosePosition(ctx context.Context, id string, price, spot *float64) (models.Position, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	now := e.now()
	pos, err := e.book.Get(id)
	if err != nil {
		return models.Position{}, err
	}
	if !pos.IsOpen() {
		return models.Position{}, errors.NewPositionError(id, "close", errors.ErrAlreadyClosed)
	}

	md, quoteErr := e.Quote(ctx, pos.Symbol)
	if spot == nil && quoteErr == nil {
		s := md.Spot
		spot = &s
	}
	if price == nil {
		if quoteErr != nil {
			return models.Position{}, quoteErr
		}
		v, err := portfolio.Valuate(e.calc, pos, md, now)
		if err != nil {
			return models.Position{}, err
		}
		p := v.Price
		price = &p
	}

	closed, err := pos.Close(*price, spot, now)
	if err != nil {
		return models.Position{}, err
	}
	if err := e.store.SavePosition(ctx, closed); err != nil {
		return models.Position{}, err
	}
	if spot != nil {
		return e.book.CloseAtSpot(id, *price, *spot, now)
	}
	return e.book.Close(id, *price, now)
}

// ExpireDue expires every open position at or past expiry and persists the
// transitions. Positions without market data stay open and are reported.
func (e *Engine) ExpireDue(ctx context.Context) (portfolio.ExpiryResult, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	market, err := e.Market(ctx)
	if err != nil {
		return portfolio.ExpiryResult{}, err
	}
	res := e.book.ExpireDue(e.now(), market)

	var saveErr error
	for _, pos := range res.Expired {
		saveErr = multierr.Append(saveErr, e.store.SavePosition(ctx, pos))
	}
	return res, saveErr
}

// Expiring returns open positions expiring within the warning window and
// notifies about them.
func (e *Engine) Expiring(ctx context.Context) []models.Position {
	now := e.now()
	soon := e.book.ExpiringWithin(now, e.expiryWarning)
	if e.notifier != nil {
		e.notifyErr(e.notifier.SendExpiring(ctx, soon, now), "expiry warning")
	}
	return soon
}

// Greeks revalues the open book.
func (e *Engine) Greeks(ctx context.Context) (portfolio.GreeksReport, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return portfolio.GreeksReport{}, err
	}
	return e.book.PortfolioGreeks(e.now(), market), nil
}

// Exposure groups the open book by underlying.
func (e *Engine) Exposure(ctx context.Context) (portfolio.UnderlyingReport, error) {
	report, err := e.Greeks(ctx)
	if err != nil {
		return portfolio.UnderlyingReport{}, err
	}
	return portfolio.GroupByUnderlying(report), nil
}

// Summary returns the headline view of the book.
func (e *Engine) Summary(ctx context.Context) (portfolio.Summary, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return portfolio.Summary{}, err
	}
	return e.book.Summary(e.now(), market), nil
}

func (e *Engine) notifyErr(err error, what string) {
	if err != nil {
		e.logger.Warn().Err(err).Str("notification", what).Msg("Notification failed")
	}
}
