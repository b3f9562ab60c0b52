package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/config"
	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/hedging"
	"options-risk-engine/internal/marketdata"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/notify"
	"options-risk-engine/internal/pricing"
	"options-risk-engine/internal/store"
)

var testNow = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

type recordingChannel struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingChannel) Name() string    { return "test" }
func (r *recordingChannel) IsEnabled() bool { return true }
func (r *recordingChannel) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingChannel) types() []notify.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.NotificationType, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Type)
	}
	return out
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, st store.DataStore, limits ...models.RiskLimit) (*Engine, *recordingChannel) {
	t.Helper()
	provider := marketdata.NewStaticProvider(
		models.MarketData{Symbol: "AAPL", Spot: 150, Volatility: 0.25, Rate: 0.05},
		models.MarketData{Symbol: "SPY", Spot: 500, Volatility: 0.15, Rate: 0.05},
	)
	rec := &recordingChannel{}
	mn := notify.NewMultiNotifier(config.NotificationConfig{Enabled: true})
	mn.AddChannel(rec)

	e, err := New(Options{
		Store:         st,
		Provider:      provider,
		Notifier:      mn,
		Hedging:       hedging.DefaultConfig(),
		Limits:        limits,
		ExpiryWarning: 7 * 24 * time.Hour,
		Logger:        zerolog.Nop(),
		Clock:         func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return e, rec
}

func shortCall(symbol string, strike float64, qty int) models.Position {
	return models.Position{
		Symbol:       symbol,
		Kind:         models.Call,
		Strike:       strike,
		Expiry:       testNow.AddDate(0, 0, 30),
		Quantity:     qty,
		EntryPremium: 3.5,
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Provider: marketdata.NewStaticProvider()})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	_, err = New(Options{Store: st, Provider: marketdata.NewStaticProvider(), Limits: []models.RiskLimit{{Name: "g", Metric: "gamma"}}})
	assert.ErrorIs(t, err, errors.ErrUnknownLimitMetric)
}

func TestOpenPosition_PersistsAndFillsEntryDefaults(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, _ := newTestEngine(t, st)
	ctx := context.Background()

	pos, err := e.OpenPosition(ctx, shortCall("aapl", 150, -10))
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, "AAPL", pos.Symbol)
	assert.Equal(t, 150.0, pos.EntrySpot)
	assert.Equal(t, 0.25, pos.EntryVolatility)
	assert.Equal(t, models.DefaultMultiplier, pos.Multiplier)
	assert.True(t, testNow.Equal(pos.EntryTime))

	saved, err := st.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.Strike, saved.Strike)
	assert.Equal(t, models.StatusOpen, saved.Status)

	dup := shortCall("AAPL", 150, -1)
	dup.ID = pos.ID
	_, err = e.OpenPosition(ctx, dup)
	assert.ErrorIs(t, err, errors.ErrInvalidPosition)

	_, err = e.OpenPosition(ctx, models.Position{Symbol: "AAPL", Kind: models.Call, Strike: 150, Expiry: testNow.AddDate(0, 0, 30)})
	assert.ErrorIs(t, err, errors.ErrInvalidPosition, "zero quantity")
	assert.Len(t, e.Positions(""), 1)
}

func TestClosePosition_DefaultsToModelPriceAndQuoteSpot(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, _ := newTestEngine(t, st)
	ctx := context.Background()

	pos, err := e.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)

	closed, err := e.ClosePosition(ctx, pos.ID, nil, nil)
	require.NoError(t, err)
	md := models.MarketData{Symbol: "AAPL", Spot: 150, Volatility: 0.25, Rate: 0.05}
	want, err := pricing.Price(pos.Params(md, testNow))
	require.NoError(t, err)
	require.NotNil(t, closed.ClosePrice)
	assert.InDelta(t, want, *closed.ClosePrice, 1e-9)
	require.NotNil(t, closed.CloseSpot)
	assert.Equal(t, 150.0, *closed.CloseSpot)

	saved, err := st.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, saved.Status)

	price := 1.0
	_, err = e.ClosePosition(ctx, pos.ID, &price, nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyClosed)
	_, err = e.ClosePosition(ctx, "missing", &price, nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestHedge_ToNeutralAndNotified(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, rec := newTestEngine(t, st)
	ctx := context.Background()

	pos, err := e.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)

	exec, err := e.Hedge(ctx, pos.ID, nil)
	require.NoError(t, err)
	assert.Greater(t, exec.Record.Shares, 0.0, "short calls are hedged by buying stock")
	assert.InDelta(t, 0, exec.NetDelta, 1e-9)
	assert.Equal(t, models.HedgeInitial, exec.Record.Kind)

	req, err := e.HedgeRequirement(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, req.RequiredShares, 1e-9)
	assert.Equal(t, models.HedgeHedged, req.State)

	hedges, err := st.GetHedges(ctx, store.HedgeFilter{PositionID: pos.ID})
	require.NoError(t, err)
	require.Len(t, hedges, 1)
	assert.Equal(t, exec.Record.ID, hedges[0].ID)

	assert.Equal(t, []notify.NotificationType{notify.NotificationHedge}, rec.types())
}

func TestHedge_ConcurrentWithCloseHedgesAtMostOnce(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, _ := newTestEngine(t, st)
	ctx := context.Background()

	pos, err := e.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)

	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			_, _ = e.Hedge(ctx, pos.ID, nil)
		})
	}
	var closeErr error
	price := 3.0
	wg.Go(func() {
		_, closeErr = e.ClosePosition(ctx, pos.ID, &price, nil)
	})
	wg.Wait()
	require.NoError(t, closeErr)

	hedges, err := st.GetHedges(ctx, store.HedgeFilter{PositionID: pos.ID})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hedges), 1, "neutralizing twice would overshoot")
	for _, h := range hedges {
		assert.InDelta(t, 0, h.DeltaAfter, 1e-9)
	}

	_, err = e.Hedge(ctx, pos.ID, nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyClosed)
	after, err := st.GetHedges(ctx, store.HedgeFilter{PositionID: pos.ID})
	require.NoError(t, err)
	assert.Len(t, after, len(hedges))
}

func TestLoad_RestoresStateAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.db")
	ctx := context.Background()

	first, _ := newTestEngine(t, openStore(t, path))
	pos, err := first.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)
	_, err = first.Hedge(ctx, pos.ID, nil)
	require.NoError(t, err)
	price := 2.0
	_, err = first.ClosePosition(ctx, pos.ID, &price, nil)
	require.NoError(t, err)
	_, _, err = first.Snapshot(ctx)
	require.NoError(t, err)
	before, err := first.PositionPnL(ctx, pos.ID)
	require.NoError(t, err)

	second, _ := newTestEngine(t, openStore(t, path))
	require.NoError(t, second.Load(ctx))

	closed := second.Positions(models.StatusClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, pos.ID, closed[0].ID)

	after, err := second.PositionPnL(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, before.PnL.TotalPnL, after.PnL.TotalPnL, 1e-9)

	history, err := second.HedgeHistory(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, history.Lines, 1)
	assert.Equal(t, 150.0, history.Spot)

	assert.Len(t, second.History("", time.Time{}), 1)
	assert.Equal(t, 1, second.Performance().Trades)
}

func TestCheckRisk_PersistsAndNotifiesBreaches(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, rec := newTestEngine(t, st,
		models.RiskLimit{Name: "desk delta", Metric: models.MetricDelta, Threshold: 100},
		models.RiskLimit{Name: "size", Metric: models.MetricPositionSize, Threshold: 1000},
	)
	ctx := context.Background()

	report, err := e.CheckRisk(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Breaches, "empty book breaches nothing")

	_, err = e.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)

	report, err = e.CheckRisk(ctx)
	require.NoError(t, err)
	require.Len(t, report.Breaches, 1)
	assert.Equal(t, "desk delta", report.Breaches[0].LimitName)

	saved, err := st.GetBreaches(ctx, store.BreachFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.SeverityHigh, saved[0].Severity)
	assert.Equal(t, []notify.NotificationType{notify.NotificationBreach}, rec.types())

	_, err = e.CheckRiskWith(ctx, []models.RiskLimit{{Name: "g", Metric: "gamma", Threshold: 1}})
	assert.ErrorIs(t, err, errors.ErrUnknownLimitMetric)
}

func TestExpireDue_PersistsAndSkipsUnquoted(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, _ := newTestEngine(t, st)
	ctx := context.Background()

	due := shortCall("AAPL", 140, -5)
	due.EntryTime = testNow.AddDate(0, 0, -30)
	due.Expiry = testNow.Add(-time.Hour)
	due.EntrySpot, due.EntryVolatility = 140, 0.2
	expiring, err := e.OpenPosition(ctx, due)
	require.NoError(t, err)

	unquoted := due
	unquoted.Symbol = "TSLA"
	unquoted.EntrySpot = 200
	_, err = e.OpenPosition(ctx, unquoted)
	require.NoError(t, err)

	res, err := e.ExpireDue(ctx)
	require.NoError(t, err)
	require.Len(t, res.Expired, 1)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "TSLA", res.Skipped[0].Symbol)

	saved, err := st.GetPosition(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, saved.Status)
	require.NotNil(t, saved.ClosePrice)
	assert.Equal(t, 10.0, *saved.ClosePrice, "expired at intrinsic")

	again, err := e.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Expired)
}

func TestRunCycle_CompletesEveryStep(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "e.db"))
	e, rec := newTestEngine(t, st, models.RiskLimit{Name: "desk delta", Metric: models.MetricDelta, Threshold: 100})
	ctx := context.Background()

	soon := shortCall("SPY", 500, -2)
	soon.Expiry = testNow.AddDate(0, 0, 3)
	_, err := e.OpenPosition(ctx, soon)
	require.NoError(t, err)
	_, err = e.OpenPosition(ctx, shortCall("AAPL", 150, -10))
	require.NoError(t, err)

	cycle, err := e.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, cycle.Risk.Breaches, 1)
	assert.NotEmpty(t, cycle.Snapshot.ID)
	require.Len(t, cycle.Expiring, 1)
	assert.Equal(t, "SPY", cycle.Expiring[0].Symbol)
	assert.Empty(t, cycle.Rehedge.Executed, "nothing was hedged before")

	snaps, err := st.GetSnapshots(ctx, store.SnapshotFilter{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, []notify.NotificationType{notify.NotificationBreach, notify.NotificationExpiring}, rec.types())
}
