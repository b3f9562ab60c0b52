package pnl

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
	"options-risk-engine/internal/pricing"
)

var testNow = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

type mapLedger map[string][]models.HedgeRecord

func (l mapLedger) Records(id string) []models.HedgeRecord {
	return l[id]
}

type memRecorder struct {
	saved []models.PnLSnapshot
	err   error
}

func (r *memRecorder) SaveSnapshot(_ context.Context, s models.PnLSnapshot) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, s)
	return nil
}

func shortCall(symbol string, qty int) models.Position {
	return models.Position{
		ID:              symbol + "-call",
		Symbol:          symbol,
		Kind:            models.Call,
		Strike:          150,
		Expiry:          testNow.AddDate(0, 0, 30),
		Quantity:        qty,
		Multiplier:      100,
		EntryPremium:    3.5,
		EntryVolatility: 0.25,
		EntrySpot:       150,
		EntryTime:       testNow.AddDate(0, 0, -5),
		Status:          models.StatusOpen,
	}
}

func hedge(positionID string, shares, price float64) models.HedgeRecord {
	return models.HedgeRecord{
		PositionID: positionID,
		Shares:     shares,
		Price:      price,
		Cost:       math.Abs(shares) * price * 0.005,
		Timestamp:  testNow.Add(-time.Hour),
	}
}

func TestComputePositionPnL_SellerAndBuyer(t *testing.T) {
	short := shortCall("AAPL", -10)
	res := ComputePositionPnL(short, 2.0, 150, nil, testNow)
	assert.InDelta(t, 1500, res.OptionPnL, 1e-9, "premium collected minus current value")
	assert.InDelta(t, 1500, res.TotalPnL, 1e-9)
	assert.InDelta(t, 3500, res.PremiumNotional, 1e-9)
	assert.InDelta(t, 1500.0/3500*100, res.ROI, 1e-9)
	assert.Equal(t, 153.5, res.Breakeven)
	assert.Equal(t, 5, res.DaysHeld)
	assert.True(t, res.Short)
	assert.False(t, res.Realized())

	long := shortCall("AAPL", 2)
	long.EntryPremium = 3
	res = ComputePositionPnL(long, 5, 150, nil, testNow)
	assert.InDelta(t, 400, res.TotalPnL, 1e-9, "current value minus premium paid")
}

func TestComputePositionPnL_IncludesHedges(t *testing.T) {
	pos := shortCall("AAPL", -10)
	hedges := []models.HedgeRecord{hedge(pos.ID, 500, 150)}

	res := ComputePositionPnL(pos, 2.0, 152, hedges, testNow)
	assert.InDelta(t, 1000, res.HedgePnL, 1e-9)
	assert.InDelta(t, 375, res.TransactionCost, 1e-9)
	assert.InDelta(t, 500, res.HedgeShares, 1e-9)
	assert.InDelta(t, 1500+1000-375, res.TotalPnL, 1e-9)
}

func TestComputePositionPnL_ClosedIsFrozen(t *testing.T) {
	pos := shortCall("AAPL", -10)
	hedges := []models.HedgeRecord{hedge(pos.ID, 500, 150)}
	spot := 155.0
	closed, err := pos.Close(1.0, &spot, testNow.Add(-time.Hour))
	require.NoError(t, err)

	a := ComputePositionPnL(closed, 9.9, 170, hedges, testNow)
	b := ComputePositionPnL(closed, 0, 120, hedges, testNow.AddDate(0, 0, 3))
	assert.InDelta(t, 2500+2500-375, a.TotalPnL, 1e-9)
	assert.Equal(t, a.TotalPnL, b.TotalPnL, "closed P&L must not move with the market")
	assert.True(t, a.Realized())
	assert.Equal(t, 1.0, a.OptionPrice)
}

func TestComputePerformance_NoLossesSentinel(t *testing.T) {
	perf := ComputePerformance([]PositionPnL{{TotalPnL: 100}, {TotalPnL: 50}}, nil)
	assert.True(t, perf.NoLosses)
	assert.True(t, math.IsInf(perf.ProfitFactor, 1))
	assert.Equal(t, 1.0, perf.WinRate)
	assert.InDelta(t, 75, perf.AverageWin, 1e-9)
	assert.False(t, perf.SharpeDefined)

	empty := ComputePerformance(nil, nil)
	assert.True(t, empty.NoLosses)
	assert.Zero(t, empty.WinRate)
}

func TestComputePerformance_Ratios(t *testing.T) {
	perf := ComputePerformance([]PositionPnL{{TotalPnL: 300}, {TotalPnL: -100}, {TotalPnL: -50}, {TotalPnL: 0}}, nil)
	assert.Equal(t, 4, perf.Trades)
	assert.Equal(t, 1, perf.Wins)
	assert.Equal(t, 2, perf.Losses)
	assert.InDelta(t, 0.25, perf.WinRate, 1e-12)
	assert.InDelta(t, 2.0, perf.ProfitFactor, 1e-12)
	assert.False(t, perf.NoLosses)
	assert.InDelta(t, 75, perf.AverageLoss, 1e-12)
	assert.InDelta(t, 150, perf.NetPnL, 1e-12)
}

func TestComputePerformance_Sharpe(t *testing.T) {
	series := []models.PnLSnapshot{
		{TotalPnL: 0}, {TotalPnL: 100}, {PositionID: "p1", TotalPnL: 9999}, {TotalPnL: 150}, {TotalPnL: 300},
	}
	perf := ComputePerformance(nil, series)
	require.True(t, perf.SharpeDefined)
	assert.Equal(t, 3, perf.Periods)
	assert.InDelta(t, 2.0, perf.Sharpe, 1e-12)

	flat := ComputePerformance(nil, []models.PnLSnapshot{{TotalPnL: 0}, {TotalPnL: 100}, {TotalPnL: 200}})
	assert.False(t, flat.SharpeDefined, "zero deviation is undefined, not zero")
}

func newTestTracker(ledger mapLedger, rec SnapshotRecorder) (*portfolio.Aggregator, *Tracker) {
	calc := greeks.NewCalculator()
	agg := portfolio.NewAggregator(calc, zerolog.Nop())
	return agg, NewTracker(agg, ledger, calc, rec, zerolog.Nop())
}

func TestPortfolioPnL_RealizedTodayOnly(t *testing.T) {
	ledger := mapLedger{}
	agg, tr := newTestTracker(ledger, nil)

	open, err := agg.Add(shortCall("AAPL", -10))
	require.NoError(t, err)
	today, _ := agg.Add(shortCall("MSFT", -10))
	yesterday, _ := agg.Add(shortCall("SPY", -10))
	missing, _ := agg.Add(shortCall("TSLA", -1))
	_, err = agg.Close(today.ID, 2.0, testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = agg.Close(yesterday.ID, 1.0, testNow.AddDate(0, 0, -1))
	require.NoError(t, err)

	md := models.MarketData{Symbol: "AAPL", Spot: 150, Volatility: 0.25, Rate: 0.05}
	p := tr.PortfolioPnL(testNow, models.NewMarketSnapshot(0, md))

	require.Len(t, p.Skipped, 1)
	assert.Equal(t, missing.ID, p.Skipped[0].PositionID)
	assert.ErrorIs(t, p.Err(), errors.ErrMarketDataUnavailable)
	require.Len(t, p.Positions, 2)
	assert.InDelta(t, 1500, p.Realized, 1e-9)

	price, err := pricing.Price(open.Params(md, testNow))
	require.NoError(t, err)
	assert.InDelta(t, (3.5-price)*1000, p.Unrealized, 1e-6)
	assert.InDelta(t, p.Realized+p.Unrealized, p.Total, 1e-9)
	assert.Less(t, p.Greeks.Delta, 0.0)
}

func TestPortfolioPnL_LateExpiryIsRealizedWhenProcessed(t *testing.T) {
	agg, tr := newTestTracker(mapLedger{}, nil)

	pos := shortCall("AAPL", -10)
	pos.Expiry = testNow.AddDate(0, 0, -1)
	_, err := agg.Add(pos)
	require.NoError(t, err)

	md := models.MarketData{Symbol: "AAPL", Spot: 140, Volatility: 0.25, Rate: 0.05}
	market := models.NewMarketSnapshot(0, md)
	res := agg.ExpireDue(testNow, market)
	require.Len(t, res.Expired, 1)

	p := tr.PortfolioPnL(testNow, market)
	require.Len(t, p.Positions, 1)
	assert.InDelta(t, 3.5*1000, p.Realized, 1e-9, "worthless short call keeps the premium")
	assert.Equal(t, 4, p.Positions[0].DaysHeld, "days held stop at expiry")
}

func TestPosition_Attribution(t *testing.T) {
	agg, tr := newTestTracker(mapLedger{}, nil)
	pos, _ := agg.Add(shortCall("AAPL", -10))

	market := models.NewMarketSnapshot(0, models.MarketData{Symbol: "AAPL", Spot: 155, Volatility: 0.25, Rate: 0.05})
	rep, err := tr.Position(pos.ID, testNow, market)
	require.NoError(t, err)
	require.NotNil(t, rep.Greeks)
	require.NotNil(t, rep.Attribution)
	assert.InDelta(t, rep.Greeks.Delta*5, rep.Attribution.DeltaPnL, 1e-9)
	assert.InDelta(t, rep.PnL.OptionPnL, rep.Attribution.ThetaPnL+rep.Attribution.DeltaPnL+rep.Attribution.Unexplained, 1e-9)
	assert.Greater(t, rep.Attribution.ThetaPnL, 0.0, "short options earn theta")

	_, err = tr.Position("nope", testNow, market)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSnapshot_AppendOnlyAndRecorded(t *testing.T) {
	rec := &memRecorder{}
	agg, tr := newTestTracker(mapLedger{}, rec)
	pos, _ := agg.Add(shortCall("AAPL", -10))
	market := models.NewMarketSnapshot(0, models.MarketData{Symbol: "AAPL", Spot: 150, Volatility: 0.25, Rate: 0.05})

	first, skipped, err := tr.Snapshot(context.Background(), testNow, market)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.True(t, first.IsPortfolio())
	second, _, err := tr.Snapshot(context.Background(), testNow.Add(time.Hour), market)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = tr.SnapshotPosition(context.Background(), pos.ID, testNow, market)
	require.NoError(t, err)

	assert.Len(t, rec.saved, 3)
	hist := tr.History("", time.Time{})
	require.Len(t, hist, 2)
	assert.Equal(t, first, hist[0], "snapshots are never overwritten")
	assert.Len(t, tr.History("", testNow.Add(30*time.Minute)), 1)
	assert.Len(t, tr.History(pos.ID, time.Time{}), 1)

	rec.err = errors.ErrDatabaseError
	_, _, err = tr.Snapshot(context.Background(), testNow.Add(2*time.Hour), market)
	assert.ErrorIs(t, err, errors.ErrDatabaseError)
	assert.Len(t, tr.History("", time.Time{}), 2)
}

func TestPerformanceMetrics_FromBook(t *testing.T) {
	ledger := mapLedger{}
	agg, tr := newTestTracker(ledger, nil)
	win, _ := agg.Add(shortCall("AAPL", -10))
	loss, _ := agg.Add(shortCall("MSFT", -10))
	_, _ = agg.Add(shortCall("SPY", -1))
	_, _ = agg.Close(win.ID, 1.0, testNow)
	_, _ = agg.Close(loss.ID, 5.0, testNow)

	perf := tr.PerformanceMetrics(agg.Snapshot(), testNow)
	assert.Equal(t, 2, perf.Trades, "open positions are ignored")
	assert.InDelta(t, 0.5, perf.WinRate, 1e-12)
	assert.InDelta(t, 2500.0/1500.0, perf.ProfitFactor, 1e-12)
}
