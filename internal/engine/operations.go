package engine

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"options-risk-engine/internal/hedging"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/pnl"
	"options-risk-engine/internal/portfolio"
	"options-risk-engine/internal/risk"
)

// Hedge trades the underlying against one position. A nil shares hedges
// the position and its existing hedge back to delta neutral. The quote is
// fetched first; sizing and recording run under the lifecycle lock.
func (e *Engine) Hedge(ctx context.Context, positionID string, shares *float64) (hedging.Execution, error) {
	now := e.now()
	pos, err := e.book.Get(positionID)
	if err != nil {
		return hedging.Execution{}, err
	}
	md, err := e.Quote(ctx, pos.Symbol)
	if err != nil {
		return hedging.Execution{}, err
	}

	var exec hedging.Execution
	if shares != nil {
		exec, err = e.hedger.ExecuteHedge(ctx, pos, *shares, md, now)
	} else {
		exec, err = e.hedger.Neutralize(ctx, positionID, md, now)
	}
	if err != nil {
		return hedging.Execution{}, err
	}
	if e.notifier != nil {
		e.notifyErr(e.notifier.SendHedges(ctx, []models.HedgeRecord{exec.Record}), "hedge")
	}
	return exec, nil
}

// HedgeRequirement reports what it takes to neutralize one position.
func (e *Engine) HedgeRequirement(ctx context.Context, positionID string) (hedging.Requirement, error) {
	pos, err := e.book.Get(positionID)
	if err != nil {
		return hedging.Requirement{}, err
	}
	md, err := e.Quote(ctx, pos.Symbol)
	if err != nil {
		return hedging.Requirement{}, err
	}
	return e.hedger.Requirements(pos, md, e.now())
}

// HedgeStatus reports the portfolio delta after hedges and the positions
// whose hedge is stale.
func (e *Engine) HedgeStatus(ctx context.Context) (hedging.Exposure, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return hedging.Exposure{}, err
	}
	return e.hedger.PortfolioDeltaExposure(e.now(), market), nil
}

// HedgeHistory returns the hedge records of a position with their P&L at
// the current spot, or at the close spot once the position is closed.
func (e *Engine) HedgeHistory(ctx context.Context, positionID string) (hedging.HedgePnL, error) {
	pos, err := e.book.Get(positionID)
	if err != nil {
		return hedging.HedgePnL{}, err
	}
	spot := 0.0
	if pos.IsOpen() {
		md, err := e.Quote(ctx, pos.Symbol)
		if err != nil {
			return hedging.HedgePnL{}, err
		}
		spot = md.Spot
	} else if recs := e.hedger.Records(positionID); pos.CloseSpot == nil && len(recs) > 0 {
		spot = recs[len(recs)-1].Price
	}
	return e.hedger.HedgingPnL(positionID, spot)
}

// HedgeEfficiency reports how well an open position is hedged.
func (e *Engine) HedgeEfficiency(ctx context.Context, positionID string) (hedging.Efficiency, error) {
	pos, err := e.book.Get(positionID)
	if err != nil {
		return hedging.Efficiency{}, err
	}
	md, err := e.Quote(ctx, pos.Symbol)
	if err != nil {
		return hedging.Efficiency{}, err
	}
	return e.hedger.Efficiency(pos, md, e.now())
}

// AutoRehedge rehedges every stale position, taking the lifecycle lock
// per position rather than across the batch.
func (e *Engine) AutoRehedge(ctx context.Context) (hedging.RehedgeResult, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return hedging.RehedgeResult{}, err
	}
	res := e.hedger.AutoRehedge(ctx, e.now(), market)
	if e.notifier != nil {
		e.notifyErr(e.notifier.SendHedges(ctx, res.Executed), "auto rehedge")
	}
	return res, nil
}

// PnL reports portfolio P&L.
func (e *Engine) PnL(ctx context.Context) (pnl.PortfolioPnL, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return pnl.PortfolioPnL{}, err
	}
	return e.tracker.PortfolioPnL(e.now(), market), nil
}

// PositionPnL reports the P&L of one position.
func (e *Engine) PositionPnL(ctx context.Context, positionID string) (pnl.PositionReport, error) {
	pos, err := e.book.Get(positionID)
	if err != nil {
		return pnl.PositionReport{}, err
	}
	market, err := e.Market(ctx, pos.Symbol)
	if err != nil {
		return pnl.PositionReport{}, err
	}
	return e.tracker.Position(positionID, e.now(), market)
}

// Snapshot records a portfolio P&L snapshot.
func (e *Engine) Snapshot(ctx context.Context) (models.PnLSnapshot, []models.SkippedItem, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return models.PnLSnapshot{}, nil, err
	}
	return e.tracker.Snapshot(ctx, e.now(), market)
}

// History returns recorded snapshots for a position, or the portfolio
// series when positionID is empty.
func (e *Engine) History(positionID string, since time.Time) []models.PnLSnapshot {
	return e.tracker.History(positionID, since)
}

// Performance scores every closed or expired position.
func (e *Engine) Performance() pnl.Performance {
	var done []models.Position
	for _, p := range e.book.Snapshot() {
		if !p.IsOpen() {
			done = append(done, p)
		}
	}
	return e.tracker.PerformanceMetrics(done, e.now())
}

// CheckRisk evaluates the configured limits, persists any breaches and
// notifies about them.
func (e *Engine) CheckRisk(ctx context.Context) (risk.Report, error) {
	return e.CheckRiskWith(ctx, e.limits)
}

// CheckRiskWith is CheckRisk against explicit limits.
func (e *Engine) CheckRiskWith(ctx context.Context, limits []models.RiskLimit) (risk.Report, error) {
	market, err := e.Market(ctx)
	if err != nil {
		return risk.Report{}, err
	}
	report, err := e.risk.Report(e.now(), market, limits)
	if err != nil {
		return risk.Report{}, err
	}
	if len(report.Breaches) == 0 {
		return report, nil
	}

	if err := e.store.SaveBreaches(ctx, report.AsOf, report.Breaches); err != nil {
		return report, err
	}
	if e.notifier != nil {
		e.notifyErr(e.notifier.SendBreaches(ctx, report.Breaches), "breaches")
	}
	return report, nil
}

// Stress runs shocks against the book, or the default ladder when none
// are given.
func (e *Engine) Stress(ctx context.Context, shocks []risk.Shock) (risk.StressReport, error) {
	if len(shocks) == 0 {
		shocks = risk.StressScenarios()
	}
	market, err := e.Market(ctx)
	if err != nil {
		return risk.StressReport{}, err
	}
	return e.risk.StressTest(ctx, e.now(), market, shocks)
}

// Cycle is the outcome of one monitoring pass.
type Cycle struct {
	At       time.Time
	Expired  portfolio.ExpiryResult
	Rehedge  hedging.RehedgeResult
	Risk     risk.Report
	Snapshot models.PnLSnapshot
	Expiring []models.Position
}

// RunCycle expires due positions, rehedges stale ones, checks limits,
// records a P&L snapshot and warns about upcoming expiries. Each step runs
// even when an earlier one failed; failures are combined.
func (e *Engine) RunCycle(ctx context.Context) (Cycle, error) {
	c := Cycle{At: e.now()}
	var errs error

	expired, err := e.ExpireDue(ctx)
	c.Expired = expired
	errs = multierr.Append(errs, err)

	rehedge, err := e.AutoRehedge(ctx)
	c.Rehedge = rehedge
	errs = multierr.Append(errs, err)

	report, err := e.CheckRisk(ctx)
	c.Risk = report
	errs = multierr.Append(errs, err)

	snap, _, err := e.Snapshot(ctx)
	c.Snapshot = snap
	errs = multierr.Append(errs, err)

	c.Expiring = e.Expiring(ctx)

	if errs != nil && e.notifier != nil {
		e.notifyErr(e.notifier.SendError(ctx, errs, "monitoring cycle"), "cycle error")
	}
	e.logger.Info().
		Int("expired", len(c.Expired.Expired)).
		Int("rehedged", len(c.Rehedge.Executed)).
		Int("breaches", len(c.Risk.Breaches)).
		Int("expiring", len(c.Expiring)).
		Msg("Monitoring cycle completed")
	return c, errs
}
