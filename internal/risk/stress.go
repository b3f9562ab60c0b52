package risk

import (
	"context"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
	"options-risk-engine/internal/pricing"
)

// Shock is a hypothetical market move.
type Shock struct {
	Name string
	// SpotChange is relative: -0.10 moves every spot down 10%.
	SpotChange float64
	// VolChange is absolute: 0.05 adds five volatility points.
	VolChange float64
}

// Validate rejects shocks that produce a non-positive spot.
func (s Shock) Validate() error {
	if math.IsNaN(s.SpotChange) || math.IsInf(s.SpotChange, 0) || s.SpotChange <= -1 {
		return errors.NewValidationError("spot_change", s.SpotChange, "must be greater than -1")
	}
	if math.IsNaN(s.VolChange) || math.IsInf(s.VolChange, 0) {
		return errors.NewValidationError("vol_change", s.VolChange, "must be finite")
	}
	return nil
}

// StressScenarios returns the default scenario ladder.
func StressScenarios() []Shock {
	return []Shock{
		{Name: "spot -20%", SpotChange: -0.20},
		{Name: "spot -10%", SpotChange: -0.10},
		{Name: "spot -5%", SpotChange: -0.05},
		{Name: "spot +5%", SpotChange: 0.05},
		{Name: "spot +10%", SpotChange: 0.10},
		{Name: "spot +20%", SpotChange: 0.20},
		{Name: "vol +5pts", VolChange: 0.05},
		{Name: "vol -5pts", VolChange: -0.05},
		{Name: "crash", SpotChange: -0.20, VolChange: 0.15},
	}
}

// ScenarioResult is the book revalued under one shock.
type ScenarioResult struct {
	Shock     Shock
	OptionPnL float64
	HedgePnL  float64
	TotalPnL  float64
	Greeks    models.Greeks
	// NetDelta is stressed option delta plus unchanged hedge shares.
	NetDelta float64
}

// StressReport lists one result per shock, in input order.
type StressReport struct {
	AsOf      time.Time
	Base      models.Greeks
	Scenarios []ScenarioResult
	Skipped   []models.SkippedItem
}

// Worst returns the scenario with the lowest total P&L.
func (r StressReport) Worst() (ScenarioResult, bool) {
	if len(r.Scenarios) == 0 {
		return ScenarioResult{}, false
	}
	worst := r.Scenarios[0]
	for _, s := range r.Scenarios[1:] {
		if s.TotalPnL < worst.TotalPnL {
			worst = s
		}
	}
	return worst, true
}

// StressTest revalues every open position under each shock. Scenarios run
// concurrently on a copy of the current valuations; live state is only read.
func (m *Manager) StressTest(ctx context.Context, now time.Time, market models.MarketSnapshot, shocks []Shock) (StressReport, error) {
	for _, s := range shocks {
		if err := s.Validate(); err != nil {
			return StressReport{}, err
		}
	}
	start := time.Now()
	defer func() { metrics.StressDuration.Observe(time.Since(start).Seconds()) }()

	base := m.book.PortfolioGreeks(now, market)
	held := make(map[string]float64, len(base.Positions))
	if m.hedges != nil {
		for _, v := range base.Positions {
			held[v.Position.ID] = m.hedges.HeldShares(v.Position.ID)
		}
	}

	results := make([]ScenarioResult, len(shocks))
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for i, shock := range shocks {
		i, shock := i, shock
		p.Go(func(ctx context.Context) error {
			res, err := m.scenario(ctx, base.Positions, held, shock)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return StressReport{}, err
	}

	m.logger.Debug().Int("scenarios", len(shocks)).Int("positions", len(base.Positions)).Msg("Stress test completed")
	return StressReport{
		AsOf:      now,
		Base:      base.Total,
		Scenarios: results,
		Skipped:   base.Skipped,
	}, nil
}

func (m *Manager) scenario(ctx context.Context, valuations []portfolio.Valuation, held map[string]float64, shock Shock) (ScenarioResult, error) {
	res := ScenarioResult{Shock: shock}
	for _, v := range valuations {
		if err := ctx.Err(); err != nil {
			return ScenarioResult{}, err
		}
		params := shocked(v.Params, shock)
		price, err := pricing.Price(params)
		if err != nil {
			return ScenarioResult{}, errors.NewPositionError(v.Position.ID, "stress", err)
		}
		g, err := m.calc.Compute(params)
		if err != nil {
			return ScenarioResult{}, errors.NewPositionError(v.Position.ID, "stress", err)
		}
		shares := held[v.Position.ID]
		res.OptionPnL += (price - v.Price) * v.Position.Shares()
		res.HedgePnL += shares * (params.Spot - v.Params.Spot)
		res.Greeks = res.Greeks.Add(greeks.Scale(g, v.Position.Quantity, multiplier(v.Position)))
		res.NetDelta += shares
	}
	res.NetDelta += res.Greeks.Delta
	res.TotalPnL = res.OptionPnL + res.HedgePnL
	return res, nil
}

func shocked(p models.ContractParams, s Shock) models.ContractParams {
	p.Spot *= 1 + s.SpotChange
	p.Volatility = math.Max(p.Volatility+s.VolChange, 0)
	return p
}

func multiplier(pos models.Position) int {
	if pos.Multiplier <= 0 {
		return models.DefaultMultiplier
	}
	return pos.Multiplier
}
