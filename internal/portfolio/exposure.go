package portfolio

import (
	"sort"
	"time"

	"go.uber.org/multierr"

	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
)

// GreeksReport is the portfolio roll-up of position Greeks.
type GreeksReport struct {
	AsOf      time.Time
	Total     models.Greeks
	Positions []Valuation
	Skipped   []models.SkippedItem
}

// Err combines the skipped items' errors, or nil.
func (r GreeksReport) Err() error {
	return SkippedErr(r.Skipped)
}

// PortfolioGreeks revalues every open position against market and sums the
// position-scaled Greeks. A position whose underlying has no usable quote is
// skipped and reported.
func (a *Aggregator) PortfolioGreeks(now time.Time, market models.MarketSnapshot) GreeksReport {
	open := a.Open()
	report := GreeksReport{AsOf: now, Positions: make([]Valuation, 0, len(open))}

	for _, pos := range open {
		v, err := ValuateIn(a.calc, pos, market, now)
		if err != nil {
			report.Skipped = append(report.Skipped, models.NewSkippedItem(pos.ID, pos.Symbol, err))
			continue
		}
		report.Total = report.Total.Add(v.Scaled)
		report.Positions = append(report.Positions, v)
	}

	if len(report.Skipped) > 0 {
		metrics.BatchSkips.WithLabelValues("portfolio_greeks").Add(float64(len(report.Skipped)))
		a.logger.Warn().Int("skipped", len(report.Skipped)).Msg("Portfolio Greeks computed with skipped positions")
	}
	return report
}

// UnderlyingExposure groups open positions on one underlying.
type UnderlyingExposure struct {
	Symbol    string
	Positions int
	Contracts int // sum of |quantity|
	Notional  float64
	Value     float64 // signed option value
	Greeks    models.Greeks
}

// UnderlyingReport is the per-underlying breakdown of the open book.
type UnderlyingReport struct {
	Underlyings   []UnderlyingExposure
	TotalNotional float64
	Skipped       []models.SkippedItem
}

// Concentration returns each underlying's share of total notional.
func (r UnderlyingReport) Concentration() map[string]float64 {
	out := make(map[string]float64, len(r.Underlyings))
	if r.TotalNotional <= 0 {
		return out
	}
	for _, u := range r.Underlyings {
		out[u.Symbol] = u.Notional / r.TotalNotional
	}
	return out
}

// ByUnderlying groups open notional and Greeks by underlying symbol,
// sorted by symbol.
func (a *Aggregator) ByUnderlying(now time.Time, market models.MarketSnapshot) UnderlyingReport {
	return GroupByUnderlying(a.PortfolioGreeks(now, market))
}

// GroupByUnderlying regroups an existing Greeks report by underlying.
func GroupByUnderlying(report GreeksReport) UnderlyingReport {
	groups := make(map[string]*UnderlyingExposure)
	var out UnderlyingReport
	for _, v := range report.Positions {
		sym := v.Position.Symbol
		g, ok := groups[sym]
		if !ok {
			g = &UnderlyingExposure{Symbol: sym}
			groups[sym] = g
		}
		g.Positions++
		g.Contracts += abs(v.Position.Quantity)
		g.Notional += v.Notional()
		g.Value += v.Value()
		g.Greeks = g.Greeks.Add(v.Scaled)
		out.TotalNotional += v.Notional()
	}

	out.Underlyings = make([]UnderlyingExposure, 0, len(groups))
	for _, g := range groups {
		out.Underlyings = append(out.Underlyings, *g)
	}
	sort.Slice(out.Underlyings, func(i, j int) bool {
		return out.Underlyings[i].Symbol < out.Underlyings[j].Symbol
	})
	out.Skipped = report.Skipped
	return out
}

// Summary is a headline view of the book.
type Summary struct {
	OpenPositions    int
	ClosedPositions  int
	ExpiredPositions int
	TotalValue       float64
	TotalNotional    float64
	Greeks           models.Greeks
	Skipped          []models.SkippedItem
}

// Summary counts positions by status and values the open book.
func (a *Aggregator) Summary(now time.Time, market models.MarketSnapshot) Summary {
	var s Summary
	for _, p := range a.Snapshot() {
		switch p.Status {
		case models.StatusOpen:
			s.OpenPositions++
		case models.StatusClosed:
			s.ClosedPositions++
		case models.StatusExpired:
			s.ExpiredPositions++
		}
	}
	report := a.PortfolioGreeks(now, market)
	for _, v := range report.Positions {
		s.TotalValue += v.Value()
		s.TotalNotional += v.Notional()
	}
	s.Greeks = report.Total
	s.Skipped = report.Skipped
	return s
}

// SkippedErr combines the errors of skipped items, or returns nil.
func SkippedErr(items []models.SkippedItem) error {
	var err error
	for _, it := range items {
		err = multierr.Append(err, it.Err)
	}
	return err
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
