// Package risk evaluates portfolio exposure against configured limits and
// runs stress scenarios.
package risk

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/greeks"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/metrics"
	"options-risk-engine/internal/models"
	"options-risk-engine/internal/portfolio"
)

// Book supplies the current valued open positions.
type Book interface {
	PortfolioGreeks(now time.Time, market models.MarketSnapshot) portfolio.GreeksReport
}

// HedgeBook reports shares held against a position.
type HedgeBook interface {
	HeldShares(positionID string) float64
}

// Manager checks limits and stress-tests the book. It never mutates state.
type Manager struct {
	book   Book
	hedges HedgeBook
	calc   *greeks.Calculator
	logger zerolog.Logger
}

// NewManager creates a risk manager. hedges may be nil, in which case
// delta is measured before hedges.
func NewManager(book Book, hedges HedgeBook, calc *greeks.Calculator, logger zerolog.Logger) *Manager {
	return &Manager{
		book:   book,
		hedges: hedges,
		calc:   calc,
		logger: logging.WithComponent(logger, "risk"),
	}
}

// ValidateLimits fails with ErrUnknownLimitMetric on the first limit whose
// metric is not recognized, and ErrInvalidInput on a negative threshold.
func ValidateLimits(limits []models.RiskLimit) error {
	for _, l := range limits {
		if !l.Metric.Valid() {
			return errors.NewLimitError(l.Name, string(l.Metric))
		}
		if l.Threshold < 0 || math.IsNaN(l.Threshold) {
			return errors.NewValidationError("threshold", l.Threshold, "limit "+l.Name+" must be non-negative")
		}
	}
	return nil
}

// Exposure is the aggregated state limits are measured against.
type Exposure struct {
	Greeks models.Greeks
	// NetDelta is option delta plus hedge shares.
	NetDelta      float64
	HedgeShares   float64
	MaxPosition   int // largest |quantity| among open positions
	Concentration map[string]float64
	// MaxConcentration is the largest per-underlying notional share.
	MaxConcentration       float64
	MaxConcentrationSymbol string
	TotalNotional          float64
}

// Current returns the value a limit on metric is compared against.
func (e Exposure) Current(metric models.LimitMetric) float64 {
	switch metric {
	case models.MetricDelta:
		return e.NetDelta
	case models.MetricVega:
		return e.Greeks.Vega
	case models.MetricPositionSize:
		return float64(e.MaxPosition)
	case models.MetricConcentration:
		return e.MaxConcentration
	}
	return 0
}

func (m *Manager) exposure(report portfolio.GreeksReport) Exposure {
	exp := Exposure{Greeks: report.Total}
	for _, v := range report.Positions {
		if m.hedges != nil {
			exp.HedgeShares += m.hedges.HeldShares(v.Position.ID)
		}
		if q := v.Position.Quantity; q > exp.MaxPosition || -q > exp.MaxPosition {
			exp.MaxPosition = int(math.Abs(float64(q)))
		}
	}
	exp.NetDelta = report.Total.Delta + exp.HedgeShares

	byUnderlying := portfolio.GroupByUnderlying(report)
	exp.TotalNotional = byUnderlying.TotalNotional
	exp.Concentration = byUnderlying.Concentration()
	for _, u := range byUnderlying.Underlyings {
		if c := exp.Concentration[u.Symbol]; c > exp.MaxConcentration {
			exp.MaxConcentration = c
			exp.MaxConcentrationSymbol = u.Symbol
		}
	}
	return exp
}

// LimitStatus is one limit evaluated against the book.
type LimitStatus struct {
	Limit   models.RiskLimit
	Current float64
	// Utilization is |current| / threshold as a percentage.
	Utilization float64
	Breached    bool
}

// Report is the full risk picture at one instant.
type Report struct {
	AsOf     time.Time
	Exposure Exposure
	Limits   []LimitStatus
	Breaches []models.Breach
	Skipped  []models.SkippedItem
}

// Err combines the skipped items' errors, or nil.
func (r Report) Err() error {
	return portfolio.SkippedErr(r.Skipped)
}

// Report evaluates every limit. A breach is part of the result; only a
// malformed limit is an error.
func (m *Manager) Report(now time.Time, market models.MarketSnapshot, limits []models.RiskLimit) (Report, error) {
	if err := ValidateLimits(limits); err != nil {
		return Report{}, err
	}
	greeksReport := m.book.PortfolioGreeks(now, market)
	exp := m.exposure(greeksReport)

	out := Report{
		AsOf:     now,
		Exposure: exp,
		Limits:   make([]LimitStatus, 0, len(limits)),
		Skipped:  greeksReport.Skipped,
	}
	for _, l := range limits {
		current := exp.Current(l.Metric)
		status := LimitStatus{Limit: l, Current: current}
		if l.Threshold > 0 {
			status.Utilization = math.Abs(current) / l.Threshold * 100
		}
		if math.Abs(current) > l.Threshold {
			status.Breached = true
			b := models.Breach{
				LimitName: l.Name,
				Metric:    l.Metric,
				Current:   current,
				Threshold: l.Threshold,
				Severity:  severityOf(l.Metric),
			}
			out.Breaches = append(out.Breaches, b)
			metrics.LimitBreaches.WithLabelValues(l.Name, string(b.Severity)).Inc()
			logging.LogBreach(m.logger, b)
		}
		out.Limits = append(out.Limits, status)
	}
	return out, nil
}

// CheckLimits returns the breached limits, empty when all pass.
func (m *Manager) CheckLimits(now time.Time, market models.MarketSnapshot, limits []models.RiskLimit) ([]models.Breach, error) {
	r, err := m.Report(now, market, limits)
	if err != nil {
		return nil, err
	}
	return r.Breaches, nil
}

// severityOf grades delta breaches high since they move P&L directly.
func severityOf(metric models.LimitMetric) models.Severity {
	if metric == models.MetricDelta {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}
