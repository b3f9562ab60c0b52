package models

// LimitMetric identifies what a risk limit measures.
type LimitMetric string

const (
	MetricDelta         LimitMetric = "delta"
	MetricVega          LimitMetric = "vega"
	MetricPositionSize  LimitMetric = "position_size"
	MetricConcentration LimitMetric = "concentration"
)

// Valid reports whether m is a known metric.
func (m LimitMetric) Valid() bool {
	switch m {
	case MetricDelta, MetricVega, MetricPositionSize, MetricConcentration:
		return true
	}
	return false
}

// RiskLimit is externally supplied, read-only configuration.
type RiskLimit struct {
	Name      string
	Metric    LimitMetric
	Threshold float64
}

// Severity grades a breach.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Breach describes a limit exceeded by the current portfolio state.
type Breach struct {
	LimitName string
	Metric    LimitMetric
	Current   float64
	Threshold float64
	Severity  Severity
}
