// Package models provides domain models for the options risk engine.
package models

import (
	"strings"
	"time"

	"options-risk-engine/internal/errors"
)

// OptionKind represents the right conveyed by an option contract.
type OptionKind string

const (
	Call OptionKind = "call"
	Put  OptionKind = "put"
)

// ParseOptionKind parses "call"/"put" (case-insensitive, "c"/"p" accepted).
func ParseOptionKind(s string) (OptionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	default:
		return "", errors.NewValidationError("kind", s, "must be call or put")
	}
}

// Valid reports whether k is a known option kind.
func (k OptionKind) Valid() bool {
	return k == Call || k == Put
}

// DaysPerYear converts calendar durations into year fractions.
const DaysPerYear = 365.0

// YearFraction returns the time between from and to in years, floored at zero.
func YearFraction(from, to time.Time) float64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / DaysPerYear
}

// SkippedItem describes a batch item that was left out of a result.
type SkippedItem struct {
	PositionID string
	Symbol     string
	Reason     string
	Err        error `json:"-"`
}

// NewSkippedItem creates a SkippedItem from an error.
func NewSkippedItem(positionID, symbol string, err error) SkippedItem {
	return SkippedItem{
		PositionID: positionID,
		Symbol:     symbol,
		Reason:     err.Error(),
		Err:        err,
	}
}
