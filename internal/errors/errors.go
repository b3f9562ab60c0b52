// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidPosition       = errors.New("invalid position")
	ErrNoSolution            = errors.New("no solution")
	ErrNotFound              = errors.New("position not found")
	ErrAlreadyClosed         = errors.New("position already closed")
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrUnknownLimitMetric    = errors.New("unknown limit metric")
	ErrDivisionUndefined     = errors.New("division undefined")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrDatabaseError         = errors.New("database error")
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	kind    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.kind == nil {
		return ErrInvalidInput
	}
	return e.kind
}

// NewValidationError creates a new ValidationError for malformed numeric input.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		kind:    ErrInvalidInput,
	}
}

// NewPositionValidationError creates a ValidationError that unwraps to ErrInvalidPosition.
func NewPositionValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		kind:    ErrInvalidPosition,
	}
}

// PositionError represents a lifecycle error on a specific position.
type PositionError struct {
	PositionID string
	Op         string
	Err        error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error [%s] %s: %v", e.PositionID, e.Op, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// NewPositionError creates a new PositionError.
func NewPositionError(positionID, op string, err error) *PositionError {
	return &PositionError{
		PositionID: positionID,
		Op:         op,
		Err:        err,
	}
}

// MarketDataError represents missing or stale market data for a symbol.
type MarketDataError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *MarketDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data error [%s]: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("market data error [%s]: %s", e.Symbol, e.Reason)
}

func (e *MarketDataError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMarketDataUnavailable, e.Err}
	}
	return []error{ErrMarketDataUnavailable}
}

// NewMarketDataError creates a new MarketDataError.
func NewMarketDataError(symbol, reason string, err error) *MarketDataError {
	return &MarketDataError{
		Symbol: symbol,
		Reason: reason,
		Err:    err,
	}
}

// SolverError is returned when implied volatility cannot be found.
type SolverError struct {
	MarketPrice float64
	Reason      string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("implied volatility: no solution for price %.6f: %s", e.MarketPrice, e.Reason)
}

func (e *SolverError) Unwrap() error {
	return ErrNoSolution
}

// NewSolverError creates a new SolverError.
func NewSolverError(marketPrice float64, reason string) *SolverError {
	return &SolverError{
		MarketPrice: marketPrice,
		Reason:      reason,
	}
}

// LimitError represents a misconfigured risk limit.
type LimitError struct {
	Name   string
	Metric string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("risk limit %q: unknown metric %q", e.Name, e.Metric)
}

func (e *LimitError) Unwrap() error {
	return ErrUnknownLimitMetric
}

// NewLimitError creates a new LimitError.
func NewLimitError(name, metric string) *LimitError {
	return &LimitError{
		Name:   name,
		Metric: metric,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
