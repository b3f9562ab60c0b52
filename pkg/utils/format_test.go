package utils

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$0.00", FormatCurrency(0))
	assert.Equal(t, "$999.50", FormatCurrency(999.5))
	assert.Equal(t, "$1,234.56", FormatCurrency(1234.56))
	assert.Equal(t, "-$12,345,678.90", FormatCurrency(-12345678.9))
	assert.Equal(t, "+$10.00", FormatPnL(10))
}

func TestFormatRatio(t *testing.T) {
	assert.Equal(t, "n/a", FormatRatio(0, false))
	assert.Equal(t, "inf", FormatRatio(math.Inf(1), true))
	assert.Equal(t, "1.50", FormatRatio(1.5, true))
	assert.Equal(t, "+600", FormatShares(600))
	assert.Equal(t, "-12.50", FormatShares(-12.5))
}

func TestRetryWithResult_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}
	_, err := RetryWithResult(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	v, err := RetryWithResult(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}
