package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	b := NewBreaker("quotes", Config{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	boom := errors.New("upstream down")

	fail := func(context.Context) (float64, error) { return 0, boom }
	ok := func(context.Context) (float64, error) { return 101.5, nil }

	_, err := Do(ctx, b, fail)
	require.ErrorIs(t, err, boom)
	_, err = Do(ctx, b, fail)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.State())

	_, err = Do(ctx, b, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(1), b.Rejected())

	now = now.Add(2 * time.Minute)
	v, err := Do(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 101.5, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	b := NewBreaker("quotes", Config{FailureThreshold: 1, Cooldown: time.Second}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	fail := func(context.Context) (int, error) { return 0, errors.New("x") }

	_, _ = Do(ctx, b, fail)
	now = now.Add(2 * time.Second)
	_, _ = Do(ctx, b, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := NewBreaker("quotes", Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}
