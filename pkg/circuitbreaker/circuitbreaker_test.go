package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func newTestBreaker(t *testing.T, now *time.Time, transitions *[]string) *CircuitBreaker {
	t.Helper()
	cb := New("page_cache",
		WithFailureThreshold(2),
		WithOpenTimeout(time.Minute),
		WithOnStateChange(func(name string, from, to State) {
			*transitions = append(*transitions, from.String()+"->"+to.String())
		}),
	)
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(t, &now, &transitions)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(t, &now, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Empty(t, transitions)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(t, &now, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	// failed probe reopens
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestCircuitBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := newTestBreaker(t, &now, &transitions)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	now = now.Add(time.Minute)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// a concurrent caller during the probe is rejected
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := New("page_cache", WithFailureThreshold(1))
	canceled := func(context.Context) error { return context.Canceled }

	assert.ErrorIs(t, cb.Execute(context.Background(), canceled), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}
