package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func fastRetrier(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond)}, opts...)...)
}

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errTransient)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsUnwrappedAfterLastAttempt(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(2)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errTransient)
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	err := fastRetrier().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIfClassifier(t *testing.T) {
	calls := 0
	var retried []int
	r := fastRetrier(
		WithMaxAttempts(4),
		WithRetryIf(func(err error) bool { return errors.Is(err, errTransient) }),
		WithOnRetry(func(ctx context.Context, attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }),
	)
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastRetrier().Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_ExponentialCapped(t *testing.T) {
	r := New(
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(50*time.Millisecond),
		WithMultiplier(3.0),
		WithJitter(0),
	)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 30*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 50*time.Millisecond, r.calculateDelay(3))
}

func TestCalculateDelay_JitterStaysInBand(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.1))
	for i := 0; i < 50; i++ {
		d := r.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

type ctxKey struct{}

func TestDatabaseRetrier_PassesContextToOnRetry(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "run-1")
	var seen []any
	r := DatabaseRetrier(
		func(err error) bool { return errors.Is(err, errTransient) },
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(ctx context.Context, attempt int, err error, delay time.Duration) {
			seen = append(seen, ctx.Value(ctxKey{}))
		}),
	)

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []any{"run-1", "run-1"}, seen)
}
