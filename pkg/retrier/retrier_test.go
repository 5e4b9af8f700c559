package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialInterval(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestRetrier_Do(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		attempts := 0
		err := fast().Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := fast(WithMaxRetries(3)).Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("fail after max retries", func(t *testing.T) {
		attempts := 0
		err := fast(WithMaxRetries(2)).Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())

		attempts := 0
		err := r.Do(ctx, func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		attempts := 0
		err := fast(WithMaxRetries(5)).Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return Permanent(errTransient)
		})
		assert.Equal(t, errTransient, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("wrapped permanent error stops immediately", func(t *testing.T) {
		attempts := 0
		err := fast().Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.Wrap(Permanent(errTransient), "call custodian")
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retryIf filters errors", func(t *testing.T) {
		other := errors.New("bad request")
		attempts := 0
		r := fast(WithMaxRetries(5), WithRetryIf(func(err error) bool {
			return errors.Is(err, errTransient)
		}))
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return errTransient
			}
			return other
		})
		assert.ErrorIs(t, err, other)
		assert.Equal(t, 2, attempts)
	})

	t.Run("onRetry sees every retry", func(t *testing.T) {
		var seen []int
		r := fast(WithMaxRetries(2), OnRetry(func(attempt int, err error) {
			assert.ErrorIs(t, err, errTransient)
			seen = append(seen, attempt)
		}))
		_ = r.Do(context.Background(), func(ctx context.Context) error {
			return errTransient
		})
		assert.Equal(t, []int{1, 2}, seen)
	})
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestRetrier_DoWithData(t *testing.T) {
	t.Run("success returns data", func(t *testing.T) {
		val, err := DoWithData(fast(), context.Background(), func(ctx context.Context) (string, error) {
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", val)
	})

	t.Run("fail returns error", func(t *testing.T) {
		val, err := DoWithData(fast(WithMaxRetries(1)), context.Background(), func(ctx context.Context) (string, error) {
			return "", errTransient
		})
		assert.Error(t, err)
		assert.Empty(t, val)
	})
}
