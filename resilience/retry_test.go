package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	budget, err := Retry(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 2 {
			return Transient(errors.New("temporary error"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, budget.Attempts)
	assert.False(t, budget.Exhausted())
}

func TestRetry_AttemptsExactlyMaxOnTransient(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			attempts := 0
			budget, err := Retry(context.Background(), fastConfig(n), func(ctx context.Context, attempt int) error {
				attempts++
				return Transient(errors.New("upstream 503"))
			})
			require.Error(t, err)
			assert.Equal(t, n, attempts)
			assert.Equal(t, n, budget.Attempts)
			assert.True(t, budget.Exhausted())
			assert.Equal(t, KindTransient, Classify(err))
			assert.Contains(t, err.Error(), fmt.Sprintf("gave up after %d attempts", n))
		})
	}
}

func TestRetry_TimeoutIsRetried(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		attempts++
		return context.DeadlineExceeded
	})
	assert.Equal(t, 3, attempts)
	assert.Equal(t, KindTimeout, Classify(err))
}

func TestRetry_PermanentAttemptedOnce(t *testing.T) {
	attempts := 0
	budget, err := Retry(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		attempts++
		return &Failure{Kind: KindPermanent, Status: 400, Err: errors.New("bad request")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, budget.Attempts)
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindPermanent, f.Kind)
	assert.Equal(t, 400, f.Status)
}

func TestRetry_HonorsRateLimitHint(t *testing.T) {
	config := fastConfig(2)
	config.MaxWait = time.Second
	start := time.Now()
	budget, err := Retry(context.Background(), config, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return RateLimited(errors.New("slow down"), 50*time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, budget.NextDelay)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRetry_RateLimitHintIsCapped(t *testing.T) {
	config := fastConfig(2)
	config.MaxWait = 5 * time.Millisecond
	budget, err := Retry(context.Background(), config, func(ctx context.Context, attempt int) error {
		return RateLimited(errors.New("slow down"), time.Hour)
	})
	assert.Equal(t, KindRateLimited, Classify(err))
	assert.Equal(t, 2, budget.Attempts)
	assert.Equal(t, 5*time.Millisecond, budget.NextDelay)
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := fastConfig(5)
	config.InitialBackoff = 100 * time.Millisecond
	config.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	budget, err := Retry(ctx, config, func(ctx context.Context, attempt int) error {
		attempts++
		return Transient(errors.New("temporary error"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, budget.Attempts)
	assert.Equal(t, KindTimeout, Classify(err))
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, config))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(1, config))
	assert.Equal(t, 800*time.Millisecond, calculateBackoff(3, config))
	assert.Equal(t, time.Second, calculateBackoff(10, config))

	config.Jitter = true
	for i := 0; i < 50; i++ {
		d := calculateBackoff(1, config)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 220*time.Millisecond)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, Classify(errors.Wrap(context.DeadlineExceeded, "get")))
	assert.Equal(t, KindPermanent, Classify(context.Canceled))
	assert.Equal(t, KindTransient, Classify(errors.New("connection reset")))
	assert.Equal(t, KindRateLimited, Classify(errors.Wrap(RateLimited(nil, time.Second), "call")))
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.False(t, KindPermanent.Retryable())
	assert.Equal(t, "rate_limited", KindRateLimited.String())
}

func TestFailureError(t *testing.T) {
	f := &Failure{Kind: KindPermanent, Status: 404, Err: errors.New("not found")}
	assert.Equal(t, "permanent (status 404): not found", f.Error())
	assert.Equal(t, "timeout", (&Failure{Kind: KindTimeout}).Error())
	assert.Nil(t, AsFailure(nil))
	assert.Equal(t, KindTransient, AsFailure(errors.New("x")).Kind)
}

func TestRetryWithCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour}, nil)
	calls := 0
	budget, err := RetryWithCircuitBreaker(context.Background(), fastConfig(4), cb, func(ctx context.Context, attempt int) error {
		calls++
		return Transient(errors.New("down"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "the breaker opened after two failures")
	assert.Equal(t, 4, budget.Attempts)
	assert.True(t, errors.Is(err, ErrCircuitBreakerOpen))
	assert.Equal(t, KindTransient, Classify(err))
}
