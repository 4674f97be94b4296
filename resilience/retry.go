package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig defines configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt
	InitialBackoff time.Duration

	// MaxBackoff caps the computed backoff
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64

	// Jitter adds up to 10% randomness to backoff to avoid thundering herd
	Jitter bool

	// MaxWait caps an upstream Retry-After hint. Zero means MaxBackoff.
	MaxWait time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		MaxWait:           30 * time.Second,
	}
}

// Budget is the retry bookkeeping for one call.
type Budget struct {
	Attempts    int
	MaxAttempts int
	// NextDelay is the wait that preceded the latest attempt.
	NextDelay time.Duration
	// Waited is the total time spent between attempts.
	Waited time.Duration
}

// Exhausted reports whether no attempts remain.
func (b Budget) Exhausted() bool {
	return b.Attempts >= b.MaxAttempts
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry runs fn until it succeeds, returns a non-retryable failure, the
// attempts run out, or ctx is done. The returned error is always a *Failure
// (reachable with errors.As) carrying the last attempt's classification.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) (Budget, error) {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	budget := Budget{MaxAttempts: config.MaxAttempts}
	var last *Failure

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		budget.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			return budget, nil
		}
		last = AsFailure(err)
		if !last.Kind.Retryable() || attempt == config.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt-1, config)
		if last.Kind == KindRateLimited && last.RetryAfter > 0 {
			delay = last.RetryAfter
			maxWait := config.MaxWait
			if maxWait <= 0 {
				maxWait = config.MaxBackoff
			}
			if maxWait > 0 && delay > maxWait {
				delay = maxWait
			}
		}
		budget.NextDelay = delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return budget, &Failure{Kind: Classify(ctx.Err()), Err: errors.Wrap(last, "retry cancelled")}
		case <-timer.C:
			budget.Waited += delay
		}
	}

	if last.Kind.Retryable() {
		return budget, errors.Wrapf(last, "gave up after %d attempts", budget.Attempts)
	}
	return budget, last
}

// calculateBackoff calculates the backoff duration for a given retry (0-based)
func calculateBackoff(retry int, config RetryConfig) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(config.InitialBackoff) * math.Pow(multiplier, float64(retry))

	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	if config.Jitter {
		jitter := rand.Float64() * 0.1 * backoff // 10% jitter
		backoff += jitter
	}

	return time.Duration(backoff)
}

// RetryWithCircuitBreaker runs each attempt through the breaker. Attempts
// rejected by an open breaker count against the budget.
func RetryWithCircuitBreaker(ctx context.Context, config RetryConfig, cb *CircuitBreaker, fn RetryableFunc) (Budget, error) {
	if cb == nil {
		return Retry(ctx, config, fn)
	}
	return Retry(ctx, config, func(ctx context.Context, attempt int) error {
		return cb.Execute(ctx, func(ctx context.Context) error {
			return fn(ctx, attempt)
		})
	})
}
