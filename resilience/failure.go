package resilience

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind is the classification every outbound failure is reduced to.
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindTransient
	KindPermanent
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "none"
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindTransient || k == KindRateLimited
}

// Failure is a classified outbound error.
type Failure struct {
	Kind Kind
	// Status is the upstream status code, if there was a response.
	Status int
	// RetryAfter is the upstream's wait hint. Only set for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

var _ error = (*Failure)(nil)

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Timeout(err error) *Failure   { return &Failure{Kind: KindTimeout, Err: err} }
func Transient(err error) *Failure { return &Failure{Kind: KindTransient, Err: err} }
func Permanent(err error) *Failure { return &Failure{Kind: KindPermanent, Err: err} }

// RateLimited returns a KindRateLimited failure carrying the wait hint.
func RateLimited(err error, retryAfter time.Duration) *Failure {
	return &Failure{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// Classify maps any error to a Kind. A Failure anywhere in the chain wins.
// Deadlines are timeouts, cancellation is permanent since nobody is waiting
// for a retry, and anything unrecognised is treated as transient.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// AsFailure returns err as a *Failure, classifying it if needed. Nil stays nil.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: Classify(err), Err: err}
}
