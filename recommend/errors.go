package recommend

import (
	"fmt"
	"math"
	"time"

	"github.com/agentuity/go-recommend/resilience"
	"github.com/cockroachdb/errors"
)

var (
	ErrAdmissionDenied     = errors.New("admission denied")
	ErrUpstreamTransient   = errors.New("upstream unavailable")
	ErrUpstreamPermanent   = errors.New("upstream rejected the request")
	ErrUpstreamTimeout     = errors.New("upstream timed out")
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrEmptyRequest        = errors.New("empty request")
)

// AdmissionError is returned when the rate limiter rejects a user.
type AdmissionError struct {
	UserID     string
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrAdmissionDenied, e.RetryAfter)
}

func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

// UpstreamError is a classified failure from the extraction or catalog service.
type UpstreamError struct {
	Service string
	Kind    resilience.Kind
	Err     error
}

func (e *UpstreamError) sentinel() error {
	switch e.Kind {
	case resilience.KindTimeout:
		return ErrUpstreamTimeout
	case resilience.KindPermanent:
		return ErrUpstreamPermanent
	case resilience.KindRateLimited:
		return ErrUpstreamRateLimited
	default:
		return ErrUpstreamTransient
	}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Service, e.sentinel(), e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == e.sentinel()
}

// UserMessage renders err as text that is safe to show an end user. It
// never includes upstream detail, tokens or credentials.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var admission *AdmissionError
	if errors.As(err, &admission) {
		secs := int(math.Ceil(admission.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		unit := "seconds"
		if secs == 1 {
			unit = "second"
		}
		return fmt.Sprintf("You're sending requests too quickly. Please try again in %d %s.", secs, unit)
	}
	switch {
	case errors.Is(err, ErrEmptyRequest):
		return "Tell me what you'd like to listen to, for example \"something upbeat for a run\"."
	case errors.Is(err, ErrUpstreamTimeout):
		return "The music service took too long to respond. Please try again."
	case errors.Is(err, ErrUpstreamRateLimited):
		return "The music service is busy right now. Please try again in a minute."
	case errors.Is(err, ErrUpstreamTransient), errors.Is(err, ErrUpstreamPermanent):
		return "The music service is unavailable right now. Please try again later."
	}
	return "Something went wrong. Please try again."
}
