package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/agentuity/go-recommend/resilience"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "You're sending requests too quickly. Please try again in 1 second.",
		UserMessage(&AdmissionError{RetryAfter: 200 * time.Millisecond}))
	assert.Equal(t, "You're sending requests too quickly. Please try again in 3 seconds.",
		UserMessage(errors.Wrap(&AdmissionError{RetryAfter: 2100 * time.Millisecond}, "ask")))
	assert.Contains(t, UserMessage(ErrEmptyRequest), "Tell me")
	assert.Equal(t, "The music service is busy right now. Please try again in a minute.",
		UserMessage(&UpstreamError{Service: "catalog", Kind: resilience.KindRateLimited, Err: errors.New("429")}))
	assert.Equal(t, "Something went wrong. Please try again.", UserMessage(context.Canceled))
}

func TestUpstreamErrorMatchesKindSentinel(t *testing.T) {
	cause := resilience.Timeout(errors.New("token=abc deadline"))
	err := &UpstreamError{Service: "catalog", Kind: resilience.KindTimeout, Err: cause}
	assert.True(t, errors.Is(err, ErrUpstreamTimeout))
	assert.False(t, errors.Is(err, ErrUpstreamPermanent))
	assert.Equal(t, resilience.KindTimeout, resilience.Classify(err))
	assert.NotContains(t, UserMessage(err), "token")
}
