package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/resilience"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxWait:           20 * time.Millisecond,
	}
}

func newTestClient(attempts int, opts ...Option) *Client {
	opts = append([]Option{WithRetry(testRetry(attempts)), WithTimeout(time.Second)}, opts...)
	return New(logger.NewTestLogger(), opts...)
}

func statusServer(t *testing.T, calls *atomic.Int32, statuses ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "go-recommend/"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"echo":"` + in["text"] + `"}`))
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	budget, err := newTestClient(3).Do(context.Background(), Request{
		Method:      http.MethodPost,
		URL:         srv.URL + "/v1/echo",
		Query:       url.Values{"limit": {"5"}},
		JSON:        map[string]string{"text": "hi"},
		BearerToken: "secret",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
	assert.Equal(t, 1, budget.Attempts)
}

func TestDoFormWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(1).Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Form:   url.Values{"grant_type": {"client_credentials"}},
		Basic:  &BasicAuth{Username: "id", Password: "secret"},
	}, nil)
	require.NoError(t, err)
}

func TestDoRetriesTransientUpToMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusServiceUnavailable)
	budget, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, budget.Attempts)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
}

func TestDoRecoversAfterTransient(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusBadGateway, http.StatusRequestTimeout, http.StatusOK)
	budget, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, budget.Attempts)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		var calls atomic.Int32
		srv := statusServer(t, &calls, status)
		_, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL}, nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load(), "status %d", status)
		assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
		assert.Equal(t, status, StatusOf(err))
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.MethodGet, apiErr.Method)
	}
}

func TestDoRateLimitedHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	_, err := newTestClient(2).Do(context.Background(), Request{URL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRateLimitedExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	budget, err := newTestClient(2).Do(context.Background(), Request{URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindRateLimited, resilience.Classify(err))
	assert.Equal(t, 20*time.Millisecond, budget.NextDelay, "hint capped by MaxWait")
	var f *resilience.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, time.Second, f.RetryAfter)
}

func TestDoPerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	c := newTestClient(2, WithTimeout(20*time.Millisecond))
	budget, err := c.Do(context.Background(), Request{URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindTimeout, resilience.Classify(err))
	assert.Equal(t, 2, budget.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoUnparseableBodyIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()
	var out map[string]any
	_, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL}, &out)
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()
	budget, err := newTestClient(2).Do(context.Background(), Request{URL: addr}, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
	assert.Equal(t, 2, budget.Attempts)
}

func TestDoBreakerOpenSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := statusServer(t, &calls, http.StatusInternalServerError)
	cb := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour}, nil)
	c := newTestClient(3, WithBreaker(cb))
	_, err := c.Do(context.Background(), Request{URL: srv.URL}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
}

func TestDoRejectsBadRequests(t *testing.T) {
	c := newTestClient(3)
	_, err := c.Do(context.Background(), Request{URL: "://bad"}, nil)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
	_, err = c.Do(context.Background(), Request{URL: "http://x", JSON: 1, Form: url.Values{}}, nil)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90*time.Second, parseRetryAfter(date, now))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, resilience.KindRateLimited, classifyStatus(429))
	assert.Equal(t, resilience.KindTransient, classifyStatus(408))
	assert.Equal(t, resilience.KindTransient, classifyStatus(502))
	assert.Equal(t, resilience.KindPermanent, classifyStatus(403))
	assert.Equal(t, resilience.KindPermanent, classifyStatus(422))
}

func TestSafeBodyPreview(t *testing.T) {
	assert.Equal(t, `{"a":1}`, safeBodyPreview([]byte(`{"a":1}`), "application/json", 0))
	long := strings.Repeat("x", 300)
	assert.Equal(t, strings.Repeat("x", 200)+"[truncated, total: 300 chars]", safeBodyPreview([]byte(long), "text/plain", 200))
	assert.True(t, strings.HasPrefix(safeBodyPreview([]byte{1, 2}, "image/png", 0), "<binary: 2 bytes"))
	assert.True(t, strings.HasPrefix(safeBodyPreview([]byte("x"), "application/x-custom", 0), "<unknown type: 1 bytes"))
}

func TestMaskURL(t *testing.T) {
	masked := maskURL("https://user:pw@api.example.com/v1/recs?seed=happy")
	assert.Equal(t, "https://us**:p*@api.example.com/v1/****?seed=ha***", masked)
	assert.NotContains(t, masked, "happy")
	assert.NotContains(t, masked, "pw@")
	assert.Equal(t, "<invalid url>", maskURL("://nope"))
}
