package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/agentuity/go-recommend/cache"
	"github.com/agentuity/go-recommend/catalog"
	"github.com/agentuity/go-recommend/clock"
	"github.com/agentuity/go-recommend/config"
	"github.com/agentuity/go-recommend/extraction"
	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/ratelimit"
	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/resilience"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T, limits ratelimit.Config) *app {
	t.Helper()
	log := logger.NewTestLogger()
	caches := cache.NewNamespaces(context.Background(), map[cache.Namespace]cache.NamespaceConfig{
		cache.NamespaceExtraction:     {Capacity: 10, TTL: time.Hour},
		cache.NamespaceRecommendation: {Capacity: 10, TTL: time.Hour},
	}, clock.Real)
	limiter := ratelimit.New(limits, clock.Real)
	extractor := extraction.ExtractorFunc(func(_ context.Context, text string) ([]string, error) {
		if strings.Contains(text, "broken") {
			return nil, resilience.Transient(errors.New("down"))
		}
		return []string{"happy"}, nil
	})
	cat := catalog.CatalogFunc(func(context.Context, []string, int) ([]catalog.Track, error) {
		return []catalog.Track{{Title: "Happy", Artist: "Pharrell Williams", Duration: 233 * time.Second, URL: "https://open.example/t2"}}, nil
	})
	cfg := &config.Config{RateLimiter: limits}
	a := &app{
		config:   cfg,
		service:  recommend.New(recommend.Config{}, limiter, caches, extractor, nil, cat, log),
		caches:   caches,
		limiter:  limiter,
		logger:   log,
		shutdown: func() {},
	}
	t.Cleanup(a.close)
	return a
}

func TestRepl(t *testing.T) {
	a := testApp(t, ratelimit.DefaultConfig())
	var out bytes.Buffer
	in := strings.NewReader("I'm feeling happy\n\n:user u2\n:quota\n:bogus\n:quit\nnever read\n")
	runRepl(context.Background(), a, in, &out, "u1", 2, false)

	s := out.String()
	assert.Contains(t, s, "> I'm feeling happy")
	assert.Contains(t, s, " 1. Happy - Pharrell Williams (3:53)  https://open.example/t2")
	assert.Contains(t, s, "user: u2")
	assert.Contains(t, s, "user u2: 15 of 15 left, 5 burst tokens")
	assert.Contains(t, s, "unknown command :bogus")
	assert.NotContains(t, s, "never read")
}

func TestReplDropsCancelledRequests(t *testing.T) {
	a := testApp(t, ratelimit.DefaultConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	extractor := extraction.ExtractorFunc(func(context.Context, string) ([]string, error) {
		close(entered)
		<-release
		return []string{"happy"}, nil
	})
	cat := catalog.CatalogFunc(func(context.Context, []string, int) ([]catalog.Track, error) {
		return nil, nil
	})
	a.service = recommend.New(recommend.Config{}, a.limiter, a.caches, extractor, nil, cat, a.logger)

	ctx, cancel := context.WithCancel(context.Background())
	in, w := io.Pipe()
	defer w.Close()
	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		runRepl(ctx, a, in, &out, "u1", 1, false)
	}()

	_, err := io.WriteString(w, "I'm feeling happy\n")
	require.NoError(t, err)
	<-entered
	cancel()
	<-done

	assert.Empty(t, out.String())
}

func TestReplStats(t *testing.T) {
	a := testApp(t, ratelimit.DefaultConfig())
	a.start(context.Background())
	var out bytes.Buffer
	runRepl(context.Background(), a, strings.NewReader(":stats\n"), &out, "u1", 1, false)
	assert.Contains(t, out.String(), "limiter:")
	assert.Contains(t, out.String(), "metrics:")
}

func TestRenderErrorsAsUserMessages(t *testing.T) {
	a := testApp(t, ratelimit.Config{Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	var out bytes.Buffer
	res, err := a.service.Recommend(ctx, "u1", "something broken")
	require.NoError(t, err)
	render(&out, "", res, err, false)
	assert.Contains(t, out.String(), "keyword service unavailable")
	assert.Contains(t, out.String(), "Happy")

	out.Reset()
	res, err = a.service.Recommend(ctx, "u1", "again")
	require.Error(t, err)
	render(&out, "again", res, err, false)
	assert.Contains(t, out.String(), "You're sending requests too quickly")

	out.Reset()
	render(&out, "", res, err, true)
	assert.Contains(t, out.String(), `"outcome":"rate_limited"`)
	assert.Contains(t, out.String(), `"message":"You're sending requests too quickly.`)
}

func TestRenderPretty(t *testing.T) {
	a := testApp(t, ratelimit.DefaultConfig())
	res, err := a.service.Recommend(context.Background(), "u1", "happy")
	require.NoError(t, err)

	var out bytes.Buffer
	renderPretty(&out, res, nil)
	assert.Contains(t, out.String(), "Pharrell Williams")
	assert.Contains(t, out.String(), "3:53")
	assert.Contains(t, out.String(), "upstream_success")

	out.Reset()
	renderPretty(&out, nil, recommend.ErrEmptyRequest)
	assert.Contains(t, out.String(), "Tell me what you'd like to listen to")
}
