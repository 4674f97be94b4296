package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentuity/go-recommend/clock"
	"github.com/agentuity/go-recommend/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type track struct {
	Title string `msgpack:"title"`
	Plays int    `msgpack:"plays"`
}

func TestExecCachesInvokerResult(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	var calls int
	invoke := func(ctx context.Context) (string, bool, error) {
		calls++
		return "hello", true, nil
	}
	src, val, err := Exec(ctx, CacheConfig{Key: "k", Expires: time.Minute}, c, invoke)
	require.NoError(t, err)
	assert.Equal(t, SourceInvoker, src)
	assert.Equal(t, "hello", val)

	src, val, err = Exec(ctx, CacheConfig{Key: "k", Expires: time.Minute}, c, invoke)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, "hello", val)
	assert.Equal(t, 1, calls)
}

func TestExecNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	var calls int
	invoke := func(ctx context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	}
	for i := 0; i < 2; i++ {
		src, val, err := Exec(ctx, CacheConfig{Key: "k"}, c, invoke)
		require.NoError(t, err)
		assert.Equal(t, SourceNone, src)
		assert.Zero(t, val)
	}
	assert.Equal(t, 2, calls)
}

func TestExecInvokerErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	boom := errors.New("boom")
	src, _, err := Exec(ctx, CacheConfig{Key: "k"}, c, func(ctx context.Context) (string, bool, error) {
		return "partial", true, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, SourceNone, src)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestExecEncodedValuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	cfg := CacheConfig{Key: "tracks", Encode: true}
	_, first, err := Exec(ctx, cfg, c, func(ctx context.Context) ([]track, bool, error) {
		return []track{{Title: "a", Plays: 1}, {Title: "b", Plays: 2}}, true, nil
	})
	require.NoError(t, err)
	first[0].Title = "mutated"

	src, second, err := Exec(ctx, cfg, c, func(ctx context.Context) ([]track, bool, error) {
		t.Fatal("invoker should not run on a hit")
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, src)
	assert.Equal(t, []track{{Title: "a", Plays: 1}, {Title: "b", Plays: 2}}, second)

	second[1].Plays = 99
	_, third, err := GetContext[[]track](ctx, c, "tracks")
	require.NoError(t, err)
	assert.Equal(t, 2, third[1].Plays)
}

func TestGetContextTypeMismatch(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	require.NoError(t, c.SetContext(ctx, "k", 42, time.Minute))
	found, _, err := GetContext[string](ctx, c, "k")
	assert.False(t, found)
	assert.Error(t, err)
}

func TestExecWithDisabledCache(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, WithCapacity(0))
	var calls int
	for i := 0; i < 3; i++ {
		src, _, err := Exec(ctx, CacheConfig{Key: "k"}, c, func(ctx context.Context) (int, bool, error) {
			calls++
			return calls, true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, SourceInvoker, src)
	}
	assert.Equal(t, 3, calls)
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "cache", SourceCache.String())
	assert.Equal(t, "invoker", SourceInvoker.String())
	assert.Equal(t, "none", SourceNone.String())
}

func TestNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	ns := NewNamespaces(ctx, map[Namespace]NamespaceConfig{
		NamespaceExtraction:     {Capacity: 2, TTL: time.Hour},
		NamespaceRecommendation: {Capacity: 10, TTL: 30 * time.Minute},
		NamespaceToken:          {Capacity: 0},
	}, clk)
	defer ns.Close(ctx)

	ext := ns.Get(NamespaceExtraction)
	rec := ns.Get(NamespaceRecommendation)
	tok := ns.Get(NamespaceToken)
	for i := 0; i < 3; i++ {
		require.NoError(t, ext.SetContext(ctx, fmt.Sprintf("e%d", i), i, 0))
		require.NoError(t, rec.SetContext(ctx, fmt.Sprintf("r%d", i), i, 0))
	}
	require.NoError(t, tok.SetContext(ctx, "t", "token", time.Hour))

	stats := ns.Stats()
	assert.Equal(t, 2, stats[NamespaceExtraction].Size)
	assert.Equal(t, 3, stats[NamespaceRecommendation].Size)
	assert.Equal(t, 0, stats[NamespaceToken].Size)

	clk.Advance(30 * time.Minute)
	swept := ns.SweepEach()
	assert.Equal(t, 0, swept[NamespaceExtraction])
	assert.Equal(t, 3, swept[NamespaceRecommendation])

	clk.Advance(30 * time.Minute)
	assert.Equal(t, 2, ns.Sweep())

	assert.Panics(t, func() { ns.Get(Namespace("nope")) })
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, clk := newTestCache(t)
	require.NoError(t, c.SetContext(ctx, "k", "v", time.Second))
	clk.Advance(time.Minute)

	log := logger.NewTestLogger()
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, 5*time.Millisecond, c, log)
		close(done)
	}()
	assert.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.True(t, log.Contains("DEBUG", "sweep removed 1"))

	RunSweeper(context.Background(), 0, c, log)
}
