package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-recommend/clock"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type Cache interface {
	// GetContext retrieves a value from the cache. An expired entry is removed
	// and reported as a miss.
	GetContext(ctx context.Context, key string) (bool, any, error)
	// SetContext stores a value in the cache with a TTL. If expires <= 0,
	// the cache's configured default TTL is used. Overwriting a key is a
	// fresh write: value, expiry, recency and hit count are all reset.
	SetContext(ctx context.Context, key string, val any, expires time.Duration) error
	// HitsContext returns the number of times a key has been read since it was written.
	HitsContext(ctx context.Context, key string) (bool, int)
	// ExpireContext removes a key from the cache.
	ExpireContext(ctx context.Context, key string) (bool, error)
	// Sweep removes every expired entry and returns how many were removed.
	Sweep() int
	// Stats returns a snapshot of the cache counters.
	Stats() Stats
	// CloseContext shuts down the cache.
	CloseContext(ctx context.Context) error
}

// Sweeper is anything with an active expiry pass.
type Sweeper interface {
	Sweep() int
}

// Stats is a point-in-time snapshot of a cache's counters.
type Stats struct {
	Hits        uint64 `json:"hits" yaml:"hits"`
	Misses      uint64 `json:"misses" yaml:"misses"`
	Evictions   uint64 `json:"evictions" yaml:"evictions"`
	Expirations uint64 `json:"expirations" yaml:"expirations"`
	Size        int    `json:"size" yaml:"size"`
	Capacity    int    `json:"capacity" yaml:"capacity"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// GetContext retrieves a typed value from the cache using the provided context.
// Values stored as-is come back through a direct type assertion. Values stored
// with SetEncoded are msgpack bytes and are decoded into a fresh T, so callers
// never share memory with the cached copy.
func GetContext[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var zero T
	found, val, err := c.GetContext(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, errors.Wrap(err, "cache: failed to unmarshal value")
		}
		return true, result, nil
	}
	return false, zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// SetEncoded msgpack-encodes val and stores the bytes.
func SetEncoded(ctx context.Context, c Cache, key string, val any, expires time.Duration) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "cache: failed to marshal value")
	}
	return c.SetContext(ctx, key, data, expires)
}

// DefaultExpires is the default TTL used when no TTL is given.
const DefaultExpires = 5 * time.Minute

// DefaultCapacity bounds a cache when no capacity option is given.
const DefaultCapacity = 1000

// config holds the resolved configuration for a cache implementation.
type config struct {
	defaultExpires time.Duration
	expiryCheck    time.Duration
	capacity       int
	clock          clock.Clock
}

// Option configures a Cache implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultExpires: DefaultExpires,
		expiryCheck:    time.Minute,
		capacity:       DefaultCapacity,
		clock:          clock.Real,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL for cached values. This is used when
// Set is called with expires <= 0. Defaults to DefaultExpires (5 minutes).
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Zero disables the background goroutine; call Sweep from your own scheduler instead.
// Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithCapacity bounds the number of entries. Zero disables the cache: every
// get misses and every set is a no-op. A negative capacity falls back to
// DefaultCapacity; a cache is never unbounded.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n < 0 {
			n = DefaultCapacity
		}
		c.capacity = n
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Source reports where an Exec result came from.
type Source int

const (
	// SourceNone means no value was produced.
	SourceNone Source = iota
	// SourceCache means the value was a cache hit.
	SourceCache
	// SourceInvoker means the value was produced by the invoker on a miss.
	SourceInvoker
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceInvoker:
		return "invoker"
	default:
		return "none"
	}
}

// CacheConfig configures the Exec helper.
type CacheConfig struct {
	// Expires is the TTL for cached values. The cache default is used if zero.
	Expires time.Duration
	// Key is the cache key. Required.
	Key string
	// Encode stores the value msgpack-encoded so readers get private copies.
	Encode bool
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. It checks the cache for config.Key first.
// On a hit it returns SourceCache. On a miss it calls invoke; if invoke
// returns found=true the value is stored and SourceInvoker is returned. If
// invoke returns found=false nothing is cached and SourceNone is returned.
// Invoker errors are returned as-is. A failed store after a successful invoke
// is swallowed since the caller still got its value.
func Exec[T any](ctx context.Context, config CacheConfig, c Cache, invoke Invoker[T]) (Source, T, error) {
	var zero T
	found, val, err := GetContext[T](ctx, c, config.Key)
	if err != nil {
		return SourceNone, zero, err
	}
	if found {
		return SourceCache, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		return SourceNone, zero, err
	}
	if !ok {
		return SourceNone, zero, nil
	}

	if config.Encode {
		_ = SetEncoded(ctx, c, config.Key, result, config.Expires)
	} else {
		_ = c.SetContext(ctx, config.Key, result, config.Expires)
	}
	return SourceInvoker, result, nil
}
