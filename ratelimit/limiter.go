// Package ratelimit implements per-user admission control: a sliding window
// of recent request instants with a small refillable burst pool on top.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"github.com/agentuity/go-recommend/clock"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

const (
	DefaultWindow              = time.Minute
	DefaultMaxRequests         = 15
	DefaultBurstCapacity       = 5
	DefaultBurstRefillInterval = 10 * time.Second
	DefaultIdleTTL             = 10 * time.Minute
	DefaultMaxUsers            = 100_000
	DefaultShards              = 64
)

// Config controls a Limiter. Zero values take the package defaults except
// BurstCapacity, where zero means no burst pool.
type Config struct {
	Window              time.Duration `mapstructure:"window_duration" yaml:"window_duration"`
	MaxRequests         int           `mapstructure:"max_requests" yaml:"max_requests"`
	BurstCapacity       int           `mapstructure:"burst_capacity" yaml:"burst_capacity"`
	BurstRefillInterval time.Duration `mapstructure:"burst_refill_interval" yaml:"burst_refill_interval"`
	IdleTTL             time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
	MaxUsers            int           `mapstructure:"max_users" yaml:"max_users"`
	Shards              int           `mapstructure:"shards" yaml:"shards"`
}

// DefaultConfig returns the stock limits: 15 requests a minute plus a burst
// pool of 5 that refills one token every 10 seconds.
func DefaultConfig() Config {
	return Config{
		Window:              DefaultWindow,
		MaxRequests:         DefaultMaxRequests,
		BurstCapacity:       DefaultBurstCapacity,
		BurstRefillInterval: DefaultBurstRefillInterval,
		IdleTTL:             DefaultIdleTTL,
		MaxUsers:            DefaultMaxUsers,
		Shards:              DefaultShards,
	}
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.BurstCapacity < 0 {
		c.BurstCapacity = 0
	}
	if c.BurstRefillInterval <= 0 {
		c.BurstRefillInterval = DefaultBurstRefillInterval
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.MaxUsers <= 0 {
		c.MaxUsers = DefaultMaxUsers
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.Shards > c.MaxUsers {
		c.Shards = c.MaxUsers
	}
	return c
}

// Validate reports configuration values that can never work.
func (c Config) Validate() error {
	if c.Window < 0 {
		return errors.Newf("ratelimit: window_duration must be positive, got %s", c.Window)
	}
	if c.MaxRequests < 0 {
		return errors.Newf("ratelimit: max_requests must be positive, got %d", c.MaxRequests)
	}
	if c.BurstCapacity < 0 {
		return errors.Newf("ratelimit: burst_capacity must not be negative, got %d", c.BurstCapacity)
	}
	return nil
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the oldest request leaves the window.
	// Zero when Allowed.
	RetryAfter time.Duration
	// Remaining is the number of steady-state slots left in the window.
	Remaining   int
	BurstTokens int
	// UsedBurst is true when the request was admitted from the burst pool.
	UsedBurst bool
}

// UserStats is a read-only view of one user's window.
type UserStats struct {
	InWindow    int       `json:"in_window" yaml:"in_window"`
	Remaining   int       `json:"remaining" yaml:"remaining"`
	BurstTokens int       `json:"burst_tokens" yaml:"burst_tokens"`
	ResetAt     time.Time `json:"reset_at" yaml:"reset_at"`
	Limited     bool      `json:"limited" yaml:"limited"`
}

// Stats aggregates limiter counters.
type Stats struct {
	Allowed   uint64 `json:"allowed" yaml:"allowed"`
	Burst     uint64 `json:"burst" yaml:"burst"`
	Rejected  uint64 `json:"rejected" yaml:"rejected"`
	Evictions uint64 `json:"evictions" yaml:"evictions"`
	Users     int    `json:"users" yaml:"users"`
}

type window struct {
	userID        string
	timestamps    []time.Time // oldest first
	burstTokens   int
	burstRefillAt time.Time
	lastSeen      time.Time
	elem          *list.Element
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
	order   *list.List // front is most recently seen
	stats   Stats
}

// Limiter is safe for concurrent use. Users are spread across shards by
// hash, each with its own lock, so one user's traffic never waits on an
// unrelated user's lock.
type Limiter struct {
	cfg      Config
	clock    clock.Clock
	shards   []*shard
	perShard int
}

// New returns a Limiter. A nil clock uses the wall clock.
func New(cfg Config, clk clock.Clock) *Limiter {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.Real
	}
	l := &Limiter{
		cfg:      cfg,
		clock:    clk,
		shards:   make([]*shard, cfg.Shards),
		perShard: (cfg.MaxUsers + cfg.Shards - 1) / cfg.Shards,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window), order: list.New()}
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) shardFor(userID string) *shard {
	return l.shards[xxhash.Sum64String(userID)%uint64(len(l.shards))]
}

// prune drops timestamps at or before now - window.
func (l *Limiter) prune(w *window, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// refill grants one token per whole interval elapsed since burstRefillAt.
func (l *Limiter) refill(w *window, now time.Time) {
	if w.burstTokens >= l.cfg.BurstCapacity {
		w.burstTokens = l.cfg.BurstCapacity
		w.burstRefillAt = now
		return
	}
	elapsed := now.Sub(w.burstRefillAt)
	if elapsed < l.cfg.BurstRefillInterval {
		return
	}
	n := int(elapsed / l.cfg.BurstRefillInterval)
	w.burstTokens += n
	if w.burstTokens >= l.cfg.BurstCapacity {
		w.burstTokens = l.cfg.BurstCapacity
		w.burstRefillAt = now
		return
	}
	w.burstRefillAt = w.burstRefillAt.Add(time.Duration(n) * l.cfg.BurstRefillInterval)
}

func (l *Limiter) retryAfter(w *window, now time.Time) time.Duration {
	if len(w.timestamps) == 0 {
		return time.Millisecond
	}
	d := w.timestamps[0].Add(l.cfg.Window).Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (l *Limiter) remaining(w *window) int {
	if r := l.cfg.MaxRequests - len(w.timestamps); r > 0 {
		return r
	}
	return 0
}

// lookup returns the user's window, creating it with a full burst pool.
// Caller holds s.mu.
func (l *Limiter) lookup(s *shard, userID string, now time.Time) *window {
	if w, ok := s.windows[userID]; ok {
		w.lastSeen = now
		s.order.MoveToFront(w.elem)
		return w
	}
	w := &window{
		userID:        userID,
		burstTokens:   l.cfg.BurstCapacity,
		burstRefillAt: now,
		lastSeen:      now,
	}
	w.elem = s.order.PushFront(w)
	s.windows[userID] = w
	for len(s.windows) > l.perShard {
		oldest := s.order.Back().Value.(*window)
		l.evict(s, oldest)
		s.stats.Evictions++
	}
	return w
}

func (l *Limiter) evict(s *shard, w *window) {
	s.order.Remove(w.elem)
	delete(s.windows, w.userID)
}

// Admit decides whether userID may proceed now.
func (l *Limiter) Admit(userID string) Decision {
	now := l.clock.Now()
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := l.lookup(s, userID, now)
	l.prune(w, now)
	if len(w.timestamps) < l.cfg.MaxRequests {
		w.timestamps = append(w.timestamps, now)
		s.stats.Allowed++
		l.refill(w, now)
		return Decision{Allowed: true, Remaining: l.remaining(w), BurstTokens: w.burstTokens}
	}
	l.refill(w, now)
	if w.burstTokens > 0 {
		w.burstTokens--
		s.stats.Allowed++
		s.stats.Burst++
		return Decision{Allowed: true, BurstTokens: w.burstTokens, UsedBurst: true}
	}
	s.stats.Rejected++
	return Decision{RetryAfter: l.retryAfter(w, now)}
}

// Remaining returns how many steady-state requests userID has left in the
// current window. Unknown users have the full allowance.
func (l *Limiter) Remaining(userID string) int {
	return l.UserStats(userID).Remaining
}

// UserStats reports userID's window without recording a request.
func (l *Limiter) UserStats(userID string) UserStats {
	now := l.clock.Now()
	s := l.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[userID]
	if !ok {
		return UserStats{
			Remaining:   l.cfg.MaxRequests,
			BurstTokens: l.cfg.BurstCapacity,
			ResetAt:     now,
		}
	}
	l.prune(w, now)
	l.refill(w, now)
	resetAt := now
	if len(w.timestamps) > 0 {
		resetAt = w.timestamps[0].Add(l.cfg.Window)
	}
	return UserStats{
		InWindow:    len(w.timestamps),
		Remaining:   l.remaining(w),
		BurstTokens: w.burstTokens,
		ResetAt:     resetAt,
		Limited:     len(w.timestamps) >= l.cfg.MaxRequests && w.burstTokens == 0,
	}
}

// Sweep drops windows that have been idle longer than IdleTTL and whose
// window holds no live requests. It returns the number removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	var removed int
	for _, s := range l.shards {
		s.mu.Lock()
		for e := s.order.Back(); e != nil; {
			w := e.Value.(*window)
			prev := e.Prev()
			if now.Sub(w.lastSeen) < l.cfg.IdleTTL {
				break // everything further forward was seen more recently
			}
			l.prune(w, now)
			if len(w.timestamps) == 0 {
				l.evict(s, w)
				removed++
			}
			e = prev
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	var n int
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Stats sums counters across shards.
func (l *Limiter) Stats() Stats {
	var out Stats
	for _, s := range l.shards {
		s.mu.Lock()
		out.Allowed += s.stats.Allowed
		out.Burst += s.stats.Burst
		out.Rejected += s.stats.Rejected
		out.Evictions += s.stats.Evictions
		out.Users += len(s.windows)
		s.mu.Unlock()
	}
	return out
}
