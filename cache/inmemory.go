package cache

import (
	"context"
	"sync"
	"time"
)

// entry is one cached value and its node in the recency list.
type entry struct {
	key            string
	object         any
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	hits           int
	prev           *entry // more recently used
	next           *entry // less recently used
}

// expired is the single rule shared by lazy and active expiry.
func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*entry
	head      *entry // most recently used
	tail      *entry // least recently used
	stats     Stats
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*inMemoryCache)(nil)

func (c *inMemoryCache) disabled() bool {
	return c.cfg.capacity == 0
}

func (c *inMemoryCache) GetContext(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.disabled() {
		c.stats.Misses++
		return false, nil, nil
	}
	val, ok := c.cache[key]
	if !ok {
		c.stats.Misses++
		return false, nil, nil
	}
	now := c.cfg.clock.Now()
	if val.expired(now) {
		c.remove(val)
		c.stats.Expirations++
		c.stats.Misses++
		return false, nil, nil
	}
	val.hits++
	val.lastAccessedAt = now
	c.moveToFront(val)
	c.stats.Hits++
	return true, val.object, nil
}

func (c *inMemoryCache) HitsContext(_ context.Context, key string) (bool, int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if v, ok := c.cache[key]; ok && !v.expired(c.cfg.clock.Now()) {
		return true, v.hits
	}
	return false, 0
}

func (c *inMemoryCache) SetContext(_ context.Context, key string, val any, expires time.Duration) error {
	if expires <= 0 {
		expires = c.cfg.defaultExpires
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.disabled() {
		return nil
	}
	now := c.cfg.clock.Now()
	if v, ok := c.cache[key]; ok {
		v.object = val
		v.createdAt = now
		v.expiresAt = now.Add(expires)
		v.lastAccessedAt = now
		v.hits = 0
		c.moveToFront(v)
		return nil
	}
	v := &entry{
		key:            key,
		object:         val,
		createdAt:      now,
		expiresAt:      now.Add(expires),
		lastAccessedAt: now,
	}
	c.cache[key] = v
	c.addFront(v)
	for c.cfg.capacity > 0 && len(c.cache) > c.cfg.capacity {
		c.remove(c.tail)
		c.stats.Evictions++
	}
	return nil
}

func (c *inMemoryCache) ExpireContext(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.cache[key]
	if ok {
		c.remove(v)
	}
	return ok, nil
}

func (c *inMemoryCache) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.cfg.clock.Now()
	var removed int
	for _, v := range c.cache {
		if v.expired(now) {
			c.remove(v)
			removed++
		}
	}
	c.stats.Expirations += uint64(removed)
	return removed
}

func (c *inMemoryCache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := c.stats
	s.Size = len(c.cache)
	s.Capacity = c.cfg.capacity
	return s
}

func (c *inMemoryCache) CloseContext(_ context.Context) error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// remove unlinks v and deletes it from the map. Caller holds the mutex.
func (c *inMemoryCache) remove(v *entry) {
	c.unlink(v)
	delete(c.cache, v.key)
}

func (c *inMemoryCache) addFront(v *entry) {
	v.prev = nil
	v.next = c.head
	if c.head != nil {
		c.head.prev = v
	}
	c.head = v
	if c.tail == nil {
		c.tail = v
	}
}

func (c *inMemoryCache) unlink(v *entry) {
	if v.prev != nil {
		v.prev.next = v.next
	} else {
		c.head = v.next
	}
	if v.next != nil {
		v.next.prev = v.prev
	} else {
		c.tail = v.prev
	}
	v.prev, v.next = nil, nil
}

func (c *inMemoryCache) moveToFront(v *entry) {
	if c.head == v {
		return
	}
	c.unlink(v)
	c.addFront(v)
}

// keys returns keys from most to least recently used. Used by tests.
func (c *inMemoryCache) keys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, 0, len(c.cache))
	for v := c.head; v != nil; v = v.next {
		out = append(out, v.key)
	}
	return out
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// NewInMemory returns a new bounded, TTL-aware in-memory Cache with
// least-recently-used eviction.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*entry),
		cfg:    cfg,
	}
	if cfg.expiryCheck > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}
