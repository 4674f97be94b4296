package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-recommend/clock"
	"github.com/cockroachdb/errors"
)

// Namespace names a logical partition of cached state.
type Namespace string

const (
	NamespaceExtraction     Namespace = "extraction"
	NamespaceRecommendation Namespace = "recommendation"
	NamespaceToken          Namespace = "token"
)

// AllNamespaces lists every namespace in a stable order.
var AllNamespaces = []Namespace{NamespaceExtraction, NamespaceRecommendation, NamespaceToken}

// NamespaceConfig sizes one namespace. A zero Capacity disables it.
type NamespaceConfig struct {
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// Namespaces holds one independent Cache per namespace. Each cache has its
// own lock, so traffic in one namespace never blocks another.
type Namespaces struct {
	caches map[Namespace]Cache
}

// NewNamespaces builds a cache per namespace. Namespaces missing from cfgs
// get the package defaults. None of them run an internal expiry goroutine;
// drive Sweep with RunSweeper.
func NewNamespaces(ctx context.Context, cfgs map[Namespace]NamespaceConfig, clk clock.Clock) *Namespaces {
	n := &Namespaces{caches: make(map[Namespace]Cache, len(AllNamespaces))}
	for _, ns := range AllNamespaces {
		opts := []Option{WithExpiryCheck(0), WithClock(clk)}
		if cfg, ok := cfgs[ns]; ok {
			opts = append(opts, WithCapacity(cfg.Capacity))
			if cfg.TTL > 0 {
				opts = append(opts, WithExpires(cfg.TTL))
			}
		}
		n.caches[ns] = NewInMemory(ctx, opts...)
	}
	return n
}

// Get returns the cache for ns. It panics on an unknown namespace since that
// is a programming error.
func (n *Namespaces) Get(ns Namespace) Cache {
	c, ok := n.caches[ns]
	if !ok {
		panic(errors.Newf("cache: unknown namespace %q", ns))
	}
	return c
}

// Sweep runs an active expiry pass over every namespace and returns the total
// removed. Use SweepEach for per-namespace counts.
func (n *Namespaces) Sweep() int {
	var total int
	for _, removed := range n.SweepEach() {
		total += removed
	}
	return total
}

// SweepEach sweeps every namespace and reports how many entries each lost.
func (n *Namespaces) SweepEach() map[Namespace]int {
	out := make(map[Namespace]int, len(n.caches))
	for ns, c := range n.caches {
		out[ns] = c.Sweep()
	}
	return out
}

// Stats snapshots every namespace.
func (n *Namespaces) Stats() map[Namespace]Stats {
	out := make(map[Namespace]Stats, len(n.caches))
	for ns, c := range n.caches {
		out[ns] = c.Stats()
	}
	return out
}

// Close closes every namespace.
func (n *Namespaces) Close(ctx context.Context) error {
	var err error
	for _, ns := range AllNamespaces {
		if cerr := n.caches[ns].CloseContext(ctx); cerr != nil {
			err = errors.CombineErrors(err, cerr)
		}
	}
	return err
}
