// Package cache provides a bounded, TTL-aware in-memory cache with
// least-recently-used eviction and type-safe generic helpers.
//
// # Cache Interface
//
// The [Cache] interface covers lookup, store, hit counts, invalidation, an
// active expiry pass ([Cache.Sweep]) and counters ([Cache.Stats]). The
// interface uses [any] for values rather than generics because Go does not
// allow generic methods on interfaces. Type safety is provided by the
// package-level generic functions [GetContext] and [Exec].
//
// # Expiry
//
// An entry is absent once now >= its expiry time. Lookups apply this rule
// lazily and remove what they find expired. [Cache.Sweep] applies the same
// rule to every entry, which bounds memory for keys that are written but
// never read again. [RunSweeper] drives Sweep from a ticker; the store itself
// knows nothing about scheduling. The clock is injectable via [WithClock].
//
// # Capacity
//
// [WithCapacity] bounds the entry count. When a store pushes the cache over
// capacity the least recently used entry is evicted. A capacity of zero is a
// legal configuration that disables caching: every lookup misses and every
// store is a no-op.
//
// # Namespaces
//
// [Namespaces] keeps one independent cache per [Namespace], each with its own
// lock, capacity and default TTL.
//
// # Generic Helpers
//
// [GetContext] wraps [Cache.GetContext] with type safety:
//
//	found, kw, err := cache.GetContext[[]string](ctx, c, key)
//
// Values stored with [SetEncoded] are msgpack bytes. [GetContext] decodes
// them into a fresh value, so a caller mutating the result never touches the
// cached copy.
//
// [Exec] is a cache-aside (read-through) helper that combines lookup and
// population in one call and reports where the value came from:
//
//	src, tracks, err := cache.Exec(ctx, cache.CacheConfig{Key: key, Encode: true}, c,
//	    func(ctx context.Context) ([]Track, bool, error) {
//	        tracks, err := catalog.Recommend(ctx, keywords, limit)
//	        return tracks, err == nil, err
//	    },
//	)
//
// The [Invoker] returns (value, found, error). When found is false nothing
// is cached. Invoker errors are returned without caching. Write errors after
// a successful invoke are swallowed since the value was still produced.
package cache
