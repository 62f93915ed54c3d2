// Package cache is an in-memory, sharded cache fronting a slower backing
// store (typically file storage). It hands out Pins, not values: a Pin
// keeps its entry's buffer alive and readable until released, and the
// cache never copies or mutates data a live Pin is looking at.
//
// Design
//
//   - Concurrency: the keyspace is split into shards, each guarded by a
//     single mutex. Pin/unpin on an already-live reference is a bare
//     atomic increment/decrement and never takes a lock.
//
//   - Storage: each shard keeps a map[Key]*entry for lookups plus an
//     indexed slot array the CLOCK hand sweeps for eviction. Entry
//     structs are recycled through a bounded per-shard freelist.
//
//   - Eviction: CLOCK with a sampled-percentile threshold, not LRU: no
//     list to maintain on every touch, and the threshold re-fits itself
//     from a handful of samples instead of a full sort.
//
//   - Allocation: requests that cannot be satisfied from free pages run
//     the allocate-or-evict arbitration loop (Cache.MakeSpace), which
//     self-organizes waiting callers via an atomic rank counter and
//     randomized backoff rather than a global lock.
//
//   - CoalescedLoad: lets many callers wait on one in-flight fetch that
//     fills several entries at once, instead of each issuing its own
//     redundant load.
//
//   - SSD tier: an optional secondary cache (internal/ssdtier.Tier).
//     Entries chosen by its admission oracle are saved in best-effort
//     batches; the relationship is advisory only, never authoritative.
//
// Basic usage
//
//	c := cache.New(cache.Options{
//	    Allocator: pagealloc.NewHeapAllocator(64 << 20),
//	})
//	key := cache.Key{FileID: 1, Offset: 0}
//	pin, err := c.FindOrCreate(ctx, key, 4096, nil)
//	if err != nil {
//	    // ErrNoCacheSpace: retriable
//	}
//	if pin.Miss() {
//	    copy(pin.Bytes(), data)
//	    c.PublishShared(pin)
//	}
//	pin.Release()
//
// Waiting on an in-flight fill
//
//	var wait *cache.Future
//	pin, _ := c.FindOrCreate(ctx, key, size, &wait)
//	if !pin.Valid() && wait != nil {
//	    wait.Wait(ctx)
//	    pin, _ = c.FindOrCreate(ctx, key, size, nil)
//	}
//
// Exporting metrics
//
//	m := prom.New(nil, "asyncdatacache", "demo")
//	c := cache.New(cache.Options{Allocator: alloc, Metrics: m})
//
// Thread-safety
//
// All Cache and Pin methods are safe for concurrent use.
package cache
