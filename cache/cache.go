package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
	"github.com/IvanBrykalov/asyncdatacache/internal/ssdtier"
	"github.com/IvanBrykalov/asyncdatacache/internal/util"
)

// Cache is a sharded, in-memory cache fronting a slower backing store.
// It hands out Pins rather than values directly: a Pin keeps its entry's
// buffer alive and immutable until released.
type Cache struct {
	shards    []*shard
	numShards int
	opts      Options
	closed    atomic.Bool

	cachedPages             atomic.Int64
	prefetchPages           atomic.Int64
	newBytesSinceSSDRescore atomic.Int64
	ssdSaveableBytes        atomic.Int64
	threadsInAllocate       atomic.Int64
	shardCounter            atomic.Uint64
	backoffSeed             atomic.Uint64

	savesSkipped atomic.Int64

	lastFailure atomic.Value // string
}

// New constructs a Cache. opts.Allocator must be non-nil.
func New(opts Options) *Cache {
	if opts.Allocator == nil {
		panic("cache: Options.Allocator is required")
	}
	o := opts.withDefaults()

	numShards := o.NumShards
	if numShards <= 0 {
		numShards = util.ReasonableShardCount()
	} else {
		numShards = int(util.NextPow2(uint64(numShards)))
	}

	c := &Cache{shards: make([]*shard, numShards), numShards: numShards, opts: o}
	for i := range c.shards {
		c.shards[i] = newShard(c, i)
	}
	c.backoffSeed.Store(uint64(time.Now().UnixNano()))
	o.Allocator.RegisterCache(c)
	return c
}

func (c *Cache) shardFor(key Key) *shard {
	idx := util.ShardIndex(key.hash(), c.numShards)
	return c.shards[idx]
}

// FindOrCreate is the cache's primary entry point. On a hit it
// returns a shared Pin. On a miss it returns an exclusive Pin the caller
// must fill and then either publish (PublishShared) or abandon
// (Pin.Release, which cancels the fill). On contention with another
// in-flight fill for the same key, it returns an invalid Pin and, if wait
// is non-nil, populates *wait with a Future to await. After Close it
// returns ErrClosed.
func (c *Cache) FindOrCreate(ctx context.Context, key Key, size int64, wait **Future) (Pin, error) {
	return c.findOrCreate(ctx, key, size, wait, false)
}

// Prefetch behaves like FindOrCreate but marks the created entry as a
// prefetch, which scores it for earlier eviction until a real consumer
// touches it.
func (c *Cache) Prefetch(ctx context.Context, key Key, size int64) (Pin, error) {
	pin, err := c.findOrCreate(ctx, key, size, nil, true)
	if err == nil && pin.Valid() {
		c.prefetchPages.Add(int64(pagesFor(size)))
	}
	return pin, err
}

func (c *Cache) findOrCreate(ctx context.Context, key Key, size int64, wait **Future, prefetch bool) (Pin, error) {
	if c.closed.Load() {
		return Pin{}, ErrClosed
	}
	s := c.shardFor(key)
	pin, isNew := s.findOrCreate(key, size, wait, prefetch)
	if !isNew {
		return pin, nil
	}

	if size < c.opts.TinyThreshold {
		pin.e.setData(make([]byte, size), pagealloc.Allocation{}, size)
		return pin, nil
	}

	numPages := pagesFor(size)
	var out pagealloc.Allocation
	ok := c.MakeSpace(ctx, numPages, func(acquired *pagealloc.Allocation) bool {
		if acquired.NumPages() < numPages {
			var extra pagealloc.Allocation
			if !c.opts.Allocator.AllocatePages(numPages-acquired.NumPages(), &extra) {
				return false
			}
			acquired.AppendMove(&extra)
		}
		out.AppendMove(acquired)
		return true
	})
	if !ok {
		s.cancelFill(pin.e)
		return Pin{}, ErrNoCacheSpace
	}

	c.cachedPages.Add(int64(out.NumPages()))
	pin.e.setData(nil, out, size)
	return pin, nil
}

func pagesFor(size int64) int32 {
	return int32((size + pagealloc.PageSize - 1) / pagealloc.PageSize)
}

// PublishShared transitions a freshly-filled exclusive Pin to Shared,
// waking any waiter and consulting the SSD admission oracle. The caller
// must have written valid data into the Pin's buffer first.
func (c *Cache) PublishShared(p Pin) {
	p.shard.publishShared(p.e)
}

// Exists reports whether key is currently findable.
func (c *Cache) Exists(key Key) bool {
	return c.shardFor(key).exists(key)
}

// Reclaim implements pagealloc.EvictionClient: it is called by the
// allocator when it cannot satisfy a request from free pages alone.
func (c *Cache) Reclaim(numPages int32) bool {
	if c.closed.Load() {
		return false
	}
	shardIdx := c.shardCounter.Add(1) % uint64(c.numShards)
	bytesToFree := int64(numPages) * pagealloc.PageSize
	var scratch pagealloc.Allocation
	res := c.shards[shardIdx].evict(bytesToFree, false, 0, &scratch)
	c.cachedPages.Add(-int64(res.freedPages))
	return res.freedPages > 0
}

// MakeSpace implements the allocate-or-evict arbitration loop. allocate is
// invoked with the pages already secured via eviction and, on success,
// must take full ownership of acquired's pages (e.g. by moving them into
// its own result) so MakeSpace does not also free them.
func (c *Cache) MakeSpace(ctx context.Context, numPages int32, allocate func(acquired *pagealloc.Allocation) bool) bool {
	var acquired pagealloc.Allocation
	var enlisted bool
	var rank int64

	defer func() {
		if !acquired.Empty() {
			c.opts.Allocator.Free(&acquired)
		}
		if enlisted {
			c.threadsInAllocate.Add(-1)
		}
	}()

	maxAttempts := c.numShards * c.opts.MaxAttemptsMultiplier
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sizeMultiplier := 1.2

	if c.threadsInAllocate.Load() > 0 {
		rank = c.threadsInAllocate.Add(1)
		enlisted = true
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.canTryAllocate(numPages, &acquired) {
			if allocate(&acquired) {
				return true
			}
		}

		if attempt > 2 && c.opts.SSD != nil && c.opts.SSD.WriteInProgress() {
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return false
			}
		}

		if attempt > maxAttempts/2 && !enlisted {
			rank = c.threadsInAllocate.Add(1)
			enlisted = true
		}

		if enlisted {
			if !acquired.Empty() {
				c.opts.Allocator.Free(&acquired)
			}
			backoff := c.backoffDuration(rank, attempt)
			if !sleepCtx(ctx, backoff) {
				return false
			}
			if cur := c.threadsInAllocate.Load(); cur < rank {
				rank = cur
			}
		}

		shardIdx := c.shardCounter.Add(1) % uint64(c.numShards)
		evictAll := attempt > c.numShards

		need := c.opts.MinEvictPages
		if numPages > need {
			need = numPages
		}
		bytesToFree := int64(float64(need)*sizeMultiplier) * pagealloc.PageSize

		residual := numPages - acquired.NumPages()
		if residual < 0 {
			residual = 0
		}
		res := c.shards[shardIdx].evict(bytesToFree, evictAll, residual, &acquired)
		c.cachedPages.Add(-int64(res.freedPages))

		if numPages < c.opts.SmallSizePages && sizeMultiplier < 4 {
			sizeMultiplier *= 2
		}
	}

	c.lastFailure.Store("cache: exhausted allocate-or-evict attempts")
	return false
}

// LastFailure returns the most recent MakeSpace failure message, or ""
// if none has occurred yet.
func (c *Cache) LastFailure() string {
	if v, ok := c.lastFailure.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Cache) canTryAllocate(numPages int32, acquired *pagealloc.Allocation) bool {
	if numPages <= acquired.NumPages() {
		return true
	}
	shortfall := int64(numPages-acquired.NumPages()) * pagealloc.PageSize
	remaining := c.opts.Allocator.Capacity() - c.opts.Allocator.NumAllocated()
	return remaining >= shortfall
}

func (c *Cache) backoffDuration(rank int64, attempt int) time.Duration {
	seed := c.backoffSeed.Add(0x9E3779B97F4A7C15)
	micros := ((rank * int64(attempt)) & 0x1f) * int64(seed&0xfff)
	return time.Duration(micros) * time.Microsecond
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Clear evicts every currently unpinned entry across all shards.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		var scratch pagealloc.Allocation
		res := s.evict(0, true, 0, &scratch)
		c.cachedPages.Add(-int64(res.freedPages))
	}
}

// RefreshStats sums per-shard counters into a point-in-time Stats
// snapshot.
func (c *Cache) RefreshStats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.slots {
			if e == nil {
				st.NumEmptyEntries++
				continue
			}
			st.NumEntries++
			switch {
			case e.isExclusive():
				st.NumExclusive++
				st.ExclusivePinnedBytes += e.size
			case e.isShared():
				st.NumShared++
				st.SharedPinnedBytes += e.size
			}
			if e.isPrefetch {
				st.NumPrefetch++
				st.PrefetchBytes += e.size
			}
			if e.tiny != nil {
				st.TinySize += e.size
				st.TinyPadding += int64(len(e.tiny)) - e.size
			} else if !e.alloc.Empty() {
				st.LargeSize += e.size
				st.LargePadding += e.alloc.ByteSize() - e.size
			}
		}
		s.counters.addTo(&st)
		s.mu.Unlock()
	}
	c.opts.Metrics.Size(int(st.NumEntries), c.cachedPages.Load()*pagealloc.PageSize)
	return st
}

// possibleSSDSave accumulates newly-saveable bytes and, once the backlog
// passes max(MinSavePages, cachedPages/8), attempts to start a write
// batch.
func (c *Cache) possibleSSDSave(bytes int64) {
	ssd := c.opts.SSD
	if ssd == nil {
		return
	}
	total := c.ssdSaveableBytes.Add(bytes)

	threshold := int64(c.opts.MinSavePages) * pagealloc.PageSize
	if cp := c.cachedPages.Load() / 8 * pagealloc.PageSize; cp > threshold {
		threshold = cp
	}
	if total < threshold {
		return
	}

	if !ssd.StartWrite() {
		return
	}
	c.ssdSaveableBytes.Store(0)
	c.saveToSSD()
}

// saveToSSD walks every shard collecting saveable pins and hands the
// batch to the SSD tier.
func (c *Cache) saveToSSD() {
	ssd := c.opts.SSD
	if ssd == nil {
		return
	}
	var pins []Pin
	for _, s := range c.shards {
		pins = s.appendSSDSaveable(pins)
	}
	if len(pins) == 0 {
		return
	}

	tierPins := make([]ssdtier.Pin, len(pins))
	var totalPages int32
	for i := range pins {
		tierPins[i] = &pins[i]
		totalPages += pagesFor(int64(pins[i].Size()))
	}
	ssd.Write(tierPins)

	for _, s := range c.shards {
		s.counters.ssdSavedPages.Add(int64(totalPages) / int64(c.numShards))
	}
	c.opts.Metrics.SSDSave(totalPages)
}

// onSSDSkippedDuringEvict is called by shard.evict when it had to skip an
// SSD-saveable entry because a save is in progress, outside its lock.
func (c *Cache) onSSDSkippedDuringEvict() {
	ssd := c.opts.SSD
	if ssd == nil {
		return
	}
	if ssd.StartWrite() {
		c.saveToSSD()
		return
	}
	c.savesSkipped.Add(1)
}

// incrementNew counts bytes of newly filled entries and periodically
// asks the SSD tier to re-fit its admission filter.
func (c *Cache) incrementNew(bytes int64) {
	ssd := c.opts.SSD
	if ssd == nil {
		return
	}
	total := c.newBytesSinceSSDRescore.Add(bytes)
	maxBytes := ssd.MaxBytes()
	half := maxBytes / 2
	if half <= 0 || total < half {
		return
	}
	c.newBytesSinceSSDRescore.Add(-total)
	target := int64(float64(maxBytes) * 0.9)
	ssd.GroupStats().UpdateSSDFilter(target)
}

// Close stops accepting new eviction-driven reclaims from the allocator;
// afterwards FindOrCreate and Prefetch return ErrClosed. Existing Pins
// remain valid until released.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return nil
}
