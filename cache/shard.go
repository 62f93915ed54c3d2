package cache

import (
	"sync"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
)

// shard is an independent partition of the cache keyspace. findOrCreate,
// evict, appendSSDSaveable, cancelFill, publishShared's state change, and
// the CLOCK calibration all run under its single mutex. No I/O happens
// while it is held; the SSD tier's ShouldSaveToSSD and WriteInProgress
// calls, and Allocator.Free for a drained entry's pages, do run under it.
type shard struct {
	cache *Cache
	idx   int

	mu sync.Mutex

	entriesByKey map[Key]*entry
	slots        []*entry
	emptySlots   []int32
	freeEntries  []*entry

	clockHand         int
	evictionThreshold int64
	eventCounter       int64
	checksSinceCalibration int64

	counters shardCounters
}

func newShard(c *Cache, idx int) *shard {
	return &shard{
		cache:        c,
		idx:          idx,
		entriesByKey: make(map[Key]*entry),
	}
}

func (s *shard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entriesByKey)
}

// exists reports whether key is currently findable, touching its access
// stats if present.
func (s *shard) exists(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entriesByKey[key]
	if !ok {
		return false
	}
	if !e.isExclusive() {
		e.touch()
	}
	return true
}

// findOrCreate is the shard-local half of the lookup/fill protocol. It
// returns the Pin (possibly empty/invalid) and whether it refers to a
// freshly-created exclusive entry the caller must fill. When the key is
// held exclusive by another fill and wait is non-nil, *wait is set to
// that entry's Future.
func (s *shard) findOrCreate(key Key, size int64, wait **Future, prefetch bool) (pin Pin, isNew bool) {
	s.mu.Lock()

	s.eventCounter++

	if e, ok := s.entriesByKey[key]; ok {
		if e.isExclusive() {
			s.counters.numWaitExclusive.Add(1)
			s.cache.opts.Metrics.WaitExclusive()
			s.cache.opts.Metrics.Miss()
			if wait != nil {
				if e.waiter == nil {
					e.waiter = &sharedPromise{future: newFuture()}
				}
				*wait = e.waiter.future
			}
			s.mu.Unlock()
			return Pin{}, false
		}

		if size == 0 || e.size >= size {
			e.touch()
			if e.isPrefetch {
				e.isPrefetch = false
			}
			e.addReference()
			s.counters.numHit.Add(1)
			s.cache.opts.Metrics.Hit()
			p := newPin(s, e)
			s.mu.Unlock()
			return p, false
		}

		// Supersede: the existing entry is too small. Revoke its
		// discoverability but leave it and its live pins untouched; it
		// is freed later, once unpinned, by ordinary CLOCK eviction.
		delete(s.entriesByKey, key)
		e.key = Key{}
	}

	e := s.takeFreeEntryLocked()
	e.initialize(key, prefetch)
	s.entriesByKey[key] = e
	s.counters.numNew.Add(1)
	s.cache.opts.Metrics.Miss()

	s.mu.Unlock()
	return newPin(s, e), true
}

// takeFreeEntryLocked recycles a drained entry or allocates a slot for a
// new one. Must be called with mu held.
func (s *shard) takeFreeEntryLocked() *entry {
	if n := len(s.freeEntries); n > 0 {
		e := s.freeEntries[n-1]
		s.freeEntries = s.freeEntries[:n-1]
		s.placeInSlotLocked(e)
		return e
	}
	e := &entry{}
	s.placeInSlotLocked(e)
	return e
}

func (s *shard) placeInSlotLocked(e *entry) {
	if n := len(s.emptySlots); n > 0 {
		idx := s.emptySlots[n-1]
		s.emptySlots = s.emptySlots[:n-1]
		s.slots[idx] = e
		e.slotIdx = idx
		return
	}
	e.slotIdx = int32(len(s.slots))
	s.slots = append(s.slots, e)
}

// cancelFill handles a failed initialize() (allocation failure): the
// entry is removed from the shard entirely and any waiter is woken to
// re-probe (release() on an EXCLUSIVE entry).
func (s *shard) cancelFill(e *entry) {
	s.mu.Lock()
	if !e.key.cleared() {
		delete(s.entriesByKey, e.key)
	}
	w := e.makeEvictable()
	s.freeSlotLocked(e)
	s.mu.Unlock()

	if w != nil {
		w.future.Fulfil(true)
	}
}

// publishShared transitions e from exclusive to shared, consults the SSD
// admission oracle, and wakes any waiter. Called once the caller has
// filled e's buffer.
func (s *shard) publishShared(e *entry) {
	s.mu.Lock()
	now := s.cache.opts.Clock.Now()
	w := e.exclusiveToShared(now)

	var saveable bool
	if ssd := s.cache.opts.SSD; ssd != nil {
		saveable = ssd.GroupStats().ShouldSaveToSSD(uint64(e.key.FileID), e.key.Offset)
		e.ssdSaveable = saveable
	}
	s.mu.Unlock()

	if w != nil {
		w.future.Fulfil(true)
	}
	if saveable {
		s.cache.possibleSSDSave(e.size)
	}
	s.cache.incrementNew(e.size)
}

// releaseEntry is Pin.Release()'s target. On an exclusive entry this is a
// fill failure (see cancelFill's comment); otherwise it is an ordinary
// reference drop.
func (s *shard) releaseEntry(e *entry) {
	if e.isExclusive() {
		s.cancelFill(e)
		return
	}
	e.release()
}

// freeSlotLocked fully drains e back to the empty state and returns it to
// the recycler, first halving the recycler when it is full. Must be
// called with mu held and only when e.pinCount == 0.
func (s *shard) freeSlotLocked(e *entry) {
	idx := e.slotIdx
	e.clear(s.cache.opts.Allocator)
	s.slots[idx] = nil
	s.emptySlots = append(s.emptySlots, idx)

	limit := s.cache.opts.MaxFreeEntries
	if len(s.freeEntries) >= limit {
		s.freeEntries = s.freeEntries[:limit/2]
	}
	s.freeEntries = append(s.freeEntries, e)
}

// evictResult reports what one evict() call accomplished, for the Cache
// arbitration loop and for stats.
type evictResult struct {
	freedBytes int64
	freedPages int32
}

// evict runs CLOCK-with-sampled-percentile eviction.
// pagesToAcquire/acquired let the caller receive freed pages directly as
// an in-place page move rather than round-tripping through the allocator.
func (s *shard) evict(bytesToFree int64, evictAllUnpinned bool, pagesToAcquire int32, acquired *pagealloc.Allocation) evictResult {
	s.mu.Lock()

	n := len(s.slots)
	if n == 0 {
		s.mu.Unlock()
		return evictResult{}
	}

	start := s.clockHand % n
	var result evictResult
	var toFree []pagealloc.Allocation
	ssdSkipped := false

	ssd := s.cache.opts.SSD
	ssdBusy := ssd != nil && ssd.WriteInProgress()
	now := s.cache.opts.Clock.Now().UnixNano()

	visited := 0
	for visited < n {
		if !evictAllUnpinned && result.freedBytes >= bytesToFree {
			break
		}
		idx := (start + visited) % n
		visited++
		s.counters.numEvictChecks.Add(1)
		s.checksSinceCalibration++

		e := s.slots[idx]
		if e == nil {
			continue
		}
		if e.pinCount.Load() != 0 {
			continue
		}

		cleared := e.isEmpty()
		score := e.score(now)
		should := cleared || evictAllUnpinned || score >= s.evictionThreshold
		if !should {
			continue
		}

		if !evictAllUnpinned && ssdBusy && e.ssdSaveable {
			ssdSkipped = true
			s.counters.numSaveableSkipped.Add(1)
			continue
		}

		pages := e.alloc.NumPages()
		if pagesToAcquire > 0 && pages <= pagesToAcquire && !e.alloc.Empty() {
			acquired.AppendMove(&e.alloc)
			pagesToAcquire -= pages
		} else if !e.alloc.Empty() {
			toFree = append(toFree, e.alloc)
			e.alloc = pagealloc.Allocation{}
		}

		result.freedBytes += e.size
		result.freedPages += pages

		reason := EvictClock
		switch {
		case cleared:
			reason = EvictSuperseded
		case evictAllUnpinned:
			reason = EvictDesperate
		}

		if !cleared {
			delete(s.entriesByKey, e.key)
		}
		s.freeSlotLocked(e)

		s.counters.numEvict.Add(1)
		s.counters.sumEvictScore.Add(score)
		s.cache.opts.Metrics.Evict(reason)
	}

	s.clockHand = (start + visited) % n
	s.maybeCalibrateLocked(n)

	s.mu.Unlock()

	for i := range toFree {
		a := toFree[i]
		s.cache.opts.Allocator.Free(&a)
	}
	if ssdSkipped {
		s.cache.onSSDSkippedDuringEvict()
	}
	return result
}

// maybeCalibrateLocked re-fits evictionThreshold from a sampled
// percentile of scores, at a fixed cadence. Must be called
// with mu held.
func (s *shard) maybeCalibrateLocked(n int) {
	samples := s.cache.opts.PercentileSamples
	if n == 0 || samples <= 0 {
		return
	}
	due := s.eventCounter > int64(n)/4 || s.checksSinceCalibration > int64(n)/8
	if !due {
		return
	}
	s.eventCounter = 0
	s.checksSinceCalibration = 0

	stride := n / samples
	if stride < 1 {
		stride = 1
	}
	now := s.cache.opts.Clock.Now().UnixNano()
	scores := make([]int64, 0, samples)
	for i, idx := 0, 0; i < samples && idx < n; i, idx = i+1, idx+stride {
		e := s.slots[idx]
		if e == nil || e.pinCount.Load() != 0 {
			continue
		}
		scores = append(scores, e.score(now))
	}
	if len(scores) == 0 {
		return
	}
	sortInt64s(scores)
	rank := (len(scores) * s.cache.opts.Percentile) / 100
	if rank >= len(scores) {
		rank = len(scores) - 1
	}
	s.evictionThreshold = scores[rank]
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// appendSSDSaveable collects pins on every populated, non-exclusive,
// saveable entry (whether currently held by a reader or just sitting
// evictable) up to 70% of the shard's slots, so the shard stays mostly
// readable during the save.
func (s *shard) appendSSDSaveable(out []Pin) []Pin {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := (len(s.slots) * 7) / 10
	taken := 0
	for _, e := range s.slots {
		if taken >= limit {
			break
		}
		if e == nil || e.isEmpty() || e.isExclusive() || !e.ssdSaveable {
			continue
		}
		e.addReference()
		out = append(out, newPin(s, e))
		taken++
	}
	return out
}
