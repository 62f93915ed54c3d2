package cache

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
)

// exclusivePin marks an entry as held for exclusive (write) access: no
// concurrent readers are permitted and pinCount carries this sentinel
// instead of a positive reader count.
const exclusivePin = math.MinInt32

// entry holds one cached (Key -> bytes) mapping plus the bookkeeping a
// shard needs to run CLOCK eviction and pin/ownership arbitration over it.
// An entry is either:
//   - empty:     key.cleared(), not reachable from entriesByKey
//   - exclusive: pinCount == exclusivePin, exactly one writer, no readers
//   - shared:    pinCount >= 1, any number of readers, contents valid
//   - evictable: pinCount == 0, contents valid but nobody is using them
//
// Every field below is only ever mutated while the owning shard's mutex
// is held, with two exceptions. pinCount is advanced by addReference via
// a bare atomic increment on the hot path: a reader that already holds a
// Pin may add another reference without taking the shard lock at all.
// setData runs without the lock while the entry is still exclusive to
// the goroutine that created it.
type entry struct {
	key     Key
	slotIdx int32

	tiny  []byte             // used when size fits under TinyThreshold
	alloc pagealloc.Allocation // used otherwise

	pinCount atomic.Int32

	// size is the logical byte length of the cached value; initialize()
	// zeroes it, setData() sets it, and it stays fixed until the entry is
	// cleared.
	size int64

	// accessed via touch(); consulted by the CLOCK hand in evict().
	accessedSinceCreation bool
	hits                  int32

	isPrefetch bool
	loadedAt   int64 // UnixNano, set when exclusiveToShared runs

	// ssdSaveable marks an entry that passed the SSD admission filter and
	// is waiting to be picked up by the next save batch.
	ssdSaveable bool

	// waiter is non-nil while another goroutine's findOrCreate call is
	// waiting for this entry to leave its exclusive state (see shard.go).
	waiter *sharedPromise
}

func (e *entry) isExclusive() bool { return e.pinCount.Load() == exclusivePin }

func (e *entry) isShared() bool { return e.pinCount.Load() > 0 }

func (e *entry) isEvictable() bool { return e.pinCount.Load() == 0 && !e.key.cleared() }

func (e *entry) isEmpty() bool { return e.key.cleared() }

// numPins returns the number of live shared readers, or 0 when the entry
// is exclusive, evictable, or empty.
func (e *entry) numPins() int32 {
	v := e.pinCount.Load()
	if v < 0 {
		return 0
	}
	return v
}

// initialize transitions an empty or evictable slot into the exclusive
// state for key, ready to be filled by a loader. Must be called with the
// owning shard's mutex held.
func (e *entry) initialize(key Key, prefetch bool) {
	e.key = key
	e.tiny = nil
	e.alloc = pagealloc.Allocation{}
	e.size = 0
	e.accessedSinceCreation = false
	e.hits = 0
	e.isPrefetch = prefetch
	e.loadedAt = 0
	e.ssdSaveable = false
	e.waiter = nil
	e.pinCount.Store(exclusivePin)
}

// setData installs the loaded bytes and records the logical size. Called
// while the entry is still exclusive.
func (e *entry) setData(tiny []byte, alloc pagealloc.Allocation, size int64) {
	e.tiny = tiny
	e.alloc = alloc
	e.size = size
}

// exclusiveToShared transitions a freshly-loaded entry from exclusive to
// shared-with-one-reference, waking any goroutine waiting on it. Must be
// called with the owning shard's mutex held (so the waiter swap is safe).
func (e *entry) exclusiveToShared(now time.Time) *sharedPromise {
	if !e.isExclusive() {
		panic("cache: exclusiveToShared on a non-exclusive entry")
	}
	e.loadedAt = now.UnixNano()
	e.pinCount.Store(1)
	w := e.waiter
	e.waiter = nil
	return w
}

// makeEvictable aborts a load: the entry had no data installed (or is
// being discarded) and returns to pinCount == 0 without ever becoming
// shared. Any waiter is woken with a cancellation signal by the caller.
func (e *entry) makeEvictable() *sharedPromise {
	if !e.isExclusive() {
		panic("cache: makeEvictable on a non-exclusive entry")
	}
	e.pinCount.Store(0)
	w := e.waiter
	e.waiter = nil
	return w
}

// addReference increments the shared reader count. The caller must
// already hold a live reference (i.e. this is "clone a Pin", not "create
// the first Pin") -- that is the only case allowed without the
// shard lock, because a live reference guarantees the entry cannot be
// concurrently cleared or reused. Adding a reference to an exclusive
// entry is an invariant violation and panics.
func (e *entry) addReference() {
	if e.pinCount.Add(1) <= 0 {
		panic("cache: addReference on an exclusive entry")
	}
}

// release drops one shared reference. Must never be called on an
// exclusive or already-empty entry.
func (e *entry) release() int32 {
	v := e.pinCount.Add(-1)
	if v < 0 {
		panic("cache: release underflowed pinCount")
	}
	return v
}

// touch records an access for CLOCK scoring purposes.
func (e *entry) touch() {
	e.accessedSinceCreation = true
	if e.hits < math.MaxInt32 {
		e.hits++
	}
}

// score returns a higher-is-more-evictable value for the CLOCK hand:
// the time since the entry was loaded, divided by 1 + its hit count, so
// older entries with fewer hits score higher.
func (e *entry) score(nowNano int64) int64 {
	age := nowNano - e.loadedAt
	if age < 1 {
		age = 1
	}
	weight := int64(1 + e.hits)
	score := age / weight
	if e.isPrefetch && e.hits == 0 {
		// Nobody has consumed this prefetch yet; let it go ahead of an
		// ordinary entry of the same age instead of displacing live data.
		score *= 2
	}
	return score
}

// clear wipes a fully-evicted entry back to empty, releasing any backing
// allocation to the allocator. Must be called with the owning shard's
// mutex held and only when pinCount == 0.
func (e *entry) clear(allocator pagealloc.Allocator) {
	if !e.alloc.Empty() {
		allocator.Free(&e.alloc)
	}
	e.tiny = nil
	e.key = Key{}
	e.size = 0
	e.ssdSaveable = false
}

// bytes returns the entry's data as a single contiguous slice when it is
// tiny-inlined or page-backed by a single run, or nil when it spans
// several runs (callers of coalesceio walk alloc.RunAt(i) instead in that
// case).
func (e *entry) bytes() []byte {
	if e.tiny != nil {
		return e.tiny
	}
	if e.alloc.NumRuns() == 1 {
		return e.alloc.RunAt(0).Data
	}
	return nil
}
