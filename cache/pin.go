package cache

import "sync/atomic"

// Pin is a live reference to a shared cache entry. While any Pin for an
// entry exists, the entry cannot be evicted or overwritten. The zero
// Pin is invalid; use Valid() to check before calling other methods.
//
// A Pin must be released exactly once. Cloning (Clone) is the only
// sanctioned way to create an additional reference to the same entry:
// it is a single atomic increment with no locking, which is why Pin is
// a thin, copyable value rather than holding a lock.
type Pin struct {
	shard    *shard
	e        *entry
	released atomic.Bool
}

func newPin(s *shard, e *entry) Pin {
	return Pin{shard: s, e: e}
}

// Valid reports whether the Pin refers to a live entry.
func (p *Pin) Valid() bool { return p.e != nil }

// Key returns the entry's key.
func (p *Pin) Key() Key {
	if p.e == nil {
		return Key{}
	}
	return p.e.key
}

// Size returns the entry's logical byte length.
func (p *Pin) Size() uint64 {
	if p.e == nil {
		return 0
	}
	return uint64(p.e.size)
}

// Bytes returns the entry's data when it is addressable as a single
// contiguous slice (tiny entries, or page entries that happen to occupy
// one run). Multi-run page entries return nil; callers needing those
// bytes should use the coalesced I/O path instead (internal/coalesceio),
// which walks runs explicitly.
func (p *Pin) Bytes() []byte {
	if p.e == nil {
		return nil
	}
	return p.e.bytes()
}

// NumRuns returns the number of contiguous backing runs.
func (p *Pin) NumRuns() int {
	if p.e == nil || p.e.tiny != nil {
		return 1
	}
	n := p.e.alloc.NumRuns()
	if n == 0 {
		return 1
	}
	return n
}

// Clone returns a second, independent Pin to the same entry. The
// underlying pin count is incremented atomically; no shard lock is
// taken, matching the hot-path contract of AsyncDataCacheEntry::addReference.
// Cloning an exclusive (Miss) Pin panics.
func (p *Pin) Clone() Pin {
	if p.e == nil {
		return Pin{}
	}
	p.e.addReference()
	return Pin{shard: p.shard, e: p.e}
}

// Release drops this reference. Safe to call multiple times; only the
// first call has effect. Once every Pin on an entry has been released
// (pinCount reaches 0), the entry becomes eligible for eviction again.
func (p *Pin) Release() {
	if p.e == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.shard.releaseEntry(p.e)
}

// Touch records an access against the pinned entry for CLOCK scoring.
// Safe to call any number of times while the Pin is held.
func (p *Pin) Touch() {
	if p.e != nil {
		p.shard.mu.Lock()
		p.e.touch()
		p.shard.mu.Unlock()
	}
}

// Miss reports whether this Pin was handed back exclusive: the caller owns
// the fill and must write the entry's data, then call Cache.PublishShared
// (or Release to abandon it). A non-exclusive Pin is already readable.
func (p *Pin) Miss() bool {
	return p.e != nil && p.e.isExclusive()
}
