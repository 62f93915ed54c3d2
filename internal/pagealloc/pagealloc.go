// Package pagealloc provides the page-granular memory allocator that backs
// cache entries. It is an external collaborator in the cache's design: the
// cache only ever asks it for pages and frees pages back, and registers
// itself so the allocator can ask the cache to give pages back under
// system-wide memory pressure.
package pagealloc

import "sync"

// PageSize is the allocation granularity, matching common huge/OS page
// accounting conventions used by the sources this module is modeled on.
const PageSize = 4096

// Run is one contiguous span of allocated pages.
type Run struct {
	Data []byte
}

// Allocation is a page-granular, possibly non-contiguous allocation: the
// pages composing it may be scattered across the arena and are exposed as
// a list of contiguous Runs. A zero-value Allocation is empty.
type Allocation struct {
	runs  []Run
	pages int32
}

// Empty reports whether the allocation holds no pages.
func (a *Allocation) Empty() bool { return a.pages == 0 }

// NumPages returns the number of pages held.
func (a *Allocation) NumPages() int32 { return a.pages }

// ByteSize returns the total number of bytes held (NumPages * PageSize).
func (a *Allocation) ByteSize() int64 { return int64(a.pages) * PageSize }

// NumRuns returns the number of contiguous runs composing the allocation.
func (a *Allocation) NumRuns() int { return len(a.runs) }

// RunAt returns the i'th run.
func (a *Allocation) RunAt(i int) Run { return a.runs[i] }

// AppendMove moves all pages of src into a, leaving src empty. Used during
// eviction to transfer pages directly into a caller's acquired allocation
// without a free/reallocate round trip.
func (a *Allocation) AppendMove(src *Allocation) {
	a.runs = append(a.runs, src.runs...)
	a.pages += src.pages
	src.runs = nil
	src.pages = 0
}

// reset clears the allocation without freeing pages; used internally once
// ownership of the backing pages has been transferred elsewhere.
func (a *Allocation) reset() {
	a.runs = nil
	a.pages = 0
}

// EvictionClient lets an Allocator ask a registered cache to give back
// pages when the arena has run out of free ones. Implemented by
// cache.Cache; the allocator package never imports the cache package, so
// this interface is the only surface between them.
type EvictionClient interface {
	// Reclaim asks the client to evict up to numPages worth of pages and
	// reports whether it managed to free at least some.
	Reclaim(numPages int32) bool
}

// Allocator is the contract the cache depends on. A Cache is
// constructed with one Allocator and never assumes it is the sole owner:
// other clients may share it, which is why AllocatePages can fail even when
// Capacity()-NumAllocated() looks sufficient a moment earlier.
type Allocator interface {
	AllocatePages(n int32, out *Allocation) bool
	Free(a *Allocation)
	Capacity() int64
	NumAllocated() int64
	RegisterCache(c EvictionClient)
}

// registry is shared plumbing for both allocator implementations: tracking
// registered eviction clients and giving them a chance to free pages before
// an allocation request is failed outright.
type registry struct {
	mu      sync.Mutex
	clients []EvictionClient
}

func (r *registry) register(c EvictionClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, c)
}

// reclaim asks every registered client, in registration order, to free
// pages until shortfall pages have plausibly been freed or clients are
// exhausted. It is best-effort: callers must re-check availability after
// calling this.
func (r *registry) reclaim(shortfall int32) {
	r.mu.Lock()
	clients := append([]EvictionClient(nil), r.clients...)
	r.mu.Unlock()

	for _, c := range clients {
		if shortfall <= 0 {
			return
		}
		if c.Reclaim(shortfall) {
			// We don't know exactly how much was freed; the caller retries
			// the bitmap grab and will come back here again if still short.
			return
		}
	}
}
