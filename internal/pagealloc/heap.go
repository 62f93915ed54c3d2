package pagealloc

import "sync/atomic"

// heapAllocator is a portable, GOOS-independent allocator used in tests and
// on platforms without the mmap-backed arena. It hands out ordinary Go byte
// slices per allocation (no single shared arena, so allocations are never
// coalesced with neighbors), but enforces the same capacity contract so
// eviction/backoff logic can be exercised deterministically without a real
// page-fault path.
type heapAllocator struct {
	capacity  int64
	allocated atomic.Int64
	registry
}

// NewHeapAllocator returns an Allocator backed by ordinary heap allocations.
// Use this in tests and on platforms where the mmap-backed allocator in
// mmap_linux.go is unavailable.
func NewHeapAllocator(capacityBytes int64) Allocator {
	return &heapAllocator{capacity: capacityBytes}
}

func (h *heapAllocator) AllocatePages(n int32, out *Allocation) bool {
	if n <= 0 {
		return true
	}
	want := int64(n) * PageSize
	if !h.tryReserve(want) {
		h.reclaim(n)
		if !h.tryReserve(want) {
			return false
		}
	}
	out.runs = append(out.runs, Run{Data: make([]byte, want)})
	out.pages += n
	return true
}

func (h *heapAllocator) tryReserve(bytes int64) bool {
	for {
		cur := h.allocated.Load()
		if cur+bytes > h.capacity {
			return false
		}
		if h.allocated.CompareAndSwap(cur, cur+bytes) {
			return true
		}
	}
}

func (h *heapAllocator) Free(a *Allocation) {
	if a.Empty() {
		return
	}
	h.allocated.Add(-a.ByteSize())
	a.reset()
}

func (h *heapAllocator) Capacity() int64 { return h.capacity }

func (h *heapAllocator) NumAllocated() int64 { return h.allocated.Load() }

func (h *heapAllocator) RegisterCache(c EvictionClient) { h.register(c) }
