//go:build linux

package pagealloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapAllocator backs pages with one anonymous mmap'd arena, tracked by a
// roaring-bitmap free list (bitmapArena). This is the realistic allocator:
// real memory, real page granularity, non-contiguous allocations composed
// of scattered pages coalesced into runs.
type mmapAllocator struct {
	arena *bitmapArena
}

// NewMmapAllocator reserves capacityBytes (rounded up to a page multiple)
// of anonymous memory up front via mmap and manages it as a page arena.
// The returned Allocator satisfies pagealloc.Allocator.
func NewMmapAllocator(capacityBytes int64) (Allocator, error) {
	pages := (capacityBytes + PageSize - 1) / PageSize
	size := pages * PageSize
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagealloc: mmap %d bytes: %w", size, err)
	}
	return &mmapAllocator{arena: newBitmapArena(data)}, nil
}

func (m *mmapAllocator) AllocatePages(n int32, out *Allocation) bool {
	return m.arena.allocatePages(n, out)
}

func (m *mmapAllocator) Free(a *Allocation) { m.arena.freeAllocation(a) }

func (m *mmapAllocator) Capacity() int64 { return m.arena.capacity() }

func (m *mmapAllocator) NumAllocated() int64 { return m.arena.numAllocated() }

func (m *mmapAllocator) RegisterCache(c EvictionClient) { m.arena.register(c) }
