package pagealloc

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// bitmapArena tracks which pages of a fixed-size backing region are free
// using a roaring bitmap of free page indices. This is the realistic
// choice for a page allocator meant to track millions of pages cheaply
// (a plain []bool would cost one byte per page; roaring compresses runs).
type bitmapArena struct {
	mu         sync.Mutex
	free       *roaring.Bitmap
	totalPages int32
	allocated  atomic.Int64 // pages currently allocated
	backing    []byte       // one contiguous arena; page i is backing[i*PageSize:(i+1)*PageSize]
	registry
}

func newBitmapArena(backing []byte) *bitmapArena {
	totalPages := int32(len(backing) / PageSize)
	free := roaring.New()
	free.AddRange(0, uint64(totalPages))
	return &bitmapArena{
		free:       free,
		totalPages: totalPages,
		backing:    backing,
	}
}

func (a *bitmapArena) capacity() int64     { return int64(a.totalPages) * PageSize }
func (a *bitmapArena) numAllocated() int64 { return a.allocated.Load() }

// allocatePages pops n free page indices (not necessarily contiguous),
// coalesces runs of consecutive indices, and appends them to out.
func (a *bitmapArena) allocatePages(n int32, out *Allocation) bool {
	if n <= 0 {
		return true
	}
	if ok := a.tryGrab(n, out); ok {
		return true
	}
	a.reclaim(n - int32(a.freeCount()))
	return a.tryGrab(n, out)
}

func (a *bitmapArena) freeCount() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int32(a.free.GetCardinality())
}

func (a *bitmapArena) tryGrab(n int32, out *Allocation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if uint64(n) > a.free.GetCardinality() {
		return false
	}

	indices := make([]uint32, 0, n)
	it := a.free.Iterator()
	for int32(len(indices)) < n && it.HasNext() {
		indices = append(indices, it.Next())
	}
	for _, idx := range indices {
		a.free.Remove(idx)
	}

	// Coalesce consecutive indices into runs.
	start := 0
	for start < len(indices) {
		end := start + 1
		for end < len(indices) && indices[end] == indices[end-1]+1 {
			end++
		}
		first := indices[start]
		count := uint32(end - start)
		lo := int64(first) * PageSize
		hi := lo + int64(count)*PageSize
		out.runs = append(out.runs, Run{Data: a.backing[lo:hi]})
		start = end
	}
	out.pages += n
	a.allocated.Add(int64(n))
	return true
}

// freeAllocation returns the pages of al to the free bitmap and clears al.
func (a *bitmapArena) freeAllocation(al *Allocation) {
	if al.Empty() {
		return
	}
	a.mu.Lock()
	for _, r := range al.runs {
		first := a.pageIndex(r.Data)
		count := uint32(len(r.Data) / PageSize)
		a.free.AddRange(uint64(first), uint64(first+count))
	}
	a.mu.Unlock()
	a.allocated.Add(-int64(al.pages))
	al.reset()
}

// pageIndex recovers the page index of a run previously carved out of
// a.backing. Every Run handed out by allocatePages is a sub-slice of
// a.backing, so the offset is always representable and in range.
func (a *bitmapArena) pageIndex(data []byte) uint32 {
	return uint32(sliceOffset(a.backing, data) / PageSize)
}
