package coalesceio

import "testing"

type fakeSource struct {
	offset uint64
	size   int64
	data   []byte
}

func newFakeSource(offset uint64, size int64) *fakeSource {
	return &fakeSource{offset: offset, size: size, data: make([]byte, size)}
}

func (f *fakeSource) Offset() uint64  { return f.offset }
func (f *fakeSource) Size() int64     { return f.size }
func (f *fakeSource) NumRuns() int    { return 1 }
func (f *fakeSource) Ranges(dst []Range) []Range {
	return append(dst, Range{Data: f.data})
}

func TestGroup_MergesAdjacentWithinGap(t *testing.T) {
	sources := []Source{
		newFakeSource(0, 100),
		newFakeSource(150, 100), // gap of 50
		newFakeSource(400, 100), // gap of 150
	}

	var ios [][2]int
	stats, err := Group(sources, 64, 16, func(begin, end int, offset uint64, ranges []Range) error {
		ios = append(ios, [2]int{begin, end})
		return nil
	})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if stats.NumIOs != 2 {
		t.Fatalf("want 2 IOs (first two merged, third separate due to gap > maxGap), got %d: %v", stats.NumIOs, ios)
	}
	if ios[0] != [2]int{0, 2} || ios[1] != [2]int{2, 3} {
		t.Fatalf("unexpected IO grouping: %v", ios)
	}
	if stats.NumSources != 3 {
		t.Fatalf("want 3 total sources across IOs, got %d", stats.NumSources)
	}
}

func TestGroup_GapRangeCarriesCorrectLength(t *testing.T) {
	sources := []Source{
		newFakeSource(0, 100),
		newFakeSource(120, 50), // gap of 20
	}

	var gapLens []int
	_, err := Group(sources, 64, 16, func(begin, end int, offset uint64, ranges []Range) error {
		for _, r := range ranges {
			if r.Data == nil {
				gapLens = append(gapLens, r.Len)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(gapLens) != 1 || gapLens[0] != 20 {
		t.Fatalf("want a single gap range of length 20, got %v", gapLens)
	}
}

func TestGroup_RespectsRangesPerIOCap(t *testing.T) {
	sources := make([]Source, 0, 5)
	for i := 0; i < 5; i++ {
		sources = append(sources, newFakeSource(uint64(i*10), 10))
	}

	var ioSizes []int
	_, err := Group(sources, 1000, 2, func(begin, end int, offset uint64, ranges []Range) error {
		ioSizes = append(ioSizes, end-begin)
		return nil
	})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	for _, n := range ioSizes {
		if n > 2 {
			t.Fatalf("IO exceeded rangesPerIO cap: covered %d sources", n)
		}
	}
}

func TestGroup_Empty(t *testing.T) {
	stats, err := Group(nil, 64, 16, func(begin, end int, offset uint64, ranges []Range) error {
		t.Fatal("read should not be called for an empty source list")
		return nil
	})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if stats.NumIOs != 0 {
		t.Fatalf("want 0 IOs for empty input, got %d", stats.NumIOs)
	}
}
