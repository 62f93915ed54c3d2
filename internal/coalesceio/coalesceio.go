// Package coalesceio groups a set of pinned entries' reads into fewer,
// larger physical I/Os. Pins that are close enough together (within
// maxGap bytes) are merged into a single I/O that also covers the gap
// between them; the gap itself is represented as a Range with nil data
// so the caller knows to skip those bytes rather than fill them.
package coalesceio

// Range is one piece of an I/O: either real storage for a pin's data
// (Data non-nil) or a gap to be skipped (Data nil, Len the gap size).
type Range struct {
	Data []byte
	Len  int
}

// Source describes one unit (typically a cache pin) participating in a
// coalesced read: its storage offset, size, and how many backing ranges
// its buffer is split across.
type Source interface {
	Offset() uint64
	Size() int64
	NumRuns() int
	// Ranges appends this source's backing byte ranges to dst, trimmed to
	// Size() bytes in total, and returns the result.
	Ranges(dst []Range) []Range
}

// ReadFunc performs the physical I/O for sources[begin:end], starting at
// byte offset in the backing store, filling ranges (which may include
// gap placeholders) in order.
type ReadFunc func(begin, end int, offset uint64, ranges []Range) error

// Stats summarizes one Group call's batching outcome.
type Stats struct {
	NumIOs       int
	NumSources   int
	PayloadBytes int64
	GapBytes     int64
}

// Group batches sources into as few reads as possible. Two adjacent
// sources (by Offset) are merged into the same read when the gap between
// them is at most maxGap bytes and the combined range count does not
// exceed rangesPerIO. Sources must be supplied in ascending Offset order.
func Group(sources []Source, maxGap int64, rangesPerIO int, read ReadFunc) (Stats, error) {
	var stats Stats
	if len(sources) == 0 {
		return stats, nil
	}
	if rangesPerIO <= 0 {
		rangesPerIO = 1
	}

	begin := 0
	ranges := make([]Range, 0, rangesPerIO)
	ioOffset := sources[0].Offset()
	ranges = appendSource(ranges, sources[0])
	rangeCount := max(sources[0].NumRuns(), 1)
	end := sources[0].Offset() + uint64(sources[0].Size())

	flush := func(i int) error {
		if err := read(begin, i, ioOffset, ranges); err != nil {
			return err
		}
		stats.NumIOs++
		stats.NumSources += i - begin
		for _, r := range ranges {
			if r.Data != nil {
				stats.PayloadBytes += int64(len(r.Data))
			} else {
				stats.GapBytes += int64(r.Len)
			}
		}
		return nil
	}

	for i := 1; i < len(sources); i++ {
		s := sources[i]
		gap := int64(s.Offset() - end)
		runs := max(s.NumRuns(), 1)

		if gap < 0 {
			gap = 0
		}
		gapRanges := 0
		if gap > 0 {
			gapRanges = 1
		}
		if gap > maxGap || rangeCount+runs+gapRanges > rangesPerIO {
			if err := flush(i); err != nil {
				return stats, err
			}
			begin = i
			ranges = ranges[:0]
			ioOffset = s.Offset()
			rangeCount = 0
		} else if gap > 0 {
			ranges = append(ranges, Range{Len: int(gap)})
			rangeCount++
		}

		ranges = appendSource(ranges, s)
		rangeCount += runs
		end = s.Offset() + uint64(s.Size())
	}

	if err := flush(len(sources)); err != nil {
		return stats, err
	}
	return stats, nil
}

func appendSource(dst []Range, s Source) []Range {
	return s.Ranges(dst)
}
