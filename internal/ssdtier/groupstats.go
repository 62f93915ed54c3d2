package ssdtier

import "sync"

// freqGroupStats is a demo GroupStats: it admits an entry to the SSD tier
// once it has been asked about the same (groupID, trackingID) pair at
// least threshold times, a crude stand-in for the real oracle's access
// frequency filter. The counting table is capped at maxTracked entries and
// cleared wholesale when it would grow past that, which is simple and
// bounded, not an LRU -- a sufficient approximation for a demo collaborator
// whose real implementation lives outside this module's scope.
type freqGroupStats struct {
	mu         sync.Mutex
	counts     map[uint64]uint32
	threshold  uint32
	maxTracked int
}

// NewFreqGroupStats returns a GroupStats with the given initial admission
// threshold (number of observations before an entry becomes saveable).
func NewFreqGroupStats(threshold uint32) GroupStats {
	if threshold == 0 {
		threshold = 1
	}
	return &freqGroupStats{
		counts:     make(map[uint64]uint32),
		threshold:  threshold,
		maxTracked: 1 << 20,
	}
}

func trackingKey(groupID, trackingID uint64) uint64 {
	// Fold both ids into one map key; collisions only make the filter
	// slightly more permissive, never unsafe.
	return groupID*1099511628211 ^ trackingID
}

func (g *freqGroupStats) ShouldSaveToSSD(groupID, trackingID uint64) bool {
	k := trackingKey(groupID, trackingID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.counts) >= g.maxTracked {
		g.counts = make(map[uint64]uint32)
	}
	g.counts[k]++
	return g.counts[k] >= g.threshold
}

// UpdateSSDFilter re-fits the admission threshold so that, loosely, more
// targetBytes means a lower bar to admit (the tier has room for more).
func (g *freqGroupStats) UpdateSSDFilter(targetBytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case targetBytes <= 0:
		g.threshold = 1 << 20 // effectively stop admitting
	case targetBytes > (1 << 34): // > 16GiB of headroom: admit eagerly
		g.threshold = 1
	case targetBytes > (1 << 30):
		g.threshold = 2
	default:
		g.threshold = 4
	}
}
