package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of cache-wide counters, refreshed by
// Cache.RefreshStats. Field names follow the Velox AsyncDataCache stats
// surface this module's accounting is modeled on.
type Stats struct {
	NumHit           int64
	NumNew           int64
	NumEvict         int64
	NumEvictChecks   int64
	NumWaitExclusive int64
	SumEvictScore    int64

	NumEntries         int64
	NumEmptyEntries    int64
	NumShared          int64
	NumExclusive       int64
	SharedPinnedBytes  int64
	ExclusivePinnedBytes int64

	NumPrefetch   int64
	PrefetchBytes int64

	TinySize    int64
	TinyPadding int64
	LargeSize   int64
	LargePadding int64

	SSDSavedPages      int64
	NumSaveableSkipped int64
}

// shardCounters holds the subset of Stats a single shard accumulates.
// Reads/writes go through atomics; RefreshStats sums them while holding
// each shard's mutex in turn.
type shardCounters struct {
	numHit           atomic.Int64
	numNew           atomic.Int64
	numEvict         atomic.Int64
	numEvictChecks   atomic.Int64
	numWaitExclusive atomic.Int64
	sumEvictScore    atomic.Int64
	ssdSavedPages    atomic.Int64
	numSaveableSkipped atomic.Int64
}

func (c *shardCounters) addTo(s *Stats) {
	s.NumHit += c.numHit.Load()
	s.NumNew += c.numNew.Load()
	s.NumEvict += c.numEvict.Load()
	s.NumEvictChecks += c.numEvictChecks.Load()
	s.NumWaitExclusive += c.numWaitExclusive.Load()
	s.SumEvictScore += c.sumEvictScore.Load()
	s.SSDSavedPages += c.ssdSavedPages.Load()
	s.NumSaveableSkipped += c.numSaveableSkipped.Load()
}
