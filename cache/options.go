package cache

import (
	"time"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
	"github.com/IvanBrykalov/asyncdatacache/internal/ssdtier"
)

// EvictReason explains why an entry was removed, reported to Metrics.Evict.
type EvictReason int

const (
	// EvictClock — the CLOCK hand selected this entry during a normal
	// eviction pass.
	EvictClock EvictReason = iota
	// EvictDesperate — freed during a desperate pass: every unpinned entry
	// in the shard was evicted because ordinary eviction could not find
	// enough space after a full round of shards.
	EvictDesperate
	// EvictSuperseded — cleared because a new findOrCreate for the same
	// key arrived while the old entry still existed.
	EvictSuperseded
)

// Clock abstracts wall time so tests can control it. Nil => time.Now.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Cache. Zero values are safe; New applies the
// defaults documented per field below.
type Options struct {
	// NumShards is the number of independent shards. 0 => auto
	// (util.ReasonableShardCount), rounded to a power of two.
	NumShards int

	// TinyThreshold is the entry size, in bytes, below which an entry is
	// stored inline in Go-heap memory rather than through Allocator.
	// Default: 2048.
	TinyThreshold int64

	// MaxFreeEntries bounds the per-shard recycled-entry-struct freelist.
	// Default: 128.
	MaxFreeEntries int

	// MaxAttemptsMultiplier scales how many shards Cache.MakeSpace visits
	// (NumShards * MaxAttemptsMultiplier) before giving up. Default: 4.
	MaxAttemptsMultiplier int

	// MinEvictPages is the minimum number of pages MakeSpace asks a shard
	// to try to free per visit, even for a small request. Default: 256.
	MinEvictPages int32

	// SmallSizePages is the request size, in pages, below which MakeSpace
	// treats the ask as "small" for its size-multiplier backoff curve.
	// Default: 2048.
	SmallSizePages int32

	// MinSavePages is the minimum backlog, in pages, of newly SSD-saveable
	// bytes before the cache considers triggering an SSD save batch.
	// Default: 4096.
	MinSavePages int32

	// PercentileSamples is how many entries the CLOCK hand samples when
	// calibrating its eviction-score threshold. Default: 10.
	PercentileSamples int

	// Percentile is the target percentile (0-100) used when calibrating
	// the eviction threshold from the samples. Default: 80.
	Percentile int

	// Allocator supplies backing memory for non-tiny entries. Required;
	// New panics if nil.
	Allocator pagealloc.Allocator

	// SSD is an optional secondary tier. Nil disables SSD save entirely.
	SSD ssdtier.Tier

	// Metrics receives cache signals. Nil => NoopMetrics.
	Metrics Metrics

	// Clock overrides time.Now (tests). Nil => real clock.
	Clock Clock
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.TinyThreshold <= 0 {
		out.TinyThreshold = 2048
	}
	if out.MaxFreeEntries <= 0 {
		out.MaxFreeEntries = 128
	}
	if out.MaxAttemptsMultiplier <= 0 {
		out.MaxAttemptsMultiplier = 4
	}
	if out.MinEvictPages <= 0 {
		out.MinEvictPages = 256
	}
	if out.SmallSizePages <= 0 {
		out.SmallSizePages = 2048
	}
	if out.MinSavePages <= 0 {
		out.MinSavePages = 4096
	}
	if out.PercentileSamples <= 0 {
		out.PercentileSamples = 10
	}
	if out.Percentile <= 0 {
		out.Percentile = 80
	}
	if out.Metrics == nil {
		out.Metrics = NoopMetrics{}
	}
	if out.Clock == nil {
		out.Clock = realClock{}
	}
	return out
}
