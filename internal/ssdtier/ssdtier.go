// Package ssdtier provides a demo secondary (SSD) cache tier. It exists so
// the cache engine in package cache has something real to drive: a
// write-in-progress flag, a batched write sink, and a per-group "should
// save" oracle. Durability and crash recovery of the on-disk format are
// explicitly out of scope (the in-memory/SSD relationship is advisory only).
package ssdtier

// Pin is the minimal surface the SSD tier needs from a cache pin: its
// bytes, size, and how to release it once the tier is done with a batch.
// cache.Pin satisfies this without ssdtier importing package cache.
type Pin interface {
	Size() uint64
	Bytes() []byte
	Release()
}

// GroupStats decides which entries are worth saving to the SSD tier and
// periodically re-fits its admission filter. "Group" and "tracking" ids are
// opaque identifiers supplied by the caller (the cache uses the entry's
// file id and offset).
type GroupStats interface {
	ShouldSaveToSSD(groupID, trackingID uint64) bool
	UpdateSSDFilter(targetBytes int64)
}

// Tier is the SSD tier contract consumed by package cache.
type Tier interface {
	// StartWrite attempts to begin a new write batch. Returns false if one
	// is already in progress; writes are serialized.
	StartWrite() bool
	WriteInProgress() bool
	// Write consumes a batch of pins, releasing each one asynchronously
	// once it has been best-effort written.
	Write(pins []Pin)
	GroupStats() GroupStats
	MaxBytes() int64
}
