// Package fileids interns file path strings into small, stable numeric
// identifiers. The cache keys every entry by (FileID, offset) rather than
// by raw path so that a Key stays a fixed-size comparable value regardless
// of how long the underlying path is.
package fileids

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/IvanBrykalov/asyncdatacache/internal/singleflight"
)

// ID is an interned file identifier. Zero is never issued and marks "no
// file" in callers that need a sentinel.
type ID uint64

// Table interns paths to IDs and back, bounded to a fixed number of
// distinct paths. Eviction drops the least-recently-used path-to-ID
// mapping only; it never affects cache entries already keyed by the
// numeric ID (a stale ID simply can no longer be resolved to a path).
type Table struct {
	mu       sync.Mutex
	next     atomic.Uint64
	byPath   *lru.Cache[string, ID]
	byID     map[ID]string
	inflight singleflight.Group[string, ID]
}

// New returns a Table that tracks at most capacity distinct paths.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = 1 << 16
	}
	t := &Table{byID: make(map[ID]string, capacity)}
	byPath, _ := lru.NewWithEvict[string, ID](capacity, func(_ string, id ID) {
		delete(t.byID, id)
	})
	t.byPath = byPath
	return t
}

// Intern returns the ID for path, allocating a new one if path has not
// been seen (or was evicted) since. Concurrent Intern calls for the same
// unseen path are coalesced so only one new ID is ever minted for it.
func (t *Table) Intern(path string) ID {
	t.mu.Lock()
	if id, ok := t.byPath.Get(path); ok {
		t.mu.Unlock()
		return id
	}
	t.mu.Unlock()

	id, _ := t.inflight.Do(context.Background(), path, func() (ID, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if id, ok := t.byPath.Get(path); ok {
			return id, nil
		}
		id := ID(t.next.Add(1))
		t.byPath.Add(path, id)
		t.byID[id] = path
		return id, nil
	})
	return id
}

// Lookup returns the path for id, and whether it is still tracked.
func (t *Table) Lookup(id ID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[id]
	return p, ok
}

// Len returns the number of currently tracked distinct paths.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPath.Len()
}
