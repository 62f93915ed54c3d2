package cache

import (
	"testing"
	"time"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
)

func TestEntry_LifecycleExclusiveToShared(t *testing.T) {
	var e entry
	e.initialize(Key{FileID: 1, Offset: 0}, false)
	if !e.isExclusive() {
		t.Fatal("fresh entry must be exclusive")
	}
	if e.isShared() || e.isEvictable() || e.isEmpty() {
		t.Fatal("exclusive entry must not read as shared/evictable/empty")
	}

	e.setData([]byte("hello"), pagealloc.Allocation{}, 5)
	w := e.exclusiveToShared(time.Unix(0, 1000))
	if w != nil {
		t.Fatal("no waiter was registered; exclusiveToShared must return nil")
	}
	if !e.isShared() || e.numPins() != 1 {
		t.Fatalf("want shared with 1 pin, got shared=%v pins=%d", e.isShared(), e.numPins())
	}

	e.addReference()
	if e.numPins() != 2 {
		t.Fatalf("want 2 pins after addReference, got %d", e.numPins())
	}
	if v := e.release(); v != 1 {
		t.Fatalf("want 1 remaining pin after release, got %d", v)
	}
	if v := e.release(); v != 0 {
		t.Fatalf("want 0 remaining pins after second release, got %d", v)
	}
	if !e.isEvictable() {
		t.Fatal("entry with 0 pins and a set key must be evictable")
	}
}

func TestEntry_MakeEvictableCancelsWithoutSharing(t *testing.T) {
	var e entry
	e.initialize(Key{FileID: 2}, false)
	w := e.makeEvictable()
	if w != nil {
		t.Fatal("no waiter was registered; makeEvictable must return nil")
	}
	if e.isShared() || e.isExclusive() {
		t.Fatal("entry must leave exclusive state without ever becoming shared")
	}
	if e.numPins() != 0 {
		t.Fatalf("want 0 pins, got %d", e.numPins())
	}
}

func TestEntry_ReleaseUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("release on a 0-pin entry must panic")
		}
	}()
	var e entry
	e.initialize(Key{FileID: 3}, false)
	e.makeEvictable()
	e.release()
}

func TestEntry_ScorePrefersOlderAndColderEntries(t *testing.T) {
	now := int64(1_000_000_000)

	var old, young entry
	old.initialize(Key{FileID: 1}, false)
	old.setData(nil, pagealloc.Allocation{}, 10)
	old.exclusiveToShared(time.Unix(0, 0))

	young.initialize(Key{FileID: 2}, false)
	young.setData(nil, pagealloc.Allocation{}, 10)
	young.exclusiveToShared(time.Unix(0, now-1))

	if old.score(now) <= young.score(now) {
		t.Fatalf("an entry loaded longer ago must score as more evictable: old=%d young=%d",
			old.score(now), young.score(now))
	}

	var hot entry
	hot.initialize(Key{FileID: 1}, false)
	hot.setData(nil, pagealloc.Allocation{}, 10)
	hot.exclusiveToShared(time.Unix(0, 0))
	hot.touch()
	hot.touch()
	hot.touch()
	if hot.score(now) >= old.score(now) {
		t.Fatalf("hits must lower the eviction score: hot=%d cold=%d", hot.score(now), old.score(now))
	}
}

func TestEntry_PrefetchUnusedScoresHigherThanOrdinary(t *testing.T) {
	now := int64(1_000_000_000)

	var prefetched, ordinary entry
	prefetched.initialize(Key{FileID: 1}, true)
	prefetched.setData(nil, pagealloc.Allocation{}, 10)
	prefetched.exclusiveToShared(time.Unix(0, 0))

	ordinary.initialize(Key{FileID: 2}, false)
	ordinary.setData(nil, pagealloc.Allocation{}, 10)
	ordinary.exclusiveToShared(time.Unix(0, 0))

	if prefetched.score(now) <= ordinary.score(now) {
		t.Fatalf("an untouched prefetch must be more evictable than an ordinary entry of the same age")
	}
}

func TestEntry_ClearResetsToEmpty(t *testing.T) {
	var e entry
	e.initialize(Key{FileID: 9, Offset: 4096}, false)
	e.setData([]byte("xyz"), pagealloc.Allocation{}, 3)
	e.exclusiveToShared(time.Now())
	e.release()

	e.clear(pagealloc.NewHeapAllocator(1 << 20))
	if !e.isEmpty() {
		t.Fatal("cleared entry must be empty")
	}
	if e.bytes() != nil {
		t.Fatal("cleared entry must not retain its old bytes")
	}
}

func TestEntry_BytesContiguousRunOnly(t *testing.T) {
	var e entry
	e.initialize(Key{FileID: 1}, false)
	e.setData([]byte("abc"), pagealloc.Allocation{}, 3)
	if string(e.bytes()) != "abc" {
		t.Fatalf("want tiny bytes to surface directly, got %q", e.bytes())
	}
}
