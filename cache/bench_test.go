package cache

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
)

// benchmarkMix exercises a hit/fill mix against a warm cache.
func benchmarkMix(b *testing.B, readsPct int) {
	ctx := context.Background()
	c := New(Options{
		Allocator: pagealloc.NewHeapAllocator(256 << 20),
	})
	b.Cleanup(func() { _ = c.Close() })

	const warmKeys = 50_000
	for i := 0; i < warmKeys; i++ {
		key := Key{FileID: FileID(i + 1)}
		pin, err := c.FindOrCreate(ctx, key, 256, nil)
		if err == nil && pin.Valid() {
			if pin.Miss() {
				c.PublishShared(pin)
			}
			pin.Release()
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := int64(1<<16) - 1 // hot keyspace, power of two

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := int64(0)
		for pb.Next() {
			key := Key{FileID: FileID((i & keyMask) + 1)}
			pin, err := c.FindOrCreate(ctx, key, 256, nil)
			if err == nil && pin.Valid() {
				if r.Intn(100) < readsPct {
					if !pin.Miss() {
						pin.Touch()
					} else {
						c.PublishShared(pin)
					}
				} else if pin.Miss() {
					c.PublishShared(pin)
				}
				pin.Release()
			}
			i++
		}
	})
}

func BenchmarkCache_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkCache_50r50w(b *testing.B) { benchmarkMix(b, 50) }

// benchmarkCloneOnly isolates the hot-path Clone/Release cost: no shard
// lock should be taken on either side.
func benchmarkCloneOnly(b *testing.B) {
	ctx := context.Background()
	c := New(Options{Allocator: pagealloc.NewHeapAllocator(1 << 20)})
	b.Cleanup(func() { _ = c.Close() })

	key := Key{FileID: 1}
	pin, err := c.FindOrCreate(ctx, key, 256, nil)
	if err != nil {
		b.Fatal(err)
	}
	c.PublishShared(pin)

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			clone := pin.Clone()
			clone.Release()
		}
	})

	pin.Release()
}

func BenchmarkCache_CloneRelease(b *testing.B) { benchmarkCloneOnly(b) }
