// Command bench runs a synthetic load/read workload against the cache,
// always serves Prometheus metrics, and optionally serves pprof.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/asyncdatacache/cache"
	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
	pmet "github.com/IvanBrykalov/asyncdatacache/metrics/prom"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		capBytes = flag.Int64("cap", 256<<20, "allocator capacity in bytes")
		shards   = flag.Int("shards", 0, "number of shards (0=auto)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		numFiles  = flag.Int("files", 64, "distinct file ids in the keyspace")
		entrySize = flag.Int64("entry_size", 64<<10, "bytes per entry")
		zipfS     = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "asyncdatacache", "bench")
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	allocator := pagealloc.NewHeapAllocator(*capBytes)
	c := cache.New(cache.Options{
		NumShards: *shards,
		Allocator: allocator,
		Metrics:   metrics,
	})
	defer func() { _ = c.Close() }()

	offsetsPerFile := uint64(*capBytes / int64(*numFiles) / *entrySize)
	if offsetsPerFile == 0 {
		offsetsPerFile = 1
	}
	keySpace := uint64(*numFiles) * offsetsPerFile

	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var reads, writes, hits, misses, allocFails, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(*seed + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, 1.0, keySpace-1)

			keyByZipf := func() cache.Key {
				n := localZipf.Uint64()
				return cache.Key{
					FileID: cache.FileID(n/offsetsPerFile + 1),
					Offset: (n % offsetsPerFile) * uint64(*entrySize),
				}
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				k := keyByZipf()
				isRead := int(localR.Int31n(100)) < *readPct

				pin, err := c.FindOrCreate(ctx, k, *entrySize, nil)
				if err != nil {
					atomic.AddUint64(&allocFails, 1)
					continue
				}
				if !pin.Valid() {
					continue // another goroutine owns the fill; re-probe next iteration
				}

				if !pin.Miss() {
					if isRead {
						atomic.AddUint64(&reads, 1)
						atomic.AddUint64(&hits, 1)
						pin.Touch()
					} else {
						atomic.AddUint64(&writes, 1)
					}
					pin.Release()
					continue
				}

				atomic.AddUint64(&misses, 1)
				if isRead {
					atomic.AddUint64(&reads, 1)
				} else {
					atomic.AddUint64(&writes, 1)
				}
				if b := pin.Bytes(); b != nil {
					for i := range b {
						b[i] = byte(id)
					}
				}
				c.PublishShared(pin)
				pin.Release()
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	failsN := atomic.LoadUint64(&allocFails)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	st := c.RefreshStats()
	fmt.Printf("shards=%d workers=%d files=%d entry_size=%d dur=%v seed=%d\n",
		*shards, workersN, *numFiles, *entrySize, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  alloc_fails=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, failsN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("entries=%d  evictions=%d  shared_bytes=%d\n", st.NumEntries, st.NumEvict, st.SharedPinnedBytes)
}
