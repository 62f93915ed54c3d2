// Command cachestat is a small diagnostic CLI for exercising and inspecting
// an in-process cache.Cache instance.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/asyncdatacache/cache"
	"github.com/IvanBrykalov/asyncdatacache/internal/pagealloc"
)

var (
	capBytes  int64
	numShards int
	c         *cache.Cache
)

var rootCmd = &cobra.Command{
	Use:   "cachestat",
	Short: "cachestat inspects and exercises an asyncdatacache.Cache",
	Long:  `cachestat builds a standalone Cache, drives it with synthetic traffic or a one-off fill, and reports its stats.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c = cache.New(cache.Options{
			NumShards: numShards,
			Allocator: pagealloc.NewHeapAllocator(capBytes),
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if c != nil {
			return c.Close()
		}
		return nil
	},
}

var (
	loadFiles     int
	loadOffsets   int
	loadEntrySize int64
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Fill the cache with a deterministic key set and print stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		filled := 0
		for f := 0; f < loadFiles; f++ {
			for o := 0; o < loadOffsets; o++ {
				key := cache.Key{FileID: cache.FileID(f + 1), Offset: uint64(o) * uint64(loadEntrySize)}
				pin, err := c.FindOrCreate(ctx, key, loadEntrySize, nil)
				if err != nil {
					fmt.Fprintf(os.Stderr, "findOrCreate %v: %v\n", key, err)
					continue
				}
				if !pin.Valid() {
					continue
				}
				if pin.Miss() {
					if b := pin.Bytes(); b != nil {
						copy(b, []byte("cachestat-demo-payload"))
					}
					c.PublishShared(pin)
					filled++
				}
				pin.Release()
			}
		}
		fmt.Printf("Filled %d new entries\n", filled)
		printStats(c.RefreshStats())
		return nil
	},
}

var (
	benchDuration time.Duration
	benchWorkers  int
	benchReadPct  int
	benchKeys     int
	benchSize     int64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a short mixed read/fill workload and report throughput",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), benchDuration)
		defer cancel()

		type result struct{ ops, hits, misses int64 }
		results := make(chan result, benchWorkers)

		for w := 0; w < benchWorkers; w++ {
			go func(id int) {
				r := rand.New(rand.NewSource(int64(id) + 1))
				var res result
				for {
					select {
					case <-ctx.Done():
						results <- res
						return
					default:
					}
					key := cache.Key{FileID: cache.FileID(r.Intn(benchKeys) + 1)}
					pin, err := c.FindOrCreate(ctx, key, benchSize, nil)
					if err != nil || !pin.Valid() {
						continue
					}
					res.ops++
					if pin.Miss() {
						res.misses++
						c.PublishShared(pin)
					} else {
						res.hits++
					}
					pin.Release()
				}
			}(w)
		}

		var total result
		for w := 0; w < benchWorkers; w++ {
			r := <-results
			total.ops += r.ops
			total.hits += r.hits
			total.misses += r.misses
		}

		fmt.Printf("ops=%d hits=%d misses=%d (%.1f%% hit-rate) over %v\n",
			total.ops, total.hits, total.misses,
			float64(total.hits)/float64(total.ops)*100, benchDuration)
		printStats(c.RefreshStats())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print stats for a freshly constructed (empty) cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printStats(c.RefreshStats())
		return nil
	},
}

func printStats(st cache.Stats) {
	fmt.Println("=== Cache Statistics ===")
	fmt.Printf("Entries: %d (shared=%d exclusive=%d empty=%d)\n",
		st.NumEntries, st.NumShared, st.NumExclusive, st.NumEmptyEntries)
	fmt.Printf("Hits: %d  New: %d  Evictions: %d (checks=%d)\n",
		st.NumHit, st.NumNew, st.NumEvict, st.NumEvictChecks)
	fmt.Printf("Waited on exclusive: %d\n", st.NumWaitExclusive)
	fmt.Printf("Shared bytes: %d  Exclusive bytes: %d\n", st.SharedPinnedBytes, st.ExclusivePinnedBytes)
	fmt.Printf("Prefetch entries: %d (%d bytes)\n", st.NumPrefetch, st.PrefetchBytes)
	fmt.Printf("Tiny: %d bytes (%d padding)  Large: %d bytes (%d padding)\n",
		st.TinySize, st.TinyPadding, st.LargeSize, st.LargePadding)
	fmt.Printf("SSD saved pages: %d\n", st.SSDSavedPages)
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&capBytes, "cap", 64<<20, "allocator capacity in bytes")
	rootCmd.PersistentFlags().IntVar(&numShards, "shards", 0, "number of shards (0=auto)")

	loadCmd.Flags().IntVar(&loadFiles, "files", 8, "distinct file ids to fill")
	loadCmd.Flags().IntVar(&loadOffsets, "offsets", 64, "offsets per file")
	loadCmd.Flags().Int64Var(&loadEntrySize, "entry-size", 4096, "bytes per entry")

	benchCmd.Flags().DurationVar(&benchDuration, "duration", 3*time.Second, "benchmark duration")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 4, "worker goroutines")
	benchCmd.Flags().IntVar(&benchReadPct, "reads", 80, "read percentage (informational only)")
	benchCmd.Flags().IntVar(&benchKeys, "keys", 1000, "distinct file ids in the keyspace")
	benchCmd.Flags().Int64Var(&benchSize, "entry-size", 4096, "bytes per entry")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
