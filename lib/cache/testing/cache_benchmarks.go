package testing

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
)

// RunCacheBenchmarks runs all benchmarks for a cache implementation
func RunCacheBenchmarks(b *testing.B, name string, factory CacheFactory) {

	b.Run("Insert", func(b *testing.B) {
		benchmarkInsert(b, factory())
	})

	b.Run("InsertExisting", func(b *testing.B) {
		benchmarkInsertExisting(b, factory())
	})

	b.Run("InsertWithExpiry", func(b *testing.B) {
		benchmarkInsertWithExpiry(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("GetBulk", func(b *testing.B) {
		benchmarkGetBulk(b, factory())
	})

	b.Run("Query", func(b *testing.B) {
		benchmarkQuery(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func prefill(c cache.ICache, n int) {
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("bench-key-%d", i)
		_ = c.Insert(key, Entry(key), nil, cache.LockDefault, newOC())
	}
}

// Benchmark for Insert of new keys
func benchmarkInsert(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter)
			_ = c.Insert(key, Entry(key), nil, cache.LockDefault, newOC())
			counter++
		}
	})
}

// Benchmark for Insert of existing keys
func benchmarkInsertExisting(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	numKeys := 10_000
	prefill(c, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter%numKeys)
			_ = c.Insert(key, Entry(key), nil, cache.LockDefault, newOC())
			counter++
		}
	})
}

// Benchmark for Insert with a sliding expiration
func benchmarkInsertWithExpiry(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-expiry-key-%d", counter)
			e := Entry(key)
			e.Expiration = &cache.ExpirationHint{Kind: cache.ExpireIdle, Sliding: time.Minute}
			_ = c.Insert(key, e, nil, cache.LockDefault, newOC())
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	numKeys := 10_000
	prefill(c, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter%numKeys)
			_, _ = c.Get(key, 0, nil, cache.LockDefault, 0, newOC())
			counter++
		}
	})
}

func benchmarkGetBulk(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	numKeys := 10_000
	prefill(c, numKeys)
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench-key-%d", i*97%numKeys)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = c.GetBulk(keys, nil, newOC())
		}
	})
}

func benchmarkQuery(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	for i := 0; i < 5_000; i++ {
		key := fmt.Sprintf("bench-product-%d", i)
		_ = c.Insert(key, TaggedEntry(key, "Product", nil, map[string]any{"Price": float64(i % 100)}), nil, cache.LockDefault, newOC())
	}
	params := map[string]any{"Price": 90}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Search("SELECT Product WHERE Price > ?", params, newOC())
	}
}

// benchmarkMixedUsage runs 70% reads and 30% writes
func benchmarkMixedUsage(b *testing.B, c cache.ICache) {
	b.Cleanup(func() {
		c.Close()
	})

	numKeys := 50_000
	prefill(c, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := fmt.Sprintf("bench-key-%d", counter%numKeys)
			if rnd.Float32() < .7 {
				_, _ = c.Get(key, 0, nil, cache.LockDefault, 0, newOC())
			} else {
				_ = c.Insert(key, Entry(key), nil, cache.LockDefault, newOC())
			}
			counter++
		}
	})
}
