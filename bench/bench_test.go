// Package bench provides reproducible micro-benchmarks for WarpEngine. Run
// via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single key/value shape so results are
// comparable across versions:
//   - Key   - "key_<n>" string, n drawn from a fixed 65,536-entry dataset
//   - Value - 64-byte filler
//
// We measure:
//  1. Put         - write-only workload across an 8-shard numbered topology
//  2. Get         - read-only workload (after warm-up, served from cache)
//  3. GetParallel - highly concurrent reads (b.RunParallel)
//  4. PutGetMixed - 90% reads / 10% writes, the shape closest to production
//
// NOTE: package-level unit tests live alongside each internal package; this
// file is only for performance.
//
// Grounded on the teacher's bench/bench_test.go: same fixed-dataset-plus-
// helper-constructor shape and the same four-benchmark set (Put/Get/
// GetParallel/mixed), re-pointed from a typed in-process cache to the full
// Engine's Put/Get API.
//
// © 2025 WarpEngine authors. MIT License.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/warpengine/warpengine/pkg/warpengine"
)

const (
	numShards = 8
	keys      = 1 << 16 // 65536 keys for dataset
	valSize   = 64
)

func newTestEngine(b *testing.B) *warpengine.Engine {
	b.Helper()
	e, err := warpengine.New(warpengine.WithDataRoot(b.TempDir()), warpengine.WithNumberedShards(numShards))
	if err != nil {
		b.Fatalf("warpengine.New: %v", err)
	}
	return e
}

var (
	ds  = makeDataset()
	val = makeValue()
)

func makeDataset() [][]byte {
	arr := make([][]byte, keys)
	for i := range arr {
		arr[i] = []byte(fmt.Sprintf("key_%d", i))
	}
	return arr
}

func makeValue() []byte {
	v := make([]byte, valSize)
	for i := range v {
		v[i] = byte('a' + i%26)
	}
	return v
}

func BenchmarkPut(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close(context.Background())
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		if _, err := e.Put(ctx, key, val); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close(context.Background())
	ctx := context.Background()
	for _, k := range ds {
		if _, err := e.Put(ctx, k, val); err != nil {
			b.Fatalf("warm-up Put: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		if _, err := e.Get(ctx, k); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close(context.Background())
	ctx := context.Background()
	for _, k := range ds {
		if _, err := e.Put(ctx, k, val); err != nil {
			b.Fatalf("warm-up Put: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			if _, err := e.Get(ctx, ds[idx]); err != nil {
				b.Fatalf("Get: %v", err)
			}
		}
	})
}

func BenchmarkPutGetMixed(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close(context.Background())
	ctx := context.Background()
	// Preload 90% of keys to simulate a warm cache with a 10% write rate.
	for i, k := range ds {
		if i%10 != 0 {
			if _, err := e.Put(ctx, k, val); err != nil {
				b.Fatalf("warm-up Put: %v", err)
			}
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	var misses int
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		if i%10 == 0 {
			if _, err := e.Put(ctx, k, val); err != nil {
				b.Fatalf("Put: %v", err)
			}
			continue
		}
		res, err := e.Get(ctx, k)
		if err != nil {
			b.Fatalf("Get: %v", err)
		}
		if !res.Found {
			misses++
		}
	}
	b.ReportMetric(float64(misses)/float64(b.N)*100, "miss-%")
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
