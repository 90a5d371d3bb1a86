package main

// dataset_gen.go generates deterministic key/value datasets for standalone
// load-testing of WarpEngine (outside `go test`). It emits newline-separated
// "key\tvalue" records, where keys are drawn from a uniform or Zipf
// distribution over a configurable key space and values are fixed-size
// filler, matching the shape of the keys WarpEngine's sharding/hashing
// expects (opaque byte strings, not typed integers).
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out dataset.tsv
//
// Flags:
//   -n        number of records to generate (default 1e6)
//   -dist     distribution: "uniform" or "zipf" (default uniform)
//   -zipfs    Zipf s parameter (>1)  (default 1.2)
//   -zipfv    Zipf v parameter (>=1) (default 1.0)
//   -keyspace number of distinct keys the distribution draws from (default 100000)
//   -valsize  value size in bytes (default 64)
//   -seed     RNG seed (default current time)
//   -out      output file (default stdout)
//
// Grounded on the teacher's tools/dataset_gen/dataset_gen.go: same flag set
// and Zipf/uniform generator shape, re-pointed from bare uint64 keys to
// "key\tvalue" records sized for WarpEngine's byte-string keys and values.
//
// © 2025 WarpEngine authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n        = flag.Int("n", 1_000_000, "number of records to generate")
		dist     = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS    = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV    = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		keyspace = flag.Uint64("keyspace", 100_000, "distinct key count the distribution draws from")
		valSize  = flag.Int("valsize", 64, "value size in bytes")
		seedVal  = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath  = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = func() uint64 { return rnd.Uint64() % *keyspace }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, *keyspace-1)
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	val := make([]byte, *valSize)
	for i := range val {
		val[i] = byte('a' + i%26)
	}

	for i := 0; i < *n; i++ {
		fmt.Fprintf(w, "key_%d\t%s\n", gen(), val)
	}
}
