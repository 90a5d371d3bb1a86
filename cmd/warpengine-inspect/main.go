package main

// main.go implements the warpengine-inspect CLI: an offline diagnostic tool
// that reads a WarpEngine data_root directly off disk (no running process
// required) and prints per-shard WAL size, checkpoint count (JSON only) and
// latest checkpoint sequence, either as pretty text or JSON.
//
// Adapted from the teacher's cmd/arena-cache-inspect/main.go: same
// flag/dump/watch shape, re-pointed from an HTTP debug endpoint to a local
// filesystem tree since WarpEngine's data lives in data_root rather than
// behind a running service's /debug handler.
//
// © 2025 WarpEngine authors. MIT License.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/warpengine/warpengine/internal/checkpoint"
	"github.com/warpengine/warpengine/internal/walcoord"
)

var version = "dev"

type options struct {
	dataRoot string
	numbered bool
	count    int
	json     bool
	watch    bool
	interval time.Duration
	showVer  bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.dataRoot, "data-root", "./data", "WarpEngine data_root to inspect")
	flag.BoolVar(&o.numbered, "numbered", false, "inspect the numbered topology instead of legacy hot/warm/cold")
	flag.IntVar(&o.count, "num-shards", 3, "number of numbered shards (only used with -numbered)")
	flag.BoolVar(&o.json, "json", false, "emit JSON instead of pretty text")
	flag.BoolVar(&o.watch, "watch", false, "repeat the dump on an interval")
	flag.DurationVar(&o.interval, "interval", 2*time.Second, "watch interval")
	flag.BoolVar(&o.showVer, "version", false, "print version and exit")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	if opts.showVer {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(opts); err != nil {
		fatal(err)
	}
}

// shardSnapshot is one shard's diagnostic summary.
type shardSnapshot struct {
	Name           string `json:"name"`
	WALPath        string `json:"wal_path"`
	WALBytes       int64  `json:"wal_bytes"`
	Checkpoints    int    `json:"checkpoints"`
	LatestSequence uint64 `json:"latest_checkpoint_sequence,omitempty"`
}

func dumpOnce(opts *options) error {
	snaps, err := collectSnapshots(opts)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}
	return prettyPrint(snaps)
}

func collectSnapshots(opts *options) ([]shardSnapshot, error) {
	numbered := opts.count
	if numbered <= 0 {
		numbered = 1
	}
	coord, err := walcoord.New(walcoord.Config{
		DataRoot:          opts.dataRoot,
		NumberedCount:     numbered,
		UseNumberedShards: opts.numbered,
	})
	if err != nil {
		return nil, fmt.Errorf("warpengine-inspect: opening data_root %s: %w", opts.dataRoot, err)
	}

	defer coord.Shutdown(context.Background())

	cp := &checkpoint.Checkpointer{DataRoot: opts.dataRoot}
	names := coord.Topology()
	snaps := make([]shardSnapshot, 0, len(names))
	for _, name := range names {
		h, ok := coord.Handle(name)
		if !ok {
			continue
		}
		snap := shardSnapshot{Name: name, WALPath: h.WAL.Path()}
		if info, err := os.Stat(h.WAL.Path()); err == nil {
			snap.WALBytes = info.Size()
		}
		if entries, err := os.ReadDir(filepath.Join(opts.dataRoot, "wal", "checkpoints", name)); err == nil {
			for _, de := range entries {
				if de.IsDir() {
					snap.Checkpoints++
				}
			}
		}
		if meta, ok := cp.LatestMetadata(name); ok {
			snap.LatestSequence = meta.SequenceNumber
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func prettyPrint(snaps []shardSnapshot) error {
	for _, s := range snaps {
		fmt.Printf("%-12s  wal=%-10s  checkpoint_seq=%d  path=%s\n",
			s.Name, humanize.Bytes(uint64(s.WALBytes)), s.LatestSequence, s.WALPath)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "warpengine-inspect:", err)
	os.Exit(1)
}
