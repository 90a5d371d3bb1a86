// Package walcoord implements C3: the WAL Coordinator, the only component
// that owns the full set of per-shard WAL/store pairs and fans operations
// that touch every shard out in parallel. Individual reads/writes never go
// through the Coordinator — they address a single shard directly (see
// internal/ops) — the Coordinator exists for the operations that are
// inherently cross-shard: startup, coordinated checkpoint, full recovery,
// and health aggregation.
//
// Grounded on the teacher's go.mod, which already lists
// golang.org/x/sync (errgroup) and go.uber.org/multierr (via zap) without
// using either in pkg/; here both get a real job: errgroup.Group fans the
// per-shard goroutines out, and multierr.Append aggregates their failures
// without errgroup's fail-fast cancellation aborting shards that would
// otherwise have succeeded (see DESIGN.md Open Question decisions).
//
// © 2025 WarpEngine authors. MIT License.
package walcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warpengine/warpengine/internal/checkpoint"
	"github.com/warpengine/warpengine/internal/store"
	"github.com/warpengine/warpengine/internal/walcodec"
	"github.com/warpengine/warpengine/internal/walshard"
)

// legacyTopology and numbered topology can coexist (spec.md §4.2): the
// coordinator always constructs both shard sets, and Config.UseNumberedShards
// picks which one is primary for routing (internal/balancer reads the same
// distinction independently).
const (
	legacyHot  = "hot"
	legacyWarm = "warm"
	legacyCold = "cold"
)

// ShardHandle pairs one WAL shard with its in-memory table; the two always
// move together (spec.md §4.2/§4.6).
type ShardHandle struct {
	Name  string
	WAL   *walshard.Shard
	Store *store.Store
}

// Config carries construction-time knobs for the Coordinator.
type Config struct {
	DataRoot          string
	NumberedCount     int // shards in the numbered topology, [1,24]
	UseNumberedShards bool
	FlushBatchSize    int
	FlushIntervalMs   int
	FsyncIntervalMs   int
	WALBufferCap      int
	Logger            *zap.Logger
	Metrics           walshard.MetricsSink
}

func (c *Config) setDefaults() {
	if c.NumberedCount <= 0 {
		c.NumberedCount = 3
	}
	if c.NumberedCount > 24 {
		c.NumberedCount = 24
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Coordinator owns every shard's WAL and table, plus the checkpointer
// shared across all of them.
type Coordinator struct {
	cfg         Config
	logger      *zap.Logger
	checkpoints *checkpoint.Checkpointer

	legacy   []*ShardHandle
	numbered []*ShardHandle
	byName   map[string]*ShardHandle
}

// New constructs both topologies' shard handles (WAL files opened, tables
// empty) without starting workers or recovering. Call RecoverAllShards then
// StartAllShards before serving traffic.
func New(cfg Config) (*Coordinator, error) {
	cfg.setDefaults()
	c := &Coordinator{
		cfg:         cfg,
		logger:      cfg.Logger,
		checkpoints: &checkpoint.Checkpointer{DataRoot: cfg.DataRoot, Logger: cfg.Logger},
		byName:      make(map[string]*ShardHandle),
	}

	legacyNames := []string{legacyHot, legacyWarm, legacyCold}
	for i, name := range legacyNames {
		h, err := c.newHandle(uint8(i), name)
		if err != nil {
			return nil, err
		}
		c.legacy = append(c.legacy, h)
	}

	for i := 0; i < cfg.NumberedCount; i++ {
		name := fmt.Sprintf("shard_%d", i)
		h, err := c.newHandle(uint8(i), name)
		if err != nil {
			return nil, err
		}
		c.numbered = append(c.numbered, h)
	}
	return c, nil
}

func (c *Coordinator) newHandle(id uint8, name string) (*ShardHandle, error) {
	wcfg := walshard.Config{
		ShardID:         id,
		DataRoot:        shardDataRoot(c.cfg.DataRoot, name),
		FlushBatchSize:  c.cfg.FlushBatchSize,
		FlushIntervalMs: c.cfg.FlushIntervalMs,
		FsyncIntervalMs: c.cfg.FsyncIntervalMs,
		BufferCap:       c.cfg.WALBufferCap,
		Logger:          c.cfg.Logger,
	}
	if c.cfg.Metrics != nil {
		wcfg.Metrics = c.cfg.Metrics
	}
	wal, err := walshard.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("walcoord: constructing shard %s: %w", name, err)
	}
	h := &ShardHandle{Name: name, WAL: wal, Store: store.New()}
	c.byName[name] = h
	return h, nil
}

// shardDataRoot gives every named shard (legacy or numbered) its own
// subdirectory under the data root, so "hot" and "shard_0" never collide
// even though both exist simultaneously.
func shardDataRoot(root, name string) string {
	return root + "/" + name
}

// Topology returns the primary topology's shard names in routing order,
// matching internal/balancer.Config.Topology.
func (c *Coordinator) Topology() []string {
	names := make([]string, 0, len(c.numbered))
	handles := c.activeHandles()
	for _, h := range handles {
		names = append(names, h.Name)
	}
	return names
}

// LegacyTopology always returns {"hot","warm","cold"}.
func (c *Coordinator) LegacyTopology() []string {
	names := make([]string, 0, len(c.legacy))
	for _, h := range c.legacy {
		names = append(names, h.Name)
	}
	return names
}

func (c *Coordinator) activeHandles() []*ShardHandle {
	if c.cfg.UseNumberedShards {
		return c.numbered
	}
	return c.legacy
}

// allHandles returns every handle across both topologies, deduplicated by
// name (none currently overlap, since legacy names and "shard_N" never
// collide, but this guards against future topology sets that might).
func (c *Coordinator) allHandles() []*ShardHandle {
	seen := make(map[string]bool, len(c.legacy)+len(c.numbered))
	var all []*ShardHandle
	for _, h := range append(append([]*ShardHandle{}, c.legacy...), c.numbered...) {
		if seen[h.Name] {
			continue
		}
		seen[h.Name] = true
		all = append(all, h)
	}
	return all
}

// Handle looks up a shard by name across both topologies.
func (c *Coordinator) Handle(name string) (*ShardHandle, bool) {
	h, ok := c.byName[name]
	return h, ok
}

// RecoverAllShards replays every shard's WAL (restoring its latest
// checkpoint first, if one exists) in parallel. A single shard's recovery
// failure is recorded but does not prevent the others from completing
// (spec.md §4.2: health_check must be able to report a degraded shard
// rather than the whole engine failing to start).
func (c *Coordinator) RecoverAllShards(ctx context.Context) error {
	var (
		mu      sync.Mutex
		allErrs error
	)
	var g errgroup.Group // no WithContext: one shard's failure must not cancel the others
	for _, h := range c.allHandles() {
		h := h
		g.Go(func() error {
			err := c.recoverShard(ctx, h)
			mu.Lock()
			allErrs = multierr.Append(allErrs, err)
			mu.Unlock()
			return nil // never propagate: errgroup would cancel siblings
		})
	}
	_ = g.Wait()
	return allErrs
}

func (c *Coordinator) recoverShard(ctx context.Context, h *ShardHandle) error {
	afterSeq := uint64(0)
	if meta, ok := c.checkpoints.LatestMetadata(h.Name); ok {
		if err := c.checkpoints.RestoreIntoStore(meta, h.Store); err != nil {
			return fmt.Errorf("walcoord: restoring checkpoint for %s: %w", h.Name, err)
		}
		afterSeq = meta.SequenceNumber
		h.WAL.SetSequence(afterSeq + 1)
	}

	_, err := h.WAL.Recover(afterSeq, func(e walcodec.Entry) error {
		switch e.Operation {
		case walcodec.OpPut:
			h.Store.Put(e.Key, store.Record{Value: e.Value, Metadata: e.Metadata})
		case walcodec.OpDelete:
			h.Store.Delete(e.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walcoord: replaying wal for %s: %w", h.Name, err)
	}
	return nil
}

// StartAllShards launches every shard's worker/fsync goroutines. Call this
// only after RecoverAllShards has completed.
func (c *Coordinator) StartAllShards(ctx context.Context) {
	for _, h := range c.allHandles() {
		h.WAL.Start(ctx)
	}
}

// AggregateStats collects a point-in-time Stats snapshot per shard across
// both topologies.
func (c *Coordinator) AggregateStats() map[string]walshard.Stats {
	out := make(map[string]walshard.Stats, len(c.byName))
	for name, h := range c.byName {
		out[name] = h.WAL.Stats()
	}
	return out
}

// CoordinatedCheckpointResult reports what CreateCoordinatedCheckpoint did.
type CoordinatedCheckpointResult struct {
	Meta    checkpoint.CoordinatedMetadata
	Failed  []string
	Elapsed time.Duration
}

// CreateCoordinatedCheckpoint checkpoints the active topology's shards in
// parallel (spec.md §4.8: "coordinated checkpoint... parallel across
// shards"), recording which shards failed rather than aborting the pass.
func (c *Coordinator) CreateCoordinatedCheckpoint(ctx context.Context) (CoordinatedCheckpointResult, error) {
	start := time.Now()
	handles := c.activeHandles()

	type outcome struct {
		name string
		meta checkpoint.Metadata
		err  error
	}
	results := make(chan outcome, len(handles))

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			meta, err := c.checkpoints.CreateShardCheckpoint(ctx, h.Name, h.WAL, h.Store)
			results <- outcome{name: h.Name, meta: meta, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	shardMetas := make(map[string]checkpoint.Metadata, len(handles))
	var failed []string
	var allErrs error
	for o := range results {
		if o.err != nil {
			failed = append(failed, o.name)
			allErrs = multierr.Append(allErrs, o.err)
			continue
		}
		shardMetas[o.name] = o.meta
	}

	coordMeta, err := c.checkpoints.WriteCoordinatedMetadata(shardMetas, failed)
	if err != nil {
		allErrs = multierr.Append(allErrs, err)
	}

	c.logger.Info("walcoord: coordinated checkpoint complete",
		zap.Int("shards", len(handles)), zap.Int("failed", len(failed)),
		zap.Duration("elapsed", time.Since(start)))

	return CoordinatedCheckpointResult{Meta: coordMeta, Failed: failed, Elapsed: time.Since(start)}, allErrs
}

// HealthReport is one shard's contribution to HealthCheck.
type HealthReport struct {
	Name     string
	State    walshard.State
	Degraded bool
	Err      error
}

// HealthCheck reports every active-topology shard's state without taking
// any lock a producer might be waiting on (spec.md §4.2).
func (c *Coordinator) HealthCheck() []HealthReport {
	handles := c.activeHandles()
	reports := make([]HealthReport, 0, len(handles))
	for _, h := range handles {
		degraded, err := h.WAL.Degraded()
		reports = append(reports, HealthReport{
			Name:     h.Name,
			State:    h.WAL.State(),
			Degraded: degraded,
			Err:      err,
		})
	}
	return reports
}

// Shutdown drains and closes every shard across both topologies.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var allErrs error
	for _, h := range c.allHandles() {
		if err := h.WAL.Shutdown(ctx); err != nil {
			allErrs = multierr.Append(allErrs, fmt.Errorf("walcoord: shutting down %s: %w", h.Name, err))
		}
	}
	return allErrs
}
