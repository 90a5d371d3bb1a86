// Package ops implements C5: the Operations Layer, the only component that
// composes the store (C4), the WAL (C2, via internal/walcoord), the cache
// (C6), and the balancer (C7) into put/get/delete. Every external caller
// (pkg/warpengine) goes through here; nothing downstream is exported
// directly to engine callers.
//
// Grounded on the teacher's pkg/cache.go Get/Set orchestration (route,
// touch backing store, populate front cache) generalized from a single
// cache-plus-loader pair to the five-component pipeline spec.md §4.5
// tables, and on its loaderGroup singleflight dedup (pkg/loader.go)
// reused verbatim in shape for Get's shard-probe fallback chain.
//
// © 2025 WarpEngine authors. MIT License.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"go.uber.org/zap"

	"github.com/warpengine/warpengine/internal/balancer"
	"github.com/warpengine/warpengine/internal/horizoncache"
	"github.com/warpengine/warpengine/internal/store"
	"github.com/warpengine/warpengine/internal/walcodec"
	"github.com/warpengine/warpengine/internal/walcoord"
)

// SampleRates carries the sampling knobs of spec.md §4.5/§"Configuration".
type SampleRates struct {
	WALSampleRate          uint32
	CacheWriteThroughOnPut bool
	CacheSampleRatePut     uint32
	CacheSampleRateGet     uint32
	PhysicsSampleRatePut   uint32
}

func (r *SampleRates) setDefaults() {
	if r.WALSampleRate == 0 {
		r.WALSampleRate = 1
	}
	if r.CacheSampleRatePut == 0 {
		r.CacheSampleRatePut = 8
	}
	if r.CacheSampleRateGet == 0 {
		r.CacheSampleRateGet = 4
	}
	if r.PhysicsSampleRatePut == 0 {
		r.PhysicsSampleRatePut = 16
	}
}

// PutOptions carries the caller-supplied hints for Put.
type PutOptions struct {
	AccessPattern balancer.AccessPattern
	Priority      balancer.Priority
	Metadata      map[string]any
	Compression   walcodec.Compression
}

// PutResult reports the outcome of spec.md §4.5's put contract.
type PutResult struct {
	Stored   bool
	ShardID  string
	OpTimeUs int64
}

// GetSource identifies where a Get hit was served from.
type GetSource uint8

const (
	SourceCache GetSource = iota
	SourceShard
)

func (s GetSource) String() string {
	if s == SourceCache {
		return "cache"
	}
	return "shard"
}

// GetResult reports the outcome of spec.md §4.5's get contract.
type GetResult struct {
	Found    bool
	Value    []byte
	Source   GetSource
	OpTimeUs int64
}

// DeleteResult reports the outcome of spec.md §4.5's delete contract.
type DeleteResult struct {
	DeletedFrom []string
	OpTimeUs    int64
}

// Observer is an optional side-effect hook fired after a sampled Put
// (spec.md §4.5 step 8: "entanglement/metadata hooks"). It must be
// cancel-safe and must never block the caller — Layer always invokes
// observers in their own goroutine.
type Observer func(ctx context.Context, key []byte, metadata map[string]any)

// Layer implements C5.
type Layer struct {
	coord    *walcoord.Coordinator
	balancer *balancer.Balancer
	cache    *horizoncache.Cache
	rates    SampleRates
	logger   *zap.Logger

	observers []Observer

	putCounter   atomicCounter
	cachePutCtr  atomicCounter
	physicsCtr   atomicCounter
	getCacheCtr  atomicCounter
	walDeleteCtr atomicCounter

	missGroup singleflight.Group
}

// New constructs the Operations Layer over already-constructed components.
func New(coord *walcoord.Coordinator, bal *balancer.Balancer, cache *horizoncache.Cache, rates SampleRates, logger *zap.Logger) *Layer {
	rates.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{coord: coord, balancer: bal, cache: cache, rates: rates, logger: logger}
}

// AddObserver registers an asynchronous put observer.
func (l *Layer) AddObserver(obs Observer) {
	l.observers = append(l.observers, obs)
}

// every1InN implements the "1-in-N deterministic sampling" knob semantics:
// rate<=1 means always; otherwise only every Nth call proceeds.
func every1InN(counter *atomicCounter, rate uint32) bool {
	if rate <= 1 {
		return true
	}
	return counter.next()%uint64(rate) == 0
}

// Put implements spec.md §4.5's put contract.
func (l *Layer) Put(ctx context.Context, key, value []byte, opts PutOptions) (PutResult, error) {
	start := time.Now()

	shardName := l.balancer.Route(key, opts.AccessPattern, opts.Priority)
	handle, ok := l.coord.Handle(shardName)
	if !ok {
		// fallback to legacy 3-tier on missing numbered shard (spec.md §4.5 step 2)
		for _, legacy := range l.coord.LegacyTopology() {
			if h, lok := l.coord.Handle(legacy); lok {
				handle, ok = h, true
				shardName = legacy
				break
			}
		}
	}
	if !ok {
		return PutResult{}, fmt.Errorf("ops: no shard available to route put")
	}

	meta := map[string]any{"shard_id": shardName, "stored_at_ms": time.Now().UnixMilli()}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return PutResult{}, fmt.Errorf("ops: encoding metadata: %w", err)
	}

	handle.Store.Put(key, store.Record{Value: value, Metadata: metaBytes})

	if every1InN(&l.putCounter, l.rates.WALSampleRate) {
		if _, err := handle.WAL.Append(ctx, walcodec.OpPut, key, value, metaBytes); err != nil {
			l.logger.Warn("ops: wal append failed, table write already applied",
				zap.String("shard", shardName), zap.Error(err))
		}
	}

	if l.rates.CacheWriteThroughOnPut && every1InN(&l.cachePutCtr, l.rates.CacheSampleRatePut) {
		if _, err := l.cache.Put(key, value, horizoncache.PutOptions{Priority: toCachePriority(opts.Priority)}); err != nil {
			l.logger.Warn("ops: cache write-through failed", zap.Error(err))
		}
	}

	if len(l.observers) > 0 && every1InN(&l.physicsCtr, l.rates.PhysicsSampleRatePut) {
		l.fireObservers(key, opts.Metadata)
	}

	return PutResult{Stored: true, ShardID: shardName, OpTimeUs: opTimeUs(start)}, nil
}

// fireObservers runs every registered observer in its own goroutine so a
// slow or blocked observer never delays the caller (spec.md §4.5 step 8).
func (l *Layer) fireObservers(key []byte, metadata map[string]any) {
	keyCopy := append([]byte(nil), key...)
	for _, obs := range l.observers {
		obs := obs
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs(ctx, keyCopy, metadata)
		}()
	}
}

// Get implements spec.md §4.5's get contract: cache first, then a lookup in
// the shard the balancer routes key to, then a bounded legacy-3 fallback
// probe.
func (l *Layer) Get(ctx context.Context, key []byte) (GetResult, error) {
	start := time.Now()

	if res, ok := l.cache.Get(key); ok {
		l.cache.PromoteDue(key)
		return GetResult{Found: true, Value: res.Value, Source: SourceCache, OpTimeUs: opTimeUs(start)}, nil
	}

	v, err, _ := l.missGroup.Do(string(key), func() (any, error) {
		return l.probeShards(key)
	})
	if err != nil {
		return GetResult{}, err
	}
	rec, found := v.(*store.Record)
	if !found || rec == nil {
		return GetResult{Found: false, OpTimeUs: opTimeUs(start)}, nil
	}

	if every1InN(&l.getCacheCtr, l.rates.CacheSampleRateGet) {
		if _, err := l.cache.Put(key, rec.Value, horizoncache.PutOptions{}); err != nil {
			l.logger.Warn("ops: cache back-fill failed", zap.Error(err))
		}
	}

	return GetResult{Found: true, Value: rec.Value, Source: SourceShard, OpTimeUs: opTimeUs(start)}, nil
}

// probeShards looks up key first in the shard balancer.Route picks for it
// under the balancer's current strategy (the hashed shard while that
// strategy is Hash; under RoundRobin, LeastLoaded or Adaptive it is that
// strategy's pick, not necessarily the shard that holds key), then in the
// legacy 3-tier as a bounded fallback (spec.md §4.5 get steps 2-3).
func (l *Layer) probeShards(key []byte) (*store.Record, error) {
	hashed := l.balancer.Route(key, balancer.AccessPatternNone, balancer.PriorityNormal)
	if h, ok := l.coord.Handle(hashed); ok {
		if rec, ok := h.Store.Get(key); ok {
			return &rec, nil
		}
	}
	for _, name := range l.coord.LegacyTopology() {
		h, ok := l.coord.Handle(name)
		if !ok {
			continue
		}
		if rec, ok := h.Store.Get(key); ok {
			return &rec, nil
		}
	}
	return nil, nil
}

// Delete implements spec.md §4.5's delete contract.
func (l *Layer) Delete(ctx context.Context, key []byte) (DeleteResult, error) {
	start := time.Now()
	var deletedFrom []string

	candidates := make(map[string]bool)
	if hashed := l.balancer.Route(key, balancer.AccessPatternNone, balancer.PriorityNormal); hashed != "" {
		candidates[hashed] = true
	}
	for _, name := range l.coord.LegacyTopology() {
		candidates[name] = true
	}

	for name := range candidates {
		h, ok := l.coord.Handle(name)
		if !ok {
			continue
		}
		if existed := h.Store.Delete(key); existed {
			deletedFrom = append(deletedFrom, name)
			if every1InN(&l.walDeleteCtr, l.rates.WALSampleRate) {
				if _, err := h.WAL.Append(ctx, walcodec.OpDelete, key, nil, nil); err != nil {
					l.logger.Warn("ops: wal delete append failed",
						zap.String("shard", name), zap.Error(err))
				}
			}
		}
	}

	l.cache.Delete(key)

	return DeleteResult{DeletedFrom: deletedFrom, OpTimeUs: opTimeUs(start)}, nil
}

func toCachePriority(p balancer.Priority) horizoncache.Priority {
	switch p {
	case balancer.PriorityCritical:
		return horizoncache.PriorityCritical
	case balancer.PriorityHigh:
		return horizoncache.PriorityHigh
	case balancer.PriorityLow:
		return horizoncache.PriorityLow
	case balancer.PriorityBackground:
		return horizoncache.PriorityBackground
	default:
		return horizoncache.PriorityNormal
	}
}

func opTimeUs(start time.Time) int64 {
	elapsed := time.Since(start).Microseconds()
	if elapsed < 1 {
		return 1
	}
	return elapsed
}
