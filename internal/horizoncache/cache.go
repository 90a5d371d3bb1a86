package horizoncache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpengine/warpengine/internal/walcodec"
)

// promotionThreshold is the default access_count above which an L2+ entry
// becomes eligible for promotion to the next-hotter level via PromoteDue
// (spec.md §4.4: "permitted but not required"; see DESIGN.md Open
// Question decisions for why this repo implements it).
const promotionThreshold = 4

// cacheEntry is the metadata kept for one cached item (spec.md §4.4).
type cacheEntry struct {
	key               string
	compressed        []byte
	originalSize      int
	compressedSize    int
	level             Level
	storedAtMs        int64
	accessCount       atomic.Uint64
	lastAccessedMs    atomic.Int64
	priorityProtected bool
	promoteOnNextPut  atomic.Bool
}

// tier holds all entries currently admitted at one Level.
type tier struct {
	entries map[string]*cacheEntry
}

func newTier() *tier { return &tier{entries: make(map[string]*cacheEntry)} }

// PutOptions carries the caller-supplied admission hints for Put.
type PutOptions struct {
	Priority Priority
	// CompressionHint, if non-zero, overrides the level's default codec.
	CompressionHint walcodec.Compression
}

// PutResult reports the outcome of an admission decision (spec.md §4.4).
type PutResult struct {
	Level            Level
	CompressionRatio float64
	OpTimeUs         int64
}

// GetResult is returned on a cache hit.
type GetResult struct {
	Value    []byte
	Level    Level
	OpTimeUs int64
}

// CapacityState classifies current occupancy against capacityLimit
// (spec.md §4.4: safe <90%, approaching_limit >=90%, limit_reached >=100%).
type CapacityState uint8

const (
	CapacitySafe CapacityState = iota
	CapacityApproachingLimit
	CapacityLimitReached
)

// EvictionReport summarizes one EmitEviction call.
type EvictionReport struct {
	Intensity    Intensity
	EvictedCount int
	PerLevel     map[Level]int
}

// CacheMetrics is a point-in-time snapshot for external consumption
// (EngineMetrics composes this).
type CacheMetrics struct {
	Hits, Misses, Evictions uint64
	ItemCount               int
	CapacityLimit           int
	CapacityState           CapacityState
	PerLevelCount           map[Level]int
}

// Cache implements C6, the Event-Horizon Cache. A single RWMutex guards all
// structural changes (admission, eviction, promotion, deletion) across every
// tier; per-entry access bookkeeping (hit count, last-access time) is
// lock-free via atomics so Get only needs the read lock long enough to find
// the entry pointer. Because exactly one lock ever covers cross-tier moves,
// the "lock hotter tier before colder tier" ordering spec.md §5 requires is
// satisfied trivially — there is only ever one lock to take.
type Cache struct {
	mu         sync.RWMutex
	tiers      [numLevels]*tier
	keyIndex   map[string]Level
	totalCount int

	capacityLimit int
	temperature   float64

	hits, misses, evictions atomic.Uint64
	sink                    metricsSink
}

// defaultHawkingTemperature is the spec.md §6 "cache_hawking_temperature"
// default; intensity.fraction() values are tabled against this baseline, so
// a cache constructed at this temperature reproduces them unscaled.
const defaultHawkingTemperature = 0.1

// New constructs an Event-Horizon Cache with the given total item-count
// capacity, evicting at the default Hawking temperature (0.1).
func New(capacityLimit int, sink metricsSink) *Cache {
	return NewWithTemperature(capacityLimit, defaultHawkingTemperature, sink)
}

// NewWithTemperature constructs an Event-Horizon Cache whose eviction passes
// scale their per-level fraction by temperature/defaultHawkingTemperature
// (spec.md §6 "cache_hawking_temperature", 0.0..1.0): higher temperature
// evaporates more entries per pass, lower temperature fewer. A temperature
// of 0 or below is replaced by defaultHawkingTemperature.
func NewWithTemperature(capacityLimit int, temperature float64, sink metricsSink) *Cache {
	if sink == nil {
		sink = noopMetrics{}
	}
	if temperature <= 0 {
		temperature = defaultHawkingTemperature
	}
	c := &Cache{
		keyIndex:      make(map[string]Level),
		capacityLimit: capacityLimit,
		temperature:   temperature,
		sink:          sink,
	}
	for i := range c.tiers {
		c.tiers[i] = newTier()
	}
	return c
}

// admissionLevel chooses the initial level for a put, per spec.md §4.4's
// table keyed on (priority, serialized_size).
func admissionLevel(priority Priority, size int) Level {
	switch priority {
	case PriorityCritical:
		// spec.md §4.4 tables "critical & <10KiB" and "critical & <50KiB"
		// as separate rows; both resolve to L1, so the size check only
		// needs the wider (50 KiB) bound — anything at or above it falls
		// through to the L2 default below.
		if size < 50*1024 {
			return LevelHorizon
		}
		return LevelPhoton
	case PriorityLow, PriorityBackground:
		return LevelDeep
	case PriorityNormal, PriorityHigh:
		if size < 100*1024 {
			return LevelPhoton
		}
		return LevelPhoton
	default:
		return LevelPhoton
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// capacityStateLocked classifies c.totalCount against c.capacityLimit. Caller
// must hold at least a read lock.
func (c *Cache) capacityStateLocked() CapacityState {
	if c.capacityLimit <= 0 {
		return CapacitySafe
	}
	ratio := float64(c.totalCount) / float64(c.capacityLimit)
	switch {
	case ratio >= 1.0:
		return CapacityLimitReached
	case ratio >= 0.9:
		return CapacityApproachingLimit
	default:
		return CapacitySafe
	}
}

// Put admits value under key, applying the admission policy and the
// capacity-triggered eviction rules of spec.md §4.4.
func (c *Cache) Put(key []byte, value []byte, opts PutOptions) (PutResult, error) {
	start := time.Now()

	level := admissionLevel(opts.Priority, len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.capacityStateLocked(); state == CapacityApproachingLimit {
		c.evictLocked(IntensityMild)
	} else if state == CapacityLimitReached {
		c.evictLocked(IntensityEmergency)
	}

	// Invariant: a key is present in at most one level at a time (spec.md
	// §4.4) — remove any existing placement before re-admitting.
	if oldLevel, ok := c.keyIndex[string(key)]; ok {
		delete(c.tiers[oldLevel].entries, string(key))
		c.totalCount--
	}

	codec := level.codec()
	if opts.CompressionHint != 0 {
		codec = opts.CompressionHint
	}
	compressed, err := walcodec.Compress(codec, value)
	if err != nil {
		return PutResult{}, err
	}

	ent := &cacheEntry{
		key:               string(key),
		compressed:        compressed,
		originalSize:      len(value),
		compressedSize:    len(compressed),
		level:             level,
		storedAtMs:        nowMs(),
		priorityProtected: opts.Priority == PriorityCritical,
	}
	ent.lastAccessedMs.Store(ent.storedAtMs)

	c.tiers[level].entries[string(key)] = ent
	c.keyIndex[string(key)] = level
	c.totalCount++

	c.sink.setItemCount(c.totalCount)

	return PutResult{
		Level:            level,
		CompressionRatio: level.CompressionRatio(),
		OpTimeUs:         opTimeUs(start),
	}, nil
}

// Get looks up key across all tiers (a key lives in exactly one). On hit it
// marks the entry referenced (increments access_count, updates
// last_accessed_ms) and decompresses the stored value.
func (c *Cache) Get(key []byte) (GetResult, bool) {
	start := time.Now()

	c.mu.RLock()
	level, ok := c.keyIndex[string(key)]
	var ent *cacheEntry
	if ok {
		ent = c.tiers[level].entries[string(key)]
	}
	c.mu.RUnlock()

	if ent == nil {
		c.misses.Add(1)
		c.sink.incMiss()
		return GetResult{}, false
	}

	c.hits.Add(1)
	c.sink.incHit()
	newCount := ent.accessCount.Add(1)
	ent.lastAccessedMs.Store(nowMs())
	if newCount > promotionThreshold && level >= LevelPhoton {
		ent.promoteOnNextPut.Store(true)
	}

	value, err := walcodec.Decompress(ent.level.codec(), ent.compressed)
	if err != nil {
		return GetResult{}, false
	}

	return GetResult{Value: value, Level: level, OpTimeUs: opTimeUs(start)}, true
}

// Delete removes key from whichever tier holds it. After Delete returns, Get
// must not report a hit for key (spec.md §4.4 invariant 2).
func (c *Cache) Delete(key []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.keyIndex[string(key)]
	if !ok {
		return false
	}
	delete(c.tiers[level].entries, string(key))
	delete(c.keyIndex, string(key))
	c.totalCount--
	c.sink.setItemCount(c.totalCount)
	return true
}

// PromoteDue moves key's entry one level hotter if a Get has flagged it
// promoteOnNextPut, re-encoding the stored value with the target level's
// codec. The operations layer calls it right after every cache hit, so an
// entry moves on the same read that flags it.
func (c *Cache) PromoteDue(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.keyIndex[string(key)]
	if !ok {
		return
	}
	ent := c.tiers[level].entries[string(key)]
	if ent == nil || !ent.promoteOnNextPut.Load() {
		return
	}
	target := level.hotter()
	if target == level {
		return
	}
	raw, err := walcodec.Decompress(level.codec(), ent.compressed)
	if err != nil {
		return
	}
	recompressed, err := walcodec.Compress(target.codec(), raw)
	if err != nil {
		return
	}
	promoted := &cacheEntry{key: ent.key, compressed: recompressed, originalSize: ent.originalSize,
		compressedSize: len(recompressed), level: target, storedAtMs: ent.storedAtMs, priorityProtected: ent.priorityProtected}
	promoted.accessCount.Store(ent.accessCount.Load())
	promoted.lastAccessedMs.Store(ent.lastAccessedMs.Load())
	delete(c.tiers[level].entries, string(key))
	c.tiers[target].entries[string(key)] = promoted
	c.keyIndex[string(key)] = target
}

// EmitEviction runs one Hawking-radiation eviction pass at the given
// intensity across every level, per spec.md §4.4.
func (c *Cache) EmitEviction(intensity Intensity) EvictionReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(intensity)
}

func (c *Cache) evictLocked(intensity Intensity) EvictionReport {
	report := EvictionReport{Intensity: intensity, PerLevel: make(map[Level]int)}
	frac := intensity.fraction() * (c.temperature / defaultHawkingTemperature)
	if frac < 0.01 {
		frac = 0.01
	}
	if frac > 1.0 {
		frac = 1.0
	}

	for lvl := Level(0); lvl < numLevels; lvl++ {
		t := c.tiers[lvl]
		if len(t.entries) == 0 {
			continue
		}

		candidates := make([]*cacheEntry, 0, len(t.entries))
		for _, e := range t.entries {
			if e.priorityProtected && intensity != IntensityEmergency {
				continue
			}
			candidates = append(candidates, e)
		}
		if len(candidates) == 0 {
			continue
		}

		sort.Slice(candidates, func(i, j int) bool {
			ai, aj := candidates[i], candidates[j]
			ci, cj := ai.accessCount.Load(), aj.accessCount.Load()
			if ci != cj {
				return ci < cj
			}
			return ai.lastAccessedMs.Load() < aj.lastAccessedMs.Load()
		})

		n := int(float64(len(candidates)) * frac)
		if n < 1 {
			n = 1
		}
		if n > 100 {
			n = 100
		}
		if n > len(candidates) {
			n = len(candidates)
		}

		for i := 0; i < n; i++ {
			e := candidates[i]
			delete(t.entries, e.key)
			delete(c.keyIndex, e.key)
			c.totalCount--
			c.evictions.Add(1)
			c.sink.incEvict(lvl)
		}
		report.PerLevel[lvl] = n
		report.EvictedCount += n
	}

	c.sink.setItemCount(c.totalCount)
	return report
}

// Metrics returns a point-in-time snapshot.
func (c *Cache) Metrics() CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perLevel := make(map[Level]int, numLevels)
	for lvl := Level(0); lvl < numLevels; lvl++ {
		perLevel[lvl] = len(c.tiers[lvl].entries)
	}
	return CacheMetrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		ItemCount:     c.totalCount,
		CapacityLimit: c.capacityLimit,
		CapacityState: c.capacityStateLocked(),
		PerLevelCount: perLevel,
	}
}

func opTimeUs(start time.Time) int64 {
	elapsed := time.Since(start).Microseconds()
	if elapsed < 1 {
		return 1
	}
	return elapsed
}
