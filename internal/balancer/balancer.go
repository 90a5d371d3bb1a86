// Package balancer implements C7: the Intelligent Load Balancer. It chooses
// a shard id for every operation, adapting its routing strategy to observed
// concurrency (spec.md §4.3). Shard selection is lock-free on the hot path:
// the routing table is held behind an atomic.Pointer and producers read a
// cached snapshot (spec.md §9's "module-level global state" redesign note).
//
// New component relative to the teacher (arena-cache routes purely by hash
// via maphash); grounded on the teacher's functional-options/validation
// idiom (pkg/config.go) for Balancer construction, and its maphash-seeded
// hashing pattern (pkg/shard.go) generalized to a fixed, cross-run
// deterministic hash (hash/fnv instead of maphash, whose seed is randomized
// per process — spec.md §8 invariant 8 requires routing to be stable across
// runs, which maphash's default random seed cannot provide).
//
// © 2025 WarpEngine authors. MIT License.
package balancer

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Strategy is one of the five routing strategies of spec.md §4.3.
type Strategy uint8

const (
	StrategyHash Strategy = iota
	StrategyRoundRobin
	StrategyLeastLoaded
	StrategyLeastLoadedWithAffinity
	StrategyAdaptive
)

func (s Strategy) String() string {
	switch s {
	case StrategyHash:
		return "hash"
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyLeastLoaded:
		return "least_loaded"
	case StrategyLeastLoadedWithAffinity:
		return "least_loaded_with_affinity"
	case StrategyAdaptive:
		return "adaptive"
	default:
		return "unknown"
	}
}

// AccessPattern is the caller-supplied routing override (spec.md §4.3).
type AccessPattern uint8

const (
	AccessPatternNone AccessPattern = iota
	AccessPatternHot
	AccessPatternWarm
	AccessPatternCold
	AccessPatternBalanced
)

// Priority is the caller-supplied priority hint used with AccessPatternBalanced.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityCritical
	PriorityHigh
	PriorityLow
	PriorityBackground
)

// concurrencyBuckets are the only levels concurrency detection resolves to
// (spec.md §4.3).
var concurrencyBuckets = []int{1, 2, 4, 6, 8, 12, 16, 20, 24}

// bucketLevel snaps an arbitrary observed concurrency sample down to the
// nearest not-exceeding bucket (or the smallest bucket if below all of
// them).
func bucketLevel(observed int) int {
	level := concurrencyBuckets[0]
	for _, b := range concurrencyBuckets {
		if observed >= b {
			level = b
		}
	}
	return level
}

// legacyShards is the fixed 3-tier topology name set (spec.md §4.2/§4.3).
var legacyShards = [3]string{"hot", "warm", "cold"}

// Config carries construction-time knobs for the balancer.
type Config struct {
	// Topology lists the primary shard ids in routing order (either
	// {"hot","warm","cold"} or {"shard_0",...,"shard_{N-1}"}).
	Topology []string
	// LegacyTopology is always {"hot","warm","cold"}; kept available for
	// access-pattern fallback even when Topology is numbered (spec.md
	// §4.2: "both may coexist during migration").
	LegacyTopology []string
	// EnableAdaptive allows ObserveConcurrency/ObserveThroughput to switch
	// strategy away from Hash (spec.md "enable_intelligent_load_balancer").
	EnableAdaptive bool
	// Deterministic pins routing to Hash forever, ignoring EnableAdaptive,
	// so route(key) stays constant across runs for a fixed topology (spec.md
	// "deterministic_numbered_routing", invariant 8).
	Deterministic bool
	Logger        *zap.Logger
}

// routingSnapshot is the read-mostly table producers dereference without
// locking.
type routingSnapshot struct {
	strategy Strategy
	topology []string
}

// Balancer implements C7.
type Balancer struct {
	cfg     Config
	logger  *zap.Logger
	current atomic.Pointer[routingSnapshot]

	load    []atomic.Int64 // per-shard counters, indexed into cfg.Topology
	loadOps []atomic.Int64 // per-shard op count since last 1000-op reset

	mu                sync.Mutex // guards rebalance bookkeeping only
	lastRebalance     time.Time
	underTargetStreak int
}

// New constructs a Balancer for the given topology. Strategy starts at
// Hash (level<=2 default) until a concurrency sample arrives.
func New(cfg Config) *Balancer {
	if cfg.LegacyTopology == nil {
		cfg.LegacyTopology = legacyShards[:]
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b := &Balancer{
		cfg:    cfg,
		logger: cfg.Logger,
		load:   make([]atomic.Int64, len(cfg.Topology)),
	}
	b.loadOps = make([]atomic.Int64, len(cfg.Topology))
	snap := &routingSnapshot{strategy: StrategyHash, topology: cfg.Topology}
	b.current.Store(snap)
	return b
}

func hashKey(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// shardForIndex maps a deterministic hash to one topology member.
func shardForIndex(topology []string, h uint64) string {
	if len(topology) == 0 {
		return ""
	}
	return topology[h%uint64(len(topology))]
}

// Route chooses a shard id for key, honoring access-pattern/priority hints
// first (spec.md §4.5 step 1 routes "via C7", but hints bypass strategy
// entirely per §4.3).
func (b *Balancer) Route(key []byte, pattern AccessPattern, priority Priority) string {
	snap := b.current.Load()

	if pattern != AccessPatternNone {
		if shard, ok := b.routeByHint(key, pattern, priority, snap); ok {
			b.recordLoad(snap.topology, shard)
			return shard
		}
	}

	var shard string
	switch snap.strategy {
	case StrategyHash:
		shard = shardForIndex(snap.topology, hashKey(key))
	case StrategyRoundRobin:
		shard = b.leastLoadedShard(snap.topology)
	case StrategyLeastLoaded:
		shard = b.leastLoadedShard(snap.topology)
	case StrategyLeastLoadedWithAffinity:
		shard = b.affinityOrLeastLoaded(key, snap.topology)
	case StrategyAdaptive:
		shard = b.adaptiveRoute(key, snap.topology)
	default:
		shard = shardForIndex(snap.topology, hashKey(key))
	}

	b.recordLoad(snap.topology, shard)
	return shard
}

// routeByHint implements spec.md §4.3's access-pattern override, including
// its fallback chain: hinted legacy shard -> hash mod 3 over legacy shards
// -> hash mod N over the current (numbered) topology.
func (b *Balancer) routeByHint(key []byte, pattern AccessPattern, priority Priority, snap *routingSnapshot) (string, bool) {
	var want string
	switch pattern {
	case AccessPatternHot:
		want = "hot"
	case AccessPatternWarm:
		want = "warm"
	case AccessPatternCold:
		want = "cold"
	case AccessPatternBalanced:
		want = tierForPriority(priority)
	default:
		return "", false
	}

	if contains(snap.topology, want) {
		return want, true
	}

	// Hinted tier doesn't exist in the active topology: hash mod 3 over the
	// legacy names, projected onto whichever topology currently has them.
	h := hashKey(key)
	projected := b.cfg.LegacyTopology[h%uint64(len(b.cfg.LegacyTopology))]
	if contains(snap.topology, projected) {
		return projected, true
	}

	// Legacy shards entirely absent: fall back to hash mod N over the
	// numbered topology (spec.md S5).
	if len(snap.topology) > 0 {
		return shardForIndex(snap.topology, h), true
	}
	return "", false
}

func tierForPriority(p Priority) string {
	switch p {
	case PriorityCritical, PriorityHigh:
		return "hot"
	case PriorityLow, PriorityBackground:
		return "cold"
	default:
		return "warm"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (b *Balancer) recordLoad(topology []string, shard string) {
	for i, s := range topology {
		if s == shard {
			b.load[i].Add(1)
			if b.loadOps[i].Add(1) >= 1000 {
				b.loadOps[i].Store(0)
				b.load[i].Store(0)
			}
			return
		}
	}
}

func (b *Balancer) leastLoadedShard(topology []string) string {
	if len(topology) == 0 {
		return ""
	}
	best := 0
	bestLoad := b.load[0].Load()
	for i := 1; i < len(topology); i++ {
		if l := b.load[i].Load(); l < bestLoad {
			bestLoad = l
			best = i
		}
	}
	return topology[best]
}

// affinityOrLeastLoaded implements LeastLoadedWithAffinity: prefer
// hash(key) mod N unless its load exceeds 1.2x the current minimum.
func (b *Balancer) affinityOrLeastLoaded(key []byte, topology []string) string {
	if len(topology) == 0 {
		return ""
	}
	idx := hashKey(key) % uint64(len(topology))
	affineLoad := b.load[idx].Load()

	minLoad := b.load[0].Load()
	for i := 1; i < len(topology); i++ {
		if l := b.load[i].Load(); l < minLoad {
			minLoad = l
		}
	}
	if float64(affineLoad) <= 1.2*float64(minLoad) {
		return topology[idx]
	}
	return b.leastLoadedShard(topology)
}

// adaptiveRoute implements the "2 < level <= 8" row of the adaptation rule:
// prefer Hash for affinity-worthy keys (recognized hot-prefix patterns),
// else LeastLoaded.
func (b *Balancer) adaptiveRoute(key []byte, topology []string) string {
	if isHotPrefix(key) {
		return shardForIndex(topology, hashKey(key))
	}
	return b.leastLoadedShard(topology)
}

// hotPrefixes are the key prefixes treated as affinity-worthy under
// Adaptive routing. Kept small and explicit rather than configurable,
// matching spec.md's description of "known hot-prefix patterns" as a
// fixed recognized set.
var hotPrefixes = [][]byte{[]byte("session:"), []byte("user:"), []byte("hot:")}

func isHotPrefix(key []byte) bool {
	for _, p := range hotPrefixes {
		if len(key) >= len(p) && string(key[:len(p)]) == string(p) {
			return true
		}
	}
	return false
}

// throughputTargets tables the ops/sec target per concurrency bucket
// (spec.md §4.3: "used only for deciding when to trigger rebalancing...must
// NOT be used as correctness criteria"). Figures are round numbers
// representative of the bucket, not measured constants.
var throughputTargets = map[int]float64{
	1:  5_000,
	2:  9_000,
	4:  16_000,
	6:  22_000,
	8:  28_000,
	12: 38_000,
	16: 46_000,
	20: 52_000,
	24: 58_000,
}

// strategyForLevel implements the adaptation rule of spec.md §4.3.
func strategyForLevel(level int) Strategy {
	switch {
	case level <= 2:
		return StrategyHash
	case level == 16:
		return StrategyRoundRobin
	case level > 16:
		return StrategyLeastLoaded
	default: // 2 < level <= 8 (also covers the 8<level<16 gap, nearest bucket below 16)
		return StrategyAdaptive
	}
}

// rebalanceMinInterval bounds Rebalance to at most once per 30s (spec.md §4.3).
const rebalanceMinInterval = 30 * time.Second

// ObserveConcurrency feeds a sampled active-worker count into the detector.
// It buckets the sample, derives the strategy the adaptation rule prescribes
// for that bucket, and — if the strategy actually changes — rebalances.
func (b *Balancer) ObserveConcurrency(activeWorkers int) {
	if b.cfg.Deterministic || !b.cfg.EnableAdaptive {
		return
	}
	level := bucketLevel(activeWorkers)
	want := strategyForLevel(level)

	snap := b.current.Load()
	if snap.strategy == want {
		return
	}
	b.setStrategy(want)
}

// ObserveThroughput feeds a measured ops/sec sample for the current
// concurrency bucket. Sustained under-target throughput steps up
// aggressiveness (-> LeastLoaded); severely under-target throughput
// rebalances immediately, bypassing the 30s idempotence window (spec.md
// §4.3: "if...< 0.7x target: trigger rebalancing immediately").
func (b *Balancer) ObserveThroughput(level int, opsPerSec float64) {
	if b.cfg.Deterministic || !b.cfg.EnableAdaptive {
		return
	}
	target, ok := throughputTargets[level]
	if !ok || target <= 0 {
		return
	}
	ratio := opsPerSec / target

	b.mu.Lock()
	if ratio < 0.8 {
		b.underTargetStreak++
	} else {
		b.underTargetStreak = 0
	}
	streak := b.underTargetStreak
	b.mu.Unlock()

	if ratio < 0.7 {
		b.forceRebalance(StrategyLeastLoaded)
		return
	}
	if streak >= 1 {
		b.setStrategy(StrategyLeastLoaded)
	}
}

// setStrategy installs a new strategy via the idempotent, rate-limited
// Rebalance path (spec.md: "rebalancing...is idempotent and runs at most
// once per 30s").
func (b *Balancer) setStrategy(s Strategy) {
	b.mu.Lock()
	due := time.Since(b.lastRebalance) >= rebalanceMinInterval
	if !due && !b.lastRebalance.IsZero() {
		b.mu.Unlock()
		return
	}
	b.lastRebalance = time.Now()
	b.mu.Unlock()

	b.applyStrategy(s)
}

// forceRebalance bypasses the 30s window (used only by the "<0.7x target"
// immediate-rebalance rule).
func (b *Balancer) forceRebalance(s Strategy) {
	b.mu.Lock()
	b.lastRebalance = time.Now()
	b.underTargetStreak = 0
	b.mu.Unlock()
	b.applyStrategy(s)
}

// applyStrategy swaps the routing snapshot and resets every shard's load
// counter (spec.md: "rebalancing does not move data; it only changes the
// strategy and resets load counters").
func (b *Balancer) applyStrategy(s Strategy) {
	prev := b.current.Load()
	next := &routingSnapshot{strategy: s, topology: prev.topology}
	b.current.Store(next)
	for i := range b.load {
		b.load[i].Store(0)
		b.loadOps[i].Store(0)
	}
	b.logger.Info("balancer: rebalanced",
		zap.String("from", prev.strategy.String()),
		zap.String("to", s.String()))
}

// Stats is a point-in-time snapshot for EngineMetrics.
type Stats struct {
	Strategy      Strategy
	PerShardLoad  map[string]int64
	LastRebalance time.Time
}

// Stats returns the current strategy and per-shard load counters.
func (b *Balancer) Stats() Stats {
	snap := b.current.Load()
	b.mu.Lock()
	last := b.lastRebalance
	b.mu.Unlock()

	perShard := make(map[string]int64, len(snap.topology))
	for i, s := range snap.topology {
		if i < len(b.load) {
			perShard[s] = b.load[i].Load()
		}
	}
	return Stats{Strategy: snap.strategy, PerShardLoad: perShard, LastRebalance: last}
}
