package warpengine

// config.go implements every configuration key of spec.md §6 as both a
// Config struct field (with the tabled default) and a matching functional
// Option, following the teacher's pkg/config.go split between a plain
// struct and Option-driven construction/validation in applyOptions.

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/warpengine/warpengine/internal/ops"
)

// Config carries every construction-time knob recognized by New (spec.md
// §6 "Configuration").
type Config struct {
	DataRoot                      string
	UseNumberedShards             bool
	NumNumberedShards             int
	WALSampleRate                 uint32
	CacheWriteThroughOnPut        bool
	CacheSampleRatePut            uint32
	CacheSampleRateGet            uint32
	PhysicsSampleRatePut          uint32
	EnableIntelligentLoadBalancer bool
	DeterministicNumberedRouting  bool
	CacheCapacityLimit            int
	FlushBatchSize                int
	FlushIntervalMs               int
	FsyncIntervalMs               int
	WALBufferCap                  int
	CacheHawkingTemperature       float64

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig() Config {
	return Config{
		DataRoot:                      "./data",
		UseNumberedShards:             false,
		NumNumberedShards:             24,
		WALSampleRate:                 1,
		CacheWriteThroughOnPut:        true,
		CacheSampleRatePut:            8,
		CacheSampleRateGet:            4,
		PhysicsSampleRatePut:          16,
		EnableIntelligentLoadBalancer: false,
		DeterministicNumberedRouting:  true,
		CacheCapacityLimit:            100_000,
		FlushBatchSize:                5000,
		FlushIntervalMs:               50,
		FsyncIntervalMs:               100,
		WALBufferCap:                  25000,
		CacheHawkingTemperature:       0.1,
	}
}

// Option customizes Config before New validates and applies it.
type Option func(*Config)

// WithDataRoot sets the filesystem root under which wal/ and checkpoints/
// are created.
func WithDataRoot(path string) Option {
	return func(c *Config) { c.DataRoot = path }
}

// WithNumberedShards switches the primary topology to shard_0..shard_{n-1}.
func WithNumberedShards(n int) Option {
	return func(c *Config) { c.UseNumberedShards = true; c.NumNumberedShards = n }
}

// WithWALSampleRate sets the put/delete WAL sampling rate (1 = no sampling).
func WithWALSampleRate(n uint32) Option {
	return func(c *Config) { c.WALSampleRate = n }
}

// WithCacheWriteThrough toggles write-through caching on Put.
func WithCacheWriteThrough(enabled bool) Option {
	return func(c *Config) { c.CacheWriteThroughOnPut = enabled }
}

// WithCacheSampleRates sets the put/get write-through and back-fill
// sampling rates.
func WithCacheSampleRates(put, get uint32) Option {
	return func(c *Config) { c.CacheSampleRatePut = put; c.CacheSampleRateGet = get }
}

// WithPhysicsSampleRate sets the observer-hook sampling rate.
func WithPhysicsSampleRate(n uint32) Option {
	return func(c *Config) { c.PhysicsSampleRatePut = n }
}

// WithIntelligentLoadBalancer enables concurrency/throughput-adaptive
// rebalancing (spec.md §4.3). Disabled by default: routing stays at Hash.
func WithIntelligentLoadBalancer(enabled bool) Option {
	return func(c *Config) { c.EnableIntelligentLoadBalancer = enabled }
}

// WithDeterministicNumberedRouting pins the balancer to Hash-only routing
// regardless of WithIntelligentLoadBalancer, so route(key) stays constant
// across runs for a fixed topology (spec.md invariant 8). Enabled by
// default; disable only when routing determinism is not required and
// adaptive rebalancing should be allowed to take effect.
func WithDeterministicNumberedRouting(enabled bool) Option {
	return func(c *Config) { c.DeterministicNumberedRouting = enabled }
}

// WithCacheCapacityLimit sets the Event-Horizon Cache's total item-count
// capacity.
func WithCacheCapacityLimit(n int) Option {
	return func(c *Config) { c.CacheCapacityLimit = n }
}

// WithFsyncInterval sets the independent fsync loop's cadence.
func WithFsyncInterval(ms int) Option {
	return func(c *Config) { c.FsyncIntervalMs = ms }
}

// WithFlushBatchSize sets the maximum number of buffered WAL records a
// shard accumulates before a batched flush to disk.
func WithFlushBatchSize(n int) Option {
	return func(c *Config) { c.FlushBatchSize = n }
}

// WithFlushIntervalMs sets the maximum latency a buffered WAL record waits
// before its shard flushes early, even under FlushBatchSize.
func WithFlushIntervalMs(ms int) Option {
	return func(c *Config) { c.FlushIntervalMs = ms }
}

// WithWALBufferCap sets the hard cap on a shard's in-memory WAL buffer
// length; producers block once it's reached.
func WithWALBufferCap(n int) Option {
	return func(c *Config) { c.WALBufferCap = n }
}

// WithCacheHawkingTemperature scales the Event-Horizon Cache's eviction
// intensity fractions (spec.md §4.4 "Hawking radiation"); 0.1 is the
// documented default and leaves the tabled 5/10/20/30% fractions
// unchanged, values above it evict more aggressively per pass and values
// below it (above 0.0) less so; 0.0 is treated as the 0.1 default. Must be
// within [0.0, 1.0].
func WithCacheHawkingTemperature(t float64) Option {
	return func(c *Config) { c.CacheHawkingTemperature = t }
}

// WithLogger plugs an external zap.Logger. Engine never logs on the hot
// path; only slow events (rebalancing, degraded shards, fsync failures).
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetricsRegistry enables Prometheus metrics collection for the WAL
// shards and the Event-Horizon Cache. Passing nil (the default) keeps
// metrics as no-ops.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *Config) { c.registry = reg }
}

// applyOptions copies user options into cfg and validates the tabled
// invariants, returning ErrConfigError wrapped with the offending detail on
// failure (spec.md §6: "ConfigError is returned synchronously from New on
// invalid combinations").
func applyOptions(cfg *Config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.DataRoot == "" {
		return fmt.Errorf("%w: data_root must be non-empty", ErrConfigError)
	}
	if cfg.NumNumberedShards < 1 || cfg.NumNumberedShards > 24 {
		return fmt.Errorf("%w: num_numbered_shards must be in [1,24], got %d", ErrConfigError, cfg.NumNumberedShards)
	}
	if cfg.CacheCapacityLimit < 0 {
		return fmt.Errorf("%w: cache_capacity_limit must be >= 0", ErrConfigError)
	}
	if cfg.FsyncIntervalMs <= 0 {
		return fmt.Errorf("%w: fsync_interval_ms must be > 0", ErrConfigError)
	}
	if cfg.FlushBatchSize <= 0 {
		return fmt.Errorf("%w: flush_batch_size must be > 0", ErrConfigError)
	}
	if cfg.FlushIntervalMs <= 0 {
		return fmt.Errorf("%w: flush_interval_ms must be > 0", ErrConfigError)
	}
	if cfg.WALBufferCap <= 0 {
		return fmt.Errorf("%w: wal_buffer_cap must be > 0", ErrConfigError)
	}
	if cfg.CacheHawkingTemperature < 0.0 || cfg.CacheHawkingTemperature > 1.0 {
		return fmt.Errorf("%w: cache_hawking_temperature must be in [0.0,1.0], got %v", ErrConfigError, cfg.CacheHawkingTemperature)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return nil
}

func (c Config) sampleRates() ops.SampleRates {
	return ops.SampleRates{
		WALSampleRate:          c.WALSampleRate,
		CacheWriteThroughOnPut: c.CacheWriteThroughOnPut,
		CacheSampleRatePut:     c.CacheSampleRatePut,
		CacheSampleRateGet:     c.CacheSampleRateGet,
		PhysicsSampleRatePut:   c.PhysicsSampleRatePut,
	}
}
