package warpengine

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultConfigMatchesTabledDefaults(t *testing.T) {
	cfg := defaultConfig()
	if cfg.FlushBatchSize != 5000 {
		t.Fatalf("FlushBatchSize default: got %d, want 5000", cfg.FlushBatchSize)
	}
	if cfg.FlushIntervalMs != 50 {
		t.Fatalf("FlushIntervalMs default: got %d, want 50", cfg.FlushIntervalMs)
	}
	if cfg.WALBufferCap != 25000 {
		t.Fatalf("WALBufferCap default: got %d, want 25000", cfg.WALBufferCap)
	}
	if cfg.CacheHawkingTemperature != 0.1 {
		t.Fatalf("CacheHawkingTemperature default: got %v, want 0.1", cfg.CacheHawkingTemperature)
	}
	if !cfg.DeterministicNumberedRouting {
		t.Fatalf("DeterministicNumberedRouting default: got false, want true")
	}
}

func TestNewRejectsOutOfRangeHawkingTemperature(t *testing.T) {
	_, err := New(WithDataRoot(t.TempDir()), WithCacheHawkingTemperature(1.5))
	if !errors.Is(err, ErrConfigError) {
		t.Fatalf("expected ErrConfigError for out-of-range temperature, got %v", err)
	}
}

func TestNewRejectsNonPositiveFlushBatchSize(t *testing.T) {
	_, err := New(WithDataRoot(t.TempDir()), WithFlushBatchSize(0))
	if !errors.Is(err, ErrConfigError) {
		t.Fatalf("expected ErrConfigError for zero flush batch size, got %v", err)
	}
}

func TestNewRejectsNonPositiveWALBufferCap(t *testing.T) {
	_, err := New(WithDataRoot(t.TempDir()), WithWALBufferCap(-1))
	if !errors.Is(err, ErrConfigError) {
		t.Fatalf("expected ErrConfigError for negative wal buffer cap, got %v", err)
	}
}

func TestDeterministicNumberedRoutingDisablesAdaptation(t *testing.T) {
	e := newTestEngine(t, WithNumberedShards(4),
		WithIntelligentLoadBalancer(true),
		WithDeterministicNumberedRouting(true))

	e.balancer.ObserveConcurrency(24)
	if got := e.balancer.Stats().Strategy; got.String() != "hash" {
		t.Fatalf("expected strategy to stay hash when deterministic routing is pinned, got %v", got)
	}
}

func TestIntelligentLoadBalancerAdaptsWhenNotPinnedDeterministic(t *testing.T) {
	e := newTestEngine(t, WithNumberedShards(4),
		WithIntelligentLoadBalancer(true),
		WithDeterministicNumberedRouting(false))

	e.balancer.ObserveConcurrency(24)
	if got := e.balancer.Stats().Strategy; got.String() != "least_loaded" {
		t.Fatalf("expected strategy to adapt to least_loaded, got %v", got)
	}
}

func TestWithCustomFlushAndBufferKnobsConstructsEngine(t *testing.T) {
	e, err := New(
		WithDataRoot(t.TempDir()),
		WithNumberedShards(2),
		WithFlushBatchSize(10),
		WithFlushIntervalMs(5),
		WithWALBufferCap(64),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = e.Close(context.Background()) }()

	if _, err := e.Put(context.Background(), []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
}
