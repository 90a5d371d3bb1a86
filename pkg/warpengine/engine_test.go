package warpengine

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := append([]Option{WithDataRoot(t.TempDir())}, opts...)
	e, err := New(base...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestNewRejectsInvalidShardCount(t *testing.T) {
	_, err := New(WithDataRoot(t.TempDir()), WithNumberedShards(0))
	if err == nil {
		t.Fatalf("expected ConfigError for zero numbered shards")
	}
}

func TestNewRejectsEmptyDataRoot(t *testing.T) {
	_, err := New(WithDataRoot(""))
	if err == nil {
		t.Fatalf("expected ConfigError for empty data root")
	}
}

func TestPutGetDeleteLifecycle(t *testing.T) {
	e := newTestEngine(t, WithNumberedShards(4))
	ctx := context.Background()

	putRes, err := e.Put(ctx, []byte("user:1"), []byte("alice"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if putRes.OpTimeUs < 1 {
		t.Fatalf("expected op_time_us >= 1, got %d", putRes.OpTimeUs)
	}

	getRes, err := e.Get(ctx, []byte("user:1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !getRes.Found || string(getRes.Value) != "alice" {
		t.Fatalf("expected alice, got %+v", getRes)
	}

	delRes, err := e.Delete(ctx, []byte("user:1"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(delRes.DeletedFrom) == 0 {
		t.Fatalf("expected deletion to report at least one shard")
	}

	missRes, err := e.Get(ctx, []byte("user:1"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if missRes.Found {
		t.Fatalf("expected NotFound after delete, got %+v", missRes)
	}
}

func TestHealthCheckReportsHealthyByDefault(t *testing.T) {
	e := newTestEngine(t, WithNumberedShards(3))
	report := e.HealthCheck(context.Background())
	if !report.Healthy {
		t.Fatalf("expected healthy engine, got %+v", report)
	}
}

func TestCoordinatedCheckpointAndRestartRecovers(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	e, err := New(WithDataRoot(root), WithNumberedShards(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Put(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := e.CreateCoordinatedCheckpoint(ctx); err != nil {
		t.Fatalf("CreateCoordinatedCheckpoint: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := New(WithDataRoot(root), WithNumberedShards(2))
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	defer e2.Close(ctx)

	res, err := e2.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if !res.Found || string(res.Value) != "v" {
		t.Fatalf("expected checkpointed value to survive restart, got %+v", res)
	}
}

func TestMetricsReportsPerShardStats(t *testing.T) {
	e := newTestEngine(t, WithNumberedShards(3))
	if _, err := e.Put(context.Background(), []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	m := e.Metrics()
	if len(m.WALShards) == 0 {
		t.Fatalf("expected at least one shard in metrics snapshot")
	}
}
