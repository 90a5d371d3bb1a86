package walcoord

import (
	"context"
	"testing"

	"github.com/warpengine/warpengine/internal/store"
	"github.com/warpengine/warpengine/internal/walcodec"
)

func newTestCoordinator(t *testing.T, numbered bool) *Coordinator {
	t.Helper()
	c, err := New(Config{DataRoot: t.TempDir(), NumberedCount: 4, UseNumberedShards: numbered})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.RecoverAllShards(ctx); err != nil {
		t.Fatalf("RecoverAllShards: %v", err)
	}
	c.StartAllShards(ctx)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func TestTopologySwitchesOnUseNumberedShards(t *testing.T) {
	legacy := newTestCoordinator(t, false)
	if got := legacy.Topology(); len(got) != 3 {
		t.Fatalf("expected legacy topology of 3, got %v", got)
	}

	numbered := newTestCoordinator(t, true)
	if got := numbered.Topology(); len(got) != 4 {
		t.Fatalf("expected numbered topology of 4, got %v", got)
	}
}

func TestBothTopologiesConstructedSimultaneously(t *testing.T) {
	c := newTestCoordinator(t, true)
	if _, ok := c.Handle("hot"); !ok {
		t.Fatalf("expected legacy shard 'hot' to exist alongside numbered topology")
	}
	if _, ok := c.Handle("shard_0"); !ok {
		t.Fatalf("expected numbered shard 'shard_0' to exist")
	}
}

func TestCoordinatedCheckpointAndRecovery(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	c, err := New(Config{DataRoot: root, NumberedCount: 2, UseNumberedShards: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.RecoverAllShards(ctx); err != nil {
		t.Fatalf("RecoverAllShards: %v", err)
	}
	c.StartAllShards(ctx)

	h0, _ := c.Handle("shard_0")
	h1, _ := c.Handle("shard_1")
	seq0, err := h0.WAL.Append(ctx, walcodec.OpPut, []byte("k0"), []byte("v0"), nil)
	if err != nil {
		t.Fatalf("Append shard_0: %v", err)
	}
	h0.Store.Put([]byte("k0"), store.Record{Value: []byte("v0")})
	seq1, err := h1.WAL.Append(ctx, walcodec.OpPut, []byte("k1"), []byte("v1"), nil)
	if err != nil {
		t.Fatalf("Append shard_1: %v", err)
	}
	h1.Store.Put([]byte("k1"), store.Record{Value: []byte("v1")})
	_ = seq0
	_ = seq1

	if err := h0.WAL.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush shard_0: %v", err)
	}
	if err := h1.WAL.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush shard_1: %v", err)
	}

	result, err := c.CreateCoordinatedCheckpoint(ctx)
	if err != nil {
		t.Fatalf("CreateCoordinatedCheckpoint: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("expected no failed shards, got %v", result.Failed)
	}
	if len(result.Meta.Shards) != 2 {
		t.Fatalf("expected 2 shard checkpoints recorded, got %d", len(result.Meta.Shards))
	}

	_ = c.Shutdown(context.Background())

	c2, err := New(Config{DataRoot: root, NumberedCount: 2, UseNumberedShards: true})
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	if err := c2.RecoverAllShards(context.Background()); err != nil {
		t.Fatalf("RecoverAllShards (restart): %v", err)
	}
	rh0, _ := c2.Handle("shard_0")
	rec, ok := rh0.Store.Get([]byte("k0"))
	if !ok || string(rec.Value) != "v0" {
		t.Fatalf("expected k0=v0 restored from checkpoint, got %+v ok=%v", rec, ok)
	}
	_ = c2.Shutdown(context.Background())
}

func TestHealthCheckReportsAllActiveShards(t *testing.T) {
	c := newTestCoordinator(t, true)
	reports := c.HealthCheck()
	if len(reports) != 4 {
		t.Fatalf("expected 4 health reports, got %d", len(reports))
	}
	for _, r := range reports {
		if r.Degraded {
			t.Fatalf("shard %s unexpectedly degraded", r.Name)
		}
	}
}
