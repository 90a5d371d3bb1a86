package walshard

import (
	"context"
	"testing"
	"time"

	"github.com/warpengine/warpengine/internal/walcodec"
)

func newTestShard(t *testing.T, dataRoot string) *Shard {
	t.Helper()
	s, err := New(Config{ShardID: 0, DataRoot: dataRoot, FsyncIntervalMs: 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Recover(0, func(walcodec.Entry) error { return nil }); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	ctx := context.Background()
	s.Start(ctx)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s
}

func TestSequenceMonotonicity(t *testing.T) {
	s := newTestShard(t, t.TempDir())
	ctx := context.Background()

	var last uint64
	for i := 0; i < 1000; i++ {
		seq, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i > 0 && seq != last+1 {
			t.Fatalf("sequence gap: got %d after %d", seq, last)
		}
		last = seq
	}
}

func TestForceFlushWritesToDisk(t *testing.T) {
	root := t.TempDir()
	s := newTestShard(t, root)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	stats := s.Stats()
	if stats.FileSize == 0 {
		t.Fatalf("expected non-zero file size after ForceFlush")
	}
	if stats.TotalFlushes == 0 {
		t.Fatalf("expected at least one flush recorded")
	}
}

func TestRecoverAfterForcedFsync(t *testing.T) {
	root := t.TempDir()
	s := newTestShard(t, root)
	ctx := context.Background()

	seq, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if err := s.file.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	_ = s.Shutdown(context.Background())

	// Simulate restart: reopen the same WAL file and replay.
	s2, err := New(Config{ShardID: 0, DataRoot: root})
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	var replayed []walcodec.Entry
	summary, err := s2.Recover(0, func(e walcodec.Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if summary.EntriesReplayed != 1 {
		t.Fatalf("expected 1 entry replayed, got %d", summary.EntriesReplayed)
	}
	if replayed[0].Sequence != seq || string(replayed[0].Value) != "v" {
		t.Fatalf("replayed entry mismatch: %+v", replayed[0])
	}
	_ = s2.Shutdown(context.Background())
}

func TestRecoveryIdempotence(t *testing.T) {
	root := t.TempDir()
	s := newTestShard(t, root)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	_ = s.file.Sync()
	_ = s.Shutdown(context.Background())

	replay := func() int {
		sN, err := New(Config{ShardID: 0, DataRoot: root})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		count := 0
		if _, err := sN.Recover(0, func(walcodec.Entry) error { count++; return nil }); err != nil {
			t.Fatalf("Recover: %v", err)
		}
		_ = sN.Shutdown(context.Background())
		return count
	}

	first := replay()
	second := replay()
	if first != second {
		t.Fatalf("recovery not idempotent: first=%d second=%d", first, second)
	}
}

func TestCheckpointSubsumptionSkipsOldEntries(t *testing.T) {
	root := t.TempDir()
	s := newTestShard(t, root)
	ctx := context.Background()

	var lastSeq uint64
	for i := 0; i < 10; i++ {
		seq, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		lastSeq = seq
	}
	if err := s.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	_ = s.file.Sync()
	_ = s.Shutdown(context.Background())

	s2, err := New(Config{ShardID: 0, DataRoot: root})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s2.SetSequence(lastSeq + 1)
	count := 0
	summary, err := s2.Recover(lastSeq, func(walcodec.Entry) error { count++; return nil })
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if count != 0 || summary.EntriesReplayed != 0 {
		t.Fatalf("expected all entries subsumed by checkpoint sequence %d, replayed %d", lastSeq, count)
	}
	_ = s2.Shutdown(context.Background())
}

func TestDegradedShardRefusesAppend(t *testing.T) {
	s := newTestShard(t, t.TempDir())
	s.markDegraded(context.DeadlineExceeded)

	_, err := s.Append(context.Background(), walcodec.OpPut, []byte("k"), []byte("v"), nil)
	if err == nil {
		t.Fatalf("expected error from degraded shard")
	}
	var degErr *ErrDegraded
	if ok := asErrDegraded(err, &degErr); !ok {
		t.Fatalf("expected ErrDegraded, got %T: %v", err, err)
	}
}

func asErrDegraded(err error, target **ErrDegraded) bool {
	if e, ok := err.(*ErrDegraded); ok {
		*target = e
		return true
	}
	return false
}

func TestHardCapForcesImmediateFlush(t *testing.T) {
	root := t.TempDir()
	s, err := New(Config{ShardID: 0, DataRoot: root, BufferCap: 30000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Recover(0, func(walcodec.Entry) error { return nil }); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ctx := context.Background()
	for i := 0; i < HardCapBufferLen+10; i++ {
		if _, err := s.Append(ctx, walcodec.OpPut, []byte("k"), []byte("v"), nil); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	// Give the worker a moment to observe the hard cap and flush.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().TotalFlushes > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected at least one flush triggered by hard cap")
}
