// Package walshard implements C2: one shard's dedicated Write-Ahead Log.
// Each Shard owns a single on-disk log file, an atomic sequence counter, a
// bounded buffer drained by one worker goroutine, and an independent fsync
// loop. This is the hard-engineering core of WarpEngine: sequence
// allocation never takes a lock or talks to the worker (a plain
// atomic fetch-add), while all disk I/O happens off the producer's path.
//
// Grounded on two sources (see DESIGN.md): the teacher's
// lock-minimal-fast-path/slow-path shape (pkg/shard.go), and the pack's
// neehar-mavuduru-logger-double-buffer/asynclogger shard+buffer design
// (explicit flush-trigger booleans, offset/capacity accounting, Reset after
// flush) generalized from a raw byte ring buffer to a slice of decoded WAL
// entries queued for encoding.
//
// © 2025 WarpEngine authors. MIT License.
package walshard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/warpengine/warpengine/internal/walcodec"
)

// State is one node of the shard worker's state machine (spec.md §4.1).
type State uint32

const (
	StateRecovering State = iota // initial; no writes accepted
	StateAccepting
	StateFlushing
	StateCheckpointing
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateRecovering:
		return "recovering"
	case StateAccepting:
		return "accepting"
	case StateFlushing:
		return "flushing"
	case StateCheckpointing:
		return "checkpointing"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Flush trigger thresholds (spec.md §4.1).
const (
	HardBatchSize      = 5000
	LatencyCapMs       = 50
	MidpointBatchSize  = 2500
	MidpointLatencyMs  = 25
	HardCapBufferLen   = 25000
	DefaultFsyncMs     = 100
)

// Config carries per-shard construction knobs. Zero values fall back to
// spec.md's tabled defaults.
type Config struct {
	ShardID         uint8
	DataRoot        string // <data_root>; the shard derives <data_root>/wal/cosmic_<id>.wal
	FlushBatchSize  int
	FlushIntervalMs int
	FsyncIntervalMs int
	BufferCap       int
	Logger          *zap.Logger
	Metrics         MetricsSink
}

func (c *Config) setDefaults() {
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = HardBatchSize
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = LatencyCapMs
	}
	if c.FsyncIntervalMs <= 0 {
		c.FsyncIntervalMs = DefaultFsyncMs
	}
	if c.BufferCap <= 0 {
		c.BufferCap = HardCapBufferLen
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
}

// Stats is a point-in-time snapshot of a shard's operational counters
// (spec.md §4.1's `stats()` contract).
type Stats struct {
	Sequence     uint64
	BufferLen    int
	FileSize     int64
	TotalOps     uint64
	TotalFlushes uint64
	AvgFlushMs   float64
	State        State
	Degraded     bool
}

// checkpointResult is sent back on the channel a BeginCheckpoint caller
// provides.
type checkpointResult struct {
	sequence uint64
	err      error
}

// Shard is one shard's WAL: file, sequence counter, buffer, worker.
type Shard struct {
	cfg  Config
	path string

	file *os.File

	seq atomic.Uint64

	state    atomic.Uint32
	degraded atomic.Bool
	degErr   atomic.Pointer[error]

	bufCh         chan walcodec.Entry
	flushReqCh    chan chan struct{}
	checkpointCh  chan chan checkpointResult
	shutdownCh    chan chan struct{}

	totalOps     atomic.Uint64
	totalFlushes atomic.Uint64
	totalFlushNs atomic.Uint64
	fileSize     atomic.Int64

	logger  *zap.Logger
	metrics MetricsSink

	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Shard. The underlying WAL file is opened (created if
// absent) but the worker is not started — call Recover then Start.
func New(cfg Config) (*Shard, error) {
	cfg.setDefaults()
	dir := filepath.Join(cfg.DataRoot, "wal")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walshard: creating wal dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("cosmic_%d.wal", cfg.ShardID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walshard: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walshard: stat %s: %w", path, err)
	}

	s := &Shard{
		cfg:          cfg,
		path:         path,
		file:         f,
		bufCh:        make(chan walcodec.Entry, cfg.BufferCap),
		flushReqCh:   make(chan chan struct{}),
		checkpointCh: make(chan chan checkpointResult),
		shutdownCh:   make(chan chan struct{}),
		stopCh:       make(chan struct{}),
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	s.fileSize.Store(info.Size())
	s.state.Store(uint32(StateRecovering))
	return s, nil
}

// Path returns the on-disk WAL file path.
func (s *Shard) Path() string { return s.path }

// File exposes the underlying file (tests use it to fsync directly).
// Callers must not write to it directly.
func (s *Shard) File() *os.File { return s.file }

// ShardID returns this shard's numeric id.
func (s *Shard) ShardID() uint8 { return s.cfg.ShardID }

// SetSequence initializes the sequence counter, used by recovery after
// restoring a checkpoint (spec.md §4.8 step 2: "set sequence counter to
// C.sequence_number + 1").
func (s *Shard) SetSequence(n uint64) { s.seq.Store(n) }

// Sequence returns the current value of the sequence counter.
func (s *Shard) Sequence() uint64 { return s.seq.Load() }

// State returns the current state-machine node.
func (s *Shard) State() State { return State(s.state.Load()) }

// Degraded reports whether the shard is refusing writes due to a prior I/O
// failure, and the error that caused it.
func (s *Shard) Degraded() (bool, error) {
	if !s.degraded.Load() {
		return false, nil
	}
	if p := s.degErr.Load(); p != nil {
		return true, *p
	}
	return true, nil
}

// stop closes stopCh exactly once, signaling every goroutine still
// selecting on it (currently just the fsync loop) to exit.
func (s *Shard) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Shard) markDegraded(err error) {
	s.degraded.Store(true)
	s.degErr.Store(&err)
	s.logger.Error("walshard: shard degraded", zap.Uint8("shard", s.cfg.ShardID), zap.Error(err))
	s.metrics.incDegraded(s.cfg.ShardID)
}

// Start launches the worker and fsync goroutines and transitions the shard
// to Accepting. Call this only after Recover() has completed.
func (s *Shard) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.state.Store(uint32(StateAccepting))
	s.wg.Add(2)
	go s.runWorker(ctx)
	go s.runFsyncLoop(ctx)
}

// ErrNotAccepting is returned by Append when the shard isn't ready for
// writes: in any state other than Accepting (Recovering, Flushing during a
// forced flush, Checkpointing, ShuttingDown).
type ErrNotAccepting struct{ State State }

func (e *ErrNotAccepting) Error() string {
	return fmt.Sprintf("walshard: shard not accepting writes (state=%s)", e.State)
}

// ErrDegraded wraps the I/O error that put a shard into the degraded state.
type ErrDegraded struct{ Cause error }

func (e *ErrDegraded) Error() string { return fmt.Sprintf("walshard: shard unavailable: %v", e.Cause) }
func (e *ErrDegraded) Unwrap() error { return e.Cause }

// Append allocates a sequence number (lock-free fast path) and enqueues the
// entry for the worker to encode and flush. It returns as soon as the entry
// is enqueued — disk I/O is always deferred (spec.md §4.1's `append()`
// contract).
func (s *Shard) Append(ctx context.Context, op walcodec.Operation, key, value, metadata []byte) (uint64, error) {
	if !op.Durable() {
		return 0, fmt.Errorf("walshard: operation %v is not durably logged", op)
	}
	if degraded, err := s.Degraded(); degraded {
		return 0, &ErrDegraded{Cause: err}
	}
	if st := s.State(); st != StateAccepting {
		return 0, &ErrNotAccepting{State: st}
	}

	seq := s.seq.Add(1)
	entry := walcodec.Entry{
		Sequence:    seq,
		TimestampUs: uint64(time.Now().UnixMicro()),
		Operation:   op,
		ShardID:     s.cfg.ShardID,
		Key:         append([]byte(nil), key...),
		Metadata:    append([]byte(nil), metadata...),
		Version:     walcodec.CurrentVersion,
	}
	if value != nil {
		entry.Value = append([]byte(nil), value...)
	}

	select {
	case s.bufCh <- entry:
		s.totalOps.Add(1)
		s.metrics.incAppend(s.cfg.ShardID)
		return seq, nil
	case <-ctx.Done():
		return seq, ctx.Err()
	}
}

// ForceFlush blocks until the worker has flushed whatever is currently
// buffered (spec.md §4.1: "flushes buffer, does not imply fsync").
func (s *Shard) ForceFlush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushReqCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginCheckpoint asks the worker to flush and pause in the Checkpointing
// state, returning the sequence number at the moment of the pause. The
// caller (internal/checkpoint) must call EndCheckpoint when the snapshot is
// done to return the shard to Accepting.
func (s *Shard) BeginCheckpoint(ctx context.Context) (uint64, error) {
	reply := make(chan checkpointResult, 1)
	select {
	case s.checkpointCh <- reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.sequence, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// EndCheckpoint returns the shard to Accepting after a snapshot completes.
func (s *Shard) EndCheckpoint() {
	s.state.Store(uint32(StateAccepting))
}

// Shutdown signals ShuttingDown, waits for the worker to drain its buffer
// and fsync, then closes the file.
func (s *Shard) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return s.file.Close()
	}
	ack := make(chan struct{})
	select {
	case s.shutdownCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.wg.Wait()
	return s.file.Close()
}

// Stats returns a point-in-time snapshot of the shard's counters.
func (s *Shard) Stats() Stats {
	var avgMs float64
	if n := s.totalFlushes.Load(); n > 0 {
		avgMs = float64(s.totalFlushNs.Load()) / float64(n) / 1e6
	}
	degraded, _ := s.Degraded()
	return Stats{
		Sequence:     s.seq.Load(),
		BufferLen:    len(s.bufCh),
		FileSize:     s.fileSize.Load(),
		TotalOps:     s.totalOps.Load(),
		TotalFlushes: s.totalFlushes.Load(),
		AvgFlushMs:   avgMs,
		State:        s.State(),
		Degraded:     degraded,
	}
}
