package walshard

// worker.go implements the shard's single state-machine goroutine: one
// `select` over buffer arrivals, a flush-latency ticker, force-flush/
// checkpoint/shutdown requests, replacing the "coroutine-style background
// loop / self-message" pattern spec.md §9 flags for redesign with an
// explicit event-driven worker (no recursion-via-self-message). A second,
// fully independent goroutine fsyncs on its own ticker (spec.md §4.1:
// "a separate background task per shard fsyncs the log at a fixed
// cadence").

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warpengine/warpengine/internal/walcodec"
)

// tickInterval is how often the worker wakes up with no new entries, purely
// to check whether the latency-cap flush trigger has elapsed. It must be
// smaller than FlushIntervalMs/MidpointLatencyMs to keep those caps honest.
const tickInterval = 5 * time.Millisecond

func (s *Shard) runWorker(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]walcodec.Entry, 0, s.cfg.FlushBatchSize)
	lastFlush := time.Now()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	flushIfDue := func(force bool) {
		if len(buf) == 0 {
			return
		}
		elapsed := time.Since(lastFlush)
		trigger := force ||
			len(buf) >= s.cfg.FlushBatchSize ||
			elapsed >= time.Duration(s.cfg.FlushIntervalMs)*time.Millisecond ||
			(len(buf) >= MidpointBatchSize && elapsed >= MidpointLatencyMs*time.Millisecond) ||
			len(buf) >= HardCapBufferLen
		if !trigger {
			return
		}
		s.flush(buf)
		buf = buf[:0]
		lastFlush = time.Now()
	}

	for {
		select {
		case entry := <-s.bufCh:
			buf = append(buf, entry)
			flushIfDue(len(buf) >= HardCapBufferLen)

		case <-ticker.C:
			flushIfDue(false)

		case ack := <-s.flushReqCh:
			s.state.Store(uint32(StateFlushing))
			s.drainChannel(&buf)
			flushIfDue(true)
			s.state.Store(uint32(StateAccepting))
			close(ack)

		case reply := <-s.checkpointCh:
			s.state.Store(uint32(StateCheckpointing))
			s.drainChannel(&buf)
			flushIfDue(true)
			reply <- checkpointResult{sequence: s.seq.Load()}
			// State stays Checkpointing until EndCheckpoint is called by
			// the snapshot owner (internal/checkpoint).

		case ack := <-s.shutdownCh:
			s.state.Store(uint32(StateShuttingDown))
			s.drainChannel(&buf)
			flushIfDue(true)
			_ = s.file.Sync()
			close(ack)
			s.stop()
			return

		case <-ctx.Done():
			s.drainChannel(&buf)
			flushIfDue(true)
			s.stop()
			return
		}
	}
}

// drainChannel opportunistically pulls any entries already queued in bufCh
// without blocking, so a ForceFlush/checkpoint/shutdown request flushes
// everything a producer has already handed off rather than racing it.
func (s *Shard) drainChannel(buf *[]walcodec.Entry) {
	for {
		select {
		case e := <-s.bufCh:
			*buf = append(*buf, e)
		default:
			return
		}
	}
}

// flush encodes buf into one BATCH record and writes it with a single
// write(2) call. It does not fsync (spec.md §4.1: "the worker does NOT
// fsync in the flush path"). On write failure it marks the shard degraded;
// subsequent Append calls will observe Degraded() and refuse.
func (s *Shard) flush(buf []walcodec.Entry) {
	if len(buf) == 0 {
		return
	}
	start := time.Now()

	batch, err := walcodec.EncodeBatch(buf, uint64(start.UnixMicro()))
	if err != nil {
		s.markDegraded(err)
		return
	}
	n, err := s.file.Write(batch)
	if err != nil {
		s.markDegraded(err)
		return
	}
	s.fileSize.Add(int64(n))
	s.totalFlushes.Add(1)
	s.totalFlushNs.Add(uint64(time.Since(start).Nanoseconds()))
	s.metrics.observeFlush(s.cfg.ShardID, len(buf), time.Since(start))
}

// runFsyncLoop fsyncs the log file on a fixed cadence, independent of the
// flush path (spec.md §4.1: this decouples write throughput from disk
// durability and bounds the durability window to FsyncIntervalMs).
func (s *Shard) runFsyncLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.FsyncIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.file.Sync(); err != nil {
				// Logged and retried on the next interval; fsync failure
				// alone does not degrade the shard (spec.md §4.1).
				s.logger.Warn("walshard: fsync failed, will retry",
					zap.Uint8("shard", s.cfg.ShardID), zap.Error(err))
				s.metrics.incFsyncError(s.cfg.ShardID)
				continue
			}
			s.metrics.incFsync(s.cfg.ShardID)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
