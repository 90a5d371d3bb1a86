package walshard

// recover.go implements the shard's own WAL replay scan (spec.md §4.1's
// `recover()` contract and §4.8 step 3). It is deliberately independent of
// bufio/Decode's batch-at-once helper so it can tell a clean end-of-file
// (the common case: every prior batch was well-formed) apart from a
// truncated/corrupt tail (a partial header or a checksum mismatch
// mid-batch), truncating the file at exactly the last good byte offset.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/warpengine/warpengine/internal/walcodec"
)

// Summary reports what recovery found for one shard (spec.md §4.1's
// `RecoverySummary`).
type Summary struct {
	ShardID         uint8
	EntriesReplayed int
	LastSequence    uint64
	TruncatedBytes  int64
	CheckpointUsed  bool
}

// Recover scans the WAL file from byte 0, applying every entry whose
// sequence exceeds afterSeq via apply (Put -> insert/replace, Delete ->
// remove — the caller decides). Entries with sequence <= afterSeq are
// skipped as already subsumed by a checkpoint. A malformed length prefix or
// checksum mismatch truncates the file at the last good offset and stops;
// everything read before that point has already been applied.
//
// Recover must be called before Start(); it owns the file's read/write
// offset exclusively during the scan.
func (s *Shard) Recover(afterSeq uint64, apply func(e walcodec.Entry) error) (Summary, error) {
	summary := Summary{ShardID: s.cfg.ShardID}

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return summary, fmt.Errorf("walshard: seeking to start for recovery: %w", err)
	}

	info, err := s.file.Stat()
	if err != nil {
		return summary, fmt.Errorf("walshard: stat during recovery: %w", err)
	}
	fileSize := info.Size()

	var offset int64
scan:
	for {
		var head [12]byte
		n, rerr := io.ReadFull(s.file, head[:])
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && n == 0 {
				break // clean end: every batch before this was well-formed
			}
			break // partial header: truncate here
		}
		offset += 12
		count := binary.BigEndian.Uint32(head[0:4])

		for i := uint32(0); i < count; i++ {
			e, consumed, derr := walcodec.Decode(s.file)
			if derr != nil {
				break scan // checksum/length mismatch: truncate at last good offset
			}
			offset += int64(consumed)
			if e.Sequence <= afterSeq {
				continue
			}
			if err := apply(e); err != nil {
				return summary, fmt.Errorf("walshard: applying entry seq=%d: %w", e.Sequence, err)
			}
			summary.EntriesReplayed++
			if e.Sequence > summary.LastSequence {
				summary.LastSequence = e.Sequence
			}
		}
	}

	if offset < fileSize {
		summary.TruncatedBytes = fileSize - offset
		if err := s.file.Truncate(offset); err != nil {
			return summary, fmt.Errorf("walshard: truncating corrupt tail: %w", err)
		}
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return summary, fmt.Errorf("walshard: seeking to end after recovery: %w", err)
	}
	s.fileSize.Store(offset)

	want := s.seq.Load()
	if summary.LastSequence+1 > want {
		want = summary.LastSequence + 1
	}
	s.seq.Store(want)

	return summary, nil
}
