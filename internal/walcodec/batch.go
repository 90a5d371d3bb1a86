package walcodec

// batch.go implements the BATCH wrapper around a sequence of encoded
// entries: <count:u32><flush_ts:u64> ENTRY{count}. The WAL shard flush loop
// calls EncodeBatch once per flush and writes the result with a single
// write(2) syscall.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeBatch frames entries (already-built Entry values) into one
// contiguous byte batch prefixed by count and flushTimestampUs.
func EncodeBatch(entries []Entry, flushTimestampUs uint64) ([]byte, error) {
	var buf bytes.Buffer
	var head [12]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(len(entries)))
	binary.BigEndian.PutUint64(head[4:12], flushTimestampUs)
	buf.Write(head[:])

	for i, e := range entries {
		enc, err := Encode(e)
		if err != nil {
			return nil, fmt.Errorf("walcodec: encoding entry %d of batch: %w", i, err)
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// BatchHeader is the decoded <count, flush_ts> prefix of a BATCH record.
type BatchHeader struct {
	Count            uint32
	FlushTimestampUs uint64
}

// DecodeBatchHeader reads just the 12-byte batch header from r.
func DecodeBatchHeader(r io.Reader) (BatchHeader, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return BatchHeader{}, fmt.Errorf("%w: reading batch header: %v", ErrCorrupt, err)
	}
	return BatchHeader{
		Count:            binary.BigEndian.Uint32(head[0:4]),
		FlushTimestampUs: binary.BigEndian.Uint64(head[4:12]),
	}, nil
}

// DecodeBatch reads one full batch (header + Count entries) from r. It
// returns as many entries as it could successfully decode along with the
// number of bytes it consumed from r (header included; on a failure this
// also counts the bytes read for the failing entry).
func DecodeBatch(r io.Reader) (entries []Entry, consumed int, err error) {
	header, err := DecodeBatchHeader(r)
	if err != nil {
		return nil, 0, err
	}
	consumed = 12

	entries = make([]Entry, 0, header.Count)
	for i := uint32(0); i < header.Count; i++ {
		e, n, derr := Decode(r)
		consumed += n
		if derr != nil {
			return entries, consumed, fmt.Errorf("entry %d/%d: %w", i+1, header.Count, derr)
		}
		entries = append(entries, e)
	}
	return entries, consumed, nil
}
