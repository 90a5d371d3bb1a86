package walcodec

// codec.go implements the binary ENTRY/BATCH wire framing:
//
//	BATCH := <count:u32><flush_ts:u64> ENTRY{count}
//	ENTRY := <seq:u64><ts_us:u64><op:u8><compression:u8>
//	         <klen:u32><key:bytes>
//	         <vlen:u32><value:bytes>
//	         <mlen:u32><metadata:bytes>
//	         <checksum:u128>
//
// Encode/Decode are pure functions: no I/O, no locking. The WAL shard (C2)
// owns framing entries into batches and writing them; this package only
// knows how to turn one Entry into bytes and back, and how to compress.
//
// Grounded on the pack's own WAL codecs (other_examples/ — length-prefixed
// fields + trailing checksum is the shape every example in the pack uses),
// generalized from CRC32/JSON to the spec's fixed binary layout + MD5.
//
// © 2025 WarpEngine authors. MIT License.

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

// ErrCorrupt is returned by Decode when a length prefix is out of bounds, the
// compression byte is unrecognized, or the checksum does not match.
var ErrCorrupt = errors.New("walcodec: corrupt entry")

// maxFieldLen bounds any single length-prefixed field to guard against a
// corrupt length prefix causing an enormous allocation. Keys are capped at
// 64 KiB; values/metadata have no stated cap, but 256 MiB is far beyond any
// sane single record and catches framing corruption cheaply.
const maxFieldLen = 256 << 20

// Encode serializes one Entry into its wire representation. It compresses
// Value in place (the returned bytes, not e.Value, carry the compressed
// form) when len(Value) >= 1 KiB and e.Compression requests a real codec;
// if e.Compression is unset (CompressionNone) and the value is large, Encode
// chooses CompressionGzip automatically.
func Encode(e Entry) ([]byte, error) {
	if !e.Operation.Durable() {
		return nil, fmt.Errorf("walcodec: operation %s is not durably loggable", e.Operation)
	}

	value := e.Value
	comp := e.Compression
	if len(value) >= compressionThreshold {
		if comp == CompressionNone {
			comp = CompressionGzip
		}
		compressed, err := compress(comp, value)
		if err != nil {
			return nil, err
		}
		value = compressed
	} else {
		comp = CompressionNone
	}

	checksum := checksumOf(e.Key, value, e.Metadata)

	var buf bytes.Buffer
	buf.Grow(8 + 8 + 1 + 1 + 4 + len(e.Key) + 4 + len(value) + 4 + len(e.Metadata) + 16)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], e.Sequence)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], e.TimestampUs)
	buf.Write(scratch[:])
	buf.WriteByte(byte(e.Operation))
	buf.WriteByte(byte(comp))

	if err := writeField(&buf, e.Key); err != nil {
		return nil, err
	}
	if err := writeField(&buf, value); err != nil {
		return nil, err
	}
	if err := writeField(&buf, e.Metadata); err != nil {
		return nil, err
	}
	buf.Write(checksum[:])

	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, field []byte) error {
	if len(field) > maxFieldLen {
		return fmt.Errorf("walcodec: field too large (%d bytes)", len(field))
	}
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(field)))
	buf.Write(scratch[:])
	buf.Write(field)
	return nil
}

// Decode parses one ENTRY record from r, validating length prefixes,
// recognized compression, and checksum. On any structural or checksum
// mismatch it returns ErrCorrupt (wrapped with context); callers (the WAL
// shard's recovery path) treat ErrCorrupt as "truncate here".
//
// The returned Entry's Value is decompressed back to its original bytes, so
// Decode(Encode(e)).Value == e.Value even though the wire form is
// compressed — Compression on the returned Entry still reports what was
// used on the wire, for inspection purposes.
func Decode(r io.Reader) (Entry, int, error) {
	var e Entry
	n := 0

	var head [18]byte // seq(8) + ts(8) + op(1) + compression(1)
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return e, n, fmt.Errorf("%w: reading entry header: %v", ErrCorrupt, err)
	}
	n += len(head)

	e.Sequence = binary.BigEndian.Uint64(head[0:8])
	e.TimestampUs = binary.BigEndian.Uint64(head[8:16])
	e.Operation = Operation(head[16])
	wireComp := Compression(head[17])
	if wireComp > CompressionLz4 {
		return e, n, fmt.Errorf("%w: unrecognized compression byte %d", ErrCorrupt, head[17])
	}

	key, kn, err := readField(r)
	n += kn
	if err != nil {
		return e, n, err
	}
	value, vn, err := readField(r)
	n += vn
	if err != nil {
		return e, n, err
	}
	metadata, mn, err := readField(r)
	n += mn
	if err != nil {
		return e, n, err
	}

	var wantChecksum [16]byte
	if _, err := io.ReadFull(r, wantChecksum[:]); err != nil {
		return e, n, fmt.Errorf("%w: reading checksum: %v", ErrCorrupt, err)
	}
	n += 16

	gotChecksum := checksumOf(key, value, metadata)
	if gotChecksum != wantChecksum {
		return e, n, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	decompressed, err := decompress(wireComp, value)
	if err != nil {
		return e, n, fmt.Errorf("%w: decompressing value: %v", ErrCorrupt, err)
	}

	e.Key = key
	e.Value = decompressed
	e.Metadata = metadata
	e.Compression = wireComp
	e.Checksum = wantChecksum
	return e, n, nil
}

func readField(r io.Reader) ([]byte, int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: reading field length: %v", ErrCorrupt, err)
	}
	l := binary.BigEndian.Uint32(lenBuf[:])
	if l > maxFieldLen {
		return nil, 4, fmt.Errorf("%w: field length %d exceeds bound", ErrCorrupt, l)
	}
	if l == 0 {
		return nil, 4, nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 4 + int(l), fmt.Errorf("%w: reading field of length %d: %v", ErrCorrupt, l, err)
	}
	return buf, 4 + int(l), nil
}

func checksumOf(key, value, metadata []byte) [16]byte {
	h := md5.New()
	h.Write(key)
	h.Write(value)
	h.Write(metadata)
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Compress applies codec c to data. Exported for reuse by components (e.g.
// internal/horizoncache) that need the same compression tags outside of WAL
// entry framing, so the codec logic lives in exactly one place.
func Compress(c Compression, data []byte) ([]byte, error) { return compress(c, data) }

// Decompress reverses Compress.
func Decompress(c Compression, data []byte) ([]byte, error) { return decompress(c, data) }

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLz4:
		return s2.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("walcodec: unknown compression %d", c)
	}
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		if len(data) == 0 {
			return data, nil
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionLz4:
		return s2.Decode(nil, data)
	default:
		return nil, fmt.Errorf("walcodec: unknown compression %d", c)
	}
}
