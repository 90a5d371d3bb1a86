package walcodec

import (
	"bytes"
	"testing"
)

func sampleEntry(value []byte) Entry {
	return Entry{
		Sequence:    42,
		TimestampUs: 1234567,
		Operation:   OpPut,
		ShardID:     3,
		Key:         []byte("user:1"),
		Value:       value,
		Metadata:    []byte(`{"shard_id":3,"stored_at_ms":1}`),
		Version:     CurrentVersion,
	}
}

func TestCodecRoundTripSmallValue(t *testing.T) {
	e := sampleEntry([]byte("alice"))
	enc, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := Decode(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Key, e.Key) || !bytes.Equal(got.Value, e.Value) || !bytes.Equal(got.Metadata, e.Metadata) {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
	if got.Compression != CompressionNone {
		t.Fatalf("expected no compression for small value, got %v", got.Compression)
	}
}

func TestCodecRoundTripLargeValueCompresses(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 4096)
	e := sampleEntry(big)
	enc, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc) >= len(big) {
		t.Fatalf("expected compressed encoding to be smaller than raw value: enc=%d raw=%d", len(enc), len(big))
	}
	got, _, err := Decode(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Value, big) {
		t.Fatalf("decompressed value mismatch")
	}
	if got.Compression != CompressionGzip {
		t.Fatalf("expected gzip auto-selected, got %v", got.Compression)
	}
}

func TestCodecExplicitLz4Compression(t *testing.T) {
	big := bytes.Repeat([]byte("abcdefgh"), 1024)
	e := sampleEntry(big)
	e.Compression = CompressionLz4
	enc, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, _, err := Decode(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Compression != CompressionLz4 {
		t.Fatalf("expected lz4 tag preserved, got %v", got.Compression)
	}
	if !bytes.Equal(got.Value, big) {
		t.Fatalf("decompressed value mismatch")
	}
}

func TestCodecCorruptionDetected(t *testing.T) {
	e := sampleEntry([]byte("alice"))
	enc, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Bytes 0-16 (sequence, timestamp, operation) are not covered by the
	// checksum: a flip there may still decode, but never with a different
	// key, value or metadata. From the compression byte (17) on, every flip
	// (length prefixes, key, value, metadata, checksum) must be an error.
	for i := range enc {
		corrupted := make([]byte, len(enc))
		copy(corrupted, enc)
		corrupted[i] ^= 0xFF
		got, _, err := Decode(bytes.NewReader(corrupted))
		if i < 17 {
			if err == nil && (!bytes.Equal(got.Key, e.Key) || !bytes.Equal(got.Value, e.Value) || !bytes.Equal(got.Metadata, e.Metadata)) {
				t.Fatalf("byte %d: decoded with altered key, value or metadata", i)
			}
			continue
		}
		if err == nil {
			t.Fatalf("byte %d: expected corruption to be detected", i)
		}
	}
}

func TestCodecRejectsNonDurableOperation(t *testing.T) {
	e := sampleEntry([]byte("v"))
	e.Operation = OpGet
	if _, err := Encode(e); err == nil {
		t.Fatalf("expected error encoding non-durable operation")
	}
}

func TestBatchRoundTrip(t *testing.T) {
	entries := []Entry{
		sampleEntry([]byte("v1")),
		sampleEntry([]byte("v2")),
		sampleEntry([]byte("v3")),
	}
	for i := range entries {
		entries[i].Sequence = uint64(i + 1)
	}

	batch, err := EncodeBatch(entries, 999)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}

	decoded, consumed, err := DecodeBatch(bytes.NewReader(batch))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if consumed != len(batch) {
		t.Fatalf("consumed %d, want %d", consumed, len(batch))
	}
	if len(decoded) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(decoded), len(entries))
	}
	for i, e := range decoded {
		if e.Sequence != entries[i].Sequence {
			t.Fatalf("entry %d: sequence %d, want %d", i, e.Sequence, entries[i].Sequence)
		}
	}
}

func TestDecodeBatchTruncatesOnPartialTail(t *testing.T) {
	entries := []Entry{sampleEntry([]byte("v1")), sampleEntry([]byte("v2"))}
	batch, err := EncodeBatch(entries, 1)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	truncated := batch[:len(batch)-5] // cut into the middle of the 2nd entry

	decoded, _, err := DecodeBatch(bytes.NewReader(truncated))
	if err == nil {
		t.Fatalf("expected error decoding truncated batch")
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 fully-decoded entry before the truncated tail, got %d", len(decoded))
	}
}
