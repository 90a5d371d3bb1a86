package walcodec

// json.go produces a non-authoritative human-readable rendering of an Entry
// for debugging. Never used for decisions — the binary
// Encode/Decode pair is the only authoritative wire format.

import (
	"encoding/hex"
	"encoding/json"
)

// jsonEntry mirrors Entry with human-friendly field encodings.
type jsonEntry struct {
	Sequence    uint64 `json:"sequence"`
	TimestampUs uint64 `json:"timestamp_us"`
	Operation   string `json:"operation"`
	ShardID     uint8  `json:"shard_id"`
	Key         string `json:"key_hex"`
	ValueLen    int    `json:"value_len"`
	MetadataLen int    `json:"metadata_len"`
	Compression string `json:"compression"`
	Checksum    string `json:"checksum_hex"`
	Version     string `json:"version"`
}

// ToJSON renders e for human inspection. It is intentionally lossy (keys are
// hex, values are only reported by length) so that large values don't blow
// up diagnostic output.
func ToJSON(e Entry) ([]byte, error) {
	je := jsonEntry{
		Sequence:    e.Sequence,
		TimestampUs: e.TimestampUs,
		Operation:   e.Operation.String(),
		ShardID:     e.ShardID,
		Key:         hex.EncodeToString(e.Key),
		ValueLen:    len(e.Value),
		MetadataLen: len(e.Metadata),
		Compression: e.Compression.String(),
		Checksum:    hex.EncodeToString(e.Checksum[:]),
		Version:     e.Version,
	}
	return json.Marshal(je)
}
