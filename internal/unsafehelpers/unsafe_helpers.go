// Package unsafehelpers centralises the unavoidable uses of the `unsafe`
// standard-library package so the rest of WarpEngine stays clean and easy to
// audit. Every helper documents its pre/post-conditions.
//
// These helpers deliberately trade the Go memory-safety model for
// zero-allocation conversions on the hot path (shard map keys). Use only
// inside this repository.
//
// © 2025 WarpEngine authors. MIT License.
package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never mutated for the lifetime of the returned
// string — WarpEngine only calls this on keys that are about to be used as a
// read-only map lookup key and then discarded.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets a string's backing array as a byte slice
// without copying. The returned slice MUST NOT be written to.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
