// Package store implements C4: the Spacetime Shard Store, a concurrent
// in-memory table owned by a single shard. It is the primary source of
// truth for reads — the WAL never needs to be consulted to answer a Get.
//
// Grounded on the teacher's pkg/shard.go index (map[uint64]*entry[K,V]
// behind sync.RWMutex), simplified: WarpEngine keys are already []byte, so
// instead of hashing to a uint64 and storing the original key alongside for
// collision comparison, the store keys its map directly by the zero-copy
// string view of the key (internal/unsafehelpers). No arena allocation is
// used (see DESIGN.md "Dropped dependencies" — internal/arena required a
// non-default build tag and existed only to dodge GC scanning of arbitrary
// V graphs, which doesn't apply to plain []byte values).
//
// © 2025 WarpEngine authors. MIT License.
package store

import (
	"sync"

	"github.com/warpengine/warpengine/internal/unsafehelpers"
)

// Record is the in-memory representation of one stored (key, value,
// metadata) tuple. Only the Operations Layer mutates Value;
// background tasks (checkpointing) may read Metadata but never mutate it.
type Record struct {
	Value    []byte
	Metadata []byte // opaque serialized map, e.g. {"shard_id":.., "stored_at_ms":..}
}

// Store is one shard's table: a concurrent map guarded by a single
// RWMutex. Reads take the read lock; Put/Delete take the write lock. This
// mirrors the teacher's shard exactly except there is no secondary
// hash-collision compare step, since the map key already is the real key.
type Store struct {
	mu    sync.RWMutex
	table map[string]Record
}

// New constructs an empty shard table.
func New() *Store {
	return &Store{table: make(map[string]Record, 1024)}
}

// Get returns a copy of the record stored for key, if any.
func (s *Store) Get(key []byte) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.table[unsafehelpers.BytesToString(key)]
	s.mu.RUnlock()
	return rec, ok
}

// Put inserts or replaces the record for key: a subsequent Put on the same
// key mutates the existing record in place rather than creating a new one.
func (s *Store) Put(key []byte, rec Record) {
	s.mu.Lock()
	s.table[string(key)] = rec
	s.mu.Unlock()
}

// Delete removes key from the table, reporting whether it was present.
func (s *Store) Delete(key []byte) bool {
	s.mu.Lock()
	_, existed := s.table[unsafehelpers.BytesToString(key)]
	if existed {
		delete(s.table, unsafehelpers.BytesToString(key))
	}
	s.mu.Unlock()
	return existed
}

// Len returns the current number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.table)
	s.mu.RUnlock()
	return n
}

// Snapshot calls fn once per live (key, record) pair for checkpointing. Each
// entry is consistent individually, but the snapshot as a whole is not a
// single atomic point-in-time view: it copies the live key set under the
// read lock and then reads each record's current value outside the lock,
// so writers are blocked only briefly, not for the whole snapshot duration.
func (s *Store) Snapshot(fn func(key string, rec Record)) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.table))
	for k := range s.table {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, k := range keys {
		s.mu.RLock()
		rec, ok := s.table[k]
		s.mu.RUnlock()
		if ok {
			fn(k, rec)
		}
	}
}

// Restore replaces the entire table with the given key/record pairs. Used by
// recovery to load a checkpoint snapshot before WAL replay.
func (s *Store) Restore(records map[string]Record) {
	s.mu.Lock()
	s.table = records
	s.mu.Unlock()
}

// Clear empties the table (used when recovery finds no checkpoint).
func (s *Store) Clear() {
	s.mu.Lock()
	s.table = make(map[string]Record, 1024)
	s.mu.Unlock()
}
