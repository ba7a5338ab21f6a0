package state

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// Entry is one key-value record plus the height it was written at.
type Entry struct {
	Key       [32]byte
	Value     []byte
	Height    uint64
	WrittenAt time.Time
}

// Store is a flat in-memory key-value state keyed by 32-byte hashes. A single
// RWMutex guards the map; the root digest is recomputed on every mutation and
// covers the current height and entry count. It is an integrity signal for
// snapshot transfer, not a Merkle commitment.
type Store struct {
	mu      sync.RWMutex
	entries map[[32]byte]Entry
	height  uint64
	root    [32]byte
	now     func() time.Time
}

func NewStore() *Store {
	s := &Store{
		entries: make(map[[32]byte]Entry),
		now:     time.Now,
	}
	s.recomputeRootLocked()
	return s
}

func (s *Store) recomputeRootLocked() {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], s.height)
	binary.BigEndian.PutUint64(buf[8:], uint64(len(s.entries)))
	s.root = blake3.Sum256(buf[:])
}

// Set writes value under key at the store's current height. The value is
// copied in, and existing slices handed out earlier are never mutated.
func (s *Store) Set(key [32]byte, value []byte) {
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{
		Key:       key,
		Value:     buf,
		Height:    s.height,
		WrittenAt: s.now(),
	}
	s.recomputeRootLocked()
}

// Get returns a copy of the value under key.
func (s *Store) Get(key [32]byte) ([]byte, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := make([]byte, len(entry.Value))
	copy(out, entry.Value)
	return out, true
}

// Entry returns the full record under key with a copied value.
func (s *Store) Entry(key [32]byte) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	out := entry
	out.Value = make([]byte, len(entry.Value))
	copy(out.Value, entry.Value)
	return out, true
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.recomputeRootLocked()
	return true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Height returns the store's current height.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// SetHeight moves the store to a new height. Subsequent writes carry it.
func (s *Store) SetHeight(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = h
	s.recomputeRootLocked()
}

// Root returns the current integrity digest.
func (s *Store) Root() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// IteratePrefix visits every entry whose key starts with prefix; a visitor
// returning true stops the walk. The scan is a deliberate full pass over the
// map so its cost grows with total state size regardless of match count.
// The visitor must not retain or mutate the entry's Value.
func (s *Store) IteratePrefix(prefix []byte, fn func(Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if !bytes.HasPrefix(entry.Key[:], prefix) {
			continue
		}
		if fn(entry) {
			return
		}
	}
}

// entriesSorted returns every entry in ascending key order together with the
// height and root they belong to. Values are not copied: Set replaces map
// values wholesale, so slices captured here are never mutated afterwards.
func (s *Store) entriesSorted() ([]Entry, uint64, [32]byte) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	height, root := s.height, s.root
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key[:], out[j].Key[:]) < 0
	})
	return out, height, root
}

// restore replaces the store's contents wholesale. Entry heights are kept as
// recorded; the root is recomputed once at the end.
func (s *Store) restore(entries []Entry, height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[[32]byte]Entry, len(entries))
	now := s.now()
	for _, entry := range entries {
		entry.WrittenAt = now
		s.entries[entry.Key] = entry
	}
	s.height = height
	s.recomputeRootLocked()
}
