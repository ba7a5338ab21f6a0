package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"ledgerbench/storage"
)

const (
	// recordHeaderSize is key (32) + height (8) + value length (4).
	recordHeaderSize = 44

	DefaultChunkSize = 16384
	// MinChunkSize keeps every chunk large enough to hold a full record
	// header, so headers never split across chunk boundaries.
	MinChunkSize = 64
)

var (
	// ErrRootMismatch indicates a restored store's digest does not match
	// the snapshot it was built from.
	ErrRootMismatch = errors.New("state: snapshot root mismatch")
	// ErrCorruptSnapshot indicates a truncated or malformed chunk stream.
	ErrCorruptSnapshot = errors.New("state: corrupt snapshot")
	// ErrNilStore indicates a snapshot operation against a nil store.
	ErrNilStore = errors.New("state: nil store")
)

// Snapshot is a chunked, byte-exact serialization of a store. Records are
// framed as key ‖ height ‖ valueLen ‖ value with big-endian integers, so
// values of any length survive chunk splitting. Concatenating Chunks in order
// reproduces the full stream.
type Snapshot struct {
	Height    uint64
	Root      [32]byte
	Chunks    [][]byte
	TotalSize int64
}

// SnapshotManager serializes stores into chunked snapshots and replays them.
type SnapshotManager struct {
	chunkSize int
}

// NewSnapshotManager returns a manager cutting chunks at the given size.
// Sizes at or below zero fall back to DefaultChunkSize; smaller-than-header
// sizes are raised to MinChunkSize.
func NewSnapshotManager(chunkSize int) *SnapshotManager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	return &SnapshotManager{chunkSize: chunkSize}
}

// ChunkSize returns the effective chunk size.
func (m *SnapshotManager) ChunkSize() int {
	return m.chunkSize
}

// CreateSnapshot serializes the store in one walk. Entries are emitted in
// ascending key order so identical stores produce identical streams. A chunk
// is cut early whenever the next 44-byte record header would not fit whole;
// values spill across chunks freely.
func (m *SnapshotManager) CreateSnapshot(st *Store) (*Snapshot, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	entries, height, root := st.entriesSorted()

	var chunks [][]byte
	cur := make([]byte, 0, m.chunkSize)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, cur)
			cur = make([]byte, 0, m.chunkSize)
		}
	}

	var total int64
	for _, entry := range entries {
		if len(cur)+recordHeaderSize > m.chunkSize {
			flush()
		}
		cur = append(cur, entry.Key[:]...)
		cur = binary.BigEndian.AppendUint64(cur, entry.Height)
		cur = binary.BigEndian.AppendUint32(cur, uint32(len(entry.Value)))

		remaining := entry.Value
		for len(remaining) > 0 {
			space := m.chunkSize - len(cur)
			if space == 0 {
				flush()
				space = m.chunkSize
			}
			n := len(remaining)
			if n > space {
				n = space
			}
			cur = append(cur, remaining[:n]...)
			remaining = remaining[n:]
		}
		total += int64(recordHeaderSize + len(entry.Value))
	}
	flush()

	return &Snapshot{
		Height:    height,
		Root:      root,
		Chunks:    chunks,
		TotalSize: total,
	}, nil
}

// ApplySnapshot replays a snapshot's chunk stream into target, replacing its
// contents, and verifies the restored digest against the snapshot root.
func (m *SnapshotManager) ApplySnapshot(snap *Snapshot, target *Store) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}
	if target == nil {
		return ErrNilStore
	}

	stream := bytes.Join(snap.Chunks, nil)
	entries := make([]Entry, 0, 256)
	off := 0
	for off < len(stream) {
		if off+recordHeaderSize > len(stream) {
			return fmt.Errorf("%w: truncated header at offset %d", ErrCorruptSnapshot, off)
		}
		var entry Entry
		copy(entry.Key[:], stream[off:off+32])
		entry.Height = binary.BigEndian.Uint64(stream[off+32 : off+40])
		valueLen := int(binary.BigEndian.Uint32(stream[off+40 : off+44]))
		off += recordHeaderSize
		if off+valueLen > len(stream) {
			return fmt.Errorf("%w: truncated value at offset %d", ErrCorruptSnapshot, off)
		}
		entry.Value = make([]byte, valueLen)
		copy(entry.Value, stream[off:off+valueLen])
		off += valueLen
		entries = append(entries, entry)
	}

	target.restore(entries, snap.Height)
	if target.Root() != snap.Root {
		return fmt.Errorf("%w: restored %d entries at height %d", ErrRootMismatch, len(entries), snap.Height)
	}
	return nil
}

// WriteArchive persists a snapshot's chunk stream through a storage backend,
// modeling the on-disk leg of cold-start replication.
func WriteArchive(db storage.Database, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}
	return storage.NewArchive(db).Write(snap.Height, snap.Root, snap.Chunks)
}

// ReadArchive loads an archived snapshot back into memory.
func ReadArchive(db storage.Database, height uint64) (*Snapshot, error) {
	chunks, manifest, err := storage.NewArchive(db).Read(height)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, chunk := range chunks {
		total += int64(len(chunk))
	}
	return &Snapshot{
		Height:    manifest.Height,
		Root:      manifest.Root,
		Chunks:    chunks,
		TotalSize: total,
	}, nil
}
