package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrArchiveNotFound indicates no archived snapshot exists at the height.
	ErrArchiveNotFound = errors.New("storage: archive not found")
	// ErrArchiveCorrupt indicates a manifest references chunks that are
	// missing or malformed.
	ErrArchiveCorrupt = errors.New("storage: archive corrupt")
)

// Manifest describes an archived snapshot: how many chunks were written and
// the state root the stream restores to.
type Manifest struct {
	Height uint64
	Chunks uint32
	Root   [32]byte
}

// Archive persists snapshot chunk streams in a Database. The manifest is
// written after all chunks so a torn run never leaves a manifest pointing at
// missing data.
type Archive struct {
	db Database
}

func NewArchive(db Database) *Archive {
	return &Archive{db: db}
}

func manifestKey(height uint64) []byte {
	key := make([]byte, 0, 7+8)
	key = append(key, []byte("snap/m/")...)
	key = binary.BigEndian.AppendUint64(key, height)
	return key
}

func chunkKey(height uint64, index uint32) []byte {
	key := make([]byte, 0, 7+8+4)
	key = append(key, []byte("snap/c/")...)
	key = binary.BigEndian.AppendUint64(key, height)
	key = binary.BigEndian.AppendUint32(key, index)
	return key
}

func encodeManifest(m Manifest) []byte {
	buf := make([]byte, 0, 8+4+32)
	buf = binary.BigEndian.AppendUint64(buf, m.Height)
	buf = binary.BigEndian.AppendUint32(buf, m.Chunks)
	buf = append(buf, m.Root[:]...)
	return buf
}

func decodeManifest(raw []byte) (Manifest, error) {
	if len(raw) != 8+4+32 {
		return Manifest{}, fmt.Errorf("%w: manifest is %d bytes", ErrArchiveCorrupt, len(raw))
	}
	var m Manifest
	m.Height = binary.BigEndian.Uint64(raw[:8])
	m.Chunks = binary.BigEndian.Uint32(raw[8:12])
	copy(m.Root[:], raw[12:])
	return m, nil
}

// Write stores the chunk stream for a snapshot taken at the given height.
// Writing the same height twice replaces the previous manifest.
func (a *Archive) Write(height uint64, root [32]byte, chunks [][]byte) error {
	for i, chunk := range chunks {
		if err := a.db.Put(chunkKey(height, uint32(i)), chunk); err != nil {
			return fmt.Errorf("store chunk %d: %w", i, err)
		}
	}
	m := Manifest{Height: height, Chunks: uint32(len(chunks)), Root: root}
	if err := a.db.Put(manifestKey(height), encodeManifest(m)); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}
	return nil
}

// Manifest loads the manifest for an archived height.
func (a *Archive) Manifest(height uint64) (Manifest, error) {
	raw, err := a.db.Get(manifestKey(height))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: height %d", ErrArchiveNotFound, height)
	}
	return decodeManifest(raw)
}

// Read loads the full chunk stream for an archived height in write order.
func (a *Archive) Read(height uint64) ([][]byte, Manifest, error) {
	m, err := a.Manifest(height)
	if err != nil {
		return nil, Manifest{}, err
	}
	chunks := make([][]byte, 0, m.Chunks)
	for i := uint32(0); i < m.Chunks; i++ {
		chunk, err := a.db.Get(chunkKey(height, i))
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("%w: chunk %d missing at height %d", ErrArchiveCorrupt, i, height)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, m, nil
}
