package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"ledgerbench/state"
	"ledgerbench/storage"
)

func accountKey(seed int64, i int) [32]byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seed))
	binary.BigEndian.PutUint64(buf[8:], uint64(i))
	return blake3.Sum256(buf[:])
}

// accountPayload packs a synthetic account record: balance and nonce as
// 32-byte big-endian words.
func accountPayload(rng *rand.Rand) []byte {
	balance := uint256.NewInt(rng.Uint64())
	nonce := uint256.NewInt(uint64(rng.Intn(1_000_000)))
	b := balance.Bytes32()
	n := nonce.Bytes32()
	out := make([]byte, 0, 64)
	out = append(out, b[:]...)
	return append(out, n[:]...)
}

func (r *Runner) stateSweep(ctx context.Context, scale int) error {
	opts := r.opts.State
	store := state.NewStore()
	store.SetHeight(uint64(scale))
	rng := rand.New(rand.NewSource(r.opts.Seed))
	keys := make([][32]byte, scale)

	if err := r.measure(ctx, "state", "set", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			keys[i] = accountKey(r.opts.Seed, i)
			store.Set(keys[i], accountPayload(rng))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.measure(ctx, "state", "get", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			if _, ok := store.Get(keys[rng.Intn(scale)]); !ok {
				return errors.New("driver: state key missing after set")
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.measure(ctx, "state", "prefix_scan", scale, scale, func() error {
		matched := 0
		store.IteratePrefix(keys[0][:1], func(state.Entry) bool {
			matched++
			return false
		})
		if matched == 0 {
			return errors.New("driver: prefix scan matched nothing")
		}
		return nil
	}); err != nil {
		return err
	}

	mgr := state.NewSnapshotManager(opts.ChunkSize)
	var snap *state.Snapshot
	if err := r.measure(ctx, "state", "create_snapshot", scale, scale, func() error {
		var err error
		snap, err = mgr.CreateSnapshot(store)
		return err
	}); err != nil {
		return err
	}
	r.met.ObserveSnapshotBytes(int(snap.TotalSize))

	restored := state.NewStore()
	if err := r.measure(ctx, "state", "apply_snapshot", scale, scale, func() error {
		return mgr.ApplySnapshot(snap, restored)
	}); err != nil {
		return err
	}
	if restored.Root() != store.Root() || restored.Len() != store.Len() {
		return errors.New("driver: snapshot replica diverged from source")
	}

	var db storage.Database
	if opts.ArchiveDir != "" {
		ldb, err := storage.NewLevelDB(filepath.Join(opts.ArchiveDir, fmt.Sprintf("archive-%d", scale)))
		if err != nil {
			return fmt.Errorf("driver: open archive db: %w", err)
		}
		defer ldb.Close()
		db = ldb
	} else {
		memdb := storage.NewMemDB()
		defer memdb.Close()
		db = memdb
	}
	return r.measure(ctx, "state", "archive_round_trip", scale, scale, func() error {
		if err := state.WriteArchive(db, snap); err != nil {
			return err
		}
		back, err := state.ReadArchive(db, snap.Height)
		if err != nil {
			return err
		}
		if back.Root != snap.Root || len(back.Chunks) != len(snap.Chunks) {
			return errors.New("driver: archived snapshot diverged")
		}
		return nil
	})
}
