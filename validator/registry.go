package validator

import (
	"bytes"
	"errors"
	"math/big"
	"sort"
	"sync"
)

// BondStatus tracks where a validator sits in the bonding lifecycle.
type BondStatus uint8

const (
	Unbonded BondStatus = iota
	Unbonding
	Bonded
)

func (s BondStatus) String() string {
	switch s {
	case Unbonded:
		return "unbonded"
	case Unbonding:
		return "unbonding"
	case Bonded:
		return "bonded"
	default:
		return "unknown"
	}
}

// Record is one validator's registry entry. Tombstoned records are permanently
// excluded from voting-power totals and can never be unjailed. Records are
// never deleted; stress drivers mutate them in place via the registry.
type Record struct {
	Address         [20]byte
	PubKey          []byte
	Moniker         string
	Power           int64
	Commission      uint32 // basis points
	Jailed          bool
	Tombstoned      bool
	Status          BondStatus
	Tokens          *big.Int
	DelegatorShares *big.Int
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func (r Record) clone() Record {
	out := r
	if r.PubKey != nil {
		out.PubKey = append([]byte(nil), r.PubKey...)
	}
	out.Tokens = copyBigInt(r.Tokens)
	out.DelegatorShares = copyBigInt(r.DelegatorShares)
	return out
}

// eligible reports whether the record counts toward total voting power.
func (r Record) eligible() bool {
	return r.Status == Bonded && !r.Jailed && !r.Tombstoned
}

var (
	ErrDuplicate     = errors.New("validator: record already exists")
	ErrNotFound      = errors.New("validator: record not found")
	ErrTombstoned    = errors.New("validator: record is tombstoned")
	ErrNegativePower = errors.New("validator: power cannot be negative")
	ErrBadFraction   = errors.New("validator: slash fraction exceeds 10000 basis points")
)

// Registry holds the validator set under a single lock. Stored records are
// published-immutable: mutators clone the current record, apply the change and
// swap the pointer, so Iterate can visit records without holding the lock and
// still never observe a half-applied mutation.
type Registry struct {
	mu         sync.RWMutex
	records    map[[20]byte]*Record
	totalPower int64
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[[20]byte]*Record)}
}

// Add inserts a record and folds it into the cached voting-power total.
func (r *Registry) Add(rec Record) error {
	if rec.Power < 0 {
		return ErrNegativePower
	}
	stored := rec.clone()
	if stored.Tokens == nil {
		stored.Tokens = big.NewInt(0)
	}
	if stored.DelegatorShares == nil {
		stored.DelegatorShares = big.NewInt(0)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[stored.Address]; exists {
		return ErrDuplicate
	}
	r.records[stored.Address] = &stored
	if stored.eligible() {
		r.totalPower += stored.Power
	}
	return nil
}

// Get returns a copy of the record at addr.
func (r *Registry) Get(addr [20]byte) (Record, bool) {
	r.mu.RLock()
	rec, ok := r.records[addr]
	r.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// TotalVotingPower returns the cached power of bonded, non-jailed,
// non-tombstoned records.
func (r *Registry) TotalVotingPower() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalPower
}

// Iterate visits every record in unspecified order; a visitor returning true
// stops iteration. The visit happens outside the registry lock against the
// last published copy of each record, so concurrent mutation is safe but the
// traversal is not a point-in-time snapshot.
func (r *Registry) Iterate(fn func(Record) bool) {
	r.mu.RLock()
	snapshot := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		snapshot = append(snapshot, rec)
	}
	r.mu.RUnlock()

	for _, rec := range snapshot {
		if fn(rec.clone()) {
			return
		}
	}
}

// TopByPower returns the n highest-power records. Ties break toward the
// lexicographically smaller address so the result is deterministic.
func (r *Registry) TopByPower(n int) []Record {
	if n <= 0 {
		return nil
	}
	r.mu.RLock()
	all := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Power != all[j].Power {
			return all[i].Power > all[j].Power
		}
		return bytes.Compare(all[i].Address[:], all[j].Address[:]) < 0
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]Record, 0, n)
	for _, rec := range all[:n] {
		out = append(out, rec.clone())
	}
	return out
}

// mutate clones the record at addr, applies fn to the clone, swaps it in, and
// keeps the cached power total consistent with the eligibility transition.
func (r *Registry) mutate(addr [20]byte, fn func(*Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[addr]
	if !ok {
		return ErrNotFound
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if cur.eligible() {
		r.totalPower -= cur.Power
	}
	if next.eligible() {
		r.totalPower += next.Power
	}
	r.records[addr] = &next
	return nil
}

// Jail marks the record jailed, removing it from the voting-power total.
func (r *Registry) Jail(addr [20]byte) error {
	return r.mutate(addr, func(rec *Record) error {
		rec.Jailed = true
		return nil
	})
}

// Unjail clears the jailed flag. Tombstoned records can never be unjailed.
func (r *Registry) Unjail(addr [20]byte) error {
	return r.mutate(addr, func(rec *Record) error {
		if rec.Tombstoned {
			return ErrTombstoned
		}
		rec.Jailed = false
		return nil
	})
}

// Tombstone jails the record and poisons it permanently.
func (r *Registry) Tombstone(addr [20]byte) error {
	return r.mutate(addr, func(rec *Record) error {
		rec.Jailed = true
		rec.Tombstoned = true
		return nil
	})
}

// SetBondStatus moves the record through the bonding lifecycle.
func (r *Registry) SetBondStatus(addr [20]byte, status BondStatus) error {
	return r.mutate(addr, func(rec *Record) error {
		rec.Status = status
		return nil
	})
}

// Slash reduces the record's power and tokens by bps basis points, rounding
// the penalty down. Slashing a tombstoned record is allowed; it just cannot
// rejoin the power total.
func (r *Registry) Slash(addr [20]byte, bps uint32) error {
	if bps > 10000 {
		return ErrBadFraction
	}
	return r.mutate(addr, func(rec *Record) error {
		rec.Power -= rec.Power * int64(bps) / 10000
		if rec.Tokens != nil && rec.Tokens.Sign() > 0 {
			penalty := new(big.Int).Mul(rec.Tokens, big.NewInt(int64(bps)))
			penalty.Div(penalty, big.NewInt(10000))
			rec.Tokens = new(big.Int).Sub(rec.Tokens, penalty)
		}
		return nil
	})
}
