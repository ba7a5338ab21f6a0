package marketplace

import (
	"math/big"
	"time"
)

// OrderState is monotonic: open orders match, matched orders close. There is
// no path back.
type OrderState uint8

const (
	OrderOpen OrderState = iota
	OrderMatched
	OrderClosed
)

func (s OrderState) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderMatched:
		return "matched"
	case OrderClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type BidState uint8

const (
	BidOpen BidState = iota
	BidAccepted
	BidRejected
	BidLost
)

func (s BidState) String() string {
	switch s {
	case BidOpen:
		return "open"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	case BidLost:
		return "lost"
	default:
		return "unknown"
	}
}

type LeaseState uint8

const (
	LeaseActive LeaseState = iota
	LeaseClosed
	LeaseInsufficientFunds
)

func (s LeaseState) String() string {
	switch s {
	case LeaseActive:
		return "active"
	case LeaseClosed:
		return "closed"
	case LeaseInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// ResourceSpec describes the capacity an order asks for.
type ResourceSpec struct {
	CPUUnits     uint64
	MemoryBytes  uint64
	StorageBytes uint64
}

// Order is a request for resources placed by an owner. DSeq counts the
// owner's orders; OSeq distinguishes re-submissions under one DSeq.
type Order struct {
	ID        uint64
	Owner     string
	DSeq      uint64
	OSeq      uint32
	State     OrderState
	Price     *big.Int
	Spec      ResourceSpec
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) clone() *Order {
	out := *o
	out.Price = copyBigInt(o.Price)
	return &out
}

// Bid is a provider's offer against an open order. At most one bid per order
// is ever accepted; its open siblings become lost in the same transition.
type Bid struct {
	ID        uint64
	OrderID   uint64
	Provider  string
	Price     *big.Int
	State     BidState
	CreatedAt time.Time
}

func (b *Bid) clone() *Bid {
	out := *b
	out.Price = copyBigInt(b.Price)
	return &out
}

// Lease binds the winning provider to a matched order at the accepted bid's
// price. Exactly one lease exists per matched order.
type Lease struct {
	ID        uint64
	OrderID   uint64
	Provider  string
	Price     *big.Int
	State     LeaseState
	CreatedAt time.Time
}

func (l *Lease) clone() *Lease {
	out := *l
	out.Price = copyBigInt(l.Price)
	return &out
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Counters is a point-in-time tally of engine contents.
type Counters struct {
	Orders       int
	OpenOrders   int
	Bids         int
	Leases       int
	ActiveLeases int
}
