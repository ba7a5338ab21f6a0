package marketplace

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"
)

var (
	ErrOrderNotFound  = errors.New("marketplace: order not found")
	ErrOrderNotOpen   = errors.New("marketplace: order not open")
	ErrOrderClosed    = errors.New("marketplace: order already closed")
	ErrBidNotFound    = errors.New("marketplace: bid not found")
	ErrNoOpenBids     = errors.New("marketplace: no open bids")
	ErrLeaseNotFound  = errors.New("marketplace: lease not found")
	ErrLeaseNotActive = errors.New("marketplace: lease not active")
	ErrInvalidPrice   = errors.New("marketplace: price must be positive")
	ErrEmptyAccount   = errors.New("marketplace: account identity required")
)

// Engine is an in-memory order/bid/lease matcher. One mutex guards all state;
// MatchOrder is the only operation touching several entities at once and its
// transition is atomic under that lock. All returned entities are copies.
type Engine struct {
	mu  sync.Mutex
	now func() time.Time

	nextOrderID uint64
	nextBidID   uint64
	nextLeaseID uint64

	orders map[uint64]*Order
	bids   map[uint64]*Bid
	leases map[uint64]*Lease

	ownerSeq         map[string]uint64
	ordersByOwner    map[string][]uint64
	openOrders       map[uint64]struct{}
	bidsByOrder      map[uint64][]uint64
	bidsByProvider   map[string][]uint64
	leasesByProvider map[string][]uint64
	leaseByOrder     map[uint64]uint64
}

func NewEngine() *Engine {
	return &Engine{
		now:              time.Now,
		orders:           make(map[uint64]*Order),
		bids:             make(map[uint64]*Bid),
		leases:           make(map[uint64]*Lease),
		ownerSeq:         make(map[string]uint64),
		ordersByOwner:    make(map[string][]uint64),
		openOrders:       make(map[uint64]struct{}),
		bidsByOrder:      make(map[uint64][]uint64),
		bidsByProvider:   make(map[string][]uint64),
		leasesByProvider: make(map[string][]uint64),
		leaseByOrder:     make(map[uint64]uint64),
	}
}

// CreateOrder allocates a new open order with a monotonic ID and indexes it
// by owner and state.
func (e *Engine) CreateOrder(owner string, spec ResourceSpec, price *big.Int) (*Order, error) {
	if owner == "" {
		return nil, ErrEmptyAccount
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextOrderID++
	e.ownerSeq[owner]++
	now := e.now()
	order := &Order{
		ID:        e.nextOrderID,
		Owner:     owner,
		DSeq:      e.ownerSeq[owner],
		OSeq:      1,
		State:     OrderOpen,
		Price:     copyBigInt(price),
		Spec:      spec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.orders[order.ID] = order
	e.ordersByOwner[owner] = append(e.ordersByOwner[owner], order.ID)
	e.openOrders[order.ID] = struct{}{}
	return order.clone(), nil
}

// SubmitBid places a provider's offer against an open order.
func (e *Engine) SubmitBid(orderID uint64, provider string, price *big.Int) (*Bid, error) {
	if provider == "" {
		return nil, ErrEmptyAccount
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.State != OrderOpen {
		return nil, ErrOrderNotOpen
	}

	e.nextBidID++
	bid := &Bid{
		ID:        e.nextBidID,
		OrderID:   orderID,
		Provider:  provider,
		Price:     copyBigInt(price),
		State:     BidOpen,
		CreatedAt: e.now(),
	}
	e.bids[bid.ID] = bid
	e.bidsByOrder[orderID] = append(e.bidsByOrder[orderID], bid.ID)
	e.bidsByProvider[provider] = append(e.bidsByProvider[provider], bid.ID)
	return bid.clone(), nil
}

// MatchOrder settles an open order against its strictly lowest-priced open
// bid; price ties break toward the lower bid ID. The winning bid becomes
// accepted, its open siblings become lost, the order becomes matched and
// exactly one lease is created at the winning price. Matching a matched or
// closed order fails with ErrOrderNotOpen.
func (e *Engine) MatchOrder(orderID uint64) (*Lease, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.State != OrderOpen {
		return nil, ErrOrderNotOpen
	}

	var winner *Bid
	for _, bidID := range e.bidsByOrder[orderID] {
		bid := e.bids[bidID]
		if bid.State != BidOpen {
			continue
		}
		// Bid IDs ascend in submission order, so a strict comparison
		// keeps the earliest bid on equal prices.
		if winner == nil || bid.Price.Cmp(winner.Price) < 0 {
			winner = bid
		}
	}
	if winner == nil {
		return nil, ErrNoOpenBids
	}

	now := e.now()
	winner.State = BidAccepted
	for _, bidID := range e.bidsByOrder[orderID] {
		bid := e.bids[bidID]
		if bid.ID != winner.ID && bid.State == BidOpen {
			bid.State = BidLost
		}
	}

	order.State = OrderMatched
	order.UpdatedAt = now
	delete(e.openOrders, orderID)

	e.nextLeaseID++
	lease := &Lease{
		ID:        e.nextLeaseID,
		OrderID:   orderID,
		Provider:  winner.Provider,
		Price:     copyBigInt(winner.Price),
		State:     LeaseActive,
		CreatedAt: now,
	}
	e.leases[lease.ID] = lease
	e.leasesByProvider[winner.Provider] = append(e.leasesByProvider[winner.Provider], lease.ID)
	e.leaseByOrder[orderID] = lease.ID
	return lease.clone(), nil
}

// CloseOrder retires an order. Closing an open order cancels it and rejects
// its open bids; closing a matched order also closes its lease.
func (e *Engine) CloseOrder(orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.State == OrderClosed {
		return ErrOrderClosed
	}

	if order.State == OrderOpen {
		for _, bidID := range e.bidsByOrder[orderID] {
			bid := e.bids[bidID]
			if bid.State == BidOpen {
				bid.State = BidRejected
			}
		}
		delete(e.openOrders, orderID)
	}
	if leaseID, ok := e.leaseByOrder[orderID]; ok {
		lease := e.leases[leaseID]
		if lease.State == LeaseActive {
			lease.State = LeaseClosed
		}
	}
	order.State = OrderClosed
	order.UpdatedAt = e.now()
	return nil
}

// CloseLease ends an active lease, as either a clean close or a payment
// failure.
func (e *Engine) CloseLease(leaseID uint64, insufficientFunds bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, ok := e.leases[leaseID]
	if !ok {
		return ErrLeaseNotFound
	}
	if lease.State != LeaseActive {
		return ErrLeaseNotActive
	}
	if insufficientFunds {
		lease.State = LeaseInsufficientFunds
	} else {
		lease.State = LeaseClosed
	}
	return nil
}

// ProviderHasActiveLeases reports whether the provider holds any active lease.
func (e *Engine) ProviderHasActiveLeases(provider string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, leaseID := range e.leasesByProvider[provider] {
		if e.leases[leaseID].State == LeaseActive {
			return true
		}
	}
	return false
}

// Order returns a copy of the order with the given ID.
func (e *Engine) Order(orderID uint64) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *order.clone(), true
}

// Bid returns a copy of the bid with the given ID.
func (e *Engine) Bid(bidID uint64) (Bid, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bid, ok := e.bids[bidID]
	if !ok {
		return Bid{}, false
	}
	return *bid.clone(), true
}

// Lease returns a copy of the lease with the given ID.
func (e *Engine) Lease(leaseID uint64) (Lease, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lease, ok := e.leases[leaseID]
	if !ok {
		return Lease{}, false
	}
	return *lease.clone(), true
}

// OrdersByOwner returns copies of the owner's orders in creation order.
func (e *Engine) OrdersByOwner(owner string) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.ordersByOwner[owner]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.orders[id].clone())
	}
	return out
}

// BidsForOrder returns copies of all bids against the order in submission
// order.
func (e *Engine) BidsForOrder(orderID uint64) []Bid {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.bidsByOrder[orderID]
	out := make([]Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.bids[id].clone())
	}
	return out
}

// LeasesForProvider returns copies of the provider's leases in creation order.
func (e *Engine) LeasesForProvider(provider string) []Lease {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.leasesByProvider[provider]
	out := make([]Lease, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.leases[id].clone())
	}
	return out
}

// OpenOrderIDs returns the IDs of all open orders in ascending order, for
// drivers that sweep the book deterministically.
func (e *Engine) OpenOrderIDs() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, 0, len(e.openOrders))
	for id := range e.openOrders {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counters tallies the engine's contents.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := Counters{
		Orders:     len(e.orders),
		OpenOrders: len(e.openOrders),
		Bids:       len(e.bids),
		Leases:     len(e.leases),
	}
	for _, lease := range e.leases {
		if lease.State == LeaseActive {
			c.ActiveLeases++
		}
	}
	return c
}
