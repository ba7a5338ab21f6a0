package marketplace

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"
)

func price(v int64) *big.Int {
	return big.NewInt(v)
}

func testSpec() ResourceSpec {
	return ResourceSpec{CPUUnits: 1000, MemoryBytes: 1 << 30, StorageBytes: 10 << 30}
}

func TestCreateOrderAllocatesMonotonicIDs(t *testing.T) {
	e := NewEngine()
	first, err := e.CreateOrder("owner1", testSpec(), price(100))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	second, err := e.CreateOrder("owner1", testSpec(), price(200))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("order IDs not monotonic: %d then %d", first.ID, second.ID)
	}
	if first.DSeq != 1 || second.DSeq != 2 {
		t.Fatalf("owner sequence wrong: %d, %d", first.DSeq, second.DSeq)
	}
	if first.State != OrderOpen {
		t.Fatalf("new order not open: %s", first.State)
	}
	other, err := e.CreateOrder("owner2", testSpec(), price(100))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if other.DSeq != 1 {
		t.Fatalf("owner sequences must be independent, got %d", other.DSeq)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	e := NewEngine()
	if _, err := e.CreateOrder("", testSpec(), price(1)); !errors.Is(err, ErrEmptyAccount) {
		t.Fatalf("expected ErrEmptyAccount, got %v", err)
	}
	if _, err := e.CreateOrder("owner", testSpec(), nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for nil, got %v", err)
	}
	if _, err := e.CreateOrder("owner", testSpec(), price(0)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero, got %v", err)
	}
}

func TestCreateOrderCopiesPrice(t *testing.T) {
	e := NewEngine()
	p := price(500)
	order, err := e.CreateOrder("owner", testSpec(), p)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	p.SetInt64(-1)
	stored, _ := e.Order(order.ID)
	if stored.Price.Cmp(price(500)) != 0 {
		t.Fatalf("engine aliased caller price: %s", stored.Price)
	}
}

func TestSubmitBidStateChecks(t *testing.T) {
	e := NewEngine()
	if _, err := e.SubmitBid(99, "prov", price(1)); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.SubmitBid(order.ID, "prov", price(90)); err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if _, err := e.MatchOrder(order.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	if _, err := e.SubmitBid(order.ID, "prov2", price(80)); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen after match, got %v", err)
	}
}

func TestMatchOrderSelectsLowestPrice(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	cheap, _ := e.SubmitBid(order.ID, "prov-cheap", price(40))
	if _, err := e.SubmitBid(order.ID, "prov-mid", price(60)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.SubmitBid(order.ID, "prov-high", price(90)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	lease, err := e.MatchOrder(order.ID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if lease.Provider != "prov-cheap" {
		t.Fatalf("expected cheapest provider to win, got %s", lease.Provider)
	}
	if lease.Price.Cmp(cheap.Price) != 0 {
		t.Fatalf("lease price %s != winning bid price %s", lease.Price, cheap.Price)
	}
	if lease.OrderID != order.ID {
		t.Fatalf("lease bound to wrong order %d", lease.OrderID)
	}

	accepted, lost := 0, 0
	for _, bid := range e.BidsForOrder(order.ID) {
		switch bid.State {
		case BidAccepted:
			accepted++
		case BidLost:
			lost++
		default:
			t.Fatalf("unexpected sibling state %s", bid.State)
		}
	}
	if accepted != 1 || lost != 2 {
		t.Fatalf("expected 1 accepted and 2 lost, got %d/%d", accepted, lost)
	}

	matched, _ := e.Order(order.ID)
	if matched.State != OrderMatched {
		t.Fatalf("order state %s after match", matched.State)
	}
}

func TestMatchOrderTieBreaksOnBidID(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	first, _ := e.SubmitBid(order.ID, "prov-a", price(50))
	if _, err := e.SubmitBid(order.ID, "prov-b", price(50)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	lease, err := e.MatchOrder(order.ID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if lease.Provider != first.Provider {
		t.Fatalf("tie must go to the earlier bid, got %s", lease.Provider)
	}
}

func TestMatchOrderTerminalStates(t *testing.T) {
	e := NewEngine()
	if _, err := e.MatchOrder(7); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.MatchOrder(order.ID); !errors.Is(err, ErrNoOpenBids) {
		t.Fatalf("expected ErrNoOpenBids, got %v", err)
	}
	if _, err := e.SubmitBid(order.ID, "prov", price(10)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.MatchOrder(order.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	if _, err := e.MatchOrder(order.ID); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("second match must fail with ErrOrderNotOpen, got %v", err)
	}
	if c := e.Counters(); c.Leases != 1 {
		t.Fatalf("expected exactly one lease, got %d", c.Leases)
	}
}

func TestCloseOrderCancelsOpenBids(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.SubmitBid(order.ID, "prov", price(10)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.CloseOrder(order.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, bid := range e.BidsForOrder(order.ID) {
		if bid.State != BidRejected {
			t.Fatalf("expected bid rejected on cancel, got %s", bid.State)
		}
	}
	if err := e.CloseOrder(order.ID); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("expected ErrOrderClosed on double close, got %v", err)
	}
	if _, err := e.MatchOrder(order.ID); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("closed order must not match, got %v", err)
	}
}

func TestCloseOrderClosesLease(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.SubmitBid(order.ID, "prov", price(10)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	lease, err := e.MatchOrder(order.ID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !e.ProviderHasActiveLeases("prov") {
		t.Fatalf("expected active lease for provider")
	}
	if err := e.CloseOrder(order.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	closed, _ := e.Lease(lease.ID)
	if closed.State != LeaseClosed {
		t.Fatalf("expected lease closed with its order, got %s", closed.State)
	}
	if e.ProviderHasActiveLeases("prov") {
		t.Fatalf("provider still shows active leases after close")
	}
}

func TestCloseLeaseInsufficientFunds(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.SubmitBid(order.ID, "prov", price(10)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	lease, _ := e.MatchOrder(order.ID)
	if err := e.CloseLease(lease.ID, true); err != nil {
		t.Fatalf("close lease: %v", err)
	}
	got, _ := e.Lease(lease.ID)
	if got.State != LeaseInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %s", got.State)
	}
	if err := e.CloseLease(lease.ID, false); !errors.Is(err, ErrLeaseNotActive) {
		t.Fatalf("expected ErrLeaseNotActive, got %v", err)
	}
	if err := e.CloseLease(999, false); !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("expected ErrLeaseNotFound, got %v", err)
	}
}

func TestTimestampsUseEngineClock(t *testing.T) {
	e := NewEngine()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	order, err := e.CreateOrder("owner", testSpec(), price(100))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !order.CreatedAt.Equal(fixed) || !order.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected fixed timestamps, got %v / %v", order.CreatedAt, order.UpdatedAt)
	}
}

func TestConcurrentBidAndMatch(t *testing.T) {
	e := NewEngine()
	order, _ := e.CreateOrder("owner", testSpec(), price(100))
	if _, err := e.SubmitBid(order.ID, "prov-seed", price(55)); err != nil {
		t.Fatalf("seed bid: %v", err)
	}

	var wg sync.WaitGroup
	var matches, matchFailures int64
	var mu sync.Mutex
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if g%2 == 0 {
					_, err := e.SubmitBid(order.ID, "prov-race", price(int64(50+i)))
					if err != nil && !errors.Is(err, ErrOrderNotOpen) {
						t.Errorf("unexpected bid error: %v", err)
					}
					continue
				}
				_, err := e.MatchOrder(order.ID)
				mu.Lock()
				if err == nil {
					matches++
				} else if errors.Is(err, ErrOrderNotOpen) {
					matchFailures++
				} else {
					t.Errorf("unexpected match error: %v", err)
				}
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	if matches != 1 {
		t.Fatalf("expected exactly one successful match, got %d", matches)
	}
	accepted := 0
	for _, bid := range e.BidsForOrder(order.ID) {
		if bid.State == BidAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted bid, got %d", accepted)
	}
	if c := e.Counters(); c.Leases != 1 || c.ActiveLeases != 1 {
		t.Fatalf("expected one active lease, got %+v", c)
	}
}
