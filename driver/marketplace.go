package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"sync/atomic"

	"ledgerbench/crypto"
	"ledgerbench/marketplace"
)

func ownerName(i int) string {
	return crypto.DeriveAddress(crypto.AccountPrefix, uint64(i)).String()
}

func providerName(i int) string {
	return crypto.DeriveAddress(crypto.ProviderPrefix, uint64(i)).String()
}

func (r *Runner) marketplaceSweep(ctx context.Context, scale int) error {
	opts := r.opts.Marketplace
	eng := marketplace.NewEngine()
	spec := marketplace.ResourceSpec{CPUUnits: 1000, MemoryBytes: 1 << 30, StorageBytes: 10 << 30}
	rng := rand.New(rand.NewSource(r.opts.Seed))

	// A quarter as many owners as orders, so per-owner sequence numbers
	// actually increment.
	owners := scale / 4
	if owners < 1 {
		owners = 1
	}

	orderIDs := make([]uint64, 0, scale)
	if err := r.measure(ctx, "marketplace", "create_order", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			order, err := eng.CreateOrder(ownerName(i%owners), spec, big.NewInt(int64(rng.Intn(9000)+1000)))
			if err != nil {
				return err
			}
			orderIDs = append(orderIDs, order.ID)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.measure(ctx, "marketplace", "submit_bid", scale, scale*opts.BidsPerOrder, func() error {
		for _, id := range orderIDs {
			for b := 0; b < opts.BidsPerOrder; b++ {
				if _, err := eng.SubmitBid(id, providerName(b), big.NewInt(int64(rng.Intn(900)+100))); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := r.measure(ctx, "marketplace", "match_order", scale, scale, func() error {
		for _, id := range orderIDs {
			if _, err := eng.MatchOrder(id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	r.met.SetLeasesActive(eng.Counters().ActiveLeases)

	if err := r.measure(ctx, "marketplace", "close_order", scale, scale, func() error {
		for _, id := range orderIDs {
			if err := eng.CloseOrder(id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	r.met.SetLeasesActive(eng.Counters().ActiveLeases)

	return r.marketplaceContention(ctx, scale)
}

// marketplaceContention races bidders against a matcher over one shared
// engine. Bids landing on already-matched orders fail with
// ErrOrderNotOpen; that rate is the aggregated outcome.
func (r *Runner) marketplaceContention(ctx context.Context, scale int) error {
	opts := r.opts.Marketplace
	eng := marketplace.NewEngine()
	spec := marketplace.ResourceSpec{CPUUnits: 100, MemoryBytes: 1 << 28, StorageBytes: 1 << 30}

	ids := make([]uint64, 0, scale)
	for i := 0; i < scale; i++ {
		order, err := eng.CreateOrder(ownerName(i), spec, big.NewInt(1000))
		if err != nil {
			return err
		}
		// One seed bid so every order is matchable during the race.
		if _, err := eng.SubmitBid(order.ID, providerName(0), big.NewInt(500)); err != nil {
			return err
		}
		ids = append(ids, order.ID)
	}

	attempts := scale * opts.BidsPerOrder
	perBidder := attempts / opts.Contenders
	if perBidder < 1 {
		perBidder = 1
	}
	var failures, submitted atomic.Uint64

	err := r.measure(ctx, "marketplace", "bid_contention", scale, perBidder*opts.Contenders+scale, func() error {
		var wg sync.WaitGroup
		for c := 0; c < opts.Contenders; c++ {
			wg.Add(1)
			go func(seed int64, provider string) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for i := 0; i < perBidder; i++ {
					id := ids[rng.Intn(len(ids))]
					submitted.Add(1)
					if _, err := eng.SubmitBid(id, provider, big.NewInt(int64(rng.Intn(900)+100))); err != nil {
						failures.Add(1)
					}
				}
			}(r.opts.Seed+200+int64(c), providerName(c+1))
		}
		for _, id := range ids {
			if _, err := eng.MatchOrder(id); err != nil {
				return err
			}
		}
		wg.Wait()
		return nil
	})
	if err != nil {
		return err
	}

	rate := float64(failures.Load()) / float64(submitted.Load())
	r.log.Info("bid contention finished",
		slog.Int("scale", scale),
		slog.Float64("bid_failure_rate", rate))
	if lim := opts.MaxBidFailureRate; lim > 0 && rate > lim {
		return fmt.Errorf("%w: bid failure rate %.3f exceeds %.3f at scale %d", ErrThresholdViolated, rate, lim, scale)
	}
	return nil
}
