package driver

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"

	"ledgerbench/marketplace"
	"ledgerbench/workers"
)

// compositeSweep pushes order-created events through the worker pool, whose
// handler bids on the marketplace engine. Two engines share one timed
// operation with no cross-engine atomicity: a saturated worker silently
// no-ops, which surfaces later as an order with no bids.
func (r *Runner) compositeSweep(ctx context.Context, scale int) error {
	eng := marketplace.NewEngine()
	wopts := r.opts.Workers

	providers := make([]string, wopts.Workers)
	for i := range providers {
		providers[i] = providerName(i)
	}

	var bids atomic.Uint64
	cfg := r.poolConfig()
	cfg.FailureRate = 0
	cfg.OnOrderCreated = func(ev workers.Event) error {
		n := bids.Add(1)
		provider := providers[int(n)%len(providers)]
		_, err := eng.SubmitBid(ev.OrderID, provider, big.NewInt(int64(100+n%900)))
		return err
	}
	pool := workers.NewEventWorkerPool(cfg)
	if err := pool.Start(); err != nil {
		return err
	}
	defer pool.Stop()

	spec := marketplace.ResourceSpec{CPUUnits: 500, MemoryBytes: 1 << 28, StorageBytes: 1 << 30}
	orderIDs := make([]uint64, 0, scale)
	noBids := 0

	err := r.measure(ctx, "composite", "order_event_flow", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			order, err := eng.CreateOrder(ownerName(i%64), spec, big.NewInt(1000))
			if err != nil {
				return err
			}
			orderIDs = append(orderIDs, order.ID)
			ev := workers.Event{Kind: workers.EventOrderCreated, OrderID: order.ID}
			if err := enqueueWithRetry(ctx, pool, ev); err != nil {
				return err
			}
		}
		if err := waitForDrain(ctx, pool, uint64(scale)); err != nil {
			return err
		}
		for _, id := range orderIDs {
			if _, err := eng.MatchOrder(id); err != nil {
				if errors.Is(err, marketplace.ErrNoOpenBids) {
					noBids++
					continue
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	counters := eng.Counters()
	r.met.SetLeasesActive(counters.ActiveLeases)
	r.log.Info("composite flow finished",
		slog.Int("orders", len(orderIDs)),
		slog.Int("matched", len(orderIDs)-noBids),
		slog.Int("no_bids", noBids),
		slog.Int("active_leases", counters.ActiveLeases))
	return nil
}
