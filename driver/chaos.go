package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"ledgerbench/netsim"
)

// chaosSweep is the only scenario that fails nodes. It measures how much the
// per-round advance count degrades once a fraction of the network is gone.
func (r *Runner) chaosSweep(ctx context.Context, scale int) error {
	opts := r.opts.Chaos
	nopts := r.opts.Netsim
	nodes := r.nodeCount(scale)

	net := netsim.New(netsim.Config{
		Nodes:            nodes,
		InboxCapacity:    nopts.InboxCapacity,
		MajorityFraction: nopts.MajorityFraction,
	})
	if err := net.Start(); err != nil {
		return err
	}
	defer net.Stop()

	height := uint64(0)
	baseline := 0
	if err := r.measure(ctx, "chaos", "baseline_rounds", nodes, opts.Rounds*nodes, func() error {
		for i := 0; i < opts.Rounds; i++ {
			height++
			res := net.SimulateConsensusRound(height)
			baseline += res.Advanced
			r.met.ObserveRound(res.Advanced > 0)
		}
		return nil
	}); err != nil {
		return err
	}

	failCount := int(float64(nodes) * opts.FailFraction)
	if failCount >= nodes {
		failCount = nodes - 1
	}
	rng := rand.New(rand.NewSource(r.opts.Seed + 300))
	failed := make(map[int]struct{}, failCount)
	for len(failed) < failCount {
		id := rng.Intn(nodes)
		if _, done := failed[id]; done {
			continue
		}
		if err := net.FailNode(id); err != nil {
			return err
		}
		failed[id] = struct{}{}
	}
	r.log.Info("failed nodes", slog.Int("count", failCount), slog.Int("nodes", nodes))

	degraded := 0
	if err := r.measure(ctx, "chaos", "degraded_rounds", nodes, opts.Rounds*nodes, func() error {
		for i := 0; i < opts.Rounds; i++ {
			height++
			res := net.SimulateConsensusRound(height)
			degraded += res.Advanced
			r.met.ObserveRound(res.Advanced > 0)
		}
		return nil
	}); err != nil {
		return err
	}

	degradation := 0.0
	if baseline > 0 {
		degradation = 1 - float64(degraded)/float64(baseline)
	}
	r.log.Info("chaos sweep finished",
		slog.Int("failed", failCount),
		slog.Float64("advance_degradation", degradation))
	if lim := opts.MaxDegradation; lim > 0 && degradation > lim {
		return fmt.Errorf("%w: advance degradation %.3f exceeds %.3f with %d of %d nodes failed", ErrThresholdViolated, degradation, lim, failCount, nodes)
	}
	return nil
}
