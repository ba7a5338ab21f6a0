package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"ledgerbench/netsim"
)

// nodeCount clamps the sweep scale to the configured node ceiling; consensus
// rounds broadcast from every node, so work grows with the square of the
// network size.
func (r *Runner) nodeCount(scale int) int {
	if limit := r.opts.Netsim.MaxNodes; limit > 0 && scale > limit {
		return limit
	}
	return scale
}

func (r *Runner) netsimSweep(ctx context.Context, scale int) error {
	opts := r.opts.Netsim
	nodes := r.nodeCount(scale)
	if nodes != scale {
		r.log.Info("clamping network size",
			slog.Int("scale", scale),
			slog.Int("nodes", nodes))
	}

	net := netsim.New(netsim.Config{
		Nodes:            nodes,
		InboxCapacity:    opts.InboxCapacity,
		MajorityFraction: opts.MajorityFraction,
	})
	if err := net.Start(); err != nil {
		return err
	}
	defer net.Stop()

	rng := rand.New(rand.NewSource(r.opts.Seed))
	if err := r.measure(ctx, "netsim", "broadcast_storm", nodes, opts.Storms*(nodes-1), func() error {
		for i := 0; i < opts.Storms; i++ {
			net.BroadcastMessage(rng.Intn(nodes), netsim.MsgGossip, 0, nil)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := net.CreatePartition(opts.PartitionRatio); err != nil {
		return err
	}
	height := uint64(0)
	if err := r.measure(ctx, "netsim", "partitioned_rounds", nodes, opts.Rounds*nodes, func() error {
		for i := 0; i < opts.Rounds; i++ {
			height++
			res := net.SimulateConsensusRound(height)
			r.met.ObserveRound(res.Advanced > 0)
		}
		return nil
	}); err != nil {
		return err
	}

	age := net.HealPartition()
	r.log.Info("partition healed", slog.Duration("age", age))

	if err := r.measure(ctx, "netsim", "healed_rounds", nodes, opts.Rounds*nodes, func() error {
		for i := 0; i < opts.Rounds; i++ {
			height++
			res := net.SimulateConsensusRound(height)
			r.met.ObserveRound(res.Advanced > 0)
		}
		return nil
	}); err != nil {
		return err
	}

	var minH, maxH uint64
	for i, h := range net.Heights() {
		if i == 0 || h < minH {
			minH = h
		}
		if h > maxH {
			maxH = h
		}
	}
	if maxH != minH {
		r.log.Warn("heights still diverged after heal",
			slog.Uint64("min", minH),
			slog.Uint64("max", maxH))
	}

	var sent uint64
	for _, st := range net.Snapshot() {
		sent += st.Sent
	}
	dropped := net.DropCount()
	r.met.AddMessagesDropped(dropped)
	total := sent + dropped
	if total == 0 {
		total = 1
	}
	dropRate := float64(dropped) / float64(total)
	r.log.Info("network sweep finished",
		slog.Int("nodes", nodes),
		slog.Uint64("delivered", sent),
		slog.Uint64("dropped", dropped),
		slog.Float64("drop_rate", dropRate))
	if lim := opts.MaxDropRate; lim > 0 && dropRate > lim {
		return fmt.Errorf("%w: drop rate %.3f exceeds %.3f with %d nodes", ErrThresholdViolated, dropRate, lim, nodes)
	}
	return nil
}
