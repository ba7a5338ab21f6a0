package netsim

import (
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendMessageDelivery(t *testing.T) {
	net := New(Config{Nodes: 3, InboxCapacity: 16})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	if err := net.SendMessage(0, 1, MsgGossip, 1, []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool {
		return net.Snapshot()[1].Received == 1
	})
	status := net.Snapshot()
	if status[0].Sent != 1 {
		t.Fatalf("sender count wrong: %+v", status[0])
	}
}

func TestSendMessageRangeChecks(t *testing.T) {
	net := New(Config{Nodes: 2})
	defer net.Stop()
	if err := net.SendMessage(-1, 0, MsgGossip, 1, nil); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	if err := net.SendMessage(0, 5, MsgGossip, 1, nil); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestPartitionDropsAcrossSplit(t *testing.T) {
	net := New(Config{Nodes: 4, InboxCapacity: 16})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	if err := net.CreatePartition(0.5); err != nil {
		t.Fatalf("partition: %v", err)
	}
	// Nodes 0,1 sit in partition 0; nodes 2,3 in partition 1.
	if err := net.SendMessage(0, 3, MsgGossip, 1, nil); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected drop across split, got %v", err)
	}
	if err := net.SendMessage(0, 1, MsgGossip, 1, nil); err != nil {
		t.Fatalf("same-partition send failed: %v", err)
	}
	if net.DropCount() != 1 {
		t.Fatalf("expected 1 drop, got %d", net.DropCount())
	}
	if health, _ := net.NodeHealth(0); health != Partitioned {
		t.Fatalf("expected partitioned health, got %s", health)
	}
}

func TestInboxOverflowDropsIdentically(t *testing.T) {
	// Never started, so nothing drains the inboxes.
	net := New(Config{Nodes: 2, InboxCapacity: 4})
	defer net.Stop()

	for i := 0; i < 4; i++ {
		if err := net.SendMessage(0, 1, MsgGossip, 1, nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	err := net.SendMessage(0, 1, MsgGossip, 1, nil)
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped on full inbox, got %v", err)
	}
	if net.DropCount() != 1 {
		t.Fatalf("expected 1 drop, got %d", net.DropCount())
	}
}

func TestCreatePartitionValidation(t *testing.T) {
	net := New(Config{Nodes: 4})
	defer net.Stop()
	for _, ratio := range []float64{0, 1, -0.5, 1.5} {
		if err := net.CreatePartition(ratio); !errors.Is(err, ErrBadRatio) {
			t.Fatalf("ratio %f: expected ErrBadRatio, got %v", ratio, err)
		}
	}
}

func TestBroadcastCounts(t *testing.T) {
	net := New(Config{Nodes: 5, InboxCapacity: 16})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	sent, dropped := net.BroadcastMessage(0, MsgGossip, 1, nil)
	if sent != 4 || dropped != 0 {
		t.Fatalf("expected 4 sent 0 dropped, got %d/%d", sent, dropped)
	}

	if err := net.CreatePartition(0.6); err != nil {
		t.Fatalf("partition: %v", err)
	}
	// Node 0 now reaches nodes 1,2 (same side); 3,4 are across the split.
	sent, dropped = net.BroadcastMessage(0, MsgGossip, 2, nil)
	if sent != 2 || dropped != 2 {
		t.Fatalf("expected 2 sent 2 dropped, got %d/%d", sent, dropped)
	}
}

func TestPartitionMajorityDivergence(t *testing.T) {
	net := New(Config{Nodes: 100, InboxCapacity: 2048})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	if err := net.CreatePartition(0.67); err != nil {
		t.Fatalf("partition: %v", err)
	}

	const rounds = 10
	for h := uint64(1); h <= rounds; h++ {
		result := net.SimulateConsensusRound(h)
		if result.Advanced != 67 {
			t.Fatalf("round %d: expected 67 advanced, got %d", h, result.Advanced)
		}
		if result.Stalled != 33 {
			t.Fatalf("round %d: expected 33 stalled, got %d", h, result.Stalled)
		}
	}

	heights := net.Heights()
	var minorityMax uint64
	for i, h := range heights {
		if i < 67 {
			if h != rounds {
				t.Fatalf("majority node %d at height %d, want %d", i, h, rounds)
			}
			continue
		}
		if h > minorityMax {
			minorityMax = h
		}
	}
	if minorityMax >= rounds {
		t.Fatalf("minority reached height %d, must stay strictly below %d", minorityMax, rounds)
	}
	divergenceBefore := rounds - minorityMax

	net.HealPartition()
	if health, _ := net.NodeHealth(0); health != Recovering {
		t.Fatalf("expected recovering after heal, got %s", health)
	}

	for h := uint64(rounds + 1); h <= rounds+5; h++ {
		net.SimulateConsensusRound(h)
	}
	heights = net.Heights()
	var lo, hi = heights[0], heights[0]
	for _, h := range heights {
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	if hi-lo > divergenceBefore {
		t.Fatalf("divergence grew after heal: %d > %d", hi-lo, divergenceBefore)
	}
	if lo != rounds+5 || hi != rounds+5 {
		t.Fatalf("expected full convergence after healed rounds, got [%d,%d]", lo, hi)
	}
	if health, _ := net.NodeHealth(99); health != Healthy {
		t.Fatalf("advancing node should recover to healthy, got %s", health)
	}
}

func TestNoMajorityStallsEveryone(t *testing.T) {
	net := New(Config{Nodes: 10, InboxCapacity: 128})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	if err := net.CreatePartition(0.5); err != nil {
		t.Fatalf("partition: %v", err)
	}
	result := net.SimulateConsensusRound(1)
	if result.Advanced != 0 {
		t.Fatalf("no side holds a two-thirds majority, yet %d advanced", result.Advanced)
	}
	if result.Stalled != 10 {
		t.Fatalf("expected all 10 stalled, got %d", result.Stalled)
	}
}

func TestFailNodeIsAbsorbing(t *testing.T) {
	net := New(Config{Nodes: 4, InboxCapacity: 16})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()

	if err := net.FailNode(3); err != nil {
		t.Fatalf("fail node: %v", err)
	}
	if err := net.SendMessage(0, 3, MsgGossip, 1, nil); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected drop to failed node, got %v", err)
	}

	result := net.SimulateConsensusRound(5)
	if result.Advanced != 3 {
		t.Fatalf("expected 3 survivors to advance, got %d", result.Advanced)
	}
	if h := net.Heights()[3]; h != 0 {
		t.Fatalf("failed node advanced to %d", h)
	}

	net.HealPartition()
	net.SimulateConsensusRound(6)
	if health, _ := net.NodeHealth(3); health != Failed {
		t.Fatalf("failed state must be absorbing, got %s", health)
	}
}

func TestStopIdempotentAndTerminal(t *testing.T) {
	net := New(Config{Nodes: 3, InboxCapacity: 8})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	net.Stop()
	net.Stop()

	if err := net.SendMessage(0, 1, MsgGossip, 1, nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := net.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("restart after stop must fail, got %v", err)
	}
	result := net.SimulateConsensusRound(9)
	if result.Advanced != 0 || result.Sent != 0 {
		t.Fatalf("round on stopped network did work: %+v", result)
	}
}

func TestDoubleStart(t *testing.T) {
	net := New(Config{Nodes: 2})
	if err := net.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer net.Stop()
	if err := net.Start(); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
}

func TestNodeAddressesAreStable(t *testing.T) {
	a := New(Config{Nodes: 3})
	b := New(Config{Nodes: 3})
	defer a.Stop()
	defer b.Stop()
	for i := 0; i < 3; i++ {
		if a.Snapshot()[i].Address != b.Snapshot()[i].Address {
			t.Fatalf("node %d address differs between runs", i)
		}
	}
}
