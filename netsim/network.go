package netsim

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInboxCapacity    = 1024
	DefaultMajorityFraction = 2.0 / 3.0
)

var (
	ErrUnknownNode = errors.New("netsim: unknown node")
	// ErrDropped covers every way a message fails to arrive: a partition
	// split between the endpoints, a full receiver inbox, or a failed
	// endpoint. Callers cannot tell these apart; the simulation models
	// them identically.
	ErrDropped = errors.New("netsim: message dropped")
	ErrStopped = errors.New("netsim: network stopped")
	ErrStarted = errors.New("netsim: network already started")
	ErrBadRatio = errors.New("netsim: partition ratio must be inside (0,1)")
)

// Config sizes a simulated network.
type Config struct {
	Nodes            int
	InboxCapacity    int
	MajorityFraction float64
}

func (c Config) withDefaults() Config {
	if c.Nodes <= 0 {
		c.Nodes = 4
	}
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = DefaultInboxCapacity
	}
	if c.MajorityFraction <= 0 || c.MajorityFraction > 1 {
		c.MajorityFraction = DefaultMajorityFraction
	}
	return c
}

// Network simulates message passing between n nodes with optional partitions.
// It models liveness only: consensus rounds force-advance the heights of
// nodes that sit in a majority partition, and no voting safety is checked.
type Network struct {
	cfg Config
	log *slog.Logger

	mu             sync.RWMutex
	nodes          []*node
	partitioned    bool
	partitionStart time.Time
	started        bool
	stopped        bool

	totalDropped atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// RoundResult summarizes one simulated consensus round.
type RoundResult struct {
	Height   uint64
	Sent     int
	Dropped  int
	Advanced int
	Stalled  int
}

func New(cfg Config) *Network {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	n := &Network{
		cfg:    cfg,
		log:    slog.Default().With(slog.String("component", "netsim")),
		nodes:  make([]*node, cfg.Nodes),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range n.nodes {
		n.nodes[i] = newNode(i, cfg.InboxCapacity)
	}
	return n
}

// Start launches every node's consumption loop. Messages sent before Start
// queue in the bounded inboxes and shed once full, like any other overflow.
func (n *Network) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return ErrStopped
	}
	if n.started {
		return ErrStarted
	}
	n.started = true
	for _, nd := range n.nodes {
		ctx, cancel := context.WithCancel(n.ctx)
		nd.cancel = cancel
		n.wg.Add(1)
		go nd.run(ctx, &n.wg)
	}
	n.log.Debug("network started", slog.Int("nodes", len(n.nodes)))
	return nil
}

// Stop tears down all node loops. It is idempotent and returns only after
// every loop has exited.
func (n *Network) Stop() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		n.mu.Unlock()
		n.cancel()
		n.wg.Wait()
		n.log.Debug("network stopped", slog.Uint64("dropped", n.totalDropped.Load()))
	})
}

// Size returns the node count.
func (n *Network) Size() int {
	return len(n.nodes)
}

// sendLocked delivers one message under a held read lock. Partition splits,
// failed endpoints and full inboxes all count and report as the same drop.
func (n *Network) sendLocked(from, to int, kind MsgKind, height uint64, payload []byte) error {
	sender := n.nodes[from]
	receiver := n.nodes[to]

	if sender.health == Failed || receiver.health == Failed {
		sender.dropped.Add(1)
		n.totalDropped.Add(1)
		return ErrDropped
	}
	if sender.partition >= 0 && receiver.partition >= 0 && sender.partition != receiver.partition {
		sender.dropped.Add(1)
		n.totalDropped.Add(1)
		return ErrDropped
	}

	select {
	case receiver.inbox <- Message{From: from, To: to, Kind: kind, Height: height, Payload: payload}:
		sender.sent.Add(1)
		return nil
	default:
		sender.dropped.Add(1)
		n.totalDropped.Add(1)
		return ErrDropped
	}
}

// SendMessage attempts delivery from one node to another. It never blocks.
func (n *Network) SendMessage(from, to int, kind MsgKind, height uint64, payload []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return ErrStopped
	}
	if from < 0 || from >= len(n.nodes) || to < 0 || to >= len(n.nodes) {
		return ErrUnknownNode
	}
	return n.sendLocked(from, to, kind, height, payload)
}

// BroadcastMessage fans one message out to every other node and reports how
// many copies were delivered versus dropped.
func (n *Network) BroadcastMessage(from int, kind MsgKind, height uint64, payload []byte) (sent, dropped int) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped || from < 0 || from >= len(n.nodes) {
		return 0, 0
	}
	for to := range n.nodes {
		if to == from {
			continue
		}
		if err := n.sendLocked(from, to, kind, height, payload); err != nil {
			dropped++
		} else {
			sent++
		}
	}
	return sent, dropped
}

// CreatePartition splits the network deterministically: nodes are taken in ID
// order, the first ceil(ratio*n) get partition tag 0 and the rest tag 1.
// Every non-failed node becomes Partitioned and the start time is recorded.
func (n *Network) CreatePartition(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return ErrBadRatio
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return ErrStopped
	}

	split := int(math.Ceil(ratio * float64(len(n.nodes))))
	if split < 1 {
		split = 1
	}
	if split > len(n.nodes)-1 {
		split = len(n.nodes) - 1
	}
	for i, nd := range n.nodes {
		if i < split {
			nd.partition = 0
		} else {
			nd.partition = 1
		}
		if nd.health != Failed {
			nd.health = Partitioned
		}
	}
	n.partitioned = true
	n.partitionStart = time.Now()
	n.log.Debug("partition created",
		slog.Int("partition0", split),
		slog.Int("partition1", len(n.nodes)-split))
	return nil
}

// HealPartition clears all partition tags and moves partitioned nodes to
// Recovering. Divergent heights are left as they are; nodes catch up only by
// advancing in later rounds. Returns how long the split lasted.
func (n *Network) HealPartition() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	var age time.Duration
	if n.partitioned {
		age = time.Since(n.partitionStart)
	}
	for _, nd := range n.nodes {
		nd.partition = -1
		if nd.health == Partitioned {
			nd.health = Recovering
		}
	}
	n.partitioned = false
	return age
}

// FailNode moves a node into the absorbing Failed state and cancels its
// consumption loop, so traffic toward it backs up and sheds.
func (n *Network) FailNode(id int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id < 0 || id >= len(n.nodes) {
		return ErrUnknownNode
	}
	nd := n.nodes[id]
	nd.health = Failed
	if nd.cancel != nil {
		nd.cancel()
	}
	return nil
}

// SimulateConsensusRound has every non-failed node broadcast a prevote, then
// force-advances the height of every node inside a majority partition, or of
// all non-failed nodes when no partition is active. Nodes in a minority
// partition never advance. Recovering nodes that advance become Healthy.
func (n *Network) SimulateConsensusRound(height uint64) RoundResult {
	result := RoundResult{Height: height}

	n.mu.RLock()
	if n.stopped {
		n.mu.RUnlock()
		return result
	}
	for from, nd := range n.nodes {
		if nd.health == Failed {
			continue
		}
		for to := range n.nodes {
			if to == from {
				continue
			}
			if err := n.sendLocked(from, to, MsgPrevote, height, nil); err != nil {
				result.Dropped++
			} else {
				result.Sent++
			}
		}
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return result
	}

	alive := 0
	partitionCounts := make(map[int]int)
	for _, nd := range n.nodes {
		if nd.health == Failed {
			continue
		}
		alive++
		if nd.partition >= 0 {
			partitionCounts[nd.partition]++
		}
	}
	if alive == 0 {
		return result
	}

	advances := func(nd *node) bool {
		if nd.health == Failed {
			return false
		}
		if nd.partition < 0 {
			return !n.partitioned
		}
		share := float64(partitionCounts[nd.partition]) / float64(alive)
		return share >= n.cfg.MajorityFraction
	}

	for _, nd := range n.nodes {
		if nd.health == Failed {
			continue
		}
		if advances(nd) {
			nd.height = height
			if nd.health == Recovering {
				nd.health = Healthy
			}
			result.Advanced++
		} else {
			result.Stalled++
		}
	}
	return result
}

// Snapshot copies out every node's current status in ID order.
func (n *Network) Snapshot() []NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NodeStatus, 0, len(n.nodes))
	for _, nd := range n.nodes {
		out = append(out, NodeStatus{
			ID:        nd.id,
			Address:   nd.address,
			Health:    nd.health,
			Partition: nd.partition,
			Height:    nd.height,
			Sent:      nd.sent.Load(),
			Received:  nd.received.Load(),
			Dropped:   nd.dropped.Load(),
			Prevotes:  nd.prevotes.Load(),
		})
	}
	return out
}

// NodeHealth reports the health of one node.
func (n *Network) NodeHealth(id int) (Health, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if id < 0 || id >= len(n.nodes) {
		return Healthy, ErrUnknownNode
	}
	return n.nodes[id].health, nil
}

// Heights returns every node's height in ID order.
func (n *Network) Heights() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]uint64, len(n.nodes))
	for i, nd := range n.nodes {
		out[i] = nd.height
	}
	return out
}

// DropCount returns the total messages dropped since construction.
func (n *Network) DropCount() uint64 {
	return n.totalDropped.Load()
}
