package netsim

import (
	"context"
	"sync"
	"sync/atomic"

	"ledgerbench/crypto"
)

// Health tracks a node's position in the partition lifecycle. Failed is an
// absorbing state reachable only through chaos scenarios.
type Health uint8

const (
	Healthy Health = iota
	Partitioned
	Recovering
	Failed
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Partitioned:
		return "partitioned"
	case Recovering:
		return "recovering"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type MsgKind uint8

const (
	MsgPrevote MsgKind = iota
	MsgPrecommit
	MsgProposal
	MsgGossip
)

func (k MsgKind) String() string {
	switch k {
	case MsgPrevote:
		return "prevote"
	case MsgPrecommit:
		return "precommit"
	case MsgProposal:
		return "proposal"
	case MsgGossip:
		return "gossip"
	default:
		return "unknown"
	}
}

// Message is a simulated wire message. Payload is opaque ballast so drivers
// can model realistic frame sizes.
type Message struct {
	From    int
	To      int
	Kind    MsgKind
	Height  uint64
	Payload []byte
}

// node is one simulated participant. Its inbox is bounded and consumed by a
// single run loop; health, partition tag and height are guarded by the
// network's lock while the traffic counters are atomics bumped during sends.
type node struct {
	id      int
	address string

	inbox  chan Message
	cancel context.CancelFunc

	// Guarded by Network.mu.
	health    Health
	partition int
	height    uint64

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
	prevotes atomic.Uint64
}

func newNode(id, inboxCapacity int) *node {
	return &node{
		id:        id,
		address:   crypto.DeriveAddress(crypto.ValidatorPrefix, uint64(id)).String(),
		inbox:     make(chan Message, inboxCapacity),
		partition: -1,
	}
}

// run consumes the inbox until the node's context is cancelled. Prevotes are
// tallied separately so round drivers can observe vote delivery.
func (n *node) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.inbox:
			n.received.Add(1)
			if msg.Kind == MsgPrevote {
				n.prevotes.Add(1)
			}
		}
	}
}

// NodeStatus is a copied-out view of one node for drivers and reports.
type NodeStatus struct {
	ID        int
	Address   string
	Health    Health
	Partition int
	Height    uint64
	Sent      uint64
	Received  uint64
	Dropped   uint64
	Prevotes  uint64
}
