package node

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
	"ringkv/internal/gossip"
	"ringkv/internal/quorum"
	"ringkv/internal/repair"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
	"ringkv/internal/telemetry"
	"ringkv/internal/transport"
)

var (
	ErrRingTooSmall = errors.New("ringkv: too few members to place key")
	ErrStopped      = errors.New("ringkv: node is not participating")
)

// Node represents a single key-value node in the distributed system.
// Its methods are safe for concurrent use, but the protocol assumes one
// caller drives Receive and Tick.
type Node struct {
	mu         sync.Mutex
	self       address.Address
	membership *gossip.Membership
	transport  transport.Transport
	clock      clock.Source
	params     config.Params
	log        *zap.Logger
	events     eventlog.Sink

	store      storage.Store
	ring       *ring.Ring
	tracker    *quorum.Tracker
	tombstones *repair.TombstoneSchedule
	lastTrans  int64
	queue      [][]byte
	onResolve  func(quorum.Result)
}

// NewNode creates a key-value node on top of membership. tr carries the
// key-value protocol and may be separate from the membership transport.
func NewNode(membership *gossip.Membership, tr transport.Transport, clk clock.Source, params config.Params, store storage.Store, log *zap.Logger, events eventlog.Sink) *Node {
	if store == nil {
		store = storage.NewInMemoryStore()
	}
	if events == nil {
		events = eventlog.Discard
	}
	self := membership.Self()
	return &Node{
		self:       self,
		membership: membership,
		transport:  tr,
		clock:      clk,
		params:     params,
		log:        log.With(zap.Stringer("node", self)),
		events:     events,
		store:      store,
		ring:       ring.NewRing(params.RingSize),
		tracker:    quorum.NewTracker(params.QuorumTimeout),
		tombstones: repair.NewTombstoneSchedule(),
	}
}

// SetOnResolve registers a callback for every resolved coordinator
// request, including stabilization pushes. It runs inside Tick.
func (n *Node) SetOnResolve(fn func(quorum.Result)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onResolve = fn
}

// Self returns the local address.
func (n *Node) Self() address.Address {
	return n.self
}

// Membership returns the membership layer the node runs on.
func (n *Node) Membership() *gossip.Membership {
	return n.membership
}

// Store returns the local store.
func (n *Node) Store() storage.Store {
	return n.store
}

// Ring returns the members of the current ring in ring order.
func (n *Node) Ring() []ring.Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ring.Nodes()
}

// Pending returns the number of unresolved coordinator requests.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tracker.Len()
}

// Receive moves every key-value message the transport holds for this node
// into the local queue.
func (n *Node) Receive() bool {
	msgs, ok := n.transport.Receive(n.self)
	n.mu.Lock()
	defer n.mu.Unlock()
	if !ok {
		n.queue = nil
		return false
	}
	n.queue = append(n.queue, msgs...)
	return true
}

// Tick refreshes the ring from the membership view and stabilizes if it
// changed, drains the queue, deletes keys whose tombstone grace has passed
// and resolves pending requests. Run it after the membership tick so
// requests are checked against the view that tick produced. Once the node
// is out of the group, every pending request is decided on the replies it
// already has.
func (n *Node) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	if !n.membership.Active() {
		n.queue = nil
		// no reply can reach a node outside the group
		if n.tracker.Len() > 0 {
			n.log.Info("abandoning pending requests", zap.Int("pending", n.tracker.Len()))
			n.finish(n.tracker.Abandon(now), now)
		}
		return
	}
	n.refreshRing(now)

	queue := n.queue
	n.queue = nil
	for _, data := range queue {
		msg, err := replication.DecodeMessage(data)
		if err != nil {
			telemetry.DecodeErrors.WithLabelValues("kv").Inc()
			n.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		telemetry.Messages.WithLabelValues("kv", msg.Type.String(), "in").Inc()
		n.dispatch(msg, now)
	}

	n.collectTombstones(now)
	n.resolve(now)
}

func (n *Node) dispatch(msg replication.Message, now int64) {
	switch msg.Type {
	case replication.Create, replication.Read, replication.Update, replication.Delete:
		n.serve(msg, now)
	case replication.Reply:
		if !n.tracker.RecordReply(msg.TransID, msg.From, msg.Success) {
			n.log.Debug("ignoring reply", zap.Int64("trans_id", msg.TransID), zap.Stringer("from", msg.From))
		}
	case replication.ReadReply:
		if !n.tracker.RecordReadReply(msg.TransID, msg.From, msg.Value) {
			n.log.Debug("ignoring read reply", zap.Int64("trans_id", msg.TransID), zap.Stringer("from", msg.From))
		}
	}
}

func (n *Node) refreshRing(now int64) {
	next := ring.NewRing(n.params.RingSize)
	next.SetNodes(n.membership.Members())
	if next.Equal(n.ring) {
		return
	}
	prev := n.ring
	n.ring = next
	n.log.Info("ring changed", zap.Int("from", prev.Len()), zap.Int("to", next.Len()))
	n.stabilize(prev, next, now)
}

func (n *Node) send(to address.Address, msg replication.Message) {
	if err := n.transport.Send(n.self, to, msg.Encode()); err != nil {
		n.log.Debug("send failed", zap.Stringer("to", to), zap.Error(err))
		return
	}
	telemetry.Messages.WithLabelValues("kv", msg.Type.String(), "out").Inc()
}

func (n *Node) nextTransID() int64 {
	n.lastTrans++
	return n.lastTrans
}

func kindOf(t replication.MessageType) eventlog.Kind {
	switch t {
	case replication.Read:
		return eventlog.Read
	case replication.Update:
		return eventlog.Update
	case replication.Delete:
		return eventlog.Delete
	}
	return eventlog.Create
}
