package gossip

import (
	"math/rand"
	"slices"
	"sync"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
	"ringkv/internal/telemetry"
	"ringkv/internal/transport"
)

// Membership drives the protocol lifecycle of one node: join, periodic
// tick and leave. It owns the inbound queue and the Engine.
type Membership struct {
	mu        sync.RWMutex
	engine    *Engine
	transport transport.Transport
	clock     clock.Source
	log       *zap.Logger
	events    eventlog.Sink
	params    config.Params

	queue       [][]byte
	introducers []address.Address
	joinSentAt  int64
	inGroup     bool
	left        bool
	failed      bool
}

// NewMembership creates a membership manager for self.
func NewMembership(self address.Address, params config.Params, tr transport.Transport, clk clock.Source, rng *rand.Rand, log *zap.Logger, events eventlog.Sink) *Membership {
	if events == nil {
		events = eventlog.Discard
	}
	log = log.With(zap.Stringer("node", self))
	return &Membership{
		engine:    NewEngine(self, params, rng, log, events),
		transport: tr,
		clock:     clk,
		log:       log,
		events:    events,
		params:    params,
	}
}

// Start begins membership. With no introducers, or when self is one of
// them, the node forms the group on its own. It also sends a JOINREQ to
// every other introducer and keeps retrying until a JOINREP arrives.
func (m *Membership) Start(introducers ...address.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	self := m.engine.Self()
	now := m.clock.Now()
	for _, a := range introducers {
		if a != self {
			m.introducers = append(m.introducers, a)
		}
	}

	if len(m.introducers) < len(introducers) || len(introducers) == 0 {
		m.inGroup = true
		m.log.Info("starting up group")
		m.events.Record(eventlog.Event{Time: now, Kind: eventlog.NodeAdd, Node: self, Peer: self})
	}
	m.sendJoin(now)
}

func (m *Membership) sendJoin(now int64) {
	if len(m.introducers) == 0 {
		return
	}
	req := m.engine.JoinRequest()
	for _, a := range m.introducers {
		m.send(a, req)
	}
	m.joinSentAt = now
}

// Receive moves everything the transport holds for this node into the
// local queue. It returns false once the transport reports the node failed.
func (m *Membership) Receive() bool {
	msgs, ok := m.transport.Receive(m.engine.Self())
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.failed = true
		return false
	}
	m.queue = append(m.queue, msgs...)
	return true
}

// Tick drains the queue and, once in the group, runs a gossip round.
func (m *Membership) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed || m.left {
		return
	}
	now := m.clock.Now()

	queue := m.queue
	m.queue = nil
	for _, data := range queue {
		msg, err := Decode(data)
		if err != nil {
			telemetry.DecodeErrors.WithLabelValues("gossip").Inc()
			m.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		telemetry.Messages.WithLabelValues("gossip", msg.Type.String(), "in").Inc()

		out := m.engine.Handle(msg, now)
		if out.Leave {
			m.leave(now, "reported dead by "+msg.Sender.Addr.String())
			return
		}
		if out.Joined && !m.inGroup {
			m.inGroup = true
			m.log.Info("joined group", zap.Stringer("via", msg.Sender.Addr))
			m.events.Record(eventlog.Event{Time: now, Kind: eventlog.NodeAdd, Node: m.engine.Self(), Peer: m.engine.Self()})
		}
		m.emit(out.Replies)
	}

	if !m.inGroup {
		if now-m.joinSentAt >= m.params.FailTimeout {
			m.sendJoin(now)
		}
		return
	}

	m.emit(m.engine.Round(now))
	telemetry.GossipRounds.Inc()
}

// Leave announces departure to every live peer and stops participating.
func (m *Membership) Leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.left || m.failed {
		return
	}
	m.leave(m.clock.Now(), "requested")
}

func (m *Membership) leave(now int64, reason string) {
	notice, peers := m.engine.LeaveNotice()
	for _, a := range peers {
		m.send(a, notice)
	}
	m.left = true
	m.queue = nil
	m.log.Info("leaving group", zap.String("reason", reason))
	self := m.engine.Self()
	m.events.Record(eventlog.Event{Time: now, Kind: eventlog.NodeRemove, Node: self, Peer: self})
}

func (m *Membership) emit(out []Outbound) {
	for _, o := range out {
		m.send(o.To, o.Msg)
	}
}

func (m *Membership) send(to address.Address, msg Message) {
	data, err := msg.Encode(m.params.MaxMsgSize)
	if err != nil {
		m.log.Error("encode failed", zap.Stringer("type", msg.Type), zap.Error(err))
		return
	}
	if err := m.transport.Send(m.engine.Self(), to, data); err != nil {
		m.log.Debug("send failed", zap.Stringer("to", to), zap.Error(err))
		return
	}
	telemetry.Messages.WithLabelValues("gossip", msg.Type.String(), "out").Inc()
}

// Self returns the local address.
func (m *Membership) Self() address.Address {
	return m.engine.Self()
}

// Members returns self plus every non-DEAD peer, sorted by address.
// A node that is not participating sees no members.
func (m *Membership) Members() []address.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active() {
		return nil
	}
	members := append(m.engine.Live(), m.engine.Self())
	slices.SortFunc(members, address.Address.Compare)
	return members
}

// Snapshot returns a copy of every peer record.
func (m *Membership) Snapshot() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Peers()
}

// Heartbeat returns the local heartbeat.
func (m *Membership) Heartbeat() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Heartbeat()
}

// InGroup reports whether a JOINREP was received or the node bootstrapped the group.
func (m *Membership) InGroup() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inGroup
}

// Left reports whether the node left, either on request or because the
// cluster declared it dead.
func (m *Membership) Left() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.left
}

// Failed reports whether the transport marked this node failed.
func (m *Membership) Failed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed
}

// Active reports whether the node is in the group and still participating.
func (m *Membership) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active()
}

func (m *Membership) active() bool {
	return m.inGroup && !m.left && !m.failed
}
