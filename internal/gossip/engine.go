package gossip

import (
	"math/rand"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
)

// Outbound is a message waiting to be encoded and sent.
type Outbound struct {
	To  address.Address
	Msg Message
}

// Outcome is what handling one inbound message produced.
type Outcome struct {
	Replies []Outbound
	// Joined is set by a JOINREP.
	Joined bool
	// Leave is set when the cluster reported this node DEAD.
	Leave bool
}

// grave remembers a collected peer: when it was removed and the last
// heartbeat it reported.
type grave struct {
	removedAt int64
	heartbeat int64
}

// Engine holds one node's membership state and protocol logic. It never
// touches the network: Round and Handle return the messages to send.
// An Engine is not safe for concurrent use.
type Engine struct {
	self      address.Address
	heartbeat int64
	params    config.Params

	peers PeerSet
	// peers queued for dissemination, most recently changed first
	gossip []address.Address
	// last peer visited when topping up the gossip list
	cursor address.Address
	// removed DEAD peers
	graveyard map[address.Address]grave

	rng    *rand.Rand
	log    *zap.Logger
	events eventlog.Sink
}

// NewEngine creates the membership state for self.
func NewEngine(self address.Address, params config.Params, rng *rand.Rand, log *zap.Logger, events eventlog.Sink) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(self.ID())<<16 | int64(self.Port())))
	}
	if events == nil {
		events = eventlog.Discard
	}
	return &Engine{
		self:      self,
		params:    params,
		graveyard: make(map[address.Address]grave),
		rng:       rng,
		log:       log,
		events:    events,
	}
}

// Self returns the local address.
func (e *Engine) Self() address.Address {
	return e.self
}

// Heartbeat returns the local heartbeat.
func (e *Engine) Heartbeat() int64 {
	return e.heartbeat
}

// Peer returns a copy of the record for a.
func (e *Engine) Peer(a address.Address) (Peer, bool) {
	if p := e.peers.Get(a); p != nil {
		return *p, true
	}
	return Peer{}, false
}

// Peers returns a copy of every record in address order.
func (e *Engine) Peers() []Peer {
	out := make([]Peer, 0, e.peers.Len())
	for _, p := range e.peers.All() {
		out = append(out, *p)
	}
	return out
}

// Live returns the addresses of every non-DEAD peer, excluding self.
func (e *Engine) Live() []address.Address {
	out := make([]address.Address, 0, e.peers.Len())
	for _, p := range e.peers.All() {
		if p.Status != Dead {
			out = append(out, p.Addr)
		}
	}
	return out
}

func (e *Engine) selfRecord() Record {
	return Record{Addr: e.self, Heartbeat: e.heartbeat, Status: Alive}
}

// Merge applies one gossiped record. A known peer is only updated by a
// strictly greater heartbeat, and a DEAD peer is never updated.
func (e *Engine) Merge(r Record, now int64) bool {
	return e.merge(r, now, false)
}

// merge applies r. direct is set when r is the header of a message the
// peer sent itself.
func (e *Engine) merge(r Record, now int64, direct bool) bool {
	if r.Addr == e.self {
		return false
	}

	p := e.peers.Get(r.Addr)
	if p == nil {
		if r.Status == Dead || !e.admit(r, now, direct) {
			return false
		}
		delete(e.graveyard, r.Addr)
		p = &Peer{
			Addr:           r.Addr,
			Heartbeat:      r.Heartbeat,
			LocalHeartbeat: e.heartbeat,
			Status:         r.Status,
			UpdatedAt:      now,
		}
		e.peers.Insert(p)
		e.markGossip(p.Addr)
		e.log.Debug("peer added", zap.Stringer("peer", p.Addr), zap.Int64("heartbeat", p.Heartbeat))
		e.events.Record(eventlog.Event{Time: now, Kind: eventlog.NodeAdd, Node: e.self, Peer: p.Addr})
		return true
	}

	if p.Status == Dead || r.Heartbeat <= p.Heartbeat {
		return false
	}
	p.Heartbeat = r.Heartbeat
	p.LocalHeartbeat = e.heartbeat
	p.UpdatedAt = now
	e.setStatus(p, r.Status, now)
	e.markGossip(p.Addr)
	return true
}

// admit decides whether a collected peer may be added again. Nothing is
// accepted within DeadRetention of its removal. After that the peer
// itself can rejoin, but gossip about it needs a heartbeat newer than the
// one it died with.
func (e *Engine) admit(r Record, now int64, direct bool) bool {
	g, buried := e.graveyard[r.Addr]
	if !buried {
		return true
	}
	if now-g.removedAt < e.params.DeadRetention {
		return false
	}
	return direct || r.Heartbeat > g.heartbeat
}

// MarkDead moves a known peer straight to DEAD.
func (e *Engine) MarkDead(a address.Address, now int64) bool {
	p := e.peers.Get(a)
	if p == nil || p.Status == Dead {
		return false
	}
	e.setStatus(p, Dead, now)
	e.markGossip(a)
	return true
}

func (e *Engine) setStatus(p *Peer, s MemberStatus, now int64) {
	if p.Status == s {
		return
	}
	e.log.Debug("peer status",
		zap.Stringer("peer", p.Addr),
		zap.Stringer("from", p.Status),
		zap.Stringer("to", s))
	p.Status = s
	p.LocalHeartbeat = e.heartbeat
	p.probeCountdown = 0
	if s == Dead {
		p.DiedAt = now
		e.log.Info("peer removed", zap.Stringer("peer", p.Addr))
		e.events.Record(eventlog.Event{Time: now, Kind: eventlog.NodeRemove, Node: e.self, Peer: p.Addr})
	}
}

// EvaluateStatus ages every peer against the failure timeouts and
// garbage-collects peers that have been DEAD for the retention window.
func (e *Engine) EvaluateStatus(now int64) {
	for _, p := range e.peers.All() {
		if p.Status == Dead {
			if now-p.DiedAt >= e.params.DeadRetention {
				e.peers.Remove(p.Addr)
				e.unmarkGossip(p.Addr)
				e.graveyard[p.Addr] = grave{removedAt: now, heartbeat: p.Heartbeat}
			}
			continue
		}

		elapsed := now - p.UpdatedAt
		switch {
		case elapsed >= e.params.RemoveTimeout:
			e.setStatus(p, Dead, now)
			e.markGossip(p.Addr)
		case elapsed >= e.params.FailTimeout && p.Status == Alive:
			e.setStatus(p, Suspect, now)
			e.markGossip(p.Addr)
		}
	}
}

func (e *Engine) markGossip(a address.Address) {
	e.unmarkGossip(a)
	e.gossip = append(e.gossip, address.Zero)
	copy(e.gossip[1:], e.gossip)
	e.gossip[0] = a
}

func (e *Engine) unmarkGossip(a address.Address) {
	for i, g := range e.gossip {
		if g == a {
			e.gossip = append(e.gossip[:i], e.gossip[i+1:]...)
			return
		}
	}
}

// payload refreshes the gossip list for a message with room for n records
// and returns it. Entries older than the gossip TTL are dropped. A list
// longer than n is truncated; a shorter one is topped up by walking the
// peer table from the rotating cursor.
func (e *Engine) payload(n int) []Record {
	kept := e.gossip[:0]
	for _, g := range e.gossip {
		p := e.peers.Get(g)
		if p == nil || e.heartbeat-p.LocalHeartbeat >= e.params.GossipEntryTTL {
			continue
		}
		kept = append(kept, g)
	}
	e.gossip = kept
	if n <= 0 {
		return nil
	}

	chosen := make([]address.Address, 0, n)
	inList := make(map[address.Address]bool, n)
	for _, g := range e.gossip {
		if len(chosen) == n {
			e.cursor = chosen[len(chosen)-1]
			break
		}
		chosen = append(chosen, g)
		inList[g] = true
	}

	if len(chosen) < n && e.peers.Len() > 0 {
		start := e.peers.Successor(e.cursor)
		p := start
		for {
			if !inList[p.Addr] {
				chosen = append(chosen, p.Addr)
				inList[p.Addr] = true
			}
			e.cursor = p.Addr
			p = e.peers.Successor(p.Addr)
			if len(chosen) == n || p == start {
				break
			}
		}
	}

	records := make([]Record, 0, len(chosen))
	for _, a := range chosen {
		p := e.peers.Get(a)
		records = append(records, Record{Addr: a, Heartbeat: p.Heartbeat, Status: p.Status})
	}
	return records
}

// message builds an outbound message with the current self record and,
// for piggyback types, a fresh payload.
func (e *Engine) message(t MsgType, indirect address.Address) Message {
	m := Message{Type: t, Sender: e.selfRecord()}
	if t.Indirect() {
		m.Indirect = indirect
	}
	if t.Piggyback() {
		m.Records = e.payload(PayloadCapacity(t, e.params.MaxMsgSize))
	}
	return m
}

// JoinRequest builds the bootstrap message sent to the introducer. Each
// attempt carries a fresh heartbeat so peers that learnt about us from an
// earlier attempt do not time us out while we are still joining.
func (e *Engine) JoinRequest() Message {
	e.heartbeat++
	return e.message(JoinReq, address.Zero)
}

// LeaveNotice builds the departure message and the peers it should go to.
func (e *Engine) LeaveNotice() (Message, []address.Address) {
	return e.message(Leave, address.Zero), e.Live()
}

// Round runs one protocol period: status evaluation, heartbeat increment,
// then a piggybacked ping to every non-DEAD peer in shuffled order, plus
// an indirect probe through a helper for SUSPECT peers whose probe
// counter has run out.
func (e *Engine) Round(now int64) []Outbound {
	e.EvaluateStatus(now)
	e.heartbeat++

	order := e.peers.All()
	e.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	ping := e.message(PgyPing, address.Zero)
	out := make([]Outbound, 0, len(order))
	for _, p := range order {
		if p.Status == Dead {
			// one last ping carries the verdict to a peer that may still hear us
			if p.DiedAt == now {
				out = append(out, Outbound{To: p.Addr, Msg: ping})
			}
			continue
		}
		out = append(out, Outbound{To: p.Addr, Msg: ping})

		if p.Status != Suspect {
			continue
		}
		if p.probeCountdown > 0 {
			p.probeCountdown--
			continue
		}
		p.probeCountdown = e.params.IndirectProbeInterval
		if helper, ok := e.pickHelper(order, p.Addr); ok {
			out = append(out, Outbound{To: helper, Msg: e.message(IPgyPing, p.Addr)})
		}
	}
	return out
}

func (e *Engine) pickHelper(order []*Peer, target address.Address) (address.Address, bool) {
	candidates := make([]address.Address, 0, len(order))
	for _, p := range order {
		if p.Status == Alive && p.Addr != target {
			candidates = append(candidates, p.Addr)
		}
	}
	if len(candidates) == 0 {
		return address.Zero, false
	}
	return candidates[e.rng.Intn(len(candidates))], true
}

// Handle interprets one inbound message: it merges the sender and any
// payload into the peer table and returns the replies to send. A payload
// record reporting this node DEAD short-circuits everything else.
func (e *Engine) Handle(m Message, now int64) Outcome {
	var out Outcome
	from := m.Sender.Addr
	if from == e.self {
		return out
	}

	refute := false
	for _, r := range m.Records {
		if r.Addr != e.self {
			continue
		}
		switch r.Status {
		case Dead:
			out.Leave = true
			return out
		case Suspect:
			refute = true
		}
	}

	if m.Type == Leave {
		e.MarkDead(from, now)
		return out
	}

	e.merge(m.Sender, now, true)
	for _, r := range m.Records {
		e.Merge(r, now)
	}

	reply := func(to address.Address, t MsgType, indirect address.Address) {
		out.Replies = append(out.Replies, Outbound{To: to, Msg: e.message(t, indirect)})
	}

	switch m.Type {
	case JoinReq:
		reply(from, JoinRep, address.Zero)
	case JoinRep:
		out.Joined = true
	case Ping:
		reply(from, Pong, address.Zero)
	case IPing:
		// relay: probe the target on the requester's behalf
		reply(m.Indirect, IPong, from)
	case IPong:
		// target: answer the original requester directly
		reply(m.Indirect, Pong, address.Zero)
	case PgyPing:
		reply(from, PgyPong, address.Zero)
	case IPgyPing:
		reply(m.Indirect, IPgyPong, from)
	case IPgyPong:
		reply(m.Indirect, PgyPong, address.Zero)
	}

	if refute {
		reply(from, Ping, address.Zero)
	}
	return out
}
