package transport

import (
	"errors"
	"math/rand"
	"sync"

	"ringkv/internal/address"
)

// ErrNodeFailed is returned when a failed node tries to send.
var ErrNodeFailed = errors.New("ringkv: node failed")

// Transport is the send/receive contract shared by every protocol.
type Transport interface {
	// Send enqueues data for delivery to to. It never blocks on the
	// receiver and gives no delivery guarantee.
	Send(from, to address.Address, data []byte) error
	// Receive drains every message queued for self. It returns false if
	// self is marked failed.
	Receive(self address.Address) ([][]byte, bool)
}

// Options tunes the fault model of a Network.
type Options struct {
	DropRate      float64
	DuplicateRate float64
	Reorder       bool
	Seed          int64
	// MaxQueue caps each inbox; 0 means unbounded.
	MaxQueue int
}

// Stats counts what a Network did with the traffic it was handed.
type Stats struct {
	Sent       int
	Dropped    int
	Duplicated int
	Delivered  int
}

// Network is an in-memory lossy network keyed by address.
type Network struct {
	mu       sync.Mutex
	opts     Options
	rng      *rand.Rand
	inboxes  map[address.Address][][]byte
	failed   map[address.Address]bool
	isolated map[address.Address]bool
	stats    Stats
}

// NewNetwork creates an empty network.
func NewNetwork(opts Options) *Network {
	return &Network{
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		inboxes:  make(map[address.Address][][]byte),
		failed:   make(map[address.Address]bool),
		isolated: make(map[address.Address]bool),
	}
}

// Send implements Transport. The payload is copied.
func (n *Network) Send(from, to address.Address, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failed[from] {
		return ErrNodeFailed
	}
	n.stats.Sent++
	if n.failed[to] || n.isolated[from] || n.roll(n.opts.DropRate) {
		n.stats.Dropped++
		return nil
	}

	n.enqueue(to, append([]byte(nil), data...))
	if n.roll(n.opts.DuplicateRate) {
		n.stats.Duplicated++
		n.enqueue(to, append([]byte(nil), data...))
	}
	return nil
}

func (n *Network) enqueue(to address.Address, data []byte) {
	q := n.inboxes[to]
	if n.opts.MaxQueue > 0 && len(q) >= n.opts.MaxQueue {
		n.stats.Dropped++
		return
	}
	n.inboxes[to] = append(q, data)
}

func (n *Network) roll(p float64) bool {
	return p > 0 && n.rng.Float64() < p
}

// Receive implements Transport.
func (n *Network) Receive(self address.Address) ([][]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failed[self] {
		return nil, false
	}
	msgs := n.inboxes[self]
	delete(n.inboxes, self)
	if n.opts.Reorder {
		n.rng.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })
	}
	n.stats.Delivered += len(msgs)
	return msgs, true
}

// Fail marks addr as crashed: it can neither send nor receive, and its
// queued messages are discarded.
func (n *Network) Fail(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[addr] = true
	delete(n.inboxes, addr)
}

// Failed reports whether addr was failed.
func (n *Network) Failed(addr address.Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed[addr]
}

// Isolate silently drops everything addr sends while still delivering
// what others send to it.
func (n *Network) Isolate(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr] = true
}

// Heal reverses Isolate.
func (n *Network) Heal(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, addr)
}

// Stats returns a snapshot of the traffic counters.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}
