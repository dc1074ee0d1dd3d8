package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ringkv/internal/gossip"
	"ringkv/internal/quorum"
	"ringkv/internal/replication"
	"ringkv/internal/telemetry"
)

type command struct {
	op    replication.MessageType
	key   string
	value string
	reply chan submission
}

type submission struct {
	err  error
	done chan quorum.Result
}

// Runner drives a Node and its membership on a wall-clock ticker. Client
// operations are handed to the loop goroutine, so the protocol stays
// single-threaded.
type Runner struct {
	node     *Node
	interval time.Duration
	log      *zap.Logger

	cmds    chan command
	stopped chan struct{}
	// only touched by the loop goroutine
	waiters map[int64]chan quorum.Result
}

// NewRunner creates a runner ticking every interval.
func NewRunner(n *Node, interval time.Duration, log *zap.Logger) *Runner {
	r := &Runner{
		node:     n,
		interval: interval,
		log:      log.With(zap.Stringer("node", n.Self())),
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
		waiters:  make(map[int64]chan quorum.Result),
	}
	n.SetOnResolve(r.deliver)
	return r
}

// Node returns the driven node.
func (r *Runner) Node() *Node {
	return r.node
}

// Run ticks until ctx is cancelled, then leaves the group.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.stopped)

	r.log.Info("node loop started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.node.Membership().Leave()
			r.log.Info("node loop stopped")
			return ctx.Err()
		case cmd := <-r.cmds:
			r.submit(cmd)
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	m := r.node.Membership()
	m.Receive()
	r.node.Receive()
	m.Tick()
	r.node.Tick()
	r.observe(m)
}

func (r *Runner) observe(m *gossip.Membership) {
	counts := map[gossip.MemberStatus]int{}
	for _, p := range m.Snapshot() {
		counts[p.Status]++
	}
	for _, s := range []gossip.MemberStatus{gossip.Alive, gossip.Suspect, gossip.Dead} {
		telemetry.Peers.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func (r *Runner) submit(cmd command) {
	var id int64
	var err error
	switch cmd.op {
	case replication.Create:
		id, err = r.node.Create(cmd.key, cmd.value)
	case replication.Read:
		id, err = r.node.Read(cmd.key)
	case replication.Update:
		id, err = r.node.Update(cmd.key, cmd.value)
	case replication.Delete:
		id, err = r.node.Delete(cmd.key)
	}
	if err != nil {
		cmd.reply <- submission{err: err}
		return
	}
	done := make(chan quorum.Result, 1)
	r.waiters[id] = done
	cmd.reply <- submission{done: done}
}

func (r *Runner) deliver(res quorum.Result) {
	if done, ok := r.waiters[res.TransID]; ok {
		done <- res
		delete(r.waiters, res.TransID)
	}
}

// Do submits a client operation and waits for its quorum resolution.
func (r *Runner) Do(ctx context.Context, op replication.MessageType, key, value string) (quorum.Result, error) {
	cmd := command{op: op, key: key, value: value, reply: make(chan submission, 1)}
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return quorum.Result{}, ctx.Err()
	case <-r.stopped:
		return quorum.Result{}, ErrStopped
	}

	sub := <-cmd.reply
	if sub.err != nil {
		return quorum.Result{}, sub.err
	}

	select {
	case res := <-sub.done:
		return res, nil
	case <-ctx.Done():
		return quorum.Result{}, ctx.Err()
	case <-r.stopped:
		return quorum.Result{}, ErrStopped
	}
}
