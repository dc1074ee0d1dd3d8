package sim

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
	"ringkv/internal/gossip"
	"ringkv/internal/node"
	"ringkv/internal/quorum"
	"ringkv/internal/transport"
)

// Port is the port every simulated address uses.
const Port = 0

// Cluster is a set of simulated nodes and the networks between them.
type Cluster struct {
	RunID string

	params  config.Params
	cfg     config.Simulation
	clk     *clock.Logical
	rng     *rand.Rand
	log     *zap.Logger
	events  *eventlog.Recorder
	sink    eventlog.Sink
	gossip  *transport.Network
	kv      *transport.Network
	nodes   []*node.Node
	startAt []int64
	started []bool

	keys     []string
	nextKey  int
	issued   int
	outcomes map[string]*OpStats
	handoffs OpStats
}

// OpStats counts resolved requests of one kind.
type OpStats struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// NewCluster builds a cluster of cfg.Nodes nodes. Node 1 is the
// introducer. Nothing runs until Step.
func NewCluster(params config.Params, cfg config.Simulation, log *zap.Logger, sinks ...eventlog.Sink) *Cluster {
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))
	opts := transport.Options{
		DropRate:      cfg.DropRate,
		DuplicateRate: cfg.DuplicateRate,
		Reorder:       cfg.Reorder,
		Seed:          cfg.Seed,
	}
	kvOpts := opts
	kvOpts.Seed++

	c := &Cluster{
		RunID:    runID,
		params:   params,
		cfg:      cfg,
		clk:      clock.NewLogical(0),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		log:      log,
		events:   eventlog.NewRecorder(),
		gossip:   transport.NewNetwork(opts),
		kv:       transport.NewNetwork(kvOpts),
		outcomes: make(map[string]*OpStats),
	}
	c.sink = append(eventlog.Tee{c.events}, sinks...)

	for i := 0; i < cfg.Nodes; i++ {
		id := uint32(i + 1)
		self := address.FromID(id, Port)
		m := gossip.NewMembership(self, params, c.gossip, c.clk, rand.New(rand.NewSource(cfg.Seed+int64(id))), log, c.sink)
		n := node.NewNode(m, c.kv, c.clk, params, nil, log, c.sink)
		n.SetOnResolve(c.record)
		c.nodes = append(c.nodes, n)

		var at int64
		if cfg.Nodes > 1 {
			at = int64(i) * cfg.JoinSpread / int64(cfg.Nodes-1)
		}
		c.startAt = append(c.startAt, at)
		c.started = append(c.started, false)
	}
	return c
}

// Introducer returns the address every node joins through.
func (c *Cluster) Introducer() address.Address {
	return address.FromID(1, Port)
}

// Nodes returns every node, started or not.
func (c *Cluster) Nodes() []*node.Node {
	return c.nodes
}

// Now returns the current tick.
func (c *Cluster) Now() int64 {
	return c.clk.Now()
}

// Events returns every audit event recorded so far.
func (c *Cluster) Events() []eventlog.Event {
	return c.events.Events()
}

// Step advances the clock by one tick: it starts nodes whose join time
// came, injects failures, issues workload and ticks every started node.
func (c *Cluster) Step() {
	now := c.clk.Advance()

	for i, n := range c.nodes {
		if !c.started[i] && now >= c.startAt[i] {
			c.started[i] = true
			n.Membership().Start(c.Introducer())
		}
	}
	if c.cfg.FailCount > 0 && now == c.cfg.FailAt {
		c.Fail(c.cfg.FailCount)
	}
	if c.issued < c.cfg.Operations && now >= c.cfg.OperationsFrom {
		c.issue()
	}

	for i, n := range c.nodes {
		if c.started[i] {
			n.Membership().Receive()
			n.Receive()
		}
	}
	for i, n := range c.nodes {
		if c.started[i] {
			n.Membership().Tick()
			n.Tick()
		}
	}
}

// Run steps until the configured number of ticks and returns the report.
func (c *Cluster) Run() Report {
	c.log.Info("simulation started",
		zap.Int("nodes", c.cfg.Nodes),
		zap.Int64("ticks", c.cfg.Ticks),
		zap.Float64("drop_rate", c.cfg.DropRate))
	for c.clk.Now() < c.cfg.Ticks {
		c.Step()
	}
	r := c.Report()
	r.Log(c.log)
	return r
}

// Fail marks count random participating nodes failed on both networks.
func (c *Cluster) Fail(count int) []address.Address {
	var live []*node.Node
	for _, n := range c.nodes {
		if n.Membership().Active() {
			live = append(live, n)
		}
	}
	c.rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })

	var failed []address.Address
	for _, n := range live[:min(count, len(live))] {
		c.gossip.Fail(n.Self())
		c.kv.Fail(n.Self())
		failed = append(failed, n.Self())
		c.log.Info("failing node", zap.Stringer("peer", n.Self()), zap.Int64("t", c.clk.Now()))
	}
	return failed
}

// Live returns the nodes still participating in the group.
func (c *Cluster) Live() []*node.Node {
	var live []*node.Node
	for _, n := range c.nodes {
		if n.Membership().Active() {
			live = append(live, n)
		}
	}
	return live
}

// Converged reports whether every participating node sees exactly the
// set of participating nodes.
func (c *Cluster) Converged() bool {
	live := c.Live()
	want := make([]address.Address, 0, len(live))
	for _, n := range live {
		want = append(want, n.Self())
	}
	slices.SortFunc(want, address.Address.Compare)

	for _, n := range live {
		if !slices.Equal(n.Membership().Members(), want) {
			return false
		}
	}
	return true
}

// issue sends one random client operation through a random live node.
func (c *Cluster) issue() {
	live := c.Live()
	if len(live) == 0 {
		return
	}
	coordinator := live[c.rng.Intn(len(live))]
	c.issued++

	var err error
	roll := c.rng.Float64()
	switch {
	case len(c.keys) == 0 || roll < 0.4:
		key := fmt.Sprintf("key-%d", c.nextKey)
		c.nextKey++
		c.keys = append(c.keys, key)
		_, err = coordinator.Create(key, c.value())
	case roll < 0.7:
		_, err = coordinator.Read(c.keys[c.rng.Intn(len(c.keys))])
	case roll < 0.9:
		_, err = coordinator.Update(c.keys[c.rng.Intn(len(c.keys))], c.value())
	default:
		i := c.rng.Intn(len(c.keys))
		_, err = coordinator.Delete(c.keys[i])
		c.keys = slices.Delete(c.keys, i, i+1)
	}
	if err != nil {
		c.log.Debug("operation rejected", zap.Stringer("coordinator", coordinator.Self()), zap.Error(err))
	}
}

func (c *Cluster) value() string {
	return fmt.Sprintf("v%d", c.rng.Intn(1_000_000))
}

func (c *Cluster) record(res quorum.Result) {
	stats := &c.handoffs
	if !res.Stabilization {
		op := res.Op.String()
		if c.outcomes[op] == nil {
			c.outcomes[op] = &OpStats{}
		}
		stats = c.outcomes[op]
	}
	if res.Status == quorum.Success {
		stats.Success++
	} else {
		stats.Fail++
	}
}

// Report summarizes a run.
type Report struct {
	RunID     string             `json:"run_id"`
	Ticks     int64              `json:"ticks"`
	Nodes     int                `json:"nodes"`
	Live      int                `json:"live"`
	Converged bool               `json:"converged"`
	Issued    int                `json:"issued"`
	Outcomes  map[string]OpStats `json:"outcomes"`
	Handoffs  OpStats            `json:"handoffs"`
	Network   transport.Stats    `json:"network"`
	Events    int                `json:"events"`
}

// Report builds the report for the current state.
func (c *Cluster) Report() Report {
	r := Report{
		RunID:     c.RunID,
		Ticks:     c.clk.Now(),
		Nodes:     len(c.nodes),
		Live:      len(c.Live()),
		Converged: c.Converged(),
		Issued:    c.issued,
		Outcomes:  make(map[string]OpStats, len(c.outcomes)),
		Handoffs:  c.handoffs,
		Network:   c.gossip.Stats(),
		Events:    len(c.events.Events()),
	}
	for op, s := range c.outcomes {
		r.Outcomes[op] = *s
	}
	return r
}

// Log writes the report through log.
func (r Report) Log(log *zap.Logger) {
	log.Info("simulation finished",
		zap.Int64("ticks", r.Ticks),
		zap.Int("live", r.Live),
		zap.Int("nodes", r.Nodes),
		zap.Bool("converged", r.Converged),
		zap.Int("issued", r.Issued),
		zap.Int("events", r.Events))

	ops := make([]string, 0, len(r.Outcomes))
	for op := range r.Outcomes {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		s := r.Outcomes[op]
		log.Info("quorum outcomes", zap.String("op", op), zap.Int("success", s.Success), zap.Int("fail", s.Fail))
	}
	log.Info("stabilization", zap.Int("success", r.Handoffs.Success), zap.Int("fail", r.Handoffs.Fail))
}
