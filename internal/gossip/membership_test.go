package gossip

import (
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/eventlog"
	"ringkv/internal/transport"
)

type testCluster struct {
	net    *transport.Network
	clk    *clock.Logical
	events *eventlog.Recorder
	nodes  []*Membership
}

func newTestCluster(t *testing.T, n int, opts transport.Options) *testCluster {
	t.Helper()
	c := &testCluster{
		net:    transport.NewNetwork(opts),
		clk:    clock.NewLogical(0),
		events: eventlog.NewRecorder(),
	}
	for i := 0; i < n; i++ {
		self := addr(uint32(i + 1))
		m := NewMembership(self, config.DefaultParams(), c.net, c.clk, rand.New(rand.NewSource(int64(i))), zap.NewNop(), c.events)
		m.Start(addr(1))
		c.nodes = append(c.nodes, m)
	}
	return c
}

func (c *testCluster) step(n int) {
	for i := 0; i < n; i++ {
		c.clk.Advance()
		for _, m := range c.nodes {
			m.Receive()
		}
		for _, m := range c.nodes {
			m.Tick()
		}
	}
}

func (c *testCluster) converged(want int) bool {
	var first []address.Address
	for _, m := range c.nodes {
		if !m.Active() {
			continue
		}
		members := m.Members()
		if len(members) != want {
			return false
		}
		if first == nil {
			first = members
			continue
		}
		for i := range members {
			if members[i] != first[i] {
				return false
			}
		}
	}
	return true
}

func TestMembership_JoinAndConverge(t *testing.T) {
	c := newTestCluster(t, 5, transport.Options{})

	if !c.nodes[0].InGroup() {
		t.Fatal("The introducer should start in the group")
	}
	if c.nodes[1].InGroup() {
		t.Fatal("Other nodes should wait for JOINREP")
	}

	c.step(10)
	for i, m := range c.nodes {
		if !m.InGroup() {
			t.Errorf("Node %d never joined", i+1)
		}
	}
	if !c.converged(5) {
		t.Fatalf("Expected every node to see 5 members, got %v", c.nodes[4].Members())
	}

	// every node saw every other node join, plus one self-add each
	adds := c.events.Filter(func(e eventlog.Event) bool { return e.Kind == eventlog.NodeAdd })
	if len(adds) != 5*4+5 {
		t.Errorf("Expected 25 node-add events, got %d", len(adds))
	}
}

func TestMembership_ConvergesUnderLoss(t *testing.T) {
	c := newTestCluster(t, 10, transport.Options{DropRate: 0.2, DuplicateRate: 0.1, Reorder: true, Seed: 7})
	c.step(60)

	if !c.converged(10) {
		for i, m := range c.nodes {
			t.Logf("node %d: %v", i+1, m.Members())
		}
		t.Fatal("Expected all 10 nodes to agree on membership")
	}
	removes := c.events.Filter(func(e eventlog.Event) bool { return e.Kind == eventlog.NodeRemove })
	if len(removes) != 0 {
		t.Errorf("Expected no false removals, got %d", len(removes))
	}
}

func TestMembership_DetectsFailure(t *testing.T) {
	c := newTestCluster(t, 5, transport.Options{})
	c.step(10)
	victim := addr(3)
	c.net.Fail(victim)

	statusAt := func(node int) (MemberStatus, bool) {
		for _, p := range c.nodes[node].Snapshot() {
			if p.Addr == victim {
				return p.Status, true
			}
		}
		return 0, false
	}

	c.step(10)
	if s, _ := statusAt(0); s != Suspect {
		t.Errorf("Expected SUSPECT after the fail timeout, got %s", s)
	}

	c.step(15)
	for _, i := range []int{0, 1, 3, 4} {
		if s, _ := statusAt(i); s != Dead {
			t.Errorf("Node %d: expected victim DEAD, got %s", i+1, s)
		}
	}
	if !c.converged(4) {
		t.Error("Expected survivors to agree on 4 members")
	}
	if !c.nodes[2].Failed() {
		t.Error("Expected the victim to observe its own failure")
	}

	removes := c.events.Filter(func(e eventlog.Event) bool {
		return e.Kind == eventlog.NodeRemove && e.Peer == victim
	})
	if len(removes) != 4 {
		t.Errorf("Expected one removal per survivor, got %d", len(removes))
	}

	c.step(25)
	if _, ok := statusAt(0); ok {
		t.Error("Expected the DEAD record to be garbage-collected")
	}
}

func TestMembership_IsolatedNodeLeaves(t *testing.T) {
	c := newTestCluster(t, 5, transport.Options{})
	c.step(10)
	victim := c.nodes[2]
	c.net.Isolate(victim.Self())

	c.step(30)
	if !victim.Left() {
		t.Fatal("Expected the isolated node to leave after seeing its own DEAD record")
	}
	if victim.Members() != nil {
		t.Error("A node that left should report no members")
	}
	if !c.converged(4) {
		t.Error("Expected survivors to agree on 4 members")
	}

	self := c.events.Filter(func(e eventlog.Event) bool {
		return e.Kind == eventlog.NodeRemove && e.Node == victim.Self() && e.Peer == victim.Self()
	})
	if len(self) != 1 {
		t.Errorf("Expected one self-removal event, got %d", len(self))
	}

	// once gone it stays silent even when the link heals
	c.net.Heal(victim.Self())
	before := c.net.Stats().Sent
	victim.Tick()
	if c.net.Stats().Sent != before {
		t.Error("A node that left must not send")
	}
}

func TestMembership_GracefulLeave(t *testing.T) {
	c := newTestCluster(t, 4, transport.Options{})
	c.step(10)

	c.nodes[3].Leave()
	c.step(1)

	if !c.converged(3) {
		t.Error("Expected the LEAVE notice to remove the node immediately")
	}
}

func TestMembership_JoinRetry(t *testing.T) {
	c := newTestCluster(t, 2, transport.Options{})
	// lose the first JOINREQ
	c.net.Receive(addr(1))

	c.step(2)
	if c.nodes[1].InGroup() {
		t.Fatal("Join should not complete without a JOINREQ")
	}
	c.step(8)
	if !c.nodes[1].InGroup() {
		t.Error("Expected the join to be retried")
	}
}
