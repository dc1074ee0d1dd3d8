package sim

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ringkv/internal/config"
	"ringkv/internal/eventlog"
)

func baseSimulation() config.Simulation {
	return config.Simulation{
		Nodes:          6,
		Ticks:          80,
		JoinSpread:     5,
		Seed:           3,
		Operations:     30,
		OperationsFrom: 20,
	}
}

func TestCluster_ConvergesAndServesWorkload(t *testing.T) {
	c := NewCluster(config.DefaultParams(), baseSimulation(), zap.NewNop())
	_, err := uuid.Parse(c.RunID)
	require.NoError(t, err)

	r := c.Run()
	assert.Equal(t, int64(80), r.Ticks)
	assert.True(t, r.Converged)
	assert.Equal(t, 6, r.Live)
	assert.Equal(t, 30, r.Issued)

	creates := r.Outcomes["CREATE"]
	assert.NotZero(t, creates.Success)
	assert.Zero(t, creates.Fail, "creates of fresh keys on a healthy cluster must succeed")

	total := 0
	for _, s := range r.Outcomes {
		total += s.Success + s.Fail
	}
	assert.Equal(t, r.Issued, total, "every issued operation resolves exactly once")
}

func TestCluster_StaggeredJoin(t *testing.T) {
	cfg := baseSimulation()
	cfg.JoinSpread = 10
	c := NewCluster(config.DefaultParams(), cfg, zap.NewNop())

	c.Step()
	assert.Len(t, c.Live(), 1, "only the introducer is up at the first tick")

	for c.Now() < 30 {
		c.Step()
	}
	assert.Len(t, c.Live(), 6)
	assert.True(t, c.Converged())
}

func TestCluster_FailureInjection(t *testing.T) {
	cfg := baseSimulation()
	cfg.FailAt = 30
	cfg.FailCount = 2
	cfg.Operations = 0
	c := NewCluster(config.DefaultParams(), cfg, zap.NewNop())

	r := c.Run()
	assert.Equal(t, 4, r.Live)
	assert.True(t, r.Converged, "survivors should agree once the failed nodes are removed")

	removes := 0
	for _, e := range c.Events() {
		if e.Kind == eventlog.NodeRemove {
			removes++
		}
	}
	assert.Equal(t, 2*4, removes, "every survivor logs both removals")
}

func TestCluster_LossyNetwork(t *testing.T) {
	cfg := baseSimulation()
	cfg.Ticks = 120
	cfg.DropRate = 0.1
	cfg.DuplicateRate = 0.05
	cfg.Reorder = true
	cfg.Operations = 0

	sink := eventlog.NewRecorder()
	c := NewCluster(config.DefaultParams(), cfg, zap.NewNop(), sink)
	r := c.Run()

	assert.True(t, r.Converged)
	assert.Equal(t, 6, r.Live)
	assert.NotZero(t, r.Network.Dropped)
	assert.Len(t, sink.Events(), r.Events, "extra sinks see every event")
}
