package node

import (
	"slices"

	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/eventlog"
	"ringkv/internal/quorum"
	"ringkv/internal/repair"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
	"ringkv/internal/telemetry"
)

// stabilize hands locally stored keys to replicas that joined their
// replica set and schedules deletion of keys this node stopped replicating.
func (n *Node) stabilize(prev, next *ring.Ring, now int64) {
	plan := repair.PlanStabilization(n.store.Snapshot(), prev, next, n.self)

	for _, p := range plan.Pushes {
		id := n.nextTransID()
		role := slices.Index(replication.ReplicasForKey(next, p.Key), p.To)
		n.tracker.RegisterWrite(id, replication.Create, p.Key, p.Value, []address.Address{p.To}, now, true)
		n.send(p.To, replication.Message{
			TransID: id,
			From:    n.self,
			Type:    replication.Create,
			Key:     p.Key,
			Value:   p.Value,
			Role:    replication.ReplicaRole(role),
		})
		telemetry.StabilizationPushes.Inc()
	}
	for _, key := range plan.Relinquished {
		if n.tombstones.Mark(key, now) {
			n.log.Debug("tombstone scheduled", zap.String("key", key))
		}
	}
	for _, key := range plan.Owned {
		if n.tombstones.Cancel(key) {
			n.log.Debug("tombstone cancelled", zap.String("key", key))
		}
	}

	if len(plan.Pushes) > 0 || len(plan.Relinquished) > 0 {
		n.log.Info("stabilization",
			zap.Int("pushes", len(plan.Pushes)),
			zap.Int("relinquished", len(plan.Relinquished)))
	}
}

func (n *Node) collectTombstones(now int64) {
	for _, key := range n.tombstones.Due(now, n.params.TombstoneGrace) {
		if n.store.Delete(key) {
			telemetry.TombstoneDeletes.Inc()
			n.log.Debug("tombstone collected", zap.String("key", key))
		}
	}
}

func (n *Node) resolve(now int64) {
	n.finish(n.tracker.Resolve(now), now)
}

// finish logs, counts and reports resolved requests.
func (n *Node) finish(results []quorum.Result, now int64) {
	for _, res := range results {
		n.events.Record(eventlog.Event{
			Time:          now,
			Kind:          kindOf(res.Op),
			Node:          n.self,
			Success:       res.Status == quorum.Success,
			Coordinator:   true,
			Stabilization: res.Stabilization,
			TransID:       res.TransID,
			Key:           res.Key,
			Value:         res.Value,
		})

		op := res.Op.String()
		if res.Stabilization {
			op = "stabilize"
		}
		telemetry.QuorumOutcomes.WithLabelValues(op, res.Status.String()).Inc()
		telemetry.QuorumLatency.WithLabelValues(op).Observe(float64(res.ResolvedAt - res.IssuedAt))

		if n.onResolve != nil {
			n.onResolve(res)
		}
	}
}
