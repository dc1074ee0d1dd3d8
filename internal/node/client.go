package node

import (
	"go.uber.org/zap"

	"ringkv/internal/address"
	"ringkv/internal/replication"
)

// Create stores value under key on the key's replicas. It returns the
// transaction id the outcome will be resolved under.
func (n *Node) Create(key, value string) (int64, error) {
	return n.coordinate(replication.Create, key, value)
}

// Read fetches key from its replicas.
func (n *Node) Read(key string) (int64, error) {
	return n.coordinate(replication.Read, key, "")
}

// Update replaces the value of an existing key on its replicas.
func (n *Node) Update(key, value string) (int64, error) {
	return n.coordinate(replication.Update, key, value)
}

// Delete removes key from its replicas.
func (n *Node) Delete(key string) (int64, error) {
	return n.coordinate(replication.Delete, key, "")
}

// coordinate fans a client request out to every replica, tagged with
// its role, and registers it for quorum resolution.
func (n *Node) coordinate(op replication.MessageType, key, value string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.membership.Active() {
		return 0, ErrStopped
	}
	replicas := replication.ReplicasForKey(n.ring, key)
	if len(replicas) == 0 {
		n.log.Warn("rejecting request", zap.Stringer("op", op), zap.String("key", key), zap.Error(ErrRingTooSmall))
		return 0, ErrRingTooSmall
	}

	now := n.clock.Now()
	id := n.nextTransID()
	if op == replication.Read {
		n.tracker.RegisterRead(id, key, replicas, now)
	} else {
		n.tracker.RegisterWrite(id, op, key, value, replicas, now, false)
	}
	n.fanOut(id, op, key, value, replicas)
	return id, nil
}

func (n *Node) fanOut(id int64, op replication.MessageType, key, value string, replicas []address.Address) {
	for i, to := range replicas {
		n.send(to, replication.Message{
			TransID: id,
			From:    n.self,
			Type:    op,
			Key:     key,
			Value:   value,
			Role:    replication.ReplicaRole(i),
		})
	}
}
