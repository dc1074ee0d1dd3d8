package node

import (
	"go.uber.org/zap"

	"ringkv/internal/eventlog"
	"ringkv/internal/replication"
)

// serve applies a request from a coordinator to the local store and
// replies. The request is rejected unless this node is one of the key's
// replicas on the current ring.
func (n *Node) serve(req replication.Message, now int64) {
	owned := n.ring.IsReplica(req.Key, n.self)

	var ok bool
	var value string
	switch req.Type {
	case replication.Create:
		ok = owned && n.store.Create(req.Key, req.Value)
		value = req.Value
	case replication.Read:
		if owned {
			value, ok = n.store.Read(req.Key)
		}
	case replication.Update:
		ok = owned && n.store.Update(req.Key, req.Value)
		value = req.Value
	case replication.Delete:
		ok = owned && n.store.Delete(req.Key)
	}

	if !owned {
		n.log.Debug("rejecting request for key not replicated here",
			zap.Stringer("op", req.Type),
			zap.String("key", req.Key),
			zap.Stringer("from", req.From))
	}
	n.events.Record(eventlog.Event{
		Time:    now,
		Kind:    kindOf(req.Type),
		Node:    n.self,
		Success: ok,
		TransID: req.TransID,
		Key:     req.Key,
		Value:   value,
	})

	reply := replication.Message{
		TransID: req.TransID,
		From:    n.self,
		Type:    replication.Reply,
		Key:     req.Key,
		Role:    req.Role,
		Success: ok,
	}
	if req.Type == replication.Read {
		reply.Type = replication.ReadReply
		reply.Value = value
	}
	n.send(req.From, reply)
}
