package quorum

import (
	"cmp"
	"slices"

	"ringkv/internal/address"
	"ringkv/internal/replication"
)

// Required is the number of agreeing replies a client request needs.
const Required = 2

// Status is the state of a pending request.
type Status int

const (
	Fail Status = iota
	Wait
	Success
)

func (s Status) String() string {
	switch s {
	case Fail:
		return "QFAIL"
	case Wait:
		return "QWAIT"
	case Success:
		return "QSUCCESS"
	}
	return "QUNKNOWN"
}

// PendingRead is a read waiting for replica values.
type PendingRead struct {
	TransID  int64
	Key      string
	IssuedAt int64
	Replicas []address.Address

	replied []bool
	values  []string
}

// PendingWrite is a create, update or delete waiting for replica acks.
// A stabilization write targets a single replica and is decided by its
// one reply.
type PendingWrite struct {
	TransID       int64
	Op            replication.MessageType
	Key           string
	Value         string
	IssuedAt      int64
	Replicas      []address.Address
	Stabilization bool

	replied []bool
	acks    []bool
}

// Result is the terminal outcome of a request.
type Result struct {
	TransID       int64
	Op            replication.MessageType
	Key           string
	Value         string
	Status        Status
	Stabilization bool
	Replies       int
	IssuedAt      int64
	ResolvedAt    int64
}

// Tracker holds every pending request of one coordinator.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	timeout int64
	reads   map[int64]*PendingRead
	writes  map[int64]*PendingWrite
}

// NewTracker creates a tracker whose requests expire timeout ticks after
// they were issued.
func NewTracker(timeout int64) *Tracker {
	return &Tracker{
		timeout: timeout,
		reads:   make(map[int64]*PendingRead),
		writes:  make(map[int64]*PendingWrite),
	}
}

// Len returns the number of pending requests.
func (t *Tracker) Len() int {
	return len(t.reads) + len(t.writes)
}

// RegisterRead starts tracking a read sent to replicas.
func (t *Tracker) RegisterRead(transID int64, key string, replicas []address.Address, now int64) {
	t.reads[transID] = &PendingRead{
		TransID:  transID,
		Key:      key,
		IssuedAt: now,
		Replicas: slices.Clone(replicas),
		replied:  make([]bool, len(replicas)),
		values:   make([]string, len(replicas)),
	}
}

// RegisterWrite starts tracking a mutating request sent to replicas.
func (t *Tracker) RegisterWrite(transID int64, op replication.MessageType, key, value string, replicas []address.Address, now int64, stabilization bool) {
	t.writes[transID] = &PendingWrite{
		TransID:       transID,
		Op:            op,
		Key:           key,
		Value:         value,
		IssuedAt:      now,
		Replicas:      slices.Clone(replicas),
		Stabilization: stabilization,
		replied:       make([]bool, len(replicas)),
		acks:          make([]bool, len(replicas)),
	}
}

// RecordReply stores a write ack from a replica. It reports false for an
// unknown transaction, a sender outside the replica set, or a repeated reply.
func (t *Tracker) RecordReply(transID int64, from address.Address, success bool) bool {
	w, ok := t.writes[transID]
	if !ok {
		return false
	}
	slot := slices.Index(w.Replicas, from)
	if slot < 0 || w.replied[slot] {
		return false
	}
	w.replied[slot] = true
	w.acks[slot] = success
	return true
}

// RecordReadReply stores a value returned by a replica. An empty value
// means the replica does not hold the key.
func (t *Tracker) RecordReadReply(transID int64, from address.Address, value string) bool {
	r, ok := t.reads[transID]
	if !ok {
		return false
	}
	slot := slices.Index(r.Replicas, from)
	if slot < 0 || r.replied[slot] {
		return false
	}
	r.replied[slot] = true
	r.values[slot] = value
	return true
}

// Resolve evaluates every pending request at time now, removes the ones
// that reached a verdict and returns them in transaction order.
func (t *Tracker) Resolve(now int64) []Result {
	return t.resolve(now, false)
}

// Abandon decides every pending request on the replies received so far,
// as if its timeout had passed, and empties the tracker. It is used once
// no more replies can arrive.
func (t *Tracker) Abandon(now int64) []Result {
	return t.resolve(now, true)
}

func (t *Tracker) resolve(now int64, all bool) []Result {
	var out []Result
	for id, r := range t.reads {
		res := t.evaluateRead(r, now, all || t.expired(r.IssuedAt, now))
		if res.Status == Wait {
			continue
		}
		delete(t.reads, id)
		out = append(out, res)
	}
	for id, w := range t.writes {
		res := t.evaluateWrite(w, now, all || t.expired(w.IssuedAt, now))
		if res.Status == Wait {
			continue
		}
		delete(t.writes, id)
		out = append(out, res)
	}
	slices.SortFunc(out, func(a, b Result) int {
		return cmp.Compare(a.TransID, b.TransID)
	})
	return out
}

func (t *Tracker) expired(issuedAt, now int64) bool {
	return now-issuedAt >= t.timeout
}

// ready reports whether a client request can be decided: every replica
// answered, or the timeout passed.
func ready(replies, expected int, expired bool) bool {
	return replies == expected || expired
}

func (t *Tracker) evaluateRead(r *PendingRead, now int64, expired bool) Result {
	res := Result{
		TransID:    r.TransID,
		Op:         replication.Read,
		Key:        r.Key,
		Status:     Wait,
		Replies:    count(r.replied),
		IssuedAt:   r.IssuedAt,
		ResolvedAt: now,
	}
	if !ready(res.Replies, len(r.Replicas), expired) {
		return res
	}
	res.Status = Fail
	if res.Replies < Required {
		return res
	}
	if v, ok := majority(r.replied, r.values); ok {
		res.Status = Success
		res.Value = v
	}
	return res
}

func (t *Tracker) evaluateWrite(w *PendingWrite, now int64, expired bool) Result {
	res := Result{
		TransID:       w.TransID,
		Op:            w.Op,
		Key:           w.Key,
		Value:         w.Value,
		Status:        Wait,
		Stabilization: w.Stabilization,
		Replies:       count(w.replied),
		IssuedAt:      w.IssuedAt,
		ResolvedAt:    now,
	}

	if w.Stabilization {
		switch {
		case res.Replies > 0:
			res.Status = Fail
			if count(w.acks) > 0 {
				res.Status = Success
			}
		case expired:
			res.Status = Fail
		}
		return res
	}

	if !ready(res.Replies, len(w.Replicas), expired) {
		return res
	}
	res.Status = Fail
	if count(w.acks) >= Required {
		res.Status = Success
	}
	return res
}

// majority returns the first value agreed on by two replicas, pairs
// taken in role order. An empty value never forms a majority.
func majority(replied []bool, values []string) (string, bool) {
	for i := 0; i < len(values); i++ {
		if !replied[i] || values[i] == "" {
			continue
		}
		for j := i + 1; j < len(values); j++ {
			if replied[j] && values[j] == values[i] {
				return values[i], true
			}
		}
	}
	return "", false
}

func count(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
