package repair

import (
	"slices"

	"ringkv/internal/address"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
)

// Push is a single-replica create that hands a key to a new replica.
type Push struct {
	Key   string
	Value string
	To    address.Address
}

// Plan is what a ring change asks of one node.
type Plan struct {
	Pushes []Push
	// Relinquished keys are no longer replicated here.
	Relinquished []string
	// Owned keys are still, or again, replicated here.
	Owned []string
}

// PlanStabilization compares each stored key's replica set on the old and
// new rings. For a key gaining replicas, the first old replica still on
// the new ring pushes it, so survivors do not all send the same create.
// When the old ring could not place keys, every holder pushes to the rest
// of the new set. Keys are visited in sorted order.
func PlanStabilization(store map[string]string, oldRing, newRing *ring.Ring, self address.Address) Plan {
	keys := make([]string, 0, len(store))
	for k := range store {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var plan Plan
	for _, key := range keys {
		newSet := replication.ReplicasForKey(newRing, key)
		if len(newSet) == 0 {
			// no placement; keep the data until the ring grows back
			continue
		}
		if !slices.Contains(newSet, self) {
			plan.Relinquished = append(plan.Relinquished, key)
		} else {
			plan.Owned = append(plan.Owned, key)
		}

		oldSet := replication.ReplicasForKey(oldRing, key)
		switch {
		case len(oldSet) == 0:
			// no old placement to compare against: every holder seeds the
			// whole new set, and creates at replicas that hold it already fail
			for _, a := range newSet {
				if a != self {
					plan.Pushes = append(plan.Pushes, Push{Key: key, Value: store[key], To: a})
				}
			}
		case pusher(oldSet, newRing) == self:
			for _, a := range newSet {
				if !slices.Contains(oldSet, a) {
					plan.Pushes = append(plan.Pushes, Push{Key: key, Value: store[key], To: a})
				}
			}
		}
	}
	return plan
}

func pusher(oldSet []address.Address, newRing *ring.Ring) address.Address {
	for _, a := range oldSet {
		if newRing.Contains(a) {
			return a
		}
	}
	return address.Zero
}

// TombstoneSchedule holds keys waiting for deletion and when they were marked.
type TombstoneSchedule struct {
	marked map[string]int64
}

// NewTombstoneSchedule creates an empty schedule.
func NewTombstoneSchedule() *TombstoneSchedule {
	return &TombstoneSchedule{marked: make(map[string]int64)}
}

// Mark schedules key for deletion. Marking an already scheduled key keeps
// its original time.
func (s *TombstoneSchedule) Mark(key string, now int64) bool {
	if _, ok := s.marked[key]; ok {
		return false
	}
	s.marked[key] = now
	return true
}

// Cancel removes key from the schedule.
func (s *TombstoneSchedule) Cancel(key string) bool {
	if _, ok := s.marked[key]; !ok {
		return false
	}
	delete(s.marked, key)
	return true
}

// Due removes and returns, in sorted order, every key marked more than
// grace ticks before now.
func (s *TombstoneSchedule) Due(now, grace int64) []string {
	var due []string
	for k, at := range s.marked {
		if now-at > grace {
			due = append(due, k)
			delete(s.marked, k)
		}
	}
	slices.Sort(due)
	return due
}

// Scheduled reports whether key is waiting for deletion.
func (s *TombstoneSchedule) Scheduled(key string) bool {
	_, ok := s.marked[key]
	return ok
}

// Len returns the number of scheduled keys.
func (s *TombstoneSchedule) Len() int {
	return len(s.marked)
}
