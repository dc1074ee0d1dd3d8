package ring

import (
	"fmt"
	"testing"

	"ringkv/internal/address"
)

func members(n int) []address.Address {
	out := make([]address.Address, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, address.FromID(uint32(i), 0))
	}
	return out
}

func testKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	return keys
}

func TestRing_TooFewMembers(t *testing.T) {
	for n := 0; n < ReplicationFactor; n++ {
		r := NewRing(64)
		r.SetNodes(members(n))
		if got := r.PreferenceList("a"); len(got) != 0 {
			t.Errorf("%d members: expected no placement, got %v", n, got)
		}
		if _, ok := r.ResponsibleNode("a"); ok {
			t.Errorf("%d members: expected no responsible node", n)
		}
	}
}

func TestRing_Determinism(t *testing.T) {
	forward := members(6)
	backward := make([]address.Address, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		backward = append(backward, forward[i])
	}

	ring1 := NewRing(64)
	ring1.SetNodes(forward)
	ring2 := NewRing(64)
	ring2.SetNodes(append(backward, forward[0])) // duplicates are ignored

	if !ring1.Equal(ring2) {
		t.Fatal("Expected the same ring regardless of member order")
	}
	for _, key := range testKeys(200) {
		a, b := ring1.PreferenceList(key), ring2.PreferenceList(key)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("Determinism failed for key %s: %v != %v", key, a, b)
			}
		}
	}
}

func TestRing_ThreeDistinctReplicas(t *testing.T) {
	for _, n := range []int{3, 4, 10} {
		r := NewRing(64)
		r.SetNodes(members(n))
		for _, key := range testKeys(100) {
			replicas := r.PreferenceList(key)
			if len(replicas) != ReplicationFactor {
				t.Fatalf("%d members: expected 3 replicas for %s, got %d", n, key, len(replicas))
			}
			seen := map[address.Address]bool{}
			for _, node := range replicas {
				if seen[node.Addr] {
					t.Fatalf("%d members: duplicate replica %s for %s", n, node.Addr, key)
				}
				seen[node.Addr] = true
			}
		}
	}
}

func TestRing_PlacementRule(t *testing.T) {
	r := NewRing(512)
	r.SetNodes(members(8))
	nodes := r.Nodes()

	for _, key := range testKeys(500) {
		pos := r.Hash(key)

		want := 0
		if pos > nodes[0].Hash {
			for i := 1; i < len(nodes); i++ {
				if pos <= nodes[i].Hash {
					want = i
					break
				}
			}
		}

		got := r.PreferenceList(key)
		for role := 0; role < ReplicationFactor; role++ {
			if got[role] != nodes[(want+role)%len(nodes)] {
				t.Fatalf("Key %s at %d: role %d expected %v, got %v", key, pos, role, nodes[(want+role)%len(nodes)], got[role])
			}
		}
		if primary, _ := r.ResponsibleNode(key); primary != got[0] {
			t.Errorf("ResponsibleNode disagrees with PreferenceList for %s", key)
		}
	}
}

func TestRing_OrderWithCollisions(t *testing.T) {
	r := NewRing(3) // ten members on three positions must collide
	r.SetNodes(members(10))
	nodes := r.Nodes()

	for i := 1; i < len(nodes); i++ {
		prev, cur := nodes[i-1], nodes[i]
		if prev.Hash > cur.Hash || (prev.Hash == cur.Hash && prev.Addr.Compare(cur.Addr) >= 0) {
			t.Errorf("Ring not ordered by (hash, address) at %d: %v then %v", i, prev, cur)
		}
	}
}

func TestRing_NodeRemoval_OnlyMovesAffectedKeys(t *testing.T) {
	all := members(6)
	before := NewRing(512)
	before.SetNodes(all)

	removed := all[2]
	after := NewRing(512)
	after.SetNodes(append(append([]address.Address{}, all[:2]...), all[3:]...))

	if after.Contains(removed) || !before.Contains(removed) {
		t.Fatal("Contains disagrees with membership")
	}
	for _, key := range testKeys(300) {
		if before.IsReplica(key, removed) {
			continue
		}
		a, b := before.PreferenceList(key), after.PreferenceList(key)
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("Key %s moved although %s was not a replica: %v -> %v", key, removed, a, b)
				break
			}
		}
	}
}
