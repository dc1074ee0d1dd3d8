package ring

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"ringkv/internal/address"
)

// ReplicationFactor is the number of replicas of every key.
const ReplicationFactor = 3

// Node is a member's position on the ring.
type Node struct {
	Addr address.Address
	Hash uint64
}

// Ring maps keys to replica sets by consistent hashing. Each member
// occupies a single position, hash(address) mod size.
type Ring struct {
	mu    sync.RWMutex
	size  uint64
	nodes []Node
}

// NewRing creates an empty ring with size positions.
func NewRing(size uint64) *Ring {
	if size == 0 {
		size = 512 // default
	}
	return &Ring{size: size}
}

// Size returns the ring modulus.
func (r *Ring) Size() uint64 {
	return r.size
}

// Hash returns the ring position of key.
func (r *Ring) Hash(key string) uint64 {
	return xxhash.Sum64String(key) % r.size
}

// NodeHash returns the ring position of a member.
func (r *Ring) NodeHash(a address.Address) uint64 {
	return xxhash.Sum64(a[:]) % r.size
}

// SetNodes rebuilds the ring from members. Duplicates are ignored.
// Same members in any order produce the same ring.
func (r *Ring) SetNodes(members []address.Address) {
	seen := make(map[address.Address]bool, len(members))
	nodes := make([]Node, 0, len(members))
	for _, a := range members {
		if seen[a] {
			continue
		}
		seen[a] = true
		nodes = append(nodes, Node{Addr: a, Hash: r.NodeHash(a)})
	}

	// Sort by hash, address breaks ties
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Hash != nodes[j].Hash {
			return nodes[i].Hash < nodes[j].Hash
		}
		return nodes[i].Addr.Compare(nodes[j].Addr) < 0
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = nodes
}

// Len returns the number of members.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Nodes returns the members in ring order.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Node(nil), r.nodes...)
}

// Contains reports whether a is on the ring.
func (r *Ring) Contains(a address.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.nodes {
		if n.Addr == a {
			return true
		}
	}
	return false
}

// Equal reports whether both rings hold the same members at the same positions.
func (r *Ring) Equal(other *Ring) bool {
	if r == nil || other == nil {
		return r == other
	}
	a, b := r.Nodes(), other.Nodes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PreferenceList returns the replicas of key in role order: primary,
// secondary, tertiary. The primary is the first member at or after the
// key's position; positions at or before the first member and past the
// last one wrap to the start of the ring. With fewer than
// ReplicationFactor members no placement is possible and the result is empty.
func (r *Ring) PreferenceList(key string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.nodes)
	if n < ReplicationFactor {
		return []Node{}
	}

	pos := r.Hash(key)
	first := 0
	if pos > r.nodes[0].Hash && pos <= r.nodes[n-1].Hash {
		first = sort.Search(n, func(i int) bool {
			return r.nodes[i].Hash >= pos
		})
	}

	result := make([]Node, 0, ReplicationFactor)
	for i := 0; i < ReplicationFactor; i++ {
		result = append(result, r.nodes[(first+i)%n])
	}
	return result
}

// ResponsibleNode returns the primary replica of key.
// Returns (Node, true) if found, (Node{}, false) if no placement is possible.
func (r *Ring) ResponsibleNode(key string) (Node, bool) {
	replicas := r.PreferenceList(key)
	if len(replicas) == 0 {
		return Node{}, false
	}
	return replicas[0], true
}

// IsReplica reports whether a is one of key's replicas.
func (r *Ring) IsReplica(key string, a address.Address) bool {
	for _, n := range r.PreferenceList(key) {
		if n.Addr == a {
			return true
		}
	}
	return false
}
