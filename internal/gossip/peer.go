package gossip

import (
	"sort"

	"ringkv/internal/address"
)

// MemberStatus represents the state of a cluster member.
type MemberStatus uint8

const (
	Alive MemberStatus = iota
	Suspect
	Dead
)

// String returns the string representation of MemberStatus.
func (s MemberStatus) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

func (s MemberStatus) valid() bool {
	return s <= Dead
}

// Peer is the local view of one remote member.
type Peer struct {
	Addr address.Address
	// Heartbeat is the counter reported by the peer itself.
	Heartbeat int64
	// LocalHeartbeat is our own heartbeat when the record last changed.
	LocalHeartbeat int64
	Status         MemberStatus
	// UpdatedAt is the tick of the last heartbeat increase.
	UpdatedAt int64
	// DiedAt is the tick the peer was marked DEAD.
	DiedAt int64

	// rounds left before the next indirect probe while SUSPECT
	probeCountdown int
}

// PeerSet is a table of peers ordered by address.
type PeerSet struct {
	peers []*Peer
}

func (s *PeerSet) search(a address.Address) (int, bool) {
	i := sort.Search(len(s.peers), func(i int) bool {
		return s.peers[i].Addr.Compare(a) >= 0
	})
	return i, i < len(s.peers) && s.peers[i].Addr == a
}

// Len returns the number of peers.
func (s *PeerSet) Len() int {
	return len(s.peers)
}

// Get returns the peer with address a, or nil.
func (s *PeerSet) Get(a address.Address) *Peer {
	if i, ok := s.search(a); ok {
		return s.peers[i]
	}
	return nil
}

// Insert adds p unless a peer with the same address exists.
// It reports whether p was added.
func (s *PeerSet) Insert(p *Peer) bool {
	i, ok := s.search(p.Addr)
	if ok {
		return false
	}
	s.peers = append(s.peers, nil)
	copy(s.peers[i+1:], s.peers[i:])
	s.peers[i] = p
	return true
}

// Remove deletes the peer with address a.
func (s *PeerSet) Remove(a address.Address) bool {
	i, ok := s.search(a)
	if !ok {
		return false
	}
	s.peers = append(s.peers[:i], s.peers[i+1:]...)
	return true
}

// Successor returns the first peer ordered after a, wrapping around.
// a does not need to be in the set.
func (s *PeerSet) Successor(a address.Address) *Peer {
	if len(s.peers) == 0 {
		return nil
	}
	i, ok := s.search(a)
	if ok {
		i++
	}
	return s.peers[i%len(s.peers)]
}

// Predecessor returns the last peer ordered before a, wrapping around.
func (s *PeerSet) Predecessor(a address.Address) *Peer {
	if len(s.peers) == 0 {
		return nil
	}
	i, _ := s.search(a)
	return s.peers[(i-1+len(s.peers))%len(s.peers)]
}

// All returns the peers in address order. The slice is a copy; the
// peers are not.
func (s *PeerSet) All() []*Peer {
	return append([]*Peer(nil), s.peers...)
}
