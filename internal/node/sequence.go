package node

import (
	"sync/atomic"

	"github.com/danmuck/dronenet/internal/network"
)

// Sequence allocates ids unique across the network: the owner id occupies
// the top byte, a counter the rest.
type Sequence struct {
	owner network.NodeID
	next  atomic.Uint64
}

func NewSequence(owner network.NodeID) *Sequence {
	return &Sequence{owner: owner}
}

func (s *Sequence) Next() uint64 {
	n := s.next.Add(1) & (1<<56 - 1)
	return uint64(s.owner)<<56 | n
}

// Owner extracts the allocating node from an id produced by Next.
func Owner(id uint64) network.NodeID {
	return network.NodeID(id >> 56)
}
