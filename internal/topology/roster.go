package topology

import (
	"fmt"
	"slices"

	"github.com/danmuck/dronenet/internal/network"
)

// Descriptor is one node entry of the roster.
type Descriptor struct {
	ID         network.NodeID
	Type       network.NodeType
	Neighbours []network.NodeID

	// role details; zero when not applicable
	PDR        float64
	Impl       string // drone implementation, empty for the reference relay
	ClientKind network.ClientKind
	ServerKind network.ServerKind
}

func (d Descriptor) clone() Descriptor {
	d.Neighbours = slices.Clone(d.Neighbours)
	return d
}

// HasNeighbour reports whether id is listed as a neighbour.
func (d Descriptor) HasNeighbour(id network.NodeID) bool {
	return slices.Contains(d.Neighbours, id)
}

// Roster is an ordered, immutable list of node descriptors. Mutations return
// a new roster; the receiver is never changed.
type Roster struct {
	nodes []Descriptor
}

func NewRoster(nodes ...Descriptor) Roster {
	out := Roster{nodes: make([]Descriptor, 0, len(nodes))}
	for _, d := range nodes {
		out.nodes = append(out.nodes, d.clone())
	}
	return out
}

func (r Roster) Len() int {
	return len(r.nodes)
}

// Nodes returns a copy of the descriptors in roster order.
func (r Roster) Nodes() []Descriptor {
	out := make([]Descriptor, len(r.nodes))
	for i, d := range r.nodes {
		out[i] = d.clone()
	}
	return out
}

// Get returns the first descriptor with id.
func (r Roster) Get(id network.NodeID) (Descriptor, bool) {
	i := r.index(id)
	if i < 0 {
		return Descriptor{}, false
	}
	return r.nodes[i].clone(), true
}

// IDs returns node ids in ascending order.
func (r Roster) IDs() []network.NodeID {
	out := make([]network.NodeID, 0, len(r.nodes))
	for _, d := range r.nodes {
		out = append(out, d.ID)
	}
	slices.Sort(out)
	return out
}

func (r Roster) Clone() Roster {
	return NewRoster(r.nodes...)
}

func (r Roster) index(id network.NodeID) int {
	return slices.IndexFunc(r.nodes, func(d Descriptor) bool { return d.ID == id })
}

// AddNode appends d and links every listed neighbour back to it.
func (r Roster) AddNode(d Descriptor) (Roster, error) {
	if r.index(d.ID) >= 0 {
		return r, fmt.Errorf("%w: %d", ErrDuplicateNode, d.ID)
	}
	out := r.Clone()
	out.nodes = append(out.nodes, d.clone())
	for _, n := range d.Neighbours {
		if i := out.index(n); i >= 0 && !out.nodes[i].HasNeighbour(d.ID) {
			out.nodes[i].Neighbours = append(out.nodes[i].Neighbours, d.ID)
		}
	}
	return out, nil
}

// RemoveNode drops id and every edge pointing at it.
func (r Roster) RemoveNode(id network.NodeID) (Roster, error) {
	i := r.index(id)
	if i < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	out := r.Clone()
	out.nodes = slices.Delete(out.nodes, i, i+1)
	for j := range out.nodes {
		out.nodes[j].Neighbours = slices.DeleteFunc(out.nodes[j].Neighbours, func(n network.NodeID) bool {
			return n == id
		})
	}
	return out, nil
}

// AddEdge records a and b as mutual neighbours.
func (r Roster) AddEdge(a, b network.NodeID) (Roster, error) {
	if a == b {
		return r, fmt.Errorf("%w: %d", ErrSelfLoop, a)
	}
	ia, ib := r.index(a), r.index(b)
	if ia < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	if ib < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	out := r.Clone()
	if !out.nodes[ia].HasNeighbour(b) {
		out.nodes[ia].Neighbours = append(out.nodes[ia].Neighbours, b)
	}
	if !out.nodes[ib].HasNeighbour(a) {
		out.nodes[ib].Neighbours = append(out.nodes[ib].Neighbours, a)
	}
	return out, nil
}

// RemoveEdge drops both directions of the edge between a and b.
func (r Roster) RemoveEdge(a, b network.NodeID) (Roster, error) {
	ia, ib := r.index(a), r.index(b)
	if ia < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	if ib < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	out := r.Clone()
	out.nodes[ia].Neighbours = slices.DeleteFunc(out.nodes[ia].Neighbours, func(n network.NodeID) bool { return n == b })
	out.nodes[ib].Neighbours = slices.DeleteFunc(out.nodes[ib].Neighbours, func(n network.NodeID) bool { return n == a })
	return out, nil
}

// SetPDR updates the drop rate recorded for a drone.
func (r Roster) SetPDR(id network.NodeID, pdr float64) (Roster, error) {
	i := r.index(id)
	if i < 0 {
		return r, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	out := r.Clone()
	out.nodes[i].PDR = pdr
	return out, nil
}
