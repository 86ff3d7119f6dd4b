package topology

import (
	"fmt"
	"slices"

	"github.com/danmuck/dronenet/internal/network"
)

// Validate rebuilds the graph from r and checks, in order: role
// constraints, edge symmetry, connectivity. The first failure is returned.
func Validate(r Roster) (*Graph, error) {
	if len(r.nodes) == 0 {
		return nil, ErrEmptyRoster
	}
	types := make(map[network.NodeID]network.NodeType, len(r.nodes))
	for _, d := range r.nodes {
		if _, dup := types[d.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, d.ID)
		}
		types[d.ID] = d.Type
	}

	g := NewGraph()
	for _, d := range r.nodes {
		if err := checkRole(d, types); err != nil {
			return nil, err
		}
		g.SetType(d.ID, d.Type)
		for _, n := range d.Neighbours {
			g.link(d.ID, n)
		}
	}

	if err := checkSymmetric(g); err != nil {
		return nil, err
	}
	if err := checkConnected(g); err != nil {
		return nil, err
	}
	return g, nil
}

func checkRole(d Descriptor, types map[network.NodeID]network.NodeType) error {
	distinct := make(map[network.NodeID]struct{}, len(d.Neighbours))
	for _, n := range d.Neighbours {
		if n == d.ID {
			return fmt.Errorf("%w: %d", ErrSelfLoop, d.ID)
		}
		distinct[n] = struct{}{}
	}

	switch d.Type {
	case network.Drone:
		return nil
	case network.Server:
		if len(distinct) < 2 {
			return &ConnectionError{Node: d.ID, Type: d.Type,
				Reason: fmt.Sprintf("needs at least 2 neighbours, has %d", len(distinct))}
		}
	case network.Client:
		if len(distinct) < 1 || len(distinct) > 2 {
			return &ConnectionError{Node: d.ID, Type: d.Type,
				Reason: fmt.Sprintf("needs 1 or 2 neighbours, has %d", len(distinct))}
		}
	default:
		return fmt.Errorf("%w: node %d has %s", network.ErrUnknownType, d.ID, d.Type)
	}

	for _, n := range d.Neighbours {
		if t, ok := types[n]; !ok || t != network.Drone {
			return &ConnectionError{Node: d.ID, Type: d.Type,
				Reason: fmt.Sprintf("neighbour %d is not a drone", n)}
		}
	}
	return nil
}

func checkSymmetric(g *Graph) error {
	from := make([]network.NodeID, 0, len(g.adj))
	for a := range g.adj {
		from = append(from, a)
	}
	slices.Sort(from)
	for _, a := range from {
		for _, b := range g.Neighbours(a) {
			if !g.HasEdge(b, a) {
				return &NotBidirectionalError{A: a, B: b}
			}
		}
	}
	return nil
}

func checkConnected(g *Graph) error {
	nodes := g.Nodes()
	visited := g.Reachable(nodes[0])
	for _, id := range nodes {
		if _, ok := visited[id]; !ok {
			return fmt.Errorf("%w: node %d unreachable from %d", ErrNotConnected, id, nodes[0])
		}
	}
	return nil
}
