package topology

import (
	"slices"

	"github.com/danmuck/dronenet/internal/network"
)

// Graph is an adjacency view over a set of typed nodes. Graphs returned by
// Validate are rebuilt from the roster on every pass and must not be
// mutated by callers.
type Graph struct {
	types map[network.NodeID]network.NodeType
	adj   map[network.NodeID]map[network.NodeID]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		types: make(map[network.NodeID]network.NodeType),
		adj:   make(map[network.NodeID]map[network.NodeID]struct{}),
	}
}

// Build derives the directed adjacency recorded by r without validating it.
func Build(r Roster) *Graph {
	g := NewGraph()
	for _, d := range r.nodes {
		g.SetType(d.ID, d.Type)
		for _, n := range d.Neighbours {
			g.link(d.ID, n)
		}
	}
	return g
}

// SetType records a node. Known edges are kept.
func (g *Graph) SetType(id network.NodeID, t network.NodeType) {
	g.types[id] = t
	if _, ok := g.adj[id]; !ok {
		g.adj[id] = make(map[network.NodeID]struct{})
	}
}

// Connect records the undirected edge a-b.
func (g *Graph) Connect(a, b network.NodeID) {
	g.link(a, b)
	g.link(b, a)
}

// Disconnect removes both directions of a-b.
func (g *Graph) Disconnect(a, b network.NodeID) {
	delete(g.adj[a], b)
	delete(g.adj[b], a)
}

// Remove drops a node and its edges.
func (g *Graph) Remove(id network.NodeID) {
	for n := range g.adj[id] {
		delete(g.adj[n], id)
	}
	delete(g.adj, id)
	delete(g.types, id)
}

func (g *Graph) link(a, b network.NodeID) {
	set, ok := g.adj[a]
	if !ok {
		set = make(map[network.NodeID]struct{})
		g.adj[a] = set
	}
	set[b] = struct{}{}
}

// Type returns the recorded role of id.
func (g *Graph) Type(id network.NodeID) (network.NodeType, bool) {
	t, ok := g.types[id]
	return t, ok
}

// Nodes returns typed node ids in ascending order.
func (g *Graph) Nodes() []network.NodeID {
	out := make([]network.NodeID, 0, len(g.types))
	for id := range g.types {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Neighbours returns the ids id points at, ascending.
func (g *Graph) Neighbours(id network.NodeID) []network.NodeID {
	out := make([]network.NodeID, 0, len(g.adj[id]))
	for n := range g.adj[id] {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (g *Graph) HasEdge(a, b network.NodeID) bool {
	_, ok := g.adj[a][b]
	return ok
}

// Edges returns every undirected edge once as (low, high), sorted.
func (g *Graph) Edges() [][2]network.NodeID {
	var out [][2]network.NodeID
	for _, a := range g.Nodes() {
		for _, b := range g.Neighbours(a) {
			if a < b {
				out = append(out, [2]network.NodeID{a, b})
			}
		}
	}
	return out
}

// Reachable returns the set of nodes visited by a depth-first walk from
// start. The walk uses an explicit stack.
func (g *Graph) Reachable(start network.NodeID) map[network.NodeID]struct{} {
	visited := make(map[network.NodeID]struct{})
	stack := []network.NodeID{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		for n := range g.adj[cur] {
			if _, seen := visited[n]; !seen {
				stack = append(stack, n)
			}
		}
	}
	return visited
}

// ShortestPath returns the fewest-hop path from -> to, both ends included.
// Intermediate hops must satisfy transit; a nil transit admits any node.
// Neighbours are explored in ascending id order so ties resolve
// deterministically.
func (g *Graph) ShortestPath(from, to network.NodeID, transit func(network.NodeID) bool) ([]network.NodeID, bool) {
	if _, ok := g.adj[from]; !ok {
		return nil, false
	}
	if from == to {
		return []network.NodeID{from}, true
	}
	prev := map[network.NodeID]network.NodeID{from: from}
	queue := []network.NodeID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbours(cur) {
			if _, seen := prev[n]; seen {
				continue
			}
			if n == to {
				prev[n] = cur
				return walkBack(prev, from, to), true
			}
			if transit != nil && !transit(n) {
				continue
			}
			prev[n] = cur
			queue = append(queue, n)
		}
	}
	return nil, false
}

func walkBack(prev map[network.NodeID]network.NodeID, from, to network.NodeID) []network.NodeID {
	path := []network.NodeID{to}
	for cur := to; cur != from; {
		cur = prev[cur]
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

// DronesOnly is a transit predicate admitting only drones.
func (g *Graph) DronesOnly(id network.NodeID) bool {
	t, ok := g.types[id]
	return ok && t == network.Drone
}
