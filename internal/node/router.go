package node

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/topology"
)

// Router is a host's view of the network, learned from flood traces and
// from the routes of received messages.
type Router struct {
	self  network.NodeID
	graph *topology.Graph
}

func NewRouter(self network.NodeID, typ network.NodeType) *Router {
	g := topology.NewGraph()
	g.SetType(self, typ)
	return &Router{self: self, graph: g}
}

// AddNeighbour links a direct neighbour. Hosts only neighbour drones.
func (r *Router) AddNeighbour(id network.NodeID) {
	r.ensure(id, network.Drone)
	r.graph.Connect(r.self, id)
}

func (r *Router) RemoveNeighbour(id network.NodeID) {
	r.graph.Disconnect(r.self, id)
}

// Learn records every consecutive pair of a flood trace as a link.
func (r *Router) Learn(trace []packet.Hop) {
	for i, h := range trace {
		r.graph.SetType(h.ID, h.Type)
		if i > 0 && trace[i-1].ID != h.ID {
			r.graph.Connect(trace[i-1].ID, h.ID)
		}
	}
}

// LearnPath records a route a message arrived on. Intermediate hops are
// drones; the first hop has type source.
func (r *Router) LearnPath(hops []network.NodeID, source network.NodeType) {
	for i, id := range hops {
		switch {
		case id == r.self:
		case i == 0:
			r.ensure(id, source)
		default:
			r.ensure(id, network.Drone)
		}
		if i > 0 && hops[i-1] != id {
			r.graph.Connect(hops[i-1], id)
		}
	}
}

// Forget drops the link a-b after a routing failure.
func (r *Router) Forget(a, b network.NodeID) {
	r.graph.Disconnect(a, b)
}

// ForgetNode drops id and every link it had.
func (r *Router) ForgetNode(id network.NodeID) {
	if id != r.self {
		r.graph.Remove(id)
	}
}

// RouteTo returns the shortest drone-only path to dst.
func (r *Router) RouteTo(dst network.NodeID) ([]network.NodeID, bool) {
	return r.graph.ShortestPath(r.self, dst, r.graph.DronesOnly)
}

// Known returns the learned nodes of type t, ascending.
func (r *Router) Known(t network.NodeType) []network.NodeID {
	var out []network.NodeID
	for _, id := range r.graph.Nodes() {
		if got, _ := r.graph.Type(id); got == t && id != r.self {
			out = append(out, id)
		}
	}
	return out
}

func (r *Router) Edges() [][2]network.NodeID {
	return r.graph.Edges()
}

func (r *Router) ensure(id network.NodeID, t network.NodeType) {
	if _, ok := r.graph.Type(id); !ok {
		r.graph.SetType(id, t)
	}
}
