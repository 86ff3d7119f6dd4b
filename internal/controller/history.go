package controller

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
)

const maxDetail = 256

// EventRecord is the admin-facing form of a node event.
type EventRecord struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Node   int       `json:"node"`
	Role   string    `json:"role"`
	Name   string    `json:"name"`
	Detail string    `json:"detail,omitempty"`
}

// NodeView describes one node for the admin surface. Ids are ints so JSON
// renders arrays rather than base64.
type NodeView struct {
	ID         int     `json:"id"`
	Type       string  `json:"type"`
	Kind       string  `json:"kind,omitempty"`
	Neighbours []int   `json:"neighbours"`
	PDR        float64 `json:"pdr,omitempty"`
	Impl       string  `json:"impl,omitempty"`
	Crashed    bool    `json:"crashed,omitempty"`
}

// TopologyView is a point-in-time snapshot of the roster.
type TopologyView struct {
	State string     `json:"state"`
	Error string     `json:"error,omitempty"`
	Nodes []NodeView `json:"nodes"`
	Edges [][2]int   `json:"edges"`
}

func (c *Controller) record(ev node.Event) {
	detail := describe(ev)
	if len(detail) > maxDetail {
		detail = detail[:maxDetail] + "..."
	}
	c.histMu.Lock()
	defer c.histMu.Unlock()
	var seq uint64 = 1
	if n := len(c.history); n > 0 {
		seq = c.history[n-1].Seq + 1
	}
	c.history = append(c.history, EventRecord{
		Seq:    seq,
		At:     time.Now().UTC(),
		Node:   int(ev.Source()),
		Role:   c.types[ev.Source()].String(),
		Name:   ev.Name(),
		Detail: detail,
	})
	if over := len(c.history) - c.opts.History; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

func describe(ev node.Event) string {
	switch e := ev.(type) {
	case node.PacketSent:
		return e.Packet.String()
	case node.PacketDropped:
		return e.Packet.String()
	case node.ShortcutRequested:
		return e.Packet.String()
	case node.Error:
		return e.Description
	case node.DebugMessage:
		return e.Text
	case node.Route:
		return fmt.Sprintf("session=%d hops=%v", e.SessionID, e.Hops)
	case node.FileReceived:
		return fmt.Sprintf("server=%d file=%s bytes=%d", e.Server, e.FileID, len(e.Content))
	case node.MediaReceived:
		return fmt.Sprintf("server=%d media=%s bytes=%d", e.Server, e.MediaID, len(e.Data))
	case node.ChatMessageReceived:
		return fmt.Sprintf("server=%d from=%d text=%q", e.Server, e.From, e.Text)
	default:
		return fmt.Sprintf("%+v", ev)
	}
}

// Events returns up to limit of the most recent events, oldest first. A
// non-positive limit returns everything retained.
func (c *Controller) Events(limit int) []EventRecord {
	c.histMu.RLock()
	defer c.histMu.RUnlock()
	start := 0
	if limit > 0 && limit < len(c.history) {
		start = len(c.history) - limit
	}
	out := make([]EventRecord, len(c.history)-start)
	copy(out, c.history[start:])
	return out
}

// View snapshots the current roster and validator state.
func (c *Controller) View() TopologyView {
	c.mu.Lock()
	roster := c.roster.Clone()
	state, err := c.validator.State(), c.validator.Err()
	crashed := make(map[network.NodeID]bool, len(c.crashed))
	for id := range c.crashed {
		crashed[id] = true
	}
	c.mu.Unlock()

	view := TopologyView{State: state.String(), Edges: [][2]int{}}
	if err != nil {
		view.Error = err.Error()
	}
	for _, d := range roster.Nodes() {
		nv := NodeView{ID: int(d.ID), Type: d.Type.String(), Neighbours: make([]int, 0, len(d.Neighbours))}
		for _, n := range d.Neighbours {
			nv.Neighbours = append(nv.Neighbours, int(n))
			if d.ID < n {
				view.Edges = append(view.Edges, [2]int{int(d.ID), int(n)})
			}
		}
		switch d.Type {
		case network.Drone:
			nv.PDR = d.PDR
			nv.Impl = d.Impl
		case network.Client:
			nv.Kind = d.ClientKind.String()
		case network.Server:
			nv.Kind = d.ServerKind.String()
		}
		view.Nodes = append(view.Nodes, nv)
	}
	for id := range crashed {
		view.Nodes = append(view.Nodes, NodeView{ID: int(id), Type: network.Drone.String(), Neighbours: []int{}, Crashed: true})
	}
	slices.SortFunc(view.Nodes, func(a, b NodeView) int { return cmp.Compare(a.ID, b.ID) })
	return view
}
