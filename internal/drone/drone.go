// Package drone is the reference relay: it forwards packets along their
// source route, refuses misrouted ones with NACKs, drops fragments at a
// configurable rate and answers flood requests.
package drone

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/packet"
)

var ErrInvalidDropRate = errors.New("drone: drop rate outside [0, 1]")

type floodKey struct {
	initiator network.NodeID
	id        uint64
}

type Drone struct {
	*node.Base
	pdr  float64
	rng  *rand.Rand
	seen map[floodKey]struct{}
}

// New builds a drone. seed makes drop decisions reproducible.
func New(id network.NodeID, ch node.Channels, pdr float64, seed int64) (*Drone, error) {
	if pdr < 0 || pdr > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDropRate, pdr)
	}
	return &Drone{
		Base: node.NewBase(id, network.Drone, ch),
		pdr:  pdr,
		rng:  rand.New(rand.NewSource(seed)),
		seen: make(map[floodKey]struct{}),
	}, nil
}

func (d *Drone) Run(ctx context.Context) error {
	return d.Loop(ctx, d, 0)
}

func (d *Drone) PDR() float64 {
	return d.pdr
}

func (d *Drone) HandleCommand(ctx context.Context, cmd node.Command) error {
	switch c := cmd.(type) {
	case node.SetPacketDropRate:
		if c.PDR < 0 || c.PDR > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidDropRate, c.PDR)
		}
		d.pdr = c.PDR
		d.Logger().Info().Float64("pdr", c.PDR).Msg("drone.Drone.HandleCommand set_packet_drop_rate")
		return nil
	case node.Crash:
		d.crash(ctx)
		return node.ErrStopped
	case node.ControllerShortcut:
		return d.HandlePacket(ctx, c.Packet)
	case node.RequestNetworkDiscovery:
		d.Debugf(ctx, "drone %d neighbours %v", d.ID(), d.NeighbourIDs())
		return nil
	default:
		return nil
	}
}

func (d *Drone) HandlePacket(ctx context.Context, p packet.Packet) error {
	if req, ok := p.Body.(packet.FloodRequest); ok {
		return d.handleFlood(ctx, p, req)
	}

	if cur, ok := p.Header.Current(); !ok || cur != d.ID() {
		h := p.Header.Clone()
		if h.Validate() == nil {
			h.Hops[h.HopIndex] = d.ID()
		}
		return d.refuse(ctx, p, h, packet.UnexpectedRecipient, d.ID())
	}
	if p.Header.IsLast() {
		return d.refuse(ctx, p, p.Header, packet.DestinationIsDrone, d.ID())
	}
	next, _ := p.Header.Next()
	if !d.HasNeighbour(next) {
		return d.refuse(ctx, p, p.Header, packet.ErrorInRouting, next)
	}
	if p.Droppable() && d.pdr > 0 && d.rng.Float64() < d.pdr {
		d.Emit(ctx, node.PacketDropped{Node: d.ID(), Packet: p})
		return d.refuse(ctx, p, p.Header, packet.Dropped, d.ID())
	}
	return d.Forward(ctx, p)
}

// refuse answers a fragment with a NACK routed back along h. Control
// packets are never refused; they go to the controller instead.
func (d *Drone) refuse(ctx context.Context, p packet.Packet, h network.SourceRoutingHeader, typ packet.NackType, culprit network.NodeID) error {
	f, ok := p.Body.(packet.Fragment)
	if !ok {
		d.shortcut(ctx, p)
		return nil
	}
	nack := packet.NewNack(p.SessionID, h, packet.Nack{FragmentIndex: f.Index, Type: typ, Node: culprit})
	d.Logger().Debug().
		Str("nack", typ.String()).
		Uint64("session", p.SessionID).
		Uint64("fragment", f.Index).
		Msg("drone.Drone.refuse")
	if err := d.Forward(ctx, nack); err != nil {
		d.shortcut(ctx, nack)
	}
	return nil
}

func (d *Drone) shortcut(ctx context.Context, p packet.Packet) {
	d.Logger().Debug().Str("packet", p.String()).Msg("drone.Drone.shortcut")
	d.Emit(ctx, node.ShortcutRequested{Node: d.ID(), Packet: p})
}

// forwardControl sends a control packet onward, falling back to the
// controller when the next hop is missing.
func (d *Drone) forwardControl(ctx context.Context, p packet.Packet) {
	if err := d.Forward(ctx, p); err != nil {
		d.shortcut(ctx, p)
	}
}

func (d *Drone) handleFlood(ctx context.Context, p packet.Packet, req packet.FloodRequest) error {
	var sender network.NodeID
	if n := len(req.PathTrace); n > 0 {
		sender = req.PathTrace[n-1].ID
	}
	trace := append(slices.Clone(req.PathTrace), packet.Hop{ID: d.ID(), Type: network.Drone})

	key := floodKey{initiator: req.Initiator, id: req.FloodID}
	_, seen := d.seen[key]
	d.seen[key] = struct{}{}

	targets := slices.DeleteFunc(d.NeighbourIDs(), func(id network.NodeID) bool { return id == sender })
	if seen || len(targets) == 0 {
		route := packet.TraceRoute(trace)
		slices.Reverse(route)
		d.forwardControl(ctx, packet.Packet{
			SessionID: p.SessionID,
			Header:    network.NewRoute(route),
			Body:      packet.FloodResponse{FloodID: req.FloodID, PathTrace: trace},
		})
		return nil
	}

	for _, n := range targets {
		out := packet.Packet{
			SessionID: p.SessionID,
			Header:    network.SourceRoutingHeader{Hops: []network.NodeID{d.ID(), n}, HopIndex: 1},
			Body: packet.FloodRequest{
				FloodID:   req.FloodID,
				Initiator: req.Initiator,
				PathTrace: slices.Clone(trace),
			},
		}
		if err := d.Deliver(ctx, n, out); err != nil {
			return err
		}
	}
	return nil
}

// crash drains queued packets: fragments are refused, control packets
// still travel, flood requests are dropped.
func (d *Drone) crash(ctx context.Context) {
	d.Logger().Info().Msg("drone.Drone.crash")
	for {
		select {
		case p := <-d.Inbox():
			switch p.Body.(type) {
			case packet.Fragment:
				h := p.Header.Clone()
				if h.Validate() == nil {
					h.Hops[h.HopIndex] = d.ID()
				}
				_ = d.refuse(ctx, p, h, packet.ErrorInRouting, d.ID())
			case packet.FloodRequest:
			default:
				if cur, ok := p.Header.Current(); ok && cur == d.ID() && !p.Header.IsLast() {
					d.forwardControl(ctx, p)
					continue
				}
				d.shortcut(ctx, p)
			}
		default:
			return
		}
	}
}
