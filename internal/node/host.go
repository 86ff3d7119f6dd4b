package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/danmuck/dronenet/internal/fragment"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/protocol"
)

var ErrHostRelay = errors.New("node: hosts do not relay packets")

// Application is the role-specific half of a host.
type Application interface {
	// Deliver receives a fully reassembled message.
	Deliver(ctx context.Context, from network.NodeID, msg protocol.Message) error
	// Undeliverable reports a message the network could not carry.
	Undeliverable(ctx context.Context, to network.NodeID, msg protocol.Message, reason string)
	// HandleCommand receives role commands the host does not handle itself.
	HandleCommand(ctx context.Context, cmd Command) error
}

type waitingMessage struct {
	to       network.NodeID
	msg      protocol.Message
	queuedAt time.Time
}

type sentSession struct {
	to  network.NodeID
	msg protocol.Message
}

// Host is the plumbing shared by clients and servers: source routing,
// reassembly, acknowledgement, retransmission and flood discovery.
type Host struct {
	*Base
	app       Application
	cfg       HostConfig
	router    *Router
	assembler *fragment.Assembler
	outbox    *Outbox
	sessions  *Sequence
	floods    *Sequence
	rng       *rand.Rand
	now       func() time.Time

	lastFlood time.Time
	waiting   []waitingMessage
	sent      map[uint64]sentSession
}

func NewHost(id network.NodeID, typ network.NodeType, ch Channels, cfg HostConfig, app Application) *Host {
	h := &Host{
		Base:      NewBase(id, typ, ch),
		app:       app,
		cfg:       cfg.WithDefaults(),
		router:    NewRouter(id, typ),
		assembler: fragment.NewAssembler(),
		outbox:    NewOutbox(),
		sessions:  NewSequence(id),
		floods:    NewSequence(id),
		rng:       rand.New(rand.NewSource(int64(id) + 1)),
		now:       time.Now,
		sent:      make(map[uint64]sentSession),
	}
	for _, n := range h.NeighbourIDs() {
		h.router.AddNeighbour(n)
	}
	return h
}

// Run drives the host until ctx ends.
func (h *Host) Run(ctx context.Context) error {
	return h.Loop(ctx, h, h.cfg.TickInterval)
}

func (h *Host) Router() *Router {
	return h.router
}

func (h *Host) Outbox() *Outbox {
	return h.outbox
}

// Waiting returns the number of messages queued for a route.
func (h *Host) Waiting() int {
	return len(h.waiting)
}

func (h *Host) peerType() network.NodeType {
	if h.Type() == network.Server {
		return network.Client
	}
	return network.Server
}

func (h *Host) HandleCommand(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case AddSender:
		h.router.AddNeighbour(c.ID)
		h.flushRoutes(ctx)
		return nil
	case RemoveSender:
		h.router.RemoveNeighbour(c.ID)
		return nil
	case ControllerShortcut:
		return h.HandlePacket(ctx, c.Packet)
	case RequestNetworkDiscovery:
		return h.Discover(ctx, true)
	default:
		return h.app.HandleCommand(ctx, cmd)
	}
}

func (h *Host) HandlePacket(ctx context.Context, p packet.Packet) error {
	if req, ok := p.Body.(packet.FloodRequest); ok {
		return h.handleFloodRequest(ctx, p, req)
	}
	if cur, ok := p.Header.Current(); !ok || cur != h.ID() {
		return fmt.Errorf("%w: %s", ErrWrongRecipient, p)
	}
	if !p.Header.IsLast() {
		return fmt.Errorf("%w: %s", ErrHostRelay, p)
	}

	switch body := p.Body.(type) {
	case packet.Fragment:
		return h.handleFragment(ctx, p, body)
	case packet.Ack:
		h.outbox.Remove(FragmentKey{SessionID: p.SessionID, Index: body.FragmentIndex})
		if h.outbox.SessionDone(p.SessionID) {
			delete(h.sent, p.SessionID)
		}
		return nil
	case packet.Nack:
		return h.handleNack(ctx, p, body)
	case packet.FloodResponse:
		h.router.Learn(body.PathTrace)
		h.flushRoutes(ctx)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrWrongRecipient, p)
	}
}

// Send routes msg to dst, queueing it behind a discovery when no route is
// known yet.
func (h *Host) Send(ctx context.Context, to network.NodeID, msg protocol.Message) error {
	route, ok := h.router.RouteTo(to)
	if !ok {
		h.waiting = append(h.waiting, waitingMessage{to: to, msg: msg, queuedAt: h.now()})
		h.Logger().Debug().Uint8("to", uint8(to)).Msg("node.Host.Send waiting for route")
		return h.Discover(ctx, false)
	}
	return h.sendRoute(ctx, to, msg, route)
}

func (h *Host) sendRoute(ctx context.Context, to network.NodeID, msg protocol.Message, route []network.NodeID) error {
	sid := h.sessions.Next()
	pkts, err := fragment.Fragment(msg, route, sid)
	if err != nil {
		return err
	}
	h.sent[sid] = sentSession{to: to, msg: msg}
	h.Emit(ctx, Route{Node: h.ID(), SessionID: sid, Hops: slices.Clone(route)})

	now := h.now()
	for _, p := range pkts {
		h.outbox.Upsert(PendingFragment{Packet: p, Destination: to, QueuedAt: now})
	}
	for _, p := range pkts {
		f := p.Body.(packet.Fragment)
		if err := h.transmit(ctx, FragmentKey{SessionID: sid, Index: f.Index}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) transmit(ctx context.Context, key FragmentKey) error {
	item, ok := h.outbox.MarkAttempt(key, h.now(), "")
	if !ok {
		return nil
	}
	err := h.Forward(ctx, item.Packet)
	if err == nil || !errors.Is(err, ErrNoNeighbour) {
		return err
	}
	// the first hop is gone; park until a new route is learned
	if next, ok := item.Packet.Header.Next(); ok {
		h.router.Forget(h.ID(), next)
	}
	h.outbox.Update(key, func(it *PendingFragment) {
		it.NeedsRoute = true
		it.LastError = err.Error()
	})
	return h.Discover(ctx, false)
}

func (h *Host) handleFragment(ctx context.Context, p packet.Packet, f packet.Fragment) error {
	source, _ := p.Header.Source()
	if err := h.Forward(ctx, packet.NewAck(p.SessionID, p.Header, f.Index)); err != nil {
		h.Logger().Warn().Err(err).Uint64("session", p.SessionID).Msg("node.Host.handleFragment ack")
	}

	data, done, err := h.assembler.Accept(source, p.SessionID, f)
	if err != nil || !done {
		return err
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("session %d from %d: %w", p.SessionID, source, err)
	}
	h.router.LearnPath(p.Header.Hops, h.peerType())
	return h.app.Deliver(ctx, source, msg)
}

func (h *Host) handleNack(ctx context.Context, p packet.Packet, nack packet.Nack) error {
	key := FragmentKey{SessionID: p.SessionID, Index: nack.FragmentIndex}
	item, ok := h.outbox.Get(key)
	if !ok {
		return nil
	}
	reporter, _ := p.Header.Source()
	h.Logger().Debug().
		Str("nack", nack.Type.String()).
		Uint8("reporter", uint8(reporter)).
		Uint64("session", key.SessionID).
		Uint64("fragment", key.Index).
		Msg("node.Host.handleNack")

	switch nack.Type {
	case packet.Dropped:
		if item.Attempts >= h.cfg.MaxAttempts {
			h.abandon(ctx, key.SessionID, fmt.Sprintf("fragment %d dropped %d times", key.Index, item.Attempts))
			return nil
		}
		delay := NextBackoffDelay(h.cfg.Backoff, item.Attempts, h.rng)
		h.outbox.Update(key, func(it *PendingFragment) {
			it.NextAttemptAt = h.now().Add(delay)
			it.LastError = fmt.Sprintf("dropped by %d", reporter)
		})
		return nil
	case packet.ErrorInRouting:
		if nack.Node == reporter {
			// the reporter itself is going away
			h.router.ForgetNode(reporter)
		} else {
			h.router.Forget(reporter, nack.Node)
		}
		return h.reroute(ctx, key, fmt.Sprintf("no link %d->%d", reporter, nack.Node))
	case packet.UnexpectedRecipient:
		return h.reroute(ctx, key, fmt.Sprintf("unexpected recipient %d", nack.Node))
	default:
		h.abandon(ctx, key.SessionID, fmt.Sprintf("nack %s from %d", nack.Type, reporter))
		return nil
	}
}

func (h *Host) reroute(ctx context.Context, key FragmentKey, reason string) error {
	item, ok := h.outbox.Get(key)
	if !ok {
		return nil
	}
	if item.Attempts >= h.cfg.MaxAttempts {
		h.abandon(ctx, key.SessionID, reason)
		return nil
	}
	route, ok := h.router.RouteTo(item.Destination)
	if !ok {
		h.outbox.Update(key, func(it *PendingFragment) {
			it.NeedsRoute = true
			it.LastError = reason
		})
		return h.Discover(ctx, false)
	}
	p := item.Packet
	p.Header = network.NewRoute(route)
	h.outbox.Update(key, func(it *PendingFragment) { it.Packet = p })
	h.Emit(ctx, Route{Node: h.ID(), SessionID: key.SessionID, Hops: slices.Clone(route)})
	return h.transmit(ctx, key)
}

func (h *Host) abandon(ctx context.Context, sid uint64, reason string) {
	h.outbox.RemoveSession(sid)
	s, ok := h.sent[sid]
	delete(h.sent, sid)
	h.Logger().Warn().Uint64("session", sid).Str("reason", reason).Msg("node.Host.abandon")
	h.Emit(ctx, Error{Node: h.ID(), Description: fmt.Sprintf("session %d abandoned: %s", sid, reason)})
	if ok {
		h.app.Undeliverable(ctx, s.to, s.msg, reason)
	}
}

// flushRoutes sends queued messages and parked fragments that now have a
// route.
func (h *Host) flushRoutes(ctx context.Context) {
	waiting := h.waiting
	h.waiting = nil
	for _, w := range waiting {
		route, ok := h.router.RouteTo(w.to)
		if !ok {
			h.waiting = append(h.waiting, w)
			continue
		}
		if err := h.sendRoute(ctx, w.to, w.msg, route); err != nil {
			h.Logger().Warn().Err(err).Msg("node.Host.flushRoutes")
		}
	}
	for _, item := range h.outbox.AwaitingRoute() {
		if _, ok := h.router.RouteTo(item.Destination); !ok {
			continue
		}
		if err := h.reroute(ctx, item.Key(), item.LastError); err != nil {
			h.Logger().Warn().Err(err).Msg("node.Host.flushRoutes")
		}
	}
}

// Discover floods a FloodRequest to every neighbour. Unless force is set,
// floods closer together than DiscoveryInterval are skipped.
func (h *Host) Discover(ctx context.Context, force bool) error {
	now := h.now()
	if !force && !h.lastFlood.IsZero() && now.Sub(h.lastFlood) < h.cfg.DiscoveryInterval {
		return nil
	}
	h.lastFlood = now
	id := h.floods.Next()
	for _, n := range h.NeighbourIDs() {
		req := packet.FloodRequest{
			FloodID:   id,
			Initiator: h.ID(),
			PathTrace: []packet.Hop{{ID: h.ID(), Type: h.Type()}},
		}
		p := packet.Packet{
			SessionID: id,
			Header:    network.SourceRoutingHeader{Hops: []network.NodeID{h.ID(), n}, HopIndex: 1},
			Body:      req,
		}
		if err := h.Deliver(ctx, n, p); err != nil {
			return err
		}
	}
	h.Logger().Debug().Uint64("flood", id).Msg("node.Host.Discover")
	return nil
}

func (h *Host) handleFloodRequest(ctx context.Context, p packet.Packet, req packet.FloodRequest) error {
	trace := append(slices.Clone(req.PathTrace), packet.Hop{ID: h.ID(), Type: h.Type()})
	h.router.Learn(trace)
	if req.Initiator == h.ID() {
		h.flushRoutes(ctx)
		return nil
	}
	route := packet.TraceRoute(trace)
	slices.Reverse(route)
	resp := packet.Packet{
		SessionID: p.SessionID,
		Header:    network.NewRoute(route),
		Body:      packet.FloodResponse{FloodID: req.FloodID, PathTrace: trace},
	}
	return h.Forward(ctx, resp)
}

// Tick retransmits due fragments, expires messages that never found a
// route and re-floods while anything is waiting.
func (h *Host) Tick(ctx context.Context, now time.Time) error {
	abandoned := make(map[uint64]struct{})
	for _, item := range h.outbox.Due(now, h.cfg.AckTimeout) {
		key := item.Key()
		if _, gone := abandoned[key.SessionID]; gone {
			continue
		}
		switch {
		case item.Attempts >= h.cfg.MaxAttempts:
			abandoned[key.SessionID] = struct{}{}
			h.abandon(ctx, key.SessionID, fmt.Sprintf("fragment %d unacknowledged after %d attempts", key.Index, item.Attempts))
		case item.NextAttemptAt.IsZero():
			if err := h.reroute(ctx, key, "ack timeout"); err != nil {
				return err
			}
		default:
			if err := h.transmit(ctx, key); err != nil {
				return err
			}
		}
	}

	kept := h.waiting[:0]
	for _, w := range h.waiting {
		if now.Sub(w.queuedAt) >= h.cfg.RouteTimeout {
			h.Emit(ctx, Error{Node: h.ID(), Description: fmt.Sprintf("no route to %d", w.to)})
			h.app.Undeliverable(ctx, w.to, w.msg, fmt.Sprintf("no route to %d", w.to))
			continue
		}
		kept = append(kept, w)
	}
	h.waiting = kept

	parked := h.outbox.AwaitingRoute()
	for _, item := range parked {
		sid := item.Key().SessionID
		if _, gone := abandoned[sid]; gone {
			continue
		}
		if now.Sub(item.LastAttemptAt) >= h.cfg.RouteTimeout {
			abandoned[sid] = struct{}{}
			h.abandon(ctx, sid, fmt.Sprintf("no route to %d", item.Destination))
		}
	}
	if len(h.waiting) > 0 || len(parked) > 0 {
		if err := h.Discover(ctx, false); err != nil {
			return err
		}
	}
	if h.cfg.ReassemblyTimeout > 0 {
		if n := h.assembler.EvictOlderThan(now.Add(-h.cfg.ReassemblyTimeout)); n > 0 {
			h.Logger().Debug().Int("sessions", n).Msg("node.Host.Tick evicted stale reassembly")
		}
	}
	return nil
}
