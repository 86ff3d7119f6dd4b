package node

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/dronenet/internal/logging"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/rs/zerolog"
)

var (
	// ErrStopped ends the actor loop without reporting an error.
	ErrStopped            = errors.New("node: stopped")
	ErrNoNeighbour        = errors.New("node: next hop is not a neighbour")
	ErrWrongRecipient     = errors.New("node: packet not addressed to this node")
	ErrUnsupportedCommand = errors.New("node: command not supported by role")
	ErrNilChannel         = errors.New("node: nil sender channel")
)

// Channels wires a node to the controller and to its initial neighbours.
type Channels struct {
	Commands   <-chan Command
	Packets    <-chan packet.Packet
	Events     chan<- Event
	Neighbours map[network.NodeID]chan<- packet.Packet
}

// Handler is the role-specific part of an actor.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) error
	HandlePacket(ctx context.Context, p packet.Packet) error
}

// Ticker is implemented by handlers that need periodic work.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) error
}

// Base owns the channels and neighbour table of one node. It is confined
// to the node goroutine; only the per-neighbour pumps run beside it.
type Base struct {
	id         network.NodeID
	typ        network.NodeType
	commands   <-chan Command
	packets    <-chan packet.Packet
	events     chan<- Event
	neighbours map[network.NodeID]*link
	log        zerolog.Logger

	pumpCtx context.Context
	pumps   sync.WaitGroup
}

func NewBase(id network.NodeID, typ network.NodeType, ch Channels) *Base {
	b := &Base{
		id:         id,
		typ:        typ,
		commands:   ch.Commands,
		packets:    ch.Packets,
		events:     ch.Events,
		neighbours: make(map[network.NodeID]*link, len(ch.Neighbours)),
		log:        logging.ForNode(typ, id),
	}
	for nid, c := range ch.Neighbours {
		if c != nil {
			b.neighbours[nid] = newLink(c)
		}
	}
	return b
}

func (b *Base) ID() network.NodeID {
	return b.id
}

func (b *Base) Type() network.NodeType {
	return b.typ
}

func (b *Base) Logger() *zerolog.Logger {
	return &b.log
}

// Inbox exposes the packet channel for draining on shutdown.
func (b *Base) Inbox() <-chan packet.Packet {
	return b.packets
}

func (b *Base) HasNeighbour(id network.NodeID) bool {
	_, ok := b.neighbours[id]
	return ok
}

// NeighbourIDs returns neighbour ids in ascending order.
func (b *Base) NeighbourIDs() []network.NodeID {
	out := make([]network.NodeID, 0, len(b.neighbours))
	for id := range b.neighbours {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Emit sends ev to the controller. It gives up when ctx ends.
func (b *Base) Emit(ctx context.Context, ev Event) {
	if b.events == nil {
		return
	}
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

// Debugf emits a DebugMessage and logs it.
func (b *Base) Debugf(ctx context.Context, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	b.log.Debug().Msg(text)
	b.Emit(ctx, DebugMessage{Node: b.id, Text: text})
}

// Forward advances the header of p and hands it to the next hop.
func (b *Base) Forward(ctx context.Context, p packet.Packet) error {
	p = p.Clone()
	if err := p.Header.Advance(); err != nil {
		return err
	}
	next, _ := p.Header.Current()
	return b.Deliver(ctx, next, p)
}

// Deliver hands p unchanged to neighbour id. It never blocks: when the
// neighbour's inbox is full the packet queues on the link in send order.
func (b *Base) Deliver(ctx context.Context, id network.NodeID, p packet.Packet) error {
	l, ok := b.neighbours[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoNeighbour, id)
	}
	queued := l.offer(p)
	b.log.Trace().Str("packet", p.String()).Uint8("to", uint8(id)).Int("queued", queued).Msg("node.Base.Deliver")
	b.Emit(ctx, PacketSent{Node: b.id, Packet: p})
	return nil
}

// Pending reports how many packets wait on the link to id.
func (b *Base) Pending(id network.NodeID) int {
	if l, ok := b.neighbours[id]; ok {
		return l.pending()
	}
	return 0
}

// Loop runs the actor until ctx ends, the command channel closes, or the
// handler returns ErrStopped. Other handler errors become Error events.
// Link pumps run for the lifetime of the loop and are joined before it
// returns.
func (b *Base) Loop(ctx context.Context, h Handler, tick time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		b.pumps.Wait()
	}()
	b.pumpCtx = ctx
	for _, l := range b.neighbours {
		l.start(ctx, &b.pumps)
	}

	var tickC <-chan time.Time
	ticker, hasTick := h.(Ticker)
	if hasTick && tick > 0 {
		t := time.NewTicker(tick)
		defer t.Stop()
		tickC = t.C
	}
	b.log.Debug().Int("neighbours", len(b.neighbours)).Msg("node.Base.Loop start")

	for {
		var err error
		select {
		case <-ctx.Done():
			b.log.Debug().Msg("node.Base.Loop shutdown")
			return nil
		case cmd, ok := <-b.commands:
			if !ok {
				return nil
			}
			err = b.dispatch(ctx, h, cmd)
		case p := <-b.packets:
			err = h.HandlePacket(ctx, p)
		case now := <-tickC:
			err = ticker.Tick(ctx, now)
		}
		if errors.Is(err, ErrStopped) {
			b.log.Info().Msg("node.Base.Loop stopped")
			return nil
		}
		if err != nil && ctx.Err() == nil {
			b.log.Warn().Err(err).Msg("node.Base.Loop")
			b.Emit(ctx, Error{Node: b.id, Description: err.Error()})
		}
	}
}

func (b *Base) dispatch(ctx context.Context, h Handler, cmd Command) error {
	if cmd == nil {
		return nil
	}
	if !Accepts(b.typ, cmd) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, cmd.Name(), b.typ)
	}
	switch c := cmd.(type) {
	case AddSender:
		if c.Channel == nil {
			return fmt.Errorf("%w: %d", ErrNilChannel, c.ID)
		}
		if old, ok := b.neighbours[c.ID]; ok {
			old.close()
		}
		l := newLink(c.Channel)
		b.neighbours[c.ID] = l
		if b.pumpCtx != nil {
			l.start(b.pumpCtx, &b.pumps)
		}
		b.log.Debug().Uint8("neighbour", uint8(c.ID)).Msg("node.Base.dispatch add_sender")
	case RemoveSender:
		if l, ok := b.neighbours[c.ID]; ok {
			l.close()
			delete(b.neighbours, c.ID)
		}
		b.log.Debug().Uint8("neighbour", uint8(c.ID)).Msg("node.Base.dispatch remove_sender")
	}
	return h.HandleCommand(ctx, cmd)
}
