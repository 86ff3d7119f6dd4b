package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dronenet/internal/client"
	"github.com/danmuck/dronenet/internal/drone"
	"github.com/danmuck/dronenet/internal/logging"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/observability"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/server"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownNode    = errors.New("controller: unknown node")
	ErrWrongRole      = errors.New("controller: command not accepted by node role")
	ErrCrashed        = errors.New("controller: node has crashed")
	ErrNotDrone       = errors.New("controller: node is not a drone")
	ErrAlreadyRunning = errors.New("controller: already running")
)

// Controller spawns one goroutine per node and is the only writer of the
// roster.
type Controller struct {
	opts    Options
	log     zerolog.Logger
	started atomic.Int64

	// fixed after New
	types    map[network.NodeID]network.NodeType
	packets  map[network.NodeID]chan packet.Packet
	commands map[network.NodeID]chan node.Command
	events   chan node.Event
	nodes    []node.Node
	running  atomic.Bool

	mu        sync.Mutex
	roster    topology.Roster
	validator *topology.Validator
	crashed   map[network.NodeID]struct{}

	subMu  sync.Mutex
	subs   map[uint64]chan node.Event
	subSeq uint64

	histMu  sync.RWMutex
	history []EventRecord
}

// New validates r and builds every node. Nothing runs until Run.
func New(r topology.Roster, opts Options) (*Controller, error) {
	opts = opts.withDefaults()
	v := topology.NewValidator(r)
	_, err := v.Run()
	observability.RecordValidation("load", err)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		opts:      opts,
		log:       logging.Component("controller"),
		types:     make(map[network.NodeID]network.NodeType, r.Len()),
		packets:   make(map[network.NodeID]chan packet.Packet, r.Len()),
		commands:  make(map[network.NodeID]chan node.Command, r.Len()),
		events:    make(chan node.Event, opts.EventBuffer),
		roster:    r.Clone(),
		validator: v,
		crashed:   make(map[network.NodeID]struct{}),
		subs:      make(map[uint64]chan node.Event),
	}
	descs := r.Nodes()
	for _, d := range descs {
		c.types[d.ID] = d.Type
		c.packets[d.ID] = make(chan packet.Packet, opts.PacketBuffer)
		c.commands[d.ID] = make(chan node.Command, opts.CommandBuffer)
	}
	for _, d := range descs {
		n, err := c.spawn(d)
		if err != nil {
			return nil, err
		}
		c.nodes = append(c.nodes, n)
	}
	c.log.Info().Int("nodes", len(c.nodes)).Msg("controller.New roster valid")
	return c, nil
}

func (c *Controller) spawn(d topology.Descriptor) (node.Node, error) {
	ch := node.Channels{
		Commands:   c.commands[d.ID],
		Packets:    c.packets[d.ID],
		Events:     c.events,
		Neighbours: make(map[network.NodeID]chan<- packet.Packet, len(d.Neighbours)),
	}
	for _, n := range d.Neighbours {
		ch.Neighbours[n] = c.packets[n]
	}

	switch d.Type {
	case network.Drone:
		return drone.Build(d.Impl, d.ID, ch, d.PDR, c.opts.Seed+int64(d.ID))
	case network.Client:
		kind := d.ClientKind
		if kind == 0 {
			kind = network.WebBrowser
		}
		return client.New(d.ID, kind, ch, c.opts.Host), nil
	case network.Server:
		kind := d.ServerKind
		if kind == 0 {
			kind = network.ContentServer
		}
		return server.New(d.ID, kind, ch, c.opts.Host, c.opts.Content[d.ID]), nil
	default:
		return nil, fmt.Errorf("%w: node %d has %s", network.ErrUnknownType, d.ID, d.Type)
	}
}

// Run drives every node and the event pump until ctx ends. Subscriber
// channels are closed on return.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.closeSubscribers()
	c.started.Store(time.Now().UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range c.nodes {
		g.Go(func() error {
			if err := n.Run(gctx); err != nil {
				return fmt.Errorf("%s %d: %w", n.Type(), n.ID(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return c.pump(gctx)
	})
	c.log.Info().Int("nodes", len(c.nodes)).Msg("controller.Controller.Run started")
	err := g.Wait()
	c.log.Info().Err(err).Msg("controller.Controller.Run stopped")
	return err
}

func (c *Controller) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.observe(ctx, ev)
		}
	}
}

func (c *Controller) observe(ctx context.Context, ev node.Event) {
	role := c.types[ev.Source()]
	observability.RecordEvent(role.String(), ev.Name())
	switch e := ev.(type) {
	case node.PacketSent:
		if e.Packet.Body != nil {
			observability.RecordPacketSent(role.String(), e.Packet.Body.Kind())
		}
	case node.PacketDropped:
		observability.RecordPacketDropped(uint8(e.Node))
	case node.ShortcutRequested:
		c.shortcut(ctx, e.Packet)
	case node.Error:
		c.log.Warn().Uint8("node", uint8(e.Node)).Str("role", role.String()).Msg(e.Description)
	}
	c.record(ev)
	c.publish(ev)
}

// shortcut hands a control packet straight to its destination.
func (c *Controller) shortcut(ctx context.Context, p packet.Packet) {
	dst, ok := p.Header.Destination()
	ch, known := c.commands[dst]
	if !ok || !known || c.isCrashed(dst) {
		observability.RecordShortcut(false)
		c.log.Debug().Str("packet", p.String()).Msg("controller.Controller.shortcut undeliverable")
		return
	}
	p = p.Clone()
	p.Header.HopIndex = len(p.Header.Hops) - 1
	cmd := node.ControllerShortcut{Packet: p}
	select {
	case ch <- cmd:
	default:
		// never block the pump on a busy node
		go func() {
			select {
			case ch <- cmd:
			case <-ctx.Done():
			}
		}()
	}
	observability.RecordShortcut(true)
}

// Send delivers cmd to node id after checking that its role accepts it.
func (c *Controller) Send(ctx context.Context, id network.NodeID, cmd node.Command) error {
	t, ok := c.types[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	if !node.Accepts(t, cmd) {
		return fmt.Errorf("%w: %s to %s %d", ErrWrongRole, cmd.Name(), t, id)
	}
	if c.isCrashed(id) {
		return fmt.Errorf("%w: %d", ErrCrashed, id)
	}
	return c.deliver(ctx, id, cmd)
}

func (c *Controller) deliver(ctx context.Context, id network.NodeID, cmd node.Command) error {
	select {
	case c.commands[id] <- cmd:
		c.log.Debug().Uint8("node", uint8(id)).Str("command", cmd.Name()).Msg("controller.Controller.deliver")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) isCrashed(id network.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.crashed[id]
	return ok
}

// Subscribe returns a channel receiving every event observed from now on,
// and a function that unsubscribes.
func (c *Controller) Subscribe() (<-chan node.Event, func()) {
	ch := make(chan node.Event, c.opts.SubscriberBuffer)
	c.subMu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Controller) publish(ev node.Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Debug().Uint64("subscriber", id).Str("event", ev.Name()).Msg("controller.Controller.publish subscriber full")
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// Roster returns the current authoritative roster.
func (c *Controller) Roster() topology.Roster {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Clone()
}

// State returns the validator verdict for the current roster.
func (c *Controller) State() (topology.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validator.State(), c.validator.Err()
}

// Uptime is zero until Run starts.
func (c *Controller) Uptime() time.Duration {
	started := c.started.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}

// NodeType returns the role of id.
func (c *Controller) NodeType(id network.NodeID) (network.NodeType, bool) {
	t, ok := c.types[id]
	return t, ok
}

// Nodes returns every node id, crashed or not, ascending.
func (c *Controller) Nodes() []network.NodeID {
	out := make([]network.NodeID, 0, len(c.types))
	for id := range c.types {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
