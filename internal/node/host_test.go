package node

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dronenet/internal/fragment"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/protocol"
	"github.com/danmuck/dronenet/internal/testutil/testlog"
)

type delivery struct {
	from network.NodeID
	msg  protocol.Message
}

// recorder is a test Application. Client commands make its host send a
// Text message to the named server.
type recorder struct {
	host      *Host
	delivered chan delivery
	failed    chan string
}

func newRecorder() *recorder {
	return &recorder{delivered: make(chan delivery, 16), failed: make(chan string, 16)}
}

func (r *recorder) Deliver(_ context.Context, from network.NodeID, msg protocol.Message) error {
	r.delivered <- delivery{from: from, msg: msg}
	return nil
}

func (r *recorder) Undeliverable(_ context.Context, _ network.NodeID, _ protocol.Message, reason string) {
	r.failed <- reason
}

func (r *recorder) HandleCommand(ctx context.Context, cmd Command) error {
	if c, ok := cmd.(RequestServerType); ok {
		return r.host.Send(ctx, c.Server, protocol.Text{Value: c.RequestID})
	}
	return nil
}

type fixture struct {
	host   *Host
	app    *recorder
	links  map[network.NodeID]chan packet.Packet
	events chan Event
	clock  time.Time
}

func newFixture(t *testing.T, id network.NodeID, typ network.NodeType, cfg HostConfig, neighbours ...network.NodeID) *fixture {
	t.Helper()
	f := &fixture{
		app:    newRecorder(),
		links:  make(map[network.NodeID]chan packet.Packet),
		events: make(chan Event, 256),
		clock:  time.Unix(1700000000, 0),
	}
	ch := Channels{
		Commands:   make(chan Command, 8),
		Packets:    make(chan packet.Packet, 8),
		Events:     f.events,
		Neighbours: make(map[network.NodeID]chan<- packet.Packet),
	}
	for _, n := range neighbours {
		link := make(chan packet.Packet, 16)
		f.links[n] = link
		ch.Neighbours[n] = link
	}
	f.host = NewHost(id, typ, ch, cfg, f.app)
	f.app.host = f.host
	f.host.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) next(t *testing.T, n network.NodeID) packet.Packet {
	t.Helper()
	select {
	case p := <-f.links[n]:
		return p
	default:
		t.Fatalf("nothing sent to %d", n)
		return packet.Packet{}
	}
}

func (f *fixture) quiet(t *testing.T, n network.NodeID) {
	t.Helper()
	select {
	case p := <-f.links[n]:
		t.Fatalf("unexpected packet to %d: %s", n, p)
	default:
	}
}

func reply(sid uint64, body packet.Body, hops ...network.NodeID) packet.Packet {
	h := network.NewRoute(hops)
	h.HopIndex = len(hops) - 1
	return packet.Packet{SessionID: sid, Header: h, Body: body}
}

func learnPaths(h *Host) {
	h.Router().Learn([]packet.Hop{{ID: 1, Type: network.Client}, {ID: 11, Type: network.Drone}, {ID: 21, Type: network.Server}})
	h.Router().Learn([]packet.Hop{{ID: 1, Type: network.Client}, {ID: 12, Type: network.Drone}, {ID: 13, Type: network.Drone}, {ID: 21, Type: network.Server}})
}

func TestHostSendsFragmentsAlongRoute(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 1, network.Client, DefaultHostConfig(), 11, 12)
	learnPaths(f.host)

	if err := f.host.Send(ctx, 21, protocol.Text{Value: strings.Repeat("x", 300)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var total uint64
	for i := 0; ; i++ {
		select {
		case p := <-f.links[11]:
			frag, ok := p.Body.(packet.Fragment)
			if !ok {
				t.Fatalf("expected fragment, got %s", p)
			}
			if cur, _ := p.Header.Current(); cur != 11 || p.Header.HopIndex != 1 {
				t.Fatalf("fragment not advanced to first hop: %s", p.Header)
			}
			total = frag.Total
			continue
		default:
		}
		if uint64(i) != total || total < 3 {
			t.Fatalf("sent %d fragments of %d", i, total)
		}
		break
	}
	if f.host.Outbox().Len() != int(total) {
		t.Fatalf("outbox len=%d want %d", f.host.Outbox().Len(), total)
	}
	f.quiet(t, 12)
}

func TestHostRetransmitsAfterDroppedNack(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 1, network.Client, DefaultHostConfig(), 11, 12)
	learnPaths(f.host)

	if err := f.host.Send(ctx, 21, protocol.Text{Value: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := f.next(t, 11)
	nack := reply(first.SessionID, packet.Nack{FragmentIndex: 0, Type: packet.Dropped, Node: 11}, 11, 1)
	if err := f.host.HandlePacket(ctx, nack); err != nil {
		t.Fatalf("handle nack: %v", err)
	}
	f.quiet(t, 11)

	if err := f.host.Tick(ctx, f.clock.Add(time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	again := f.next(t, 11)
	if again.SessionID != first.SessionID {
		t.Fatalf("retransmitted a different session")
	}
	key := FragmentKey{SessionID: first.SessionID}
	if item, _ := f.host.Outbox().Get(key); item.Attempts != 2 {
		t.Fatalf("attempts=%d", item.Attempts)
	}

	ack := reply(first.SessionID, packet.Ack{FragmentIndex: 0}, 21, 11, 1)
	if err := f.host.HandlePacket(ctx, ack); err != nil {
		t.Fatalf("handle ack: %v", err)
	}
	if f.host.Outbox().Len() != 0 {
		t.Fatalf("ack should clear the outbox")
	}
}

func TestHostReroutesAfterRoutingNack(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 1, network.Client, DefaultHostConfig(), 11, 12)
	learnPaths(f.host)

	if err := f.host.Send(ctx, 21, protocol.Text{Value: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := f.next(t, 11)
	nack := reply(first.SessionID, packet.Nack{Type: packet.ErrorInRouting, Node: 21}, 11, 1)
	if err := f.host.HandlePacket(ctx, nack); err != nil {
		t.Fatalf("handle nack: %v", err)
	}
	p := f.next(t, 12)
	if got := p.Header.Hops; len(got) != 4 || got[2] != 13 {
		t.Fatalf("expected detour 1,12,13,21 got %v", got)
	}
}

func TestHostAbandonsAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	cfg := DefaultHostConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, 1, network.Client, cfg, 11)
	f.host.Router().Learn([]packet.Hop{{ID: 1, Type: network.Client}, {ID: 11, Type: network.Drone}, {ID: 21, Type: network.Server}})

	if err := f.host.Send(ctx, 21, protocol.Text{Value: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	p := f.next(t, 11)
	for range 2 {
		nack := reply(p.SessionID, packet.Nack{Type: packet.Dropped, Node: 11}, 11, 1)
		if err := f.host.HandlePacket(ctx, nack); err != nil {
			t.Fatalf("handle nack: %v", err)
		}
		if err := f.host.Tick(ctx, f.clock.Add(time.Second)); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	select {
	case reason := <-f.app.failed:
		if !strings.Contains(reason, "dropped") {
			t.Fatalf("reason=%q", reason)
		}
	default:
		t.Fatalf("expected the session to be abandoned")
	}
	if f.host.Outbox().Len() != 0 {
		t.Fatalf("abandoned session left fragments behind")
	}
}

func TestHostAbandonsMultiFragmentSessionOnce(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	cfg := DefaultHostConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, 1, network.Client, cfg, 11)
	f.host.Router().Learn([]packet.Hop{{ID: 1, Type: network.Client}, {ID: 11, Type: network.Drone}, {ID: 21, Type: network.Server}})

	if err := f.host.Send(ctx, 21, protocol.Text{Value: strings.Repeat("x", 300)}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := f.host.Outbox().Len(); n < 3 {
		t.Fatalf("expected a multi-fragment session, got %d fragments", n)
	}
	for range cfg.MaxAttempts {
		f.clock = f.clock.Add(cfg.AckTimeout)
		if err := f.host.Tick(ctx, f.clock); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}

	errorsSeen := 0
	for drained := false; !drained; {
		select {
		case ev := <-f.events:
			if e, ok := ev.(Error); ok && strings.Contains(e.Description, "abandoned") {
				errorsSeen++
			}
		default:
			drained = true
		}
	}
	if errorsSeen != 1 {
		t.Fatalf("abandon reported %d times, want 1", errorsSeen)
	}
	if len(f.app.failed) != 1 {
		t.Fatalf("undeliverable reported %d times, want 1", len(f.app.failed))
	}
	if f.host.Outbox().Len() != 0 {
		t.Fatalf("abandoned session left fragments behind")
	}
}

func TestHostQueuesUntilFloodResponse(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 1, network.Client, DefaultHostConfig(), 11)

	if err := f.host.Send(ctx, 21, protocol.Text{Value: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.host.Waiting() != 1 {
		t.Fatalf("waiting=%d", f.host.Waiting())
	}
	flood := f.next(t, 11)
	req, ok := flood.Body.(packet.FloodRequest)
	if !ok || req.Initiator != 1 || flood.Header.HopIndex != 1 {
		t.Fatalf("expected flood request, got %s", flood)
	}

	resp := reply(flood.SessionID, packet.FloodResponse{
		FloodID: req.FloodID,
		PathTrace: []packet.Hop{
			{ID: 1, Type: network.Client},
			{ID: 11, Type: network.Drone},
			{ID: 21, Type: network.Server},
		},
	}, 21, 11, 1)
	if err := f.host.HandlePacket(ctx, resp); err != nil {
		t.Fatalf("handle flood response: %v", err)
	}
	if f.host.Waiting() != 0 {
		t.Fatalf("message still waiting")
	}
	if p := f.next(t, 11); p.Body.Kind() != "fragment" {
		t.Fatalf("expected queued fragment, got %s", p)
	}
}

func TestHostExpiresMessagesWithoutRoute(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 1, network.Client, DefaultHostConfig(), 11)
	if err := f.host.Send(ctx, 21, protocol.Text{Value: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.host.Tick(ctx, f.clock.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	select {
	case reason := <-f.app.failed:
		if !strings.Contains(reason, "no route") {
			t.Fatalf("reason=%q", reason)
		}
	default:
		t.Fatalf("expected undeliverable")
	}
}

func TestHostAnswersFloodAndAcksFragments(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	f := newFixture(t, 21, network.Server, DefaultHostConfig(), 11)

	flood := packet.Packet{
		SessionID: 99,
		Header:    network.SourceRoutingHeader{Hops: []network.NodeID{11, 21}, HopIndex: 1},
		Body: packet.FloodRequest{FloodID: 99, Initiator: 1, PathTrace: []packet.Hop{
			{ID: 1, Type: network.Client},
			{ID: 11, Type: network.Drone},
		}},
	}
	if err := f.host.HandlePacket(ctx, flood); err != nil {
		t.Fatalf("handle flood: %v", err)
	}
	resp := f.next(t, 11)
	if resp.Body.Kind() != "flood_response" {
		t.Fatalf("expected flood response, got %s", resp)
	}
	if dst, _ := resp.Header.Destination(); dst != 1 {
		t.Fatalf("response routed to %d", dst)
	}

	pkts, err := fragment.Fragment(protocol.Text{Value: "hi"}, []network.NodeID{1, 11, 21}, 5)
	if err != nil || len(pkts) != 1 {
		t.Fatalf("fragment: %v", err)
	}
	frag := pkts[0]
	frag.Header.HopIndex = 2
	if err := f.host.HandlePacket(ctx, frag); err != nil {
		t.Fatalf("handle fragment: %v", err)
	}
	select {
	case d := <-f.app.delivered:
		if got, ok := d.msg.(protocol.Text); !ok || got.Value != "hi" || d.from != 1 {
			t.Fatalf("unexpected delivery %+v", d)
		}
	default:
		t.Fatalf("message not delivered")
	}
	ack := f.next(t, 11)
	if a, ok := ack.Body.(packet.Ack); !ok || a.FragmentIndex != 0 {
		t.Fatalf("expected ack, got %s", ack)
	}
	if got := ack.Header.Hops; len(got) != 3 || got[0] != 21 || got[2] != 1 {
		t.Fatalf("ack route %v", got)
	}

	relay := fragmentPacket(t, 5, 1, 2, 1, 21, 11)
	relay.Header.HopIndex = 1
	if err := f.host.HandlePacket(ctx, relay); !errors.Is(err, ErrHostRelay) {
		t.Fatalf("hosts must not relay, err=%v", err)
	}
}

func TestHostsExchangeOverDirectLink(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 1024)
	go func() {
		for {
			select {
			case <-events:
			case <-ctx.Done():
				return
			}
		}
	}()

	aPackets, bPackets := make(chan packet.Packet, 64), make(chan packet.Packet, 64)
	aCommands := make(chan Command, 4)
	aApp, bApp := newRecorder(), newRecorder()
	a := NewHost(1, network.Client, Channels{
		Commands: aCommands, Packets: aPackets, Events: events,
		Neighbours: map[network.NodeID]chan<- packet.Packet{2: bPackets},
	}, DefaultHostConfig(), aApp)
	aApp.host = a
	b := NewHost(2, network.Server, Channels{
		Commands: make(chan Command), Packets: bPackets, Events: events,
		Neighbours: map[network.NodeID]chan<- packet.Packet{1: aPackets},
	}, DefaultHostConfig(), bApp)
	bApp.host = b

	done := make(chan error, 2)
	go func() { done <- a.Run(ctx) }()
	go func() { done <- b.Run(ctx) }()

	text := strings.Repeat("payload ", 40)
	aCommands <- RequestServerType{Server: 2, RequestID: text}
	select {
	case d := <-bApp.delivered:
		if d.from != 1 {
			t.Fatalf("from=%d", d.from)
		}
		if got, ok := d.msg.(protocol.Text); !ok || got.Value != text {
			t.Fatalf("unexpected message %#v", d.msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("message not delivered")
	}

	cancel()
	for range 2 {
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}
