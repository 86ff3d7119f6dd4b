package controller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dronenet/internal/drone"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/server"
	"github.com/danmuck/dronenet/internal/testutil/testlog"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitTimeout = 10 * time.Second

func droneDesc(id network.NodeID, pdr float64, n ...network.NodeID) topology.Descriptor {
	return topology.Descriptor{ID: id, Type: network.Drone, Neighbours: n, PDR: pdr}
}

func host(id network.NodeID, typ network.NodeType, n ...network.NodeID) topology.Descriptor {
	return topology.Descriptor{ID: id, Type: typ, Neighbours: n}
}

// drones 11-14 form a ring with 15 as a chord between 11 and 13.
func testRoster(pdr12 float64) topology.Roster {
	web := host(1, network.Client, 11)
	web.ClientKind = network.WebBrowser
	alice := host(2, network.Client, 11, 14)
	alice.ClientKind = network.ChatClient
	bob := host(3, network.Client, 13)
	bob.ClientKind = network.ChatClient
	content := host(21, network.Server, 12, 13)
	content.ServerKind = network.ContentServer
	chat := host(22, network.Server, 13, 14)
	chat.ServerKind = network.CommunicationServer

	return topology.NewRoster(
		droneDesc(11, 0, 12, 14, 15, 1, 2),
		droneDesc(12, pdr12, 11, 13, 21),
		droneDesc(13, 0, 12, 14, 15, 21, 22, 3),
		droneDesc(14, 0, 13, 11, 2, 22),
		droneDesc(15, 0, 11, 13),
		web, alice, bob, content, chat,
	)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Content = map[network.NodeID]server.Content{
		21: {
			Files: map[string]string{"readme.txt": "hello from 21", "big.txt": string(make([]byte, 1000))},
			Media: map[string][]byte{"logo.png": {0x89, 'P', 'N', 'G'}},
		},
	}
	return opts
}

func start(t *testing.T, r topology.Roster) (*Controller, <-chan node.Event) {
	t.Helper()
	return startWith(t, r, testOptions())
}

func startWith(t *testing.T, r topology.Roster, opts Options) (*Controller, <-chan node.Event) {
	t.Helper()
	testlog.Start(t)
	t.Cleanup(func() { goleak.VerifyNone(t) })

	c, err := New(r, opts)
	require.NoError(t, err)
	events, unsubscribe := c.Subscribe()
	t.Cleanup(unsubscribe)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Fatalf("controller did not stop")
		}
	})
	return c, events
}

func waitFor[T node.Event](t *testing.T, events <-chan node.Event, match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed")
			}
			if e, ok := ev.(T); ok && match(e) {
				return e
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func TestNewRejectsInvalidRoster(t *testing.T) {
	testlog.Start(t)
	r := topology.NewRoster(
		droneDesc(11, 0, 1),
		host(1, network.Client, 11),
		host(21, network.Server, 11),
	)
	_, err := New(r, DefaultOptions())
	require.Error(t, err)
}

func TestFileFetchAcrossDrones(t *testing.T) {
	c, events := start(t, testRoster(0))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, 1, node.RequestFile{Server: 21, FileID: "readme.txt", RequestID: "req-1"}))
	got := waitFor(t, events, func(e node.FileReceived) bool { return e.RequestID == "req-1" })
	require.Equal(t, network.NodeID(1), got.Node)
	require.Equal(t, network.NodeID(21), got.Server)
	require.Equal(t, "hello from 21", got.Content)

	require.NoError(t, c.Send(ctx, 1, node.RequestFile{Server: 21, FileID: "big.txt", RequestID: "req-2"}))
	big := waitFor(t, events, func(e node.FileReceived) bool { return e.RequestID == "req-2" })
	require.Len(t, big.Content, 1000)

	require.NoError(t, c.Send(ctx, 1, node.RequestFile{Server: 21, FileID: "missing", RequestID: "req-3"}))
	miss := waitFor(t, events, func(e node.RequestError) bool { return e.RequestID == "req-3" })
	require.Contains(t, miss.Reason, "not found")
}

// bulkOptions adds content far larger than the node channel buffers and
// a subscriber buffer that holds every event of the transfer.
func bulkOptions(size int) Options {
	opts := testOptions()
	opts.SubscriberBuffer = 1 << 18
	blob := make([]byte, size)
	for i := range blob {
		blob[i] = byte(i * 7)
	}
	c := opts.Content[21]
	c.Media["bulk.bin"] = blob
	c.Files["bulk.txt"] = strings.Repeat("0123456789abcdef", size/16)
	opts.Content[21] = c
	return opts
}

func TestLargeMediaCrossesDrones(t *testing.T) {
	const size = 200_000
	opts := bulkOptions(size)
	require.Greater(t, size, opts.PacketBuffer*packet.FragmentCapacity)
	c, events := startWith(t, testRoster(0), opts)

	require.NoError(t, c.Send(context.Background(), 1, node.RequestMedia{Server: 21, MediaID: "bulk.bin", RequestID: "bulk"}))
	got := waitFor(t, events, func(e node.MediaReceived) bool { return e.RequestID == "bulk" })
	require.Equal(t, opts.Content[21].Media["bulk.bin"], got.Data)
}

func TestLargeTransfersFlowBothWays(t *testing.T) {
	const size = 120_000
	opts := bulkOptions(size)
	c, events := startWith(t, testRoster(0), opts)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, 2, node.RegisterToChat{Server: 22, RequestID: "reg-2"}))
	waitFor(t, events, func(e node.RegistrationOk) bool { return e.RequestID == "reg-2" })
	require.NoError(t, c.Send(ctx, 3, node.RegisterToChat{Server: 22, RequestID: "reg-3"}))
	waitFor(t, events, func(e node.RegistrationOk) bool { return e.RequestID == "reg-3" })

	// content flows 21 -> 1 while chat text flows 2 -> 22 -> 3 and 3 -> 22 -> 2
	text := strings.Repeat("chat ", size/5)
	require.NoError(t, c.Send(ctx, 1, node.RequestFile{Server: 21, FileID: "bulk.txt", RequestID: "file"}))
	require.NoError(t, c.Send(ctx, 2, node.SendChatMessage{Server: 22, To: 3, Text: text, RequestID: "to-3"}))
	require.NoError(t, c.Send(ctx, 3, node.SendChatMessage{Server: 22, To: 2, Text: text, RequestID: "to-2"}))

	var file *node.FileReceived
	chats := map[network.NodeID]string{}
	deadline := time.After(3 * waitTimeout)
	for file == nil || len(chats) < 2 {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case node.FileReceived:
				if e.RequestID == "file" {
					file = &e
				}
			case node.ChatMessageReceived:
				chats[e.Node] = e.Text
			case node.RequestError:
				t.Fatalf("request %s failed: %s", e.RequestID, e.Reason)
			}
		case <-deadline:
			t.Fatalf("transfers incomplete: file=%v chats=%d", file != nil, len(chats))
		}
	}
	require.Equal(t, opts.Content[21].Files["bulk.txt"], file.Content)
	require.Equal(t, text, chats[2])
	require.Equal(t, text, chats[3])
}

func TestChatBetweenClients(t *testing.T) {
	c, events := start(t, testRoster(0))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, 2, node.RegisterToChat{Server: 22, RequestID: "reg-2"}))
	waitFor(t, events, func(e node.RegistrationOk) bool { return e.RequestID == "reg-2" })
	require.NoError(t, c.Send(ctx, 3, node.RegisterToChat{Server: 22, RequestID: "reg-3"}))
	waitFor(t, events, func(e node.RegistrationOk) bool { return e.RequestID == "reg-3" })

	require.NoError(t, c.Send(ctx, 2, node.RequestClientList{Server: 22, RequestID: "list"}))
	list := waitFor(t, events, func(e node.ClientListReceived) bool { return e.RequestID == "list" })
	require.Equal(t, []network.NodeID{2, 3}, list.Clients)

	require.NoError(t, c.Send(ctx, 2, node.SendChatMessage{Server: 22, To: 3, Text: "hi bob", RequestID: "msg"}))
	msg := waitFor(t, events, func(e node.ChatMessageReceived) bool { return e.Node == 3 })
	require.Equal(t, network.NodeID(2), msg.From)
	require.Equal(t, "hi bob", msg.Text)
}

func TestWebBrowserCannotChat(t *testing.T) {
	c, events := start(t, testRoster(0))
	require.NoError(t, c.Send(context.Background(), 1, node.RegisterToChat{Server: 22, RequestID: "nope"}))
	got := waitFor(t, events, func(e node.RequestError) bool { return e.RequestID == "nope" })
	require.Contains(t, got.Reason, "cannot")
}

func TestDroppedFragmentsAreRetransmitted(t *testing.T) {
	c, events := start(t, testRoster(1))
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, 1, node.RequestServerType{Server: 21, RequestID: "kind"}))
	waitFor(t, events, func(e node.PacketDropped) bool { return e.Node == 12 })
	require.NoError(t, c.SetDropRate(ctx, 12, 0))

	got := waitFor(t, events, func(e node.ServerTypeReceived) bool { return e.RequestID == "kind" })
	require.Equal(t, network.ContentServer, got.Kind)
	d, ok := c.Roster().Get(12)
	require.True(t, ok)
	require.Zero(t, d.PDR)
}

func TestCrashDroneKeepsNetworkValid(t *testing.T) {
	c, events := start(t, testRoster(0))
	ctx := context.Background()

	err := c.CrashDrone(ctx, 12)
	require.Error(t, err, "server 21 would be left with one drone")
	require.True(t, errors.Is(err, topology.ErrServerConnection))

	require.NoError(t, c.CrashDrone(ctx, 15))
	require.ErrorIs(t, c.CrashDrone(ctx, 15), ErrCrashed)
	require.ErrorIs(t, c.CrashDrone(ctx, 1), ErrNotDrone)
	require.ErrorIs(t, c.Send(ctx, 15, node.SetPacketDropRate{PDR: 0.5}), ErrCrashed)

	state, verr := c.State()
	require.NoError(t, verr)
	require.Equal(t, topology.Valid, state)
	_, ok := c.Roster().Get(15)
	require.False(t, ok)

	require.NoError(t, c.Send(ctx, 1, node.RequestFileList{Server: 21, RequestID: "after-crash"}))
	got := waitFor(t, events, func(e node.FileListReceived) bool { return e.RequestID == "after-crash" })
	require.ElementsMatch(t, []string{"readme.txt", "big.txt"}, got.FileIDs)
}

func TestEdgeMutationsAreValidated(t *testing.T) {
	c, events := start(t, testRoster(0))
	ctx := context.Background()

	require.Error(t, c.AddEdge(ctx, 1, 21), "clients may not neighbour servers")
	require.Error(t, c.RemoveEdge(ctx, 21, 12), "server would be left with one drone")
	require.ErrorIs(t, c.AddEdge(ctx, 1, 99), ErrUnknownNode)

	require.NoError(t, c.AddEdge(ctx, 1, 12))
	d, _ := c.Roster().Get(1)
	require.Equal(t, []network.NodeID{11, 12}, d.Neighbours)
	require.NoError(t, c.RemoveEdge(ctx, 1, 11))

	require.NoError(t, c.Send(ctx, 1, node.RequestMedia{Server: 21, MediaID: "logo.png", RequestID: "media"}))
	got := waitFor(t, events, func(e node.MediaReceived) bool { return e.RequestID == "media" })
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, got.Data)
}

func TestSendChecksRole(t *testing.T) {
	testlog.Start(t)
	c, err := New(testRoster(0), testOptions())
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, c.Send(ctx, 99, node.Crash{}), ErrUnknownNode)
	require.ErrorIs(t, c.Send(ctx, 11, node.RequestFile{Server: 21}), ErrWrongRole)
	require.ErrorIs(t, c.Send(ctx, 1, node.Crash{}), ErrWrongRole)
	require.ErrorIs(t, c.Send(ctx, 21, node.SetPacketDropRate{PDR: 0.1}), ErrWrongRole)
	require.NoError(t, c.Send(ctx, 21, node.SendClientList{Client: 1}))
	require.ErrorIs(t, c.SetDropRate(ctx, 11, 1.5), drone.ErrInvalidDropRate)
}

func TestShortcutDeliversToDestination(t *testing.T) {
	testlog.Start(t)
	c, err := New(testRoster(0), testOptions())
	require.NoError(t, err)

	ack := packet.Packet{
		SessionID: 7,
		Header:    network.NewRoute([]network.NodeID{21, 12, 11, 1}),
		Body:      packet.Ack{FragmentIndex: 0},
	}
	c.observe(context.Background(), node.ShortcutRequested{Node: 12, Packet: ack})

	select {
	case cmd := <-c.commands[1]:
		sc, ok := cmd.(node.ControllerShortcut)
		require.True(t, ok)
		require.Equal(t, 3, sc.Packet.Header.HopIndex)
		cur, _ := sc.Packet.Header.Current()
		require.Equal(t, network.NodeID(1), cur)
	default:
		t.Fatalf("shortcut not delivered")
	}

	events := c.Events(0)
	require.Len(t, events, 1)
	require.Equal(t, "shortcut_requested", events[0].Name)
}

func TestEventsHistoryIsBounded(t *testing.T) {
	testlog.Start(t)
	opts := testOptions()
	opts.History = 3
	c, err := New(testRoster(0), opts)
	require.NoError(t, err)

	for i := range 5 {
		c.observe(context.Background(), node.DebugMessage{Node: 11, Text: string(rune('a' + i))})
	}
	all := c.Events(0)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].Detail)
	require.Equal(t, uint64(5), all[2].Seq)
	require.Len(t, c.Events(2), 2)
}
