package node

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/testutil/testlog"
)

func fragmentPacket(t *testing.T, sid, index, total uint64, hops ...network.NodeID) packet.Packet {
	t.Helper()
	f, err := packet.NewFragment(index, total, []byte("chunk"))
	if err != nil {
		t.Fatalf("new fragment: %v", err)
	}
	return packet.Packet{SessionID: sid, Header: network.NewRoute(hops), Body: f}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     50 * time.Millisecond,
	}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w*time.Millisecond {
			t.Fatalf("attempt%d got=%v want=%v", i+1, got, w*time.Millisecond)
		}
	}
}

func TestNextBackoffDelayJitterStaysInRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(3))
	for attempt := 2; attempt < 10; attempt++ {
		base := min(100*time.Millisecond<<(attempt-1), time.Second)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base*3/2 {
			t.Fatalf("attempt%d got=%v outside [%v, %v]", attempt, got, base/2, base*3/2)
		}
	}
}

func TestOutboxLifecycle(t *testing.T) {
	testlog.Start(t)
	o := NewOutbox()
	now := time.Unix(1700000000, 0)
	p0 := fragmentPacket(t, 7, 0, 2, 1, 11, 21)
	p1 := fragmentPacket(t, 7, 1, 2, 1, 11, 21)
	o.Upsert(PendingFragment{Packet: p0, Destination: 21, QueuedAt: now})
	o.Upsert(PendingFragment{Packet: p1, Destination: 21, QueuedAt: now})
	o.Upsert(PendingFragment{Packet: packet.Packet{SessionID: 8, Body: packet.Ack{}}})
	if o.Len() != 2 {
		t.Fatalf("non-fragment stored, len=%d", o.Len())
	}

	k0 := FragmentKey{SessionID: 7, Index: 0}
	item, ok := o.MarkAttempt(k0, now, " timeout ")
	if !ok || item.Attempts != 1 || item.LastError != "timeout" {
		t.Fatalf("unexpected attempt item=%+v ok=%v", item, ok)
	}
	o.MarkAttempt(FragmentKey{SessionID: 7, Index: 1}, now, "")

	if due := o.Due(now.Add(time.Second), 2*time.Second); len(due) != 0 {
		t.Fatalf("nothing should be due yet: %+v", due)
	}
	if due := o.Due(now.Add(2*time.Second), 2*time.Second); len(due) != 2 || due[0].Key() != k0 {
		t.Fatalf("ack timeout should make both due in order: %+v", due)
	}

	o.Update(k0, func(it *PendingFragment) { it.NextAttemptAt = now.Add(50 * time.Millisecond) })
	if due := o.Due(now.Add(10*time.Millisecond), time.Hour); len(due) != 0 {
		t.Fatalf("retry not yet due: %+v", due)
	}
	if due := o.Due(now.Add(50*time.Millisecond), time.Hour); len(due) != 1 || due[0].Key() != k0 {
		t.Fatalf("retry should be due: %+v", due)
	}

	o.Update(k0, func(it *PendingFragment) { it.NeedsRoute = true })
	if parked := o.AwaitingRoute(); len(parked) != 1 {
		t.Fatalf("expected one parked fragment, got %d", len(parked))
	}
	if due := o.Due(now.Add(time.Hour), time.Second); len(due) != 1 {
		t.Fatalf("parked fragments are never due: %+v", due)
	}
	if item, _ := o.MarkAttempt(k0, now, ""); item.NeedsRoute || !item.NextAttemptAt.IsZero() {
		t.Fatalf("attempt should clear retry state: %+v", item)
	}

	o.Remove(k0)
	if o.SessionDone(7) {
		t.Fatalf("session 7 still has fragment 1")
	}
	if n := o.RemoveSession(7); n != 1 || !o.SessionDone(7) {
		t.Fatalf("remove session n=%d", n)
	}
}

func TestSequenceCarriesOwner(t *testing.T) {
	testlog.Start(t)
	a, b := NewSequence(3), NewSequence(200)
	seen := make(map[uint64]bool)
	for range 100 {
		for _, id := range []uint64{a.Next(), b.Next()} {
			if seen[id] {
				t.Fatalf("duplicate id %x", id)
			}
			seen[id] = true
		}
	}
	if got := Owner(a.Next()); got != 3 {
		t.Fatalf("owner=%d", got)
	}
	if got := Owner(b.Next()); got != 200 {
		t.Fatalf("owner=%d", got)
	}
}

func TestAcceptsByRole(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		cmd   Command
		roles []network.NodeType
	}{
		{AddSender{}, []network.NodeType{network.Drone, network.Client, network.Server}},
		{RequestNetworkDiscovery{}, []network.NodeType{network.Drone, network.Client, network.Server}},
		{Crash{}, []network.NodeType{network.Drone}},
		{SetPacketDropRate{}, []network.NodeType{network.Drone}},
		{RequestFile{}, []network.NodeType{network.Client}},
		{SendChatMessage{}, []network.NodeType{network.Client}},
		{RegisterClient{}, []network.NodeType{network.Server}},
		{SendMessageToClient{}, []network.NodeType{network.Server}},
	}
	all := []network.NodeType{network.Drone, network.Client, network.Server}
	for _, tc := range cases {
		for _, role := range all {
			want := false
			for _, r := range tc.roles {
				want = want || r == role
			}
			if got := Accepts(role, tc.cmd); got != want {
				t.Fatalf("%s on %s: got=%v want=%v", tc.cmd.Name(), role, got, want)
			}
		}
	}
}

func TestRouterLearnsAndForgets(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(1, network.Client)
	r.AddNeighbour(11)
	r.AddNeighbour(12)
	r.Learn([]packet.Hop{
		{ID: 1, Type: network.Client},
		{ID: 11, Type: network.Drone},
		{ID: 13, Type: network.Drone},
		{ID: 21, Type: network.Server},
	})
	r.Learn([]packet.Hop{
		{ID: 1, Type: network.Client},
		{ID: 12, Type: network.Drone},
		{ID: 21, Type: network.Server},
	})

	route, ok := r.RouteTo(21)
	if !ok || len(route) != 3 || route[1] != 12 {
		t.Fatalf("expected shortest route via 12, got %v ok=%v", route, ok)
	}
	if got := r.Known(network.Server); len(got) != 1 || got[0] != 21 {
		t.Fatalf("known servers=%v", got)
	}

	r.Forget(12, 21)
	route, ok = r.RouteTo(21)
	if !ok || len(route) != 4 || route[1] != 11 || route[2] != 13 {
		t.Fatalf("expected detour via 11,13, got %v", route)
	}

	r.ForgetNode(13)
	if route, ok := r.RouteTo(21); ok {
		t.Fatalf("no route expected, got %v", route)
	}
	r.ForgetNode(1)
	if got := r.Known(network.Drone); len(got) != 2 {
		t.Fatalf("self must survive ForgetNode, drones=%v", got)
	}
}

func TestRouterDoesNotTransitHosts(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(1, network.Client)
	r.AddNeighbour(11)
	r.LearnPath([]network.NodeID{2, 11, 1}, network.Client)
	r.Learn([]packet.Hop{
		{ID: 2, Type: network.Client},
		{ID: 14, Type: network.Drone},
		{ID: 21, Type: network.Server},
	})
	if route, ok := r.RouteTo(2); !ok || len(route) != 3 {
		t.Fatalf("client 2 should be reachable as a destination, got %v", route)
	}
	if route, ok := r.RouteTo(21); ok {
		t.Fatalf("route must not cross client 2, got %v", route)
	}
}
