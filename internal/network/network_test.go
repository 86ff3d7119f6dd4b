package network

import (
	"errors"
	"testing"
)

func TestHeaderCursor(t *testing.T) {
	h := NewRoute([]NodeID{1, 11, 12, 21})
	if cur, ok := h.Current(); !ok || cur != 1 {
		t.Fatalf("current=%d ok=%v", cur, ok)
	}
	if next, _ := h.Next(); next != 11 {
		t.Fatalf("next=%d", next)
	}
	for range 3 {
		if err := h.Advance(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if !h.IsLast() {
		t.Fatalf("expected last hop, index=%d", h.HopIndex)
	}
	if _, ok := h.Next(); ok {
		t.Fatalf("last hop has no next")
	}
	if err := h.Advance(); !errors.Is(err, ErrRouteExhausted) {
		t.Fatalf("err=%v", err)
	}
}

func TestHeaderValidate(t *testing.T) {
	if err := (SourceRoutingHeader{}).Validate(); !errors.Is(err, ErrEmptyRoute) {
		t.Fatalf("err=%v", err)
	}
	bad := SourceRoutingHeader{Hops: []NodeID{1, 2}, HopIndex: 2}
	if err := bad.Validate(); !errors.Is(err, ErrHopOutOfRange) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := bad.Current(); ok {
		t.Fatalf("out of range header has no current hop")
	}
}

func TestHeaderTraversedAndReversed(t *testing.T) {
	h := SourceRoutingHeader{Hops: []NodeID{1, 11, 12, 21}, HopIndex: 2}
	back := h.Traversed()
	if len(back.Hops) != 3 || back.Hops[0] != 12 || back.Hops[2] != 1 || back.HopIndex != 0 {
		t.Fatalf("traversed=%v", back)
	}
	rev := h.Reversed()
	if len(rev.Hops) != 4 || rev.Hops[0] != 21 || rev.HopIndex != 0 {
		t.Fatalf("reversed=%v", rev)
	}

	c := h.Clone()
	c.Hops[0] = 99
	if h.Hops[0] != 1 {
		t.Fatalf("clone shares hops")
	}
}

func TestParseKinds(t *testing.T) {
	if k, err := ParseServerKind(" Content "); err != nil || k != ContentServer {
		t.Fatalf("server kind=%v err=%v", k, err)
	}
	if k, err := ParseClientKind("chat"); err != nil || k != ChatClient {
		t.Fatalf("client kind=%v err=%v", k, err)
	}
	if _, err := ParseClientKind("fax"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err=%v", err)
	}
	if typ, err := ParseNodeType("DRONE"); err != nil || typ != Drone {
		t.Fatalf("type=%v err=%v", typ, err)
	}
	if _, err := ParseNodeType("satellite"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v", err)
	}
	if got := NodeType(9).String(); got != "node_type(9)" {
		t.Fatalf("string=%q", got)
	}
}
