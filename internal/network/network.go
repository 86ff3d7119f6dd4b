// Package network holds the identifiers and routing header shared by every
// node role.
package network

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyRoute     = errors.New("network: empty route")
	ErrHopOutOfRange  = errors.New("network: hop index out of range")
	ErrUnknownType    = errors.New("network: unknown node type")
	ErrUnknownKind    = errors.New("network: unknown node kind")
	ErrRouteExhausted = errors.New("network: route has no next hop")
)

// NodeID identifies a node network-wide.
type NodeID uint8

// NodeType is the role of a node. It decides topology constraints and the
// command/event vocabulary the node understands.
type NodeType uint8

const (
	Drone NodeType = iota + 1
	Client
	Server
)

func (t NodeType) String() string {
	switch t {
	case Drone:
		return "drone"
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return fmt.Sprintf("node_type(%d)", uint8(t))
	}
}

// ServerKind is the service a server offers.
type ServerKind uint8

const (
	ContentServer ServerKind = iota + 1
	CommunicationServer
)

func (k ServerKind) String() string {
	switch k {
	case ContentServer:
		return "content"
	case CommunicationServer:
		return "communication"
	default:
		return fmt.Sprintf("server_kind(%d)", uint8(k))
	}
}

// ClientKind is the application a client runs.
type ClientKind uint8

const (
	WebBrowser ClientKind = iota + 1
	ChatClient
)

func (k ClientKind) String() string {
	switch k {
	case WebBrowser:
		return "web_browser"
	case ChatClient:
		return "chat"
	default:
		return fmt.Sprintf("client_kind(%d)", uint8(k))
	}
}

// ParseServerKind accepts "content" or "communication".
func ParseServerKind(raw string) (ServerKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "content":
		return ContentServer, nil
	case "communication", "chat":
		return CommunicationServer, nil
	default:
		return 0, fmt.Errorf("%w: server kind %q", ErrUnknownKind, raw)
	}
}

// ParseClientKind accepts "web_browser" or "chat".
func ParseClientKind(raw string) (ClientKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "web_browser", "web", "browser":
		return WebBrowser, nil
	case "chat":
		return ChatClient, nil
	default:
		return 0, fmt.Errorf("%w: client kind %q", ErrUnknownKind, raw)
	}
}

// ParseNodeType accepts the lowercase role names used in simulation files.
func ParseNodeType(raw string) (NodeType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "drone":
		return Drone, nil
	case "client":
		return Client, nil
	case "server":
		return Server, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

// SourceRoutingHeader is the ordered hop list a packet traverses plus the
// cursor marking where the packet currently is.
type SourceRoutingHeader struct {
	Hops     []NodeID
	HopIndex int
}

// NewRoute returns a header positioned at the first hop.
func NewRoute(hops []NodeID) SourceRoutingHeader {
	out := make([]NodeID, len(hops))
	copy(out, hops)
	return SourceRoutingHeader{Hops: out}
}

// Validate checks 0 <= HopIndex < len(Hops).
func (h SourceRoutingHeader) Validate() error {
	if len(h.Hops) == 0 {
		return ErrEmptyRoute
	}
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return fmt.Errorf("%w: %d of %d", ErrHopOutOfRange, h.HopIndex, len(h.Hops))
	}
	return nil
}

// Current returns the node the packet is at.
func (h SourceRoutingHeader) Current() (NodeID, bool) {
	if h.Validate() != nil {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// Next returns the hop after the current one.
func (h SourceRoutingHeader) Next() (NodeID, bool) {
	if h.Validate() != nil || h.HopIndex+1 >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[h.HopIndex+1], true
}

// Source returns the first hop.
func (h SourceRoutingHeader) Source() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[0], true
}

// Destination returns the last hop.
func (h SourceRoutingHeader) Destination() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[len(h.Hops)-1], true
}

// IsLast reports whether the packet is at its final hop.
func (h SourceRoutingHeader) IsLast() bool {
	return len(h.Hops) > 0 && h.HopIndex == len(h.Hops)-1
}

// Advance moves the cursor to the next hop.
func (h *SourceRoutingHeader) Advance() error {
	if h.HopIndex+1 >= len(h.Hops) {
		return ErrRouteExhausted
	}
	h.HopIndex++
	return nil
}

// Traversed returns the reversed path from the current hop back to the
// source, positioned at index 0. Used to route ACK/NACK replies.
func (h SourceRoutingHeader) Traversed() SourceRoutingHeader {
	end := h.HopIndex
	if end >= len(h.Hops) {
		end = len(h.Hops) - 1
	}
	if end < 0 {
		return SourceRoutingHeader{}
	}
	out := make([]NodeID, 0, end+1)
	for i := end; i >= 0; i-- {
		out = append(out, h.Hops[i])
	}
	return SourceRoutingHeader{Hops: out}
}

// Reversed returns the full route reversed, positioned at index 0.
func (h SourceRoutingHeader) Reversed() SourceRoutingHeader {
	out := make([]NodeID, len(h.Hops))
	for i, id := range h.Hops {
		out[len(h.Hops)-1-i] = id
	}
	return SourceRoutingHeader{Hops: out}
}

// Clone returns a header that shares no memory with h.
func (h SourceRoutingHeader) Clone() SourceRoutingHeader {
	out := make([]NodeID, len(h.Hops))
	copy(out, h.Hops)
	return SourceRoutingHeader{Hops: out, HopIndex: h.HopIndex}
}

func (h SourceRoutingHeader) String() string {
	parts := make([]string, len(h.Hops))
	for i, id := range h.Hops {
		if i == h.HopIndex {
			parts[i] = fmt.Sprintf("[%d]", id)
			continue
		}
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, "->")
}
