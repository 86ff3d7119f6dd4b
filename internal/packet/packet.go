// Package packet defines the unit exchanged between nodes: a source-routed
// packet carrying either a message fragment or a control body.
package packet

import (
	"errors"
	"fmt"

	"github.com/danmuck/dronenet/internal/network"
)

// FragmentCapacity is the network-wide payload size of one fragment.
// Changing it is a protocol version bump.
const FragmentCapacity = 128

var (
	ErrFragmentTooLong = errors.New("packet: fragment longer than capacity")
	ErrFragmentIndex   = errors.New("packet: fragment index out of range")
)

// Body is the closed set of packet payloads.
type Body interface {
	isBody()
	Kind() string
}

// Packet is a routed body tagged with the session it belongs to.
type Packet struct {
	SessionID uint64
	Header    network.SourceRoutingHeader
	Body      Body
}

// Fragment is one fixed-capacity chunk of a serialized message.
type Fragment struct {
	Index  uint64
	Total  uint64
	Length uint8
	Data   [FragmentCapacity]byte
}

// NewFragment copies chunk into a fragment. chunk must not exceed
// FragmentCapacity.
func NewFragment(index, total uint64, chunk []byte) (Fragment, error) {
	if len(chunk) > FragmentCapacity {
		return Fragment{}, fmt.Errorf("%w: %d", ErrFragmentTooLong, len(chunk))
	}
	if index >= total {
		return Fragment{}, fmt.Errorf("%w: %d of %d", ErrFragmentIndex, index, total)
	}
	f := Fragment{Index: index, Total: total, Length: uint8(len(chunk))}
	copy(f.Data[:], chunk)
	return f, nil
}

// Payload returns the meaningful bytes of the fragment.
func (f Fragment) Payload() []byte {
	n := int(f.Length)
	if n > FragmentCapacity {
		n = FragmentCapacity
	}
	return f.Data[:n]
}

// IsLast reports whether this is the final fragment of its session.
func (f Fragment) IsLast() bool {
	return f.Index+1 == f.Total
}

// Ack confirms receipt of one fragment.
type Ack struct {
	FragmentIndex uint64
}

// NackType says why a fragment did not make it.
type NackType uint8

const (
	ErrorInRouting NackType = iota + 1
	DestinationIsDrone
	Dropped
	UnexpectedRecipient
)

func (t NackType) String() string {
	switch t {
	case ErrorInRouting:
		return "error_in_routing"
	case DestinationIsDrone:
		return "destination_is_drone"
	case Dropped:
		return "dropped"
	case UnexpectedRecipient:
		return "unexpected_recipient"
	default:
		return fmt.Sprintf("nack_type(%d)", uint8(t))
	}
}

// Nack reports a failed fragment. Node is the offending hop for
// ErrorInRouting and UnexpectedRecipient and the reporter otherwise.
type Nack struct {
	FragmentIndex uint64
	Type          NackType
	Node          network.NodeID
}

// Hop is one entry of a flood path trace.
type Hop struct {
	ID   network.NodeID
	Type network.NodeType
}

// FloodRequest explores the network; every node appends itself to the trace.
type FloodRequest struct {
	FloodID   uint64
	Initiator network.NodeID
	PathTrace []Hop
}

// FloodResponse carries a completed path trace back to the initiator.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []Hop
}

func (Fragment) isBody()      {}
func (Ack) isBody()           {}
func (Nack) isBody()          {}
func (FloodRequest) isBody()  {}
func (FloodResponse) isBody() {}

func (Fragment) Kind() string      { return "fragment" }
func (Ack) Kind() string           { return "ack" }
func (Nack) Kind() string          { return "nack" }
func (FloodRequest) Kind() string  { return "flood_request" }
func (FloodResponse) Kind() string { return "flood_response" }

// Droppable reports whether a relay may drop p. Only fragments are subject
// to the drop rate; control packets always travel.
func (p Packet) Droppable() bool {
	_, ok := p.Body.(Fragment)
	return ok
}

// Clone returns a packet whose header and trace slices are private copies.
func (p Packet) Clone() Packet {
	out := Packet{SessionID: p.SessionID, Header: p.Header.Clone()}
	switch b := p.Body.(type) {
	case FloodRequest:
		b.PathTrace = append([]Hop(nil), b.PathTrace...)
		out.Body = b
	case FloodResponse:
		b.PathTrace = append([]Hop(nil), b.PathTrace...)
		out.Body = b
	default:
		out.Body = b
	}
	return out
}

// NewAck builds an ACK routed back along the traversed part of h.
func NewAck(sessionID uint64, h network.SourceRoutingHeader, index uint64) Packet {
	return Packet{SessionID: sessionID, Header: h.Traversed(), Body: Ack{FragmentIndex: index}}
}

// NewNack builds a NACK routed back along the traversed part of h.
func NewNack(sessionID uint64, h network.SourceRoutingHeader, nack Nack) Packet {
	return Packet{SessionID: sessionID, Header: h.Traversed(), Body: nack}
}

// TraceRoute converts a path trace into a hop list.
func TraceRoute(trace []Hop) []network.NodeID {
	out := make([]network.NodeID, len(trace))
	for i, h := range trace {
		out[i] = h.ID
	}
	return out
}

func (p Packet) String() string {
	if p.Body == nil {
		return fmt.Sprintf("empty session=%d route=%s", p.SessionID, p.Header)
	}
	return fmt.Sprintf("%s session=%d route=%s", p.Body.Kind(), p.SessionID, p.Header)
}
