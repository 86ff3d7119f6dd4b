package topology

import (
	"errors"
	"fmt"

	"github.com/danmuck/dronenet/internal/network"
)

var (
	ErrServerConnection = errors.New("topology: server connection error")
	ErrClientConnection = errors.New("topology: client connection error")
	ErrNotBidirectional = errors.New("topology: edge is not bidirectional")
	ErrNotConnected     = errors.New("topology: graph is not connected")
	ErrDuplicateNode    = errors.New("topology: duplicate node id")
	ErrEmptyRoster      = errors.New("topology: empty roster")
	ErrSelfLoop         = errors.New("topology: node lists itself as neighbour")
	ErrUnknownNode      = errors.New("topology: unknown node")
	ErrNotValidated     = errors.New("topology: roster not validated")
)

// ConnectionError reports a role constraint violated by one host.
type ConnectionError struct {
	Node   network.NodeID
	Type   network.NodeType
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("topology: %s %d connection error: %s", e.Type, e.Node, e.Reason)
}

func (e *ConnectionError) Is(target error) bool {
	switch target {
	case ErrServerConnection:
		return e.Type == network.Server
	case ErrClientConnection:
		return e.Type == network.Client
	default:
		return false
	}
}

// NotBidirectionalError names the first edge (A, B) recorded without its
// reverse (B, A).
type NotBidirectionalError struct {
	A network.NodeID
	B network.NodeID
}

func (e *NotBidirectionalError) Error() string {
	return fmt.Sprintf("topology: edge %d->%d has no reverse edge", e.A, e.B)
}

func (e *NotBidirectionalError) Is(target error) bool {
	return target == ErrNotBidirectional
}
