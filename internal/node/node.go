package node

import (
	"context"

	"github.com/danmuck/dronenet/internal/network"
)

// Node is one simulated unit: a drone, client or server running its own
// goroutine.
type Node interface {
	ID() network.NodeID
	Type() network.NodeType
	Run(ctx context.Context) error
}
