package drone

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
)

// Reference names the relay implemented by this package.
const Reference = "reference"

var ErrUnknownImpl = errors.New("drone: unknown implementation")

// Factory builds one drone. Implementations only talk to the rest of the
// simulation through ch.
type Factory func(id network.NodeID, ch node.Channels, pdr float64, seed int64) (node.Node, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{
		Reference: func(id network.NodeID, ch node.Channels, pdr float64, seed int64) (node.Node, error) {
			d, err := New(id, ch, pdr, seed)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
)

// Register makes f available under name, replacing any previous factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Implementations returns the registered names, sorted.
func Implementations() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// Lookup returns the factory for name. The empty name is Reference.
func Lookup(name string) (Factory, bool) {
	if name == "" {
		name = Reference
	}
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Build looks up impl and builds drone id with it.
func Build(impl string, id network.NodeID, ch node.Channels, pdr float64, seed int64) (node.Node, error) {
	f, ok := Lookup(impl)
	if !ok {
		return nil, fmt.Errorf("%w: %q for drone %d", ErrUnknownImpl, impl, id)
	}
	return f(id, ch, pdr, seed)
}
