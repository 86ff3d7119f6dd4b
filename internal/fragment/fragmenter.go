package fragment

import (
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/protocol"
)

// Fragment encodes msg and splits it into packets sharing hops and
// sessionID. Every packet starts at hop index 0.
func Fragment(msg protocol.Message, hops []network.NodeID, sessionID uint64) ([]packet.Packet, error) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return nil, err
	}
	return Split(data, hops, sessionID), nil
}

// Split slices data into FragmentCapacity chunks. The final chunk holds the
// remainder; a length that is an exact multiple ends with a full chunk.
func Split(data []byte, hops []network.NodeID, sessionID uint64) []packet.Packet {
	total := Count(len(data))
	out := make([]packet.Packet, 0, total)
	for i := uint64(0); i < total; i++ {
		start := int(i) * packet.FragmentCapacity
		end := min(start+packet.FragmentCapacity, len(data))
		// chunk length never exceeds capacity and i < total, so this cannot fail
		frag, _ := packet.NewFragment(i, total, data[start:end])
		out = append(out, packet.Packet{
			SessionID: sessionID,
			Header:    network.NewRoute(hops),
			Body:      frag,
		})
	}
	return out
}

// Count returns ceil(n / FragmentCapacity).
func Count(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64((n + packet.FragmentCapacity - 1) / packet.FragmentCapacity)
}
