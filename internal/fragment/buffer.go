package fragment

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/dronenet/internal/packet"
	"github.com/danmuck/dronenet/internal/protocol/frame"
)

var (
	ErrMalformedFragment = errors.New("fragment: malformed fragment")
	ErrIncomplete        = errors.New("fragment: session incomplete")
)

// MaxFragments is the largest total a session may announce: enough
// fragments to carry the biggest frame the codec accepts.
var MaxFragments = (frame.DefaultLimits().MaxPayloadBytes + uint64(frame.FixedHeaderLen) + packet.FragmentCapacity - 1) / packet.FragmentCapacity

// Buffer accumulates the fragments of one session.
type Buffer struct {
	data      []byte
	received  map[uint64]struct{}
	total     uint64
	createdAt time.Time
	updatedAt time.Time
}

func NewBuffer() *Buffer {
	now := time.Now()
	return &Buffer{
		received:  make(map[uint64]struct{}),
		createdAt: now,
		updatedAt: now,
	}
}

// Insert places f at Index*FragmentCapacity, growing the buffer with zeroes
// as needed. Re-inserting an index overwrites it.
func (b *Buffer) Insert(f packet.Fragment) error {
	if err := b.check(f); err != nil {
		return err
	}
	b.total = f.Total

	start := int(f.Index) * packet.FragmentCapacity
	end := start + int(f.Length)
	switch {
	case len(b.data) >= end:
	case cap(b.data) >= end:
		b.data = b.data[:end]
	default:
		grown := make([]byte, end, max(end, 2*cap(b.data)))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[start:end], f.Payload())
	b.received[f.Index] = struct{}{}
	b.updatedAt = time.Now()
	return nil
}

func (b *Buffer) check(f packet.Fragment) error {
	if f.Total == 0 || f.Index >= f.Total {
		return fmt.Errorf("%w: index %d of %d", ErrMalformedFragment, f.Index, f.Total)
	}
	if f.Total > MaxFragments {
		return fmt.Errorf("%w: total %d exceeds %d", ErrMalformedFragment, f.Total, MaxFragments)
	}
	if b.total != 0 && f.Total != b.total {
		return fmt.Errorf("%w: total %d disagrees with session total %d", ErrMalformedFragment, f.Total, b.total)
	}
	if f.Length == 0 || int(f.Length) > packet.FragmentCapacity {
		return fmt.Errorf("%w: length %d", ErrMalformedFragment, f.Length)
	}
	if !f.IsLast() && int(f.Length) != packet.FragmentCapacity {
		return fmt.Errorf("%w: non-final fragment %d has length %d", ErrMalformedFragment, f.Index, f.Length)
	}
	return nil
}

// Complete reports whether every index below the session total arrived.
func (b *Buffer) Complete() bool {
	return b.total != 0 && uint64(len(b.received)) == b.total
}

// Received returns the number of distinct indices seen.
func (b *Buffer) Received() int {
	return len(b.received)
}

// Total returns the fragment count announced by the session, or 0 before
// the first fragment.
func (b *Buffer) Total() uint64 {
	return b.total
}

// Bytes returns the reassembled message once complete.
func (b *Buffer) Bytes() ([]byte, error) {
	if !b.Complete() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIncomplete, len(b.received), b.total)
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

// UpdatedAt returns when the last fragment was inserted.
func (b *Buffer) UpdatedAt() time.Time {
	return b.updatedAt
}
