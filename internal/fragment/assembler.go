package fragment

import (
	"sort"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
)

// Key identifies a session: the same session id from different sources
// never collides.
type Key struct {
	SessionID uint64
	Source    network.NodeID
}

// Assembler tracks in-progress sessions for one node. It is owned by a
// single actor and is not safe for concurrent use.
type Assembler struct {
	sessions map[Key]*Buffer
}

func NewAssembler() *Assembler {
	return &Assembler{sessions: make(map[Key]*Buffer)}
}

// Accept inserts f into its session. When the session completes, the buffer
// is released and the reassembled bytes are returned with done=true.
func (a *Assembler) Accept(source network.NodeID, sessionID uint64, f packet.Fragment) ([]byte, bool, error) {
	key := Key{SessionID: sessionID, Source: source}
	buf, ok := a.sessions[key]
	if !ok {
		buf = NewBuffer()
	}
	if err := buf.Insert(f); err != nil {
		return nil, false, err
	}
	if !buf.Complete() {
		a.sessions[key] = buf
		return nil, false, nil
	}
	delete(a.sessions, key)
	data, err := buf.Bytes()
	return data, err == nil, err
}

// Pending returns the number of incomplete sessions.
func (a *Assembler) Pending() int {
	return len(a.sessions)
}

// Sessions lists incomplete session keys in ascending order.
func (a *Assembler) Sessions() []Key {
	out := make([]Key, 0, len(a.sessions))
	for k := range a.sessions {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Discard drops one session.
func (a *Assembler) Discard(source network.NodeID, sessionID uint64) {
	delete(a.sessions, Key{SessionID: sessionID, Source: source})
}

// EvictOlderThan drops sessions whose last fragment arrived before cutoff and
// returns how many were dropped.
func (a *Assembler) EvictOlderThan(cutoff time.Time) int {
	n := 0
	for k, buf := range a.sessions {
		if buf.UpdatedAt().Before(cutoff) {
			delete(a.sessions, k)
			n++
		}
	}
	return n
}
