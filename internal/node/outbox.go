package node

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/packet"
)

// FragmentKey identifies one sent fragment.
type FragmentKey struct {
	SessionID uint64
	Index     uint64
}

// PendingFragment tracks one fragment awaiting an ACK.
type PendingFragment struct {
	Packet        packet.Packet
	Destination   network.NodeID
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	// NextAttemptAt is zero while the fragment waits for a NACK, an ACK or
	// a new route.
	NextAttemptAt time.Time
	NeedsRoute    bool
	LastError     string
}

func (p PendingFragment) Key() FragmentKey {
	f, _ := p.Packet.Body.(packet.Fragment)
	return FragmentKey{SessionID: p.Packet.SessionID, Index: f.Index}
}

// Outbox stores unacknowledged fragments by session and index.
type Outbox struct {
	mu    sync.RWMutex
	items map[FragmentKey]PendingFragment
}

func NewOutbox() *Outbox {
	return &Outbox{
		items: make(map[FragmentKey]PendingFragment),
	}
}

func (o *Outbox) Upsert(item PendingFragment) {
	if _, ok := item.Packet.Body.(packet.Fragment); !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.Key()] = item
}

// MarkAttempt records one more transmission of key.
func (o *Outbox) MarkAttempt(key FragmentKey, at time.Time, lastErr string) (PendingFragment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingFragment{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.NextAttemptAt = time.Time{}
	item.NeedsRoute = false
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

// Update applies fn to the stored item, if any.
func (o *Outbox) Update(key FragmentKey, fn func(*PendingFragment)) (PendingFragment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingFragment{}, false
	}
	fn(&item)
	o.items[key] = item
	return item, true
}

func (o *Outbox) Remove(key FragmentKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

// RemoveSession drops every fragment of sessionID and returns how many.
func (o *Outbox) RemoveSession(sessionID uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for k := range o.items {
		if k.SessionID == sessionID {
			delete(o.items, k)
			n++
		}
	}
	return n
}

// SessionDone reports whether sessionID has no fragment left.
func (o *Outbox) SessionDone(sessionID uint64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for k := range o.items {
		if k.SessionID == sessionID {
			return false
		}
	}
	return true
}

func (o *Outbox) Get(key FragmentKey) (PendingFragment, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

func (o *Outbox) List() []PendingFragment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingFragment, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sortPending(out)
	return out
}

// Due returns fragments whose retry time has passed, plus fragments that
// went unanswered for longer than ackTimeout.
func (o *Outbox) Due(now time.Time, ackTimeout time.Duration) []PendingFragment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []PendingFragment
	for _, item := range o.items {
		switch {
		case item.NeedsRoute:
		case !item.NextAttemptAt.IsZero() && !now.Before(item.NextAttemptAt):
			out = append(out, item)
		case item.NextAttemptAt.IsZero() && ackTimeout > 0 && now.Sub(item.LastAttemptAt) >= ackTimeout:
			out = append(out, item)
		}
	}
	sortPending(out)
	return out
}

// AwaitingRoute returns fragments parked until a route is known.
func (o *Outbox) AwaitingRoute() []PendingFragment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []PendingFragment
	for _, item := range o.items {
		if item.NeedsRoute {
			out = append(out, item)
		}
	}
	sortPending(out)
	return out
}

func sortPending(items []PendingFragment) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Key(), items[j].Key()
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		return a.Index < b.Index
	})
}
