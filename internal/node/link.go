package node

import (
	"context"
	"sync"

	"github.com/danmuck/dronenet/internal/packet"
)

// link is the outbound side of one neighbour. Packets the neighbour cannot
// take right away wait in an unbounded FIFO that a pump goroutine drains,
// so a node never blocks on another node's inbox.
type link struct {
	ch   chan<- packet.Packet
	wake chan struct{}
	stop chan struct{}

	mu      sync.Mutex
	queue   []packet.Packet
	pumping bool
}

func newLink(ch chan<- packet.Packet) *link {
	return &link{ch: ch, wake: make(chan struct{}, 1), stop: make(chan struct{})}
}

// offer hands p to the neighbour without blocking and returns the number
// of packets left queued behind it.
func (l *link) offer(p packet.Packet) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		select {
		case l.ch <- p:
			return 0
		default:
		}
	}
	l.queue = append(l.queue, p)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return len(l.queue)
}

func (l *link) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// start launches the pump once. The pump exits when ctx ends or the link
// is closed.
func (l *link) start(ctx context.Context, wg *sync.WaitGroup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pumping {
		return
	}
	l.pumping = true
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.pump(ctx)
	}()
}

func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	l.queue = nil
}

func (l *link) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			p := l.queue[0]
			l.mu.Unlock()

			select {
			case l.ch <- p:
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			}

			l.mu.Lock()
			if len(l.queue) > 0 {
				l.queue[0] = packet.Packet{}
				l.queue = l.queue[1:]
			}
			l.mu.Unlock()
		}
	}
}
