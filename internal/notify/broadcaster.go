package notify

import (
	"sync"

	"github.com/vadiminshakov/vault/internal/domain"
)

// Broadcaster fans out events to in-process subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan domain.Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for slow readers.
func (b *Broadcaster) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
