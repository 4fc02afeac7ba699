// Package fanout hands grabbed frames to slow consumers (disk, broker)
// without blocking the grab loop.
//
// Drop frames, never queue: a subscriber whose buffer is full misses the
// frame and the drop is counted.
package fanout

import (
	"errors"
	"sync"
	"sync/atomic"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

var (
	ErrBusClosed          = errors.New("fanout: bus is closed")
	ErrSubscriberExists   = errors.New("fanout: subscriber already exists")
	ErrSubscriberNotFound = errors.New("fanout: subscriber not found")
)

// Item is one grabbed frame as seen by subscribers. Frame.Data is shared and
// must not be modified.
type Item struct {
	Frame   framegrabber.Frame
	Index   int     // 1-based position in the grab loop
	DeltaMS float64 // camera timestamp difference to the previous grab
}

// SubscriberStats tracks distribution to one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan Item
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes items to every subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers id with a buffer of size items. The returned channel
// is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(id string, size int) (<-chan Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}
	if size < 1 {
		size = 1
	}

	s := &subscriber{ch: make(chan Item, size)}
	b.subscribers[id] = s
	return s.ch, nil
}

// Publish offers item to every subscriber without blocking.
func (b *Bus) Publish(item Item) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		select {
		case s.ch <- item:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Unsubscribe removes id and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	close(s.ch)
	delete(b.subscribers, id)
	return nil
}

// Stats returns statistics for a subscriber
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}, nil
}

// Published returns the number of items offered since New.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close closes every subscriber channel. Buffered items are still received.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, s := range b.subscribers {
		close(s.ch)
		delete(b.subscribers, id)
	}
}
