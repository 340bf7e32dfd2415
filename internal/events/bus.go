// Package events decouples scan computation from notification delivery.
//
// The engine publishes one threat_detected event per finding; the Bus
// fans them out to subscribers (the websocket hub, tests) without ever
// blocking the scan path.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/vermlabs/sentinel/internal/threat"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 256

// Bus is a non-blocking fan-out of threat events. Publish drops on a
// full subscriber channel; a slow consumer loses events rather than
// stalling scans.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan threat.ThreatEvent
	nextID int
	buffer int
	closed bool

	dropped atomic.Int64
}

// NewBus creates a bus with the given per-subscriber buffer (DefaultBuffer
// if <= 0).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan threat.ThreatEvent),
		buffer: buffer,
	}
}

// Publish delivers evt to every subscriber. Never blocks.
func (b *Bus) Publish(evt threat.ThreatEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded due to full subscriber
// buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe registers a new consumer. The returned cancel function must
// be called when the consumer is done; after cancel the channel is
// closed.
func (b *Bus) Subscribe() (<-chan threat.ThreatEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan threat.ThreatEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ threat.EventSink = (*Bus)(nil)
