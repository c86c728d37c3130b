// Package eventbus implements the single-producer, multi-consumer
// broadcast channel the decoder publishes to and every sink reads from.
package eventbus

import (
	"sync"

	"github.com/rvtacit/tracedecoder/event"
)

// DefaultCapacity is the default bounded ring size.
const DefaultCapacity = 1024

// Bus is a bounded broadcast log: every Subscriber sees every entry, in
// production order, with no drops. A slow subscriber applies backpressure
// to Publish by forcing the ring to stop growing until it catches up.
type Bus struct {
	mu      sync.Mutex
	cond    *sync.Cond
	cap     int
	entries []event.Entry
	base    int // index of entries[0] in the overall stream
	closed  bool
	cursors map[*Subscriber]struct{}
}

// New creates a Bus with the given bounded capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{cap: capacity, cursors: make(map[*Subscriber]struct{})}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscriber reads entries from a Bus starting from the moment it
// subscribed, at its own pace.
type Subscriber struct {
	bus    *Bus
	cursor int
}

// Subscribe registers a new subscriber positioned at the current end of
// the stream (subscribers that join mid-stream do not see history).
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscriber{bus: b, cursor: b.base + len(b.entries)}
	b.cursors[s] = struct{}{}
	return s
}

// Unsubscribe removes s, which may unblock Publish if s was the
// slowest subscriber.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, s)
	b.trimLocked()
	b.cond.Broadcast()
}

// Publish appends e to the stream, blocking while the ring is at capacity
// relative to the slowest subscriber. It never drops an entry.
func (b *Bus) Publish(e event.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.entries) >= b.cap && len(b.cursors) > 0 {
		b.cond.Wait()
	}
	b.entries = append(b.entries, e)
	b.cond.Broadcast()
}

// Close signals every subscriber that no further entries will arrive.
// Subscribers must drain any remaining buffered entries, then finalize.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// trimLocked drops entries already seen by every remaining subscriber,
// freeing capacity for Publish.
func (b *Bus) trimLocked() {
	min := b.base + len(b.entries)
	for s := range b.cursors {
		if s.cursor < min {
			min = s.cursor
		}
	}
	if min > b.base {
		drop := min - b.base
		b.entries = b.entries[drop:]
		b.base = min
	}
}

// Next blocks until an entry is available or the bus is closed and fully
// drained, cooperatively yielding rather than busy-polling. ok is false
// only once the subscriber has caught up to a closed bus.
func (s *Subscriber) Next() (e event.Entry, ok bool) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if s.cursor < b.base+len(b.entries) {
			e = b.entries[s.cursor-b.base]
			s.cursor++
			b.trimLocked()
			b.cond.Broadcast()
			return e, true
		}
		if b.closed {
			return event.Entry(nil), false
		}
		b.cond.Wait()
	}
}
