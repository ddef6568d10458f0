package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/exclave/exclave/internal/unit"
)

// DefaultBuffer is the per-subscriber record buffer.
const DefaultBuffer = 1024

// Broadcast fans records out to every subscriber. Publishing never blocks:
// a subscriber that falls more than its buffer behind loses records, with a
// per-subscriber drop counter and a single warning record per gap.
type Broadcast struct {
	mu     sync.Mutex
	buffer int
	subs   []*Subscriber
	closed bool
}

// Subscriber is one broadcast consumer. Records arrive on Records() in
// publish order; records published before Subscribe are never delivered.
type Subscriber struct {
	name string
	ch   chan Record

	dropped atomic.Uint64
	inGap   bool
}

// NewBroadcast creates a broadcast bus with the given per-subscriber buffer.
// A non-positive buffer uses DefaultBuffer.
func NewBroadcast(buffer int) *Broadcast {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcast{buffer: buffer}
}

// Subscribe registers a new consumer. The name identifies the subscriber in
// gap warnings.
func (b *Broadcast) Subscribe(name string) *Subscriber {
	s := &Subscriber{name: name, ch: make(chan Record, b.buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Broadcast) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish delivers the record to every subscriber that has buffer room.
// Subscribers with full buffers drop the record and are owed a gap warning,
// which is delivered ahead of the next record that fits.
func (b *Broadcast) Publish(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.offer(r)
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// Records returns the subscriber's delivery channel. It is closed by
// Unsubscribe or by the bus shutting down.
func (s *Subscriber) Records() <-chan Record {
	return s.ch
}

// Dropped returns how many records this subscriber has lost to back-pressure.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) offer(r Record) {
	// A pending gap warning takes the first free slot, so the consumer
	// learns about the loss in stream order.
	if s.inGap {
		warning := NewLogError(unit.Internal("bus"),
			fmt.Sprintf("subscriber %s: dropped %d records", s.name, s.dropped.Load()))
		select {
		case s.ch <- warning:
			s.inGap = false
		default:
			s.dropped.Add(1)
			return
		}
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
		s.inGap = true
	}
}
