// Package eventbus is a broadcast channel with a bounded replay ring. Slow
// subscribers lose events, never the emitter or other subscribers; a
// subscriber that falls behind sees a gap marker instead of silently
// missing history.
package eventbus

import (
	"sync"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/eventmodel"
)

// Gap is a control message telling a subscriber that events starting at
// sequence From were dropped for it specifically.
type Gap struct {
	From uint64
}

// Message is either an Event or a Gap notification delivered to a
// subscriber's stream.
type Message struct {
	Event *eventmodel.Event
	Gap   *Gap
}

// Bus is the single owner of the event ring and the sequence counter.
type Bus struct {
	mu       sync.Mutex
	seq      uint64
	ring     []eventmodel.Event
	ringHead int // index of the oldest entry, once the ring has wrapped
	ringFull bool
	capacity int

	subMu sync.Mutex
	subs  map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch      chan Message
	dropped bool
	gapFrom uint64
}

// New creates a Bus with the given ring capacity (the configured
// event_buffer_size).
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		ring:     make([]eventmodel.Event, 0, capacity),
		capacity: capacity,
		subs:     make(map[int]*subscriber),
	}
}

// Emit assigns the next sequence number, appends to the ring, and fans out
// to all subscribers. It never blocks on a slow subscriber.
func (b *Bus) Emit(kind eventmodel.Kind, containerID string, payload map[string]any) eventmodel.Event {
	b.mu.Lock()
	b.seq++
	ev := eventmodel.Event{
		Sequence:    b.seq,
		Kind:        kind,
		At:          time.Now(),
		ContainerID: containerID,
		Payload:     payload,
	}
	b.appendToRing(ev)
	b.mu.Unlock()

	b.broadcast(ev)
	return ev
}

func (b *Bus) appendToRing(ev eventmodel.Event) {
	if len(b.ring) < b.capacity {
		b.ring = append(b.ring, ev)
		return
	}
	b.ring[b.ringHead] = ev
	b.ringHead = (b.ringHead + 1) % b.capacity
	b.ringFull = true
}

// replay returns buffered events with sequence >= fromSequence, oldest
// first, and whether any earlier events were already evicted from the ring
// (i.e. the subscriber's requested start point is older than the ring can
// provide).
func (b *Bus) replay(fromSequence uint64) ([]eventmodel.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.ring)
	ordered := make([]eventmodel.Event, n)
	if b.ringFull {
		for i := 0; i < n; i++ {
			ordered[i] = b.ring[(b.ringHead+i)%b.capacity]
		}
	} else {
		copy(ordered, b.ring)
	}

	var out []eventmodel.Event
	truncated := false
	if n > 0 && ordered[0].Sequence > fromSequence && fromSequence > 0 {
		truncated = true
	}
	for _, ev := range ordered {
		if ev.Sequence >= fromSequence {
			out = append(out, ev)
		}
	}
	return out, truncated
}

// Subscribe returns a stream that first replays any buffered events with
// sequence >= fromSequence (if still in the ring), then delivers live
// events. bufferSize bounds the per-subscriber outbox; once full, further
// events are dropped for this subscriber only and a Gap message is
// queued.
func (b *Bus) Subscribe(fromSequence uint64, bufferSize int) (<-chan Message, func()) {
	if bufferSize < 1 {
		bufferSize = 64
	}
	sub := &subscriber{ch: make(chan Message, bufferSize)}

	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	replayed, truncated := b.replay(fromSequence)
	if truncated {
		sub.ch <- Message{Gap: &Gap{From: fromSequence}}
	}
	for i := range replayed {
		ev := replayed[i]
		select {
		case sub.ch <- Message{Event: &ev}:
		default:
			if !sub.dropped {
				sub.dropped = true
				sub.gapFrom = ev.Sequence
			}
		}
	}
	b.subMu.Unlock()

	unsub := func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
		close(sub.ch)
	}
	return sub.ch, unsub
}

func (b *Bus) broadcast(ev eventmodel.Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev eventmodel.Event) {
	if sub.dropped {
		select {
		case sub.ch <- Message{Gap: &Gap{From: sub.gapFrom}}:
			sub.dropped = false
		default:
			return // outbox still full; stay in gapped state
		}
	}
	select {
	case sub.ch <- Message{Event: &ev}:
	default:
		sub.dropped = true
		sub.gapFrom = ev.Sequence
	}
}
