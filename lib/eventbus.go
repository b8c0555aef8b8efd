package lib

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/xwire/wire"
)

// eventBus is a fixed-size broadcast ring. Each subscriber keeps its own
// cursor into the stream of published events; a subscriber that falls more
// than len(ring) events behind loses the overwritten ones.
type eventBus struct {
	mu     sync.Mutex
	ring   []*wire.RawEvent
	head   uint64 // stream position of the next published event
	subs   int
	notify chan struct{} // closed and replaced on every publish
	closed bool
	err    error
}

func newEventBus(size int) *eventBus {
	return &eventBus{
		ring:   make([]*wire.RawEvent, size),
		notify: make(chan struct{}),
	}
}

// publish never blocks. Events published while nobody is subscribed are
// dropped.
func (b *eventBus) publish(ev *wire.RawEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == 0 || b.closed {
		return
	}
	b.ring[b.head%uint64(len(b.ring))] = ev
	b.head++

	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *eventBus) close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.notify)
}

func (b *eventBus) subscribe() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs++
	return b.head
}

func (b *eventBus) unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs--
	if b.subs == 0 {
		for i := range b.ring {
			b.ring[i] = nil
		}
	}
}

// next returns the event at *cursor and advances it. Events still retained
// are handed out even after the bus is closed; only then is the close error
// returned.
func (b *eventBus) next(ctx context.Context, cursor *uint64) (*wire.RawEvent, error) {
	size := uint64(len(b.ring))

	for {
		b.mu.Lock()
		if *cursor < b.head {
			if b.head-*cursor > size {
				oldest := b.head - size
				missed := oldest - *cursor
				*cursor = oldest
				b.mu.Unlock()
				return nil, &LaggedError{Missed: missed}
			}
			ev := b.ring[*cursor%size]
			*cursor++
			b.mu.Unlock()
			return ev, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		notify := b.notify
		b.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Subscription is one consumer of the connection's event stream. A
// Subscription must not be used from more than one goroutine at a time.
type Subscription struct {
	c      *Conn
	filter *EventFilter
	cursor uint64
	closed atomic.Bool
}

// Subscribe starts receiving every event published from now on that passes
// filter. A nil filter accepts everything.
func (c *Conn) Subscribe(filter *EventFilter) *Subscription {
	return &Subscription{
		c:      c,
		filter: filter.clone(),
		cursor: c.events.subscribe(),
	}
}

// Events subscribes to every event.
func (c *Conn) Events() *Subscription {
	return c.Subscribe(nil)
}

// Next blocks until the next matching event. It returns a *LaggedError once
// when events were lost to slowness, and the connection's error once the
// connection is dead and every retained event has been consumed.
func (s *Subscription) Next(ctx context.Context) (wire.Event, error) {
	for {
		if s.closed.Load() {
			return nil, fmt.Errorf("subscription: %w", ErrClosed)
		}

		raw, err := s.c.events.next(ctx, &s.cursor)
		if err != nil {
			return nil, err
		}

		ev, ok, err := s.c.matchEvent(s.filter, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			return ev, nil
		}
	}
}

// Close stops the subscription. The bus stops retaining events once no
// subscriptions remain.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.c.events.unsubscribe()
	}
}
