package lib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheSmallBoat/xwire/wire"
	"github.com/stretchr/testify/require"
)

func rawEvent(seq uint16) *wire.RawEvent {
	return &wire.RawEvent{Code: wire.KeyPress, Sequence: seq}
}

func TestEventBusDropsWithoutSubscribers(t *testing.T) {
	b := newEventBus(4)
	b.publish(rawEvent(1))

	cursor := b.subscribe()
	b.publish(rawEvent(2))

	ev, err := b.next(context.Background(), &cursor)
	require.NoError(t, err)
	require.EqualValues(t, 2, ev.Sequence)
}

func TestEventBusDrainsBeforeReportingClose(t *testing.T) {
	b := newEventBus(4)
	cursor := b.subscribe()

	b.publish(rawEvent(1))
	cause := errors.New("gone")
	b.close(cause)

	ev, err := b.next(context.Background(), &cursor)
	require.NoError(t, err)
	require.EqualValues(t, 1, ev.Sequence)

	_, err = b.next(context.Background(), &cursor)
	require.ErrorIs(t, err, cause)
}

func TestEventBusWakesWaiters(t *testing.T) {
	b := newEventBus(4)
	cursor := b.subscribe()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.publish(rawEvent(3))
	}()

	ev, err := b.next(context.Background(), &cursor)
	require.NoError(t, err)
	require.EqualValues(t, 3, ev.Sequence)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = b.next(ctx, &cursor)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventBusIndependentCursors(t *testing.T) {
	b := newEventBus(2)
	fast := b.subscribe()
	slow := b.subscribe()

	for i := uint16(1); i <= 3; i++ {
		b.publish(rawEvent(i))
		ev, err := b.next(context.Background(), &fast)
		require.NoError(t, err)
		require.Equal(t, i, ev.Sequence)
	}

	_, err := b.next(context.Background(), &slow)
	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	require.EqualValues(t, 1, lagged.Missed)

	ev, err := b.next(context.Background(), &slow)
	require.NoError(t, err)
	require.EqualValues(t, 2, ev.Sequence)
}

func TestEventFilterNilAcceptsAll(t *testing.T) {
	var f *EventFilter
	require.True(t, f.wantsCore(wire.Expose))
	require.True(t, f.wantsExtension(wire.RandRName, 63))

	f = NewEventFilter().Core(wire.Expose, 200).Extension(wire.RandRName, 1, 64)
	require.True(t, f.wantsCore(wire.Expose))
	require.False(t, f.wantsCore(wire.KeyPress))
	require.True(t, f.wantsExtension(wire.RandRName, 1))
	require.False(t, f.wantsExtension(wire.RandRName, 64))
	require.False(t, f.wantsExtension(wire.XKeyboardName, 1))

	c := f.clone()
	c.Core(wire.KeyPress)
	require.False(t, f.wantsCore(wire.KeyPress))
}
