package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/TheSmallBoat/xwire/wire"
	"github.com/valyala/bytebufferpool"
)

// maxOutstandingVoids bounds how many void requests may be in flight with
// nothing coming back from the server. Past it a round trip is forced so
// that sequence numbers cannot lap the oldest unsettled one.
var maxOutstandingVoids = 1 << 14

// SendRequest encodes and queues a request and returns its sequence number.
// void must be set for requests that never produce a reply; their errors
// are reported through ReceiveResponse or CheckErrors.
//
// Sequence assignment and queueing happen atomically, so the server always
// receives requests in sequence order. SendRequest blocks while the write
// queue is full.
func (c *Conn) SendRequest(major, minor uint8, void bool, body wire.Encoder) (uint16, error) {
	seq, err := c.sendRequest(major, minor, void, body)
	if err != nil {
		return 0, err
	}
	if void && c.table.outstandingVoids() >= maxOutstandingVoids {
		c.syncInBackground()
	}
	return seq, nil
}

// SendExtensionRequest is SendRequest addressed to the extension's major
// opcode. It fails with ErrMissingExtension when the extension is absent.
func (c *Conn) SendExtensionRequest(extension string, minor uint8, void bool, body wire.Encoder) (uint16, error) {
	info, ok := c.exts.lookup(extension)
	if !ok {
		if err := c.exts.missingReason(extension); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s", ErrMissingExtension, extension)
	}
	return c.SendRequest(info.MajorOpcode, minor, void, body)
}

func (c *Conn) sendRequest(major, minor uint8, void bool, body wire.Encoder) (uint16, error) {
	c.mu.Lock()
	maxUnits, big := c.maxUnits, c.bigRequests
	c.mu.Unlock()

	pw := pendingWritePool.acquire(bytebufferpool.Get())
	frame, _, err := wire.EncodeRequest(pw.buf.B[:0], major, minor, body, maxUnits, big)
	if err != nil {
		pendingWritePool.release(pw)
		return 0, fmt.Errorf("request %d.%d: %w", major, minor, err)
	}
	pw.buf.B = frame
	pw.frame = frame

	c.mu.Lock()
	for !c.writerDone && len(c.writerQueue) >= c.cfg.WriteQueueSize {
		c.writerCond.Wait()
	}
	if c.writerDone {
		c.mu.Unlock()
		pendingWritePool.release(pw)
		return 0, c.err
	}

	c.seq++
	seq := c.seq
	if void {
		c.table.expectVoid(seq)
	}
	c.writerQueue = append(c.writerQueue, pw)
	c.writerCond.Broadcast()
	c.mu.Unlock()

	return seq, nil
}

// syncInBackground issues a GetInputFocus whose reply settles every void
// request before it, and discards that reply. At most one is in flight.
func (c *Conn) syncInBackground() {
	if !c.syncing.CompareAndSwap(false, true) {
		return
	}
	seq, err := c.sendRequest(wire.OpGetInputFocus, 0, false, wire.Empty{})
	if err != nil {
		c.syncing.Store(false)
		return
	}
	go func() {
		defer c.syncing.Store(false)
		_, _ = c.ReceiveResponse(context.Background(), seq)
	}()
}

// ReceiveResponse waits for the outcome of the request with the given
// sequence number. It returns the reply or error frame, or a nil frame when
// a void request completed without error. Only one caller may wait on a
// sequence number; a second waiter replaces the first.
func (c *Conn) ReceiveResponse(ctx context.Context, seq uint16) (*wire.Frame, error) {
	pr, f, done := c.table.await(seq)
	if done {
		return f, nil
	}

	var timeout <-chan time.Time
	if c.cfg.ReplyTimeout > 0 {
		timer := timerPool.acquire(c.cfg.ReplyTimeout)
		defer timerPool.release(timer)
		timeout = timer.C
	}

	select {
	case f := <-pr.ch:
		pendingResponsePool.release(pr)
		return f, nil
	case <-c.dead:
		select {
		case f := <-pr.ch:
			pendingResponsePool.release(pr)
			return f, nil
		default:
		}
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("%w: sequence %d", ErrReplyTimeout, seq)
	}
}

// ReceiveReply waits for the reply to seq and decodes its data, which starts
// at byte 8 of the reply. An error frame is returned as *wire.ErrorReply.
func ReceiveReply[T any](ctx context.Context, c *Conn, seq uint16, decode func(data []byte) (T, error)) (T, error) {
	return ReceiveReplyReserved(ctx, c, seq, func(_ byte, data []byte) (T, error) {
		return decode(data)
	})
}

// ReceiveReplyReserved is ReceiveReply for replies that carry a field in
// their second byte.
func ReceiveReplyReserved[T any](ctx context.Context, c *Conn, seq uint16, decode func(reserved byte, data []byte) (T, error)) (T, error) {
	var zero T

	f, err := c.ReceiveResponse(ctx, seq)
	if err != nil {
		return zero, err
	}
	if f == nil {
		return zero, fmt.Errorf("%w: sequence %d", ErrNoReply, seq)
	}

	switch f.Kind {
	case wire.KindError:
		return zero, f.Error
	case wire.KindReply:
		v, err := decode(f.Reply.Reserved, f.Reply.Data)
		if err != nil {
			return zero, fmt.Errorf("decode reply %d: %w", seq, err)
		}
		return v, nil
	}
	return zero, fmt.Errorf("unexpected %s frame for sequence %d", f.Kind, seq)
}

// RequestCheck waits until the void request seq is known to have succeeded
// or failed, forcing a round trip so the answer does not depend on later
// traffic. The server's error, if any, is returned as *wire.ErrorReply and is
// not reported again by CheckErrors.
func (c *Conn) RequestCheck(ctx context.Context, seq uint16) error {
	syncSeq, err := c.sendRequest(wire.OpGetInputFocus, 0, false, wire.Empty{})
	if err != nil {
		return err
	}

	f, err := c.ReceiveResponse(ctx, seq)
	if _, serr := c.ReceiveResponse(ctx, syncSeq); err == nil {
		err = serr
	}
	if err != nil {
		return err
	}
	if f != nil && f.Kind == wire.KindError {
		return f.Error
	}
	return nil
}

// CheckErrors returns the errors raised by void requests nobody waited on,
// in arrival order, and forgets them.
func (c *Conn) CheckErrors() []*wire.ErrorReply {
	return c.table.drainErrors()
}

// Sync performs a round trip, after which every request sent before it has
// been processed by the server.
func (c *Conn) Sync(ctx context.Context) error {
	seq, err := c.sendRequest(wire.OpGetInputFocus, 0, false, wire.Empty{})
	if err != nil {
		return err
	}
	_, err = ReceiveReplyReserved(ctx, c, seq, wire.DecodeGetInputFocusReply)
	return err
}
