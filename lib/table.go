package lib

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/TheSmallBoat/xwire/wire"
)

// responseSlot is the state kept for one sequence number. A sequence number
// with no slot is vacant.
type responseSlot interface {
	isResponseSlot()
}

// pendingVoidError marks a request that produces no reply. Nobody waits on
// it yet; an error arriving for it goes to the void error list.
type pendingVoidError struct{}

// readySlot holds a reply or error that arrived before anyone asked for it.
type readySlot struct {
	frame *wire.Frame
}

// waitingSlot holds the handle of a caller blocked on the sequence number.
type waitingSlot struct {
	pr   *pendingResponse
	void bool
}

func (pendingVoidError) isResponseSlot() {}
func (readySlot) isResponseSlot()        {}
func (waitingSlot) isResponseSlot()      {}

// seqBefore reports whether a was issued no later than b, modulo 2^16.
func seqBefore(a, b uint16) bool { return int16(b-a) >= 0 }

// responseTable correlates sequence numbers with the frames the server sent
// for them. Every transition happens under mu.
type responseTable struct {
	mu     sync.Mutex
	slots  map[uint16]responseSlot
	voids  []uint16 // void requests not yet known to be processed, oldest first
	errors []*wire.ErrorReply
	last   uint16 // highest sequence number known to be processed
	seen   bool
	logger *slog.Logger
}

func newResponseTable(logger *slog.Logger) *responseTable {
	return &responseTable{slots: make(map[uint16]responseSlot), logger: logger}
}

// expectVoid registers seq as a request that produces no reply. Called under
// the connection lock right after the sequence number is assigned.
func (t *responseTable) expectVoid(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.slots[seq]; ok {
		t.logger.Warn("sequence number reused while still tracked", "seq", seq, "slot", fmt.Sprintf("%T", s))
	}
	t.slots[seq] = pendingVoidError{}
	t.voids = append(t.voids, seq)
}

func (t *responseTable) outstandingVoids() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voids)
}

// deliver routes a reply or error frame read off the wire and then retires
// the void requests before it, all in one step.
func (t *responseTable) deliver(f *wire.Frame) {
	seq, _ := f.Sequence()

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.retireLocked(seq)

	switch s := t.slots[seq].(type) {
	case nil:
		t.slots[seq] = readySlot{frame: f}
	case pendingVoidError:
		if f.Kind != wire.KindError {
			t.logger.Warn("reply for a request that expects none", "seq", seq)
			return
		}
		delete(t.slots, seq)
		t.errors = append(t.errors, f.Error)
	case readySlot:
		t.logger.Warn("overwriting uncollected response", "seq", seq, "kind", s.frame.Kind)
		t.slots[seq] = readySlot{frame: f}
	case waitingSlot:
		if s.void && f.Kind != wire.KindError {
			t.logger.Warn("reply for a request that expects none", "seq", seq)
			return
		}
		delete(t.slots, seq)
		s.pr.complete(f)
	default:
		panic(fmt.Sprintf("unknown response slot %T", s))
	}
}

// retireBefore handles an event stamped with seq. The server may still be
// working on request seq and owe its reply or error, so only the requests
// before it are settled.
func (t *responseTable) retireBefore(seq uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retireLocked(seq - 1)
}

// retireLocked records that the server has processed every request up to seq
// and settles the void requests among them: they can no longer fail.
func (t *responseTable) retireLocked(seq uint16) {
	if !t.seen || seqBefore(t.last, seq) {
		t.last, t.seen = seq, true
	}

	n := 0
	for ; n < len(t.voids) && seqBefore(t.voids[n], seq); n++ {
		v := t.voids[n]
		switch s := t.slots[v].(type) {
		case pendingVoidError:
			delete(t.slots, v)
		case waitingSlot:
			if s.void {
				delete(t.slots, v)
				s.pr.complete(nil)
			}
		}
	}
	if n > 0 {
		t.voids = append(t.voids[:0], t.voids[n:]...)
	}
}

// await looks seq up for a caller about to wait on it. It returns either a
// settled result (done is true; a nil frame is a void request that did not
// fail) or a handle to wait on.
func (t *responseTable) await(seq uint16) (pr *pendingResponse, f *wire.Frame, done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch s := t.slots[seq].(type) {
	case nil:
		if e := t.takeError(seq); e != nil {
			return nil, &wire.Frame{Kind: wire.KindError, Error: e}, true
		}
		if t.seen && seqBefore(seq, t.last) {
			return nil, nil, true
		}
		pr = pendingResponsePool.acquire()
		t.slots[seq] = waitingSlot{pr: pr}
		return pr, nil, false
	case pendingVoidError:
		pr = pendingResponsePool.acquire()
		t.slots[seq] = waitingSlot{pr: pr, void: true}
		return pr, nil, false
	case readySlot:
		delete(t.slots, seq)
		return nil, s.frame, true
	case waitingSlot:
		t.logger.Warn("replacing existing waiter", "seq", seq)
		pr = pendingResponsePool.acquire()
		t.slots[seq] = waitingSlot{pr: pr, void: s.void}
		return pr, nil, false
	default:
		panic(fmt.Sprintf("unknown response slot %T", s))
	}
}

// takeError removes the void error recorded for seq, if any, so that it is
// reported to exactly one consumer.
func (t *responseTable) takeError(seq uint16) *wire.ErrorReply {
	for i := len(t.errors) - 1; i >= 0; i-- {
		if e := t.errors[i]; e.Sequence == seq {
			t.errors = append(t.errors[:i], t.errors[i+1:]...)
			return e
		}
	}
	return nil
}

// drainErrors returns and clears every error raised by void requests nobody
// waited on, oldest first.
func (t *responseTable) drainErrors() []*wire.ErrorReply {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := t.errors
	t.errors = nil
	return errs
}
