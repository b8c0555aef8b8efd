package lib

import (
	"fmt"

	"github.com/TheSmallBoat/xwire/wire"
)

// readLoop reads frames until the stream fails. Replies and errors go to the
// response table, events to the bus. A reply or error for sequence S settles
// the void requests up to S; an event stamped S only those before S, since
// the server may still answer S itself.
func (c *Conn) readLoop() {
	defer close(c.rDone)

	for {
		f, err := wire.ReadFrame(c.r)
		if err != nil {
			c.fail(fmt.Errorf("%w: read: %w", ErrConnectionDead, err))
			return
		}

		switch f.Kind {
		case wire.KindError:
			c.exts.annotate(f.Error)
			c.table.deliver(f)
		case wire.KindReply:
			c.table.deliver(f)
		case wire.KindEvent:
			c.events.publish(f.Event)
			if seq, ok := f.Sequence(); ok {
				c.table.retireBefore(seq)
			}
		}
	}
}
