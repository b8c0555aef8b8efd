package lib

import (
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/xwire/wire"
)

// pendingResponse is the handle a caller parks on while its sequence number
// is in the waiting state. The reader completes it at most once.
type pendingResponse struct {
	ch chan *wire.Frame
}

// complete hands f (nil for a void request that succeeded) to the waiter.
func (pr *pendingResponse) complete(f *wire.Frame) {
	select {
	case pr.ch <- f:
	default:
	}
}

type PendingResponsePool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *PendingResponsePool) acquire() *pendingResponse {
	v := p.sp.Get()
	if v == nil {
		v = &pendingResponse{ch: make(chan *wire.Frame, 1)}
		atomic.AddUint32(&p.m.na, uint32(1))
	} else {
		atomic.AddUint32(&p.m.nr, uint32(1))
	}
	return v.(*pendingResponse)
}

// release must only be called by the waiter after it received from ch. A
// handle that was abandoned (cancelled or superseded) may still be completed
// later and is left to the garbage collector.
func (p *PendingResponsePool) release(pr *pendingResponse) {
	p.sp.Put(pr)
	atomic.AddUint32(&p.m.np, uint32(1))
}
