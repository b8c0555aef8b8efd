package lib

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// pendingWrite is one fully encoded request waiting for the writer.
type pendingWrite struct {
	buf   *bytebufferpool.ByteBuffer // owns the storage behind frame
	frame []byte                     // wire bytes, header included
}

type PendingWritePool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *PendingWritePool) acquire(buf *bytebufferpool.ByteBuffer) *pendingWrite {
	v := p.sp.Get()
	if v == nil {
		v = &pendingWrite{}
		atomic.AddUint32(&p.m.na, uint32(1))
	} else {
		atomic.AddUint32(&p.m.nr, uint32(1))
	}

	pw := v.(*pendingWrite)
	pw.buf = buf
	return pw
}

func (p *PendingWritePool) release(pw *pendingWrite) {
	if pw.buf != nil {
		bytebufferpool.Put(pw.buf)
	}
	pw.buf = nil
	pw.frame = nil
	p.sp.Put(pw)
	atomic.AddUint32(&p.m.np, uint32(1))
}
