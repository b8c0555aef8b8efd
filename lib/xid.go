package lib

import (
	"math/bits"
	"sync/atomic"
)

// idAllocator hands out resource ids inside the range the server granted:
// ids are base with a counter shifted into the mask bits.
type idAllocator struct {
	base  uint32
	mask  uint32
	shift uint
	last  atomic.Uint32
}

func newIDAllocator(base, mask uint32) *idAllocator {
	return &idAllocator{base: base, mask: mask, shift: uint(bits.TrailingZeros32(mask))}
}

func (a *idAllocator) next() uint32 {
	n := a.last.Add(1)
	return (n<<a.shift)&a.mask | a.base
}

// NewID allocates a fresh resource id for a window, pixmap, graphics context
// or any other client-created resource.
func (c *Conn) NewID() uint32 {
	return c.ids.next()
}

// Resource pairs a resource id with the connection it belongs to.
type Resource struct {
	ID   uint32
	Conn *Conn
}

// NewResource allocates an id bound to c.
func (c *Conn) NewResource() Resource {
	return Resource{ID: c.NewID(), Conn: c}
}
