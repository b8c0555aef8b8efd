package lib

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TheSmallBoat/xwire/wire"
)

// Version is a negotiated extension version.
type Version struct {
	Major uint32
	Minor uint32
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// ExtInfo describes an extension present on the server. It is immutable once
// registered.
type ExtInfo struct {
	Name           string
	MajorOpcode    uint8
	EventCodeStart uint8
	EventCodeCount uint8
	ErrorCodeStart uint8
	ErrorCodeCount uint8

	// MultiplexedEvents is set for extensions that deliver every event under
	// EventCodeStart and carry the real sub-code in the second byte.
	MultiplexedEvents bool

	// Version is zero for extensions that were only queried, not enabled.
	Version Version
}

func (e ExtInfo) ownsEvent(code uint8) bool {
	return e.EventCodeCount > 0 && code >= e.EventCodeStart && int(code) < int(e.EventCodeStart)+int(e.EventCodeCount)
}

func (e ExtInfo) ownsError(code uint8) bool {
	return e.ErrorCodeCount > 0 && code >= e.ErrorCodeStart && int(code) < int(e.ErrorCodeStart)+int(e.ErrorCodeCount)
}

// extensionRegistry maps extension names and opcodes to their ExtInfo.
// Written during bootstrap and by QueryExtension; read by every dispatch.
type extensionRegistry struct {
	mu       sync.RWMutex
	byName   map[string]ExtInfo
	byOpcode map[uint8]string
	missing  map[string]error
}

func newExtensionRegistry() *extensionRegistry {
	return &extensionRegistry{
		byName:   make(map[string]ExtInfo),
		byOpcode: make(map[uint8]string),
		missing:  make(map[string]error),
	}
}

func (r *extensionRegistry) register(info ExtInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[info.Name] = info
	r.byOpcode[info.MajorOpcode] = info.Name
	delete(r.missing, info.Name)
}

// markMissing removes name and remembers why it is unusable.
func (r *extensionRegistry) markMissing(name string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.byName[name]; ok {
		delete(r.byOpcode, info.MajorOpcode)
		delete(r.byName, name)
	}
	r.missing[name] = reason
}

func (r *extensionRegistry) lookup(name string) (ExtInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.byName[name]
	return info, ok
}

func (r *extensionRegistry) missingReason(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.missing[name]
}

func (r *extensionRegistry) byMajor(opcode uint8) (ExtInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byOpcode[opcode]
	if !ok {
		return ExtInfo{}, false
	}
	return r.byName[name], true
}

func (r *extensionRegistry) byEventCode(code uint8) (ExtInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range r.byName {
		if info.ownsEvent(code) {
			return info, true
		}
	}
	return ExtInfo{}, false
}

// annotate names the extension owning an error code.
func (r *extensionRegistry) annotate(e *wire.ErrorReply) {
	if e.Code < wire.FirstExtensionErr {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range r.byName {
		if info.ownsError(e.Code) {
			e.Extension = info.Name
			return
		}
	}
}

func (r *extensionRegistry) all() []ExtInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ExtInfo, 0, len(r.byName))
	for _, info := range r.byName {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].MajorOpcode < infos[j].MajorOpcode })
	return infos
}

// Extension returns the registry entry for name.
func (c *Conn) Extension(name string) (ExtInfo, bool) {
	return c.exts.lookup(name)
}

// Extensions returns every registered extension ordered by major opcode.
func (c *Conn) Extensions() []ExtInfo {
	return c.exts.all()
}

// QueryExtension returns the extension's info, asking the server when it is
// not registered yet. Extensions that failed to enable during setup fail
// fast with the recorded reason.
func (c *Conn) QueryExtension(ctx context.Context, name string) (ExtInfo, error) {
	if info, ok := c.exts.lookup(name); ok {
		return info, nil
	}
	if err := c.exts.missingReason(name); err != nil {
		return ExtInfo{}, err
	}

	info, err := c.queryExtension(ctx, name)
	if err != nil {
		return ExtInfo{}, err
	}
	c.exts.register(info)
	return info, nil
}

// ListExtensions returns the names of every extension the server supports.
func (c *Conn) ListExtensions(ctx context.Context) ([]string, error) {
	seq, err := c.SendRequest(wire.OpListExtensions, 0, false, wire.Empty{})
	if err != nil {
		return nil, err
	}
	return ReceiveReplyReserved(ctx, c, seq, wire.DecodeListExtensionsReply)
}

// queryExtension performs one QueryExtension round trip. Absent extensions
// yield ErrMissingExtension.
func (c *Conn) queryExtension(ctx context.Context, name string) (ExtInfo, error) {
	seq, err := c.SendRequest(wire.OpQueryExtension, 0, false, wire.QueryExtensionRequest{Name: name})
	if err != nil {
		return ExtInfo{}, err
	}
	qr, err := ReceiveReply(ctx, c, seq, wire.DecodeQueryExtensionReply)
	if err != nil {
		return ExtInfo{}, err
	}
	if !qr.Present {
		return ExtInfo{}, fmt.Errorf("%w: %s not present on server", ErrMissingExtension, name)
	}
	return ExtInfo{
		Name:           name,
		MajorOpcode:    qr.MajorOpcode,
		EventCodeStart: qr.FirstEvent,
		ErrorCodeStart: qr.FirstError,
	}, nil
}
