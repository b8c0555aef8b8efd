package lib

import (
	"context"
	"sync"

	"github.com/TheSmallBoat/xwire/wire"
)

// Atom is the server's id for an interned name.
type Atom uint32

// Atoms every server predefines, with their fixed ids.
const (
	AtomNone           Atom = 0
	AtomPrimary        Atom = 1
	AtomSecondary      Atom = 2
	AtomAtom           Atom = 4
	AtomCardinal       Atom = 6
	AtomString         Atom = 31
	AtomWindow         Atom = 33
	AtomWMName         Atom = 39
	AtomWMClass        Atom = 67
	AtomWMTransientFor Atom = 68
)

var predefinedAtoms = [...]string{
	"PRIMARY", "SECONDARY", "ARC", "ATOM", "BITMAP", "CARDINAL", "COLORMAP", "CURSOR",
	"CUT_BUFFER0", "CUT_BUFFER1", "CUT_BUFFER2", "CUT_BUFFER3",
	"CUT_BUFFER4", "CUT_BUFFER5", "CUT_BUFFER6", "CUT_BUFFER7",
	"DRAWABLE", "FONT", "INTEGER", "PIXMAP", "POINT", "RECTANGLE",
	"RESOURCE_MANAGER", "RGB_COLOR_MAP", "RGB_BEST_MAP", "RGB_BLUE_MAP",
	"RGB_DEFAULT_MAP", "RGB_GRAY_MAP", "RGB_GREEN_MAP", "RGB_RED_MAP",
	"STRING", "VISUALID", "WINDOW", "WM_COMMAND", "WM_HINTS",
	"WM_CLIENT_MACHINE", "WM_ICON_NAME", "WM_ICON_SIZE", "WM_NAME",
	"WM_NORMAL_HINTS", "WM_SIZE_HINTS", "WM_ZOOM_HINTS",
	"MIN_SPACE", "NORM_SPACE", "MAX_SPACE", "END_SPACE",
	"SUPERSCRIPT_X", "SUPERSCRIPT_Y", "SUBSCRIPT_X", "SUBSCRIPT_Y",
	"UNDERLINE_POSITION", "UNDERLINE_THICKNESS", "STRIKEOUT_ASCENT", "STRIKEOUT_DESCENT",
	"ITALIC_ANGLE", "X_HEIGHT", "QUAD_WIDTH", "WEIGHT", "POINT_SIZE", "RESOLUTION",
	"COPYRIGHT", "NOTICE", "FONT_NAME", "FAMILY_NAME", "FULL_NAME", "CAP_HEIGHT",
	"WM_CLASS", "WM_TRANSIENT_FOR",
}

// atomCache is a bidirectional name/id map. Entries are only ever added;
// atoms live as long as the server does.
type atomCache struct {
	mu     sync.RWMutex
	byName map[string]Atom
	byID   map[Atom]string
}

func newAtomCache() *atomCache {
	c := &atomCache{
		byName: make(map[string]Atom, len(predefinedAtoms)),
		byID:   make(map[Atom]string, len(predefinedAtoms)),
	}
	for i, name := range predefinedAtoms {
		c.byName[name] = Atom(i + 1)
		c.byID[Atom(i+1)] = name
	}
	return c
}

func (c *atomCache) id(name string) (Atom, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byName[name]
	return id, ok
}

func (c *atomCache) name(id Atom) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name, ok := c.byID[id]
	return name, ok
}

func (c *atomCache) store(id Atom, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byName[name] = id
	c.byID[id] = name
}

// InternAtom returns the atom for name, creating it on the server if needed.
// Cached names cost no round trip.
func (c *Conn) InternAtom(ctx context.Context, name string) (Atom, error) {
	if id, ok := c.atoms.id(name); ok {
		return id, nil
	}

	id, err := c.internAtom(ctx, name, false)
	if err != nil {
		return 0, err
	}
	c.atoms.store(id, name)
	return id, nil
}

// LookupAtom returns the atom for name without creating it. ok is false
// when the server does not know the name.
func (c *Conn) LookupAtom(ctx context.Context, name string) (id Atom, ok bool, err error) {
	if id, ok := c.atoms.id(name); ok {
		return id, true, nil
	}

	id, err = c.internAtom(ctx, name, true)
	if err != nil || id == AtomNone {
		return 0, false, err
	}
	c.atoms.store(id, name)
	return id, true, nil
}

// AtomName returns the name of an atom, asking the server for ids it has
// not seen yet.
func (c *Conn) AtomName(ctx context.Context, id Atom) (string, error) {
	if name, ok := c.atoms.name(id); ok {
		return name, nil
	}

	seq, err := c.SendRequest(wire.OpGetAtomName, 0, false, wire.GetAtomNameRequest{Atom: uint32(id)})
	if err != nil {
		return "", err
	}
	name, err := ReceiveReply(ctx, c, seq, wire.DecodeGetAtomNameReply)
	if err != nil {
		return "", err
	}
	c.atoms.store(id, name)
	return name, nil
}

func (c *Conn) internAtom(ctx context.Context, name string, onlyIfExists bool) (Atom, error) {
	req := wire.InternAtomRequest{OnlyIfExists: onlyIfExists, Name: name}
	seq, err := c.SendRequest(wire.OpInternAtom, req.Data(), false, req)
	if err != nil {
		return 0, err
	}
	id, err := ReceiveReply(ctx, c, seq, wire.DecodeInternAtomReply)
	return Atom(id), err
}
