package wire

import (
	"fmt"

	"github.com/lithdew/bytesutil"
)

// Core event codes.
const (
	KeyPress         uint8 = 2
	KeyRelease       uint8 = 3
	ButtonPress      uint8 = 4
	ButtonRelease    uint8 = 5
	MotionNotify     uint8 = 6
	EnterNotify      uint8 = 7
	LeaveNotify      uint8 = 8
	FocusIn          uint8 = 9
	FocusOut         uint8 = 10
	KeymapNotify     uint8 = 11
	Expose           uint8 = 12
	GraphicsExposure uint8 = 13
	NoExposure       uint8 = 14
	VisibilityNotify uint8 = 15
	CreateNotify     uint8 = 16
	DestroyNotify    uint8 = 17
	UnmapNotify      uint8 = 18
	MapNotify        uint8 = 19
	MapRequest       uint8 = 20
	ReparentNotify   uint8 = 21
	ConfigureNotify  uint8 = 22
	ConfigureRequest uint8 = 23
	GravityNotify    uint8 = 24
	ResizeRequest    uint8 = 25
	CirculateNotify  uint8 = 26
	CirculateRequest uint8 = 27
	PropertyNotify   uint8 = 28
	SelectionClear   uint8 = 29
	SelectionRequest uint8 = 30
	SelectionNotify  uint8 = 31
	ColormapNotify   uint8 = 32
	ClientMessage    uint8 = 33
	MappingNotify    uint8 = 34
	GenericEvent     uint8 = 35

	// FirstExtensionEvent is the first code extensions may be assigned.
	FirstExtensionEvent uint8 = 64
)

// Event is a decoded event.
type Event interface {
	EventCode() uint8
}

// KeyEvent covers KeyPress, KeyRelease, ButtonPress, ButtonRelease and
// MotionNotify, which share one layout.
type KeyEvent struct {
	Code       uint8
	Detail     uint8
	Sequence   uint16
	Time       uint32
	Root       uint32
	Event      uint32
	Child      uint32
	RootX      int16
	RootY      int16
	EventX     int16
	EventY     int16
	State      uint16
	SameScreen bool
}

func (e KeyEvent) EventCode() uint8 { return e.Code }

type ExposeEvent struct {
	Sequence uint16
	Window   uint32
	X, Y     uint16
	Width    uint16
	Height   uint16
	Count    uint16
}

func (ExposeEvent) EventCode() uint8 { return Expose }

type DestroyNotifyEvent struct {
	Sequence uint16
	Event    uint32
	Window   uint32
}

func (DestroyNotifyEvent) EventCode() uint8 { return DestroyNotify }

type PropertyNotifyEvent struct {
	Sequence uint16
	Window   uint32
	Atom     uint32
	Time     uint32
	State    uint8
}

func (PropertyNotifyEvent) EventCode() uint8 { return PropertyNotify }

type ClientMessageEvent struct {
	Sequence uint16
	Format   uint8
	Window   uint32
	Type     uint32
	Data     [20]byte
}

func (ClientMessageEvent) EventCode() uint8 { return ClientMessage }

// UnknownEvent is a core event this package has no typed decoder for.
type UnknownEvent struct {
	Raw *RawEvent
}

func (e UnknownEvent) EventCode() uint8 { return e.Raw.Code }

// ExtensionEvent is an event in an extension's own code range. SubType is
// the code relative to the extension's first event, or the sub-code carried
// in byte 1 for extensions that multiplex all events behind one code.
type ExtensionEvent struct {
	Extension string
	SubType   uint16
	Raw       *RawEvent
}

func (e ExtensionEvent) EventCode() uint8 { return e.Raw.Code }

// GenericEventData is an event delivered through the generic event code on
// behalf of an extension.
type GenericEventData struct {
	Extension   string
	MajorOpcode uint8
	EventType   uint16
	Raw         *RawEvent
}

func (GenericEventData) EventCode() uint8 { return GenericEvent }

// GenericEventFields returns the extension opcode and event type embedded in
// a generic event.
func GenericEventFields(payload []byte) (opcode uint8, evtype uint16, ok bool) {
	if len(payload) < 10 {
		return 0, 0, false
	}
	return payload[1], bytesutil.Uint16BE(payload[8:10]), true
}

// DecodeCoreEvent decodes a core event frame into a typed value.
func DecodeCoreEvent(raw *RawEvent) (Event, error) {
	p := raw.Payload
	if len(p) < FrameLength {
		return nil, fmt.Errorf("event %d: %w", raw.Code, errShort)
	}

	switch raw.Code {
	case KeyPress, KeyRelease, ButtonPress, ButtonRelease, MotionNotify:
		return KeyEvent{
			Code:       raw.Code,
			Detail:     p[1],
			Sequence:   raw.Sequence,
			Time:       bytesutil.Uint32BE(p[4:8]),
			Root:       bytesutil.Uint32BE(p[8:12]),
			Event:      bytesutil.Uint32BE(p[12:16]),
			Child:      bytesutil.Uint32BE(p[16:20]),
			RootX:      int16(bytesutil.Uint16BE(p[20:22])),
			RootY:      int16(bytesutil.Uint16BE(p[22:24])),
			EventX:     int16(bytesutil.Uint16BE(p[24:26])),
			EventY:     int16(bytesutil.Uint16BE(p[26:28])),
			State:      bytesutil.Uint16BE(p[28:30]),
			SameScreen: p[30] != 0,
		}, nil
	case Expose:
		return ExposeEvent{
			Sequence: raw.Sequence,
			Window:   bytesutil.Uint32BE(p[4:8]),
			X:        bytesutil.Uint16BE(p[8:10]),
			Y:        bytesutil.Uint16BE(p[10:12]),
			Width:    bytesutil.Uint16BE(p[12:14]),
			Height:   bytesutil.Uint16BE(p[14:16]),
			Count:    bytesutil.Uint16BE(p[16:18]),
		}, nil
	case DestroyNotify:
		return DestroyNotifyEvent{
			Sequence: raw.Sequence,
			Event:    bytesutil.Uint32BE(p[4:8]),
			Window:   bytesutil.Uint32BE(p[8:12]),
		}, nil
	case PropertyNotify:
		return PropertyNotifyEvent{
			Sequence: raw.Sequence,
			Window:   bytesutil.Uint32BE(p[4:8]),
			Atom:     bytesutil.Uint32BE(p[8:12]),
			Time:     bytesutil.Uint32BE(p[12:16]),
			State:    p[16],
		}, nil
	case ClientMessage:
		ev := ClientMessageEvent{
			Sequence: raw.Sequence,
			Format:   p[1],
			Window:   bytesutil.Uint32BE(p[4:8]),
			Type:     bytesutil.Uint32BE(p[8:12]),
		}
		copy(ev.Data[:], p[12:32])
		return ev, nil
	}
	return UnknownEvent{Raw: raw}, nil
}

// AppendEvent encodes a 32-byte event frame with the given code, detail byte
// and sequence number; body fills bytes 4..31.
func AppendEvent(dst []byte, code, detail uint8, seq uint16, body []byte) []byte {
	dst = append(dst, code, detail)
	dst = bytesutil.AppendUint16BE(dst, seq)
	if len(body) > FrameLength-4 {
		body = body[:FrameLength-4]
	}
	dst = append(dst, body...)
	return append(dst, make([]byte, FrameLength-4-len(body))...)
}

// AppendGenericEvent encodes a generic event for the extension with the
// given major opcode. extra is appended after the 32-byte head and padded.
func AppendGenericEvent(dst []byte, opcode uint8, seq uint16, evtype uint16, extra []byte) []byte {
	dst = append(dst, GenericEvent, opcode)
	dst = bytesutil.AppendUint16BE(dst, seq)
	dst = bytesutil.AppendUint32BE(dst, uint32((len(extra)+Pad(len(extra)))/4))
	dst = bytesutil.AppendUint16BE(dst, evtype)
	dst = append(dst, make([]byte, FrameLength-10)...)
	dst = append(dst, extra...)
	return appendPad(dst, len(extra))
}
