package lib

import "github.com/TheSmallBoat/xwire/wire"

// EventFilter selects the events a subscription receives: core event codes
// below 64, and per-extension event sub-types. Sub-types are relative to the
// extension's first event code, or the XI2 event type for generic events.
//
// A nil *EventFilter accepts every event.
type EventFilter struct {
	core       uint64
	extensions map[string]uint64
}

func NewEventFilter() *EventFilter {
	return &EventFilter{extensions: make(map[string]uint64)}
}

// Core adds core event codes. Codes of 64 and above are ignored.
func (f *EventFilter) Core(codes ...uint8) *EventFilter {
	for _, code := range codes {
		if code < 64 {
			f.core |= 1 << code
		}
	}
	return f
}

// Extension adds event sub-types of the named extension. Sub-types of 64
// and above are ignored.
func (f *EventFilter) Extension(name string, subtypes ...uint16) *EventFilter {
	if f.extensions == nil {
		f.extensions = make(map[string]uint64)
	}
	mask := f.extensions[name]
	for _, st := range subtypes {
		if st < 64 {
			mask |= 1 << st
		}
	}
	f.extensions[name] = mask
	return f
}

func (f *EventFilter) clone() *EventFilter {
	if f == nil {
		return nil
	}
	c := &EventFilter{core: f.core, extensions: make(map[string]uint64, len(f.extensions))}
	for name, mask := range f.extensions {
		c.extensions[name] = mask
	}
	return c
}

func (f *EventFilter) wantsCore(code uint8) bool {
	return f == nil || (code < 64 && f.core&(1<<code) != 0)
}

func (f *EventFilter) wantsExtension(name string, subtype uint16) bool {
	if f == nil {
		return true
	}
	return subtype < 64 && f.extensions[name]&(1<<subtype) != 0
}

// matchEvent classifies raw against the extension registry, tests it against
// f and decodes it only when it matches.
func (c *Conn) matchEvent(f *EventFilter, raw *wire.RawEvent) (wire.Event, bool, error) {
	switch code := raw.Code; {
	case code == wire.GenericEvent:
		opcode, evtype, ok := wire.GenericEventFields(raw.Payload)
		if !ok {
			return nil, false, nil
		}
		info, ok := c.exts.byMajor(opcode)
		if !ok {
			if f != nil {
				return nil, false, nil
			}
			return wire.GenericEventData{MajorOpcode: opcode, EventType: evtype, Raw: raw}, true, nil
		}
		if !f.wantsExtension(info.Name, evtype) {
			return nil, false, nil
		}
		return wire.GenericEventData{Extension: info.Name, MajorOpcode: opcode, EventType: evtype, Raw: raw}, true, nil

	case code < wire.FirstExtensionEvent:
		if !f.wantsCore(code) {
			return nil, false, nil
		}
		ev, err := wire.DecodeCoreEvent(raw)
		if err != nil {
			return nil, false, err
		}
		return ev, true, nil

	default:
		info, ok := c.exts.byEventCode(code)
		if !ok {
			if f != nil {
				return nil, false, nil
			}
			return wire.UnknownEvent{Raw: raw}, true, nil
		}
		subtype := uint16(code - info.EventCodeStart)
		if info.MultiplexedEvents && code == info.EventCodeStart && len(raw.Payload) > 1 {
			subtype = uint16(raw.Payload[1])
		}
		if !f.wantsExtension(info.Name, subtype) {
			return nil, false, nil
		}
		return wire.ExtensionEvent{Extension: info.Name, SubType: subtype, Raw: raw}, true, nil
	}
}
