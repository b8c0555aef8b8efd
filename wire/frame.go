package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/lithdew/bytesutil"
)

// FrameLength is the size of every server frame before any extra reply or
// generic event data.
const FrameLength = 32

// maxExtraUnits caps the additional length a single reply or generic event
// may declare (64 MiB), so a corrupt length cannot make the reader allocate
// arbitrary amounts of memory.
const maxExtraUnits = 16 * 1024 * 1024

var errShort = io.ErrUnexpectedEOF

var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

type Kind uint8

const (
	KindError Kind = iota
	KindReply
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Frame is one decoded unit of the server stream. Exactly one of Error,
// Reply and Event is set, matching Kind.
type Frame struct {
	Kind  Kind
	Error *ErrorReply
	Reply *Reply
	Event *RawEvent
}

// Sequence returns the sequence number carried by the frame. KeymapNotify
// events carry none.
func (f *Frame) Sequence() (uint16, bool) {
	switch f.Kind {
	case KindError:
		return f.Error.Sequence, true
	case KindReply:
		return f.Reply.Sequence, true
	case KindEvent:
		return f.Event.Sequence, f.Event.Code != KeymapNotify
	}
	return 0, false
}

// Reply is a reply frame. Data holds everything after the 8-byte reply
// header, so offset 0 of Data is byte 8 of the frame.
type Reply struct {
	Sequence uint16
	// Reserved is the second byte of the reply, which some replies use to
	// carry a field.
	Reserved byte
	Data     []byte
}

// RawEvent is an undecoded event frame.
type RawEvent struct {
	Code      uint8 // with the SendEvent bit stripped
	SendEvent bool
	Sequence  uint16
	// Payload is the full frame including the leading code byte; generic
	// events carry their extra data too.
	Payload []byte
}

// ReadFrame reads and classifies the next frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var buf [FrameLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	switch buf[0] {
	case 0:
		e := UnmarshalErrorReply(buf[:])
		return &Frame{Kind: KindError, Error: &e}, nil
	case 1:
		extra := bytesutil.Uint32BE(buf[4:8])
		data, err := readExtra(r, buf[8:], extra)
		if err != nil {
			return nil, fmt.Errorf("read reply body: %w", err)
		}
		return &Frame{Kind: KindReply, Reply: &Reply{
			Sequence: bytesutil.Uint16BE(buf[2:4]),
			Reserved: buf[1],
			Data:     data,
		}}, nil
	}

	ev := &RawEvent{
		Code:      buf[0] & 0x7f,
		SendEvent: buf[0]&0x80 != 0,
		Sequence:  bytesutil.Uint16BE(buf[2:4]),
	}
	if ev.Code == GenericEvent {
		payload, err := readExtra(r, buf[:], bytesutil.Uint32BE(buf[4:8]))
		if err != nil {
			return nil, fmt.Errorf("read generic event body: %w", err)
		}
		ev.Payload = payload
	} else {
		ev.Payload = append([]byte(nil), buf[:]...)
	}
	return &Frame{Kind: KindEvent, Event: ev}, nil
}

func readExtra(r io.Reader, head []byte, units uint32) ([]byte, error) {
	if units > maxExtraUnits {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, len(head)+int(units)*4)
	copy(out, head)
	if units > 0 {
		if _, err := io.ReadFull(r, out[len(head):]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AppendReply encodes a reply frame, padding data to the 24 bytes every reply
// carries. It is the inverse of ReadFrame for replies.
func AppendReply(dst []byte, seq uint16, reserved byte, data []byte) []byte {
	if len(data) < FrameLength-8 {
		data = append(data[:len(data):len(data)], make([]byte, FrameLength-8-len(data))...)
	}
	data = appendPad(data[:len(data):len(data)], len(data))

	dst = append(dst, 1, reserved)
	dst = bytesutil.AppendUint16BE(dst, seq)
	dst = bytesutil.AppendUint32BE(dst, uint32((len(data)-(FrameLength-8))/4))
	return append(dst, data...)
}
