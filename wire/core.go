package wire

import (
	"errors"

	"github.com/lithdew/bytesutil"
)

// Core request opcodes issued by the connection engine.
const (
	OpInternAtom      uint8 = 16
	OpGetAtomName     uint8 = 17
	OpGetInputFocus   uint8 = 43
	OpQueryExtension  uint8 = 98
	OpListExtensions  uint8 = 99
	OpNoOperation     uint8 = 127
	FirstExtensionOp  uint8 = 128
	FirstExtensionErr uint8 = 128
)

var ErrShortReply = errors.New("wire: reply too short")

// InternAtomRequest asks the server for the atom naming Name. OnlyIfExists
// travels in the header's data byte, see Data.
type InternAtomRequest struct {
	OnlyIfExists bool
	Name         string
}

func (r InternAtomRequest) Data() byte { return boolByte(r.OnlyIfExists) }

func (r InternAtomRequest) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint16BE(dst, uint16(len(r.Name)))
	dst = append(dst, 0, 0)
	dst = append(dst, r.Name...)
	return appendPad(dst, len(r.Name))
}

func UnmarshalInternAtomRequest(data byte, buf []byte) (InternAtomRequest, error) {
	if len(buf) < 4 {
		return InternAtomRequest{}, errShort
	}
	n := int(bytesutil.Uint16BE(buf[0:2]))
	if len(buf) < 4+n {
		return InternAtomRequest{}, errShort
	}
	return InternAtomRequest{OnlyIfExists: data != 0, Name: string(buf[4 : 4+n])}, nil
}

// DecodeInternAtomReply returns the atom id; zero means the name is unknown
// and OnlyIfExists was set.
func DecodeInternAtomReply(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, ErrShortReply
	}
	return bytesutil.Uint32BE(data[0:4]), nil
}

type GetAtomNameRequest struct {
	Atom uint32
}

func (r GetAtomNameRequest) AppendTo(dst []byte) []byte {
	return bytesutil.AppendUint32BE(dst, r.Atom)
}

func DecodeGetAtomNameReply(data []byte) (string, error) {
	if len(data) < 24 {
		return "", ErrShortReply
	}
	n := int(bytesutil.Uint16BE(data[0:2]))
	if len(data) < 24+n {
		return "", ErrShortReply
	}
	return string(data[24 : 24+n]), nil
}

// AppendGetAtomNameReplyData builds reply data for GetAtomName.
func AppendGetAtomNameReplyData(dst []byte, name string) []byte {
	dst = bytesutil.AppendUint16BE(dst, uint16(len(name)))
	dst = append(dst, make([]byte, 22)...)
	return append(dst, name...)
}

type InputFocus struct {
	RevertTo uint8
	Focus    uint32
}

func DecodeGetInputFocusReply(reserved byte, data []byte) (InputFocus, error) {
	if len(data) < 4 {
		return InputFocus{}, ErrShortReply
	}
	return InputFocus{RevertTo: reserved, Focus: bytesutil.Uint32BE(data[0:4])}, nil
}

type QueryExtensionRequest struct {
	Name string
}

func (r QueryExtensionRequest) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint16BE(dst, uint16(len(r.Name)))
	dst = append(dst, 0, 0)
	dst = append(dst, r.Name...)
	return appendPad(dst, len(r.Name))
}

func UnmarshalQueryExtensionRequest(buf []byte) (QueryExtensionRequest, error) {
	if len(buf) < 4 {
		return QueryExtensionRequest{}, errShort
	}
	n := int(bytesutil.Uint16BE(buf[0:2]))
	if len(buf) < 4+n {
		return QueryExtensionRequest{}, errShort
	}
	return QueryExtensionRequest{Name: string(buf[4 : 4+n])}, nil
}

type QueryExtensionReply struct {
	Present     bool
	MajorOpcode uint8
	FirstEvent  uint8
	FirstError  uint8
}

func DecodeQueryExtensionReply(data []byte) (QueryExtensionReply, error) {
	if len(data) < 4 {
		return QueryExtensionReply{}, ErrShortReply
	}
	return QueryExtensionReply{
		Present:     data[0] != 0,
		MajorOpcode: data[1],
		FirstEvent:  data[2],
		FirstError:  data[3],
	}, nil
}

func (r QueryExtensionReply) AppendTo(dst []byte) []byte {
	return append(dst, boolByte(r.Present), r.MajorOpcode, r.FirstEvent, r.FirstError)
}

// DecodeListExtensionsReply decodes the names list. The number of names is
// carried in the reply's reserved byte.
func DecodeListExtensionsReply(reserved byte, data []byte) ([]string, error) {
	if len(data) < 24 {
		return nil, ErrShortReply
	}
	buf := data[24:]
	names := make([]string, 0, reserved)
	for i := 0; i < int(reserved); i++ {
		if len(buf) < 1 {
			return nil, ErrShortReply
		}
		n := int(buf[0])
		if len(buf) < 1+n {
			return nil, ErrShortReply
		}
		names = append(names, string(buf[1:1+n]))
		buf = buf[1+n:]
	}
	return names, nil
}

// AppendListExtensionsReplyData builds reply data for ListExtensions; the
// name count goes in the reserved byte.
func AppendListExtensionsReplyData(dst []byte, names []string) []byte {
	dst = append(dst, make([]byte, 24)...)
	for _, name := range names {
		dst = append(dst, byte(len(name)))
		dst = append(dst, name...)
	}
	return dst
}
