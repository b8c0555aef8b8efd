package wire

import (
	"fmt"

	"github.com/lithdew/bytesutil"
)

// Core protocol error codes.
const (
	BadRequest        uint8 = 1
	BadValue          uint8 = 2
	BadWindow         uint8 = 3
	BadPixmap         uint8 = 4
	BadAtom           uint8 = 5
	BadCursor         uint8 = 6
	BadFont           uint8 = 7
	BadMatch          uint8 = 8
	BadDrawable       uint8 = 9
	BadAccess         uint8 = 10
	BadAlloc          uint8 = 11
	BadColormap       uint8 = 12
	BadGContext       uint8 = 13
	BadIDChoice       uint8 = 14
	BadName           uint8 = 15
	BadLength         uint8 = 16
	BadImplementation uint8 = 17
)

var coreErrorNames = [...]string{
	BadRequest:        "BadRequest",
	BadValue:          "BadValue",
	BadWindow:         "BadWindow",
	BadPixmap:         "BadPixmap",
	BadAtom:           "BadAtom",
	BadCursor:         "BadCursor",
	BadFont:           "BadFont",
	BadMatch:          "BadMatch",
	BadDrawable:       "BadDrawable",
	BadAccess:         "BadAccess",
	BadAlloc:          "BadAlloc",
	BadColormap:       "BadColormap",
	BadGContext:       "BadGContext",
	BadIDChoice:       "BadIDChoice",
	BadName:           "BadName",
	BadLength:         "BadLength",
	BadImplementation: "BadImplementation",
}

// ErrorReply is an error frame reported by the server for a request. It is a
// protocol-level failure of one request, never of the connection.
type ErrorReply struct {
	Code        uint8
	Sequence    uint16
	BadValue    uint32
	MinorOpcode uint16
	MajorOpcode uint8

	// Extension names the extension owning Code when Code lies in an
	// extension's error range; empty for core errors.
	Extension string
}

func UnmarshalErrorReply(buf []byte) ErrorReply {
	return ErrorReply{
		Code:        buf[1],
		Sequence:    bytesutil.Uint16BE(buf[2:4]),
		BadValue:    bytesutil.Uint32BE(buf[4:8]),
		MinorOpcode: bytesutil.Uint16BE(buf[8:10]),
		MajorOpcode: buf[10],
	}
}

// AppendTo encodes the error as a 32-byte frame.
func (e ErrorReply) AppendTo(dst []byte) []byte {
	dst = append(dst, 0, e.Code)
	dst = bytesutil.AppendUint16BE(dst, e.Sequence)
	dst = bytesutil.AppendUint32BE(dst, e.BadValue)
	dst = bytesutil.AppendUint16BE(dst, e.MinorOpcode)
	dst = append(dst, e.MajorOpcode)
	return append(dst, make([]byte, FrameLength-11)...)
}

// Name returns the symbolic name of core error codes.
func (e *ErrorReply) Name() string {
	if e.Extension == "" && int(e.Code) < len(coreErrorNames) && coreErrorNames[e.Code] != "" {
		return coreErrorNames[e.Code]
	}
	if e.Extension != "" {
		return fmt.Sprintf("%s error %d", e.Extension, e.Code)
	}
	return fmt.Sprintf("error %d", e.Code)
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("x11: %s (seq %d, bad value %d, opcode %d.%d)",
		e.Name(), e.Sequence, e.BadValue, e.MajorOpcode, e.MinorOpcode)
}
