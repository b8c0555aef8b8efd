package wire

import "github.com/lithdew/bytesutil"

// Extension names as advertised by servers.
const (
	GenericEventName = "Generic Event Extension"
	BigRequestsName  = "BIG-REQUESTS"
	XKeyboardName    = "XKEYBOARD"
	XInputName       = "XInputExtension"
	RandRName        = "RANDR"
)

// Minor opcodes of the extension requests used during bootstrap.
const (
	GEQueryVersion    uint8 = 0
	BigRequestsEnable uint8 = 0
	XkbUseExtension   uint8 = 0
	XIQueryVersion    uint8 = 47
	RandRQueryVersion uint8 = 0
)

// Version16 is a version-negotiation body made of two 16-bit fields, used by
// GE, XKB and XInput2.
type Version16 struct {
	Major uint16
	Minor uint16
}

func (v Version16) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint16BE(dst, v.Major)
	return bytesutil.AppendUint16BE(dst, v.Minor)
}

func DecodeVersion16(data []byte) (Version16, error) {
	if len(data) < 4 {
		return Version16{}, ErrShortReply
	}
	return Version16{Major: bytesutil.Uint16BE(data[0:2]), Minor: bytesutil.Uint16BE(data[2:4])}, nil
}

// Version32 is the RANDR flavour of version negotiation.
type Version32 struct {
	Major uint32
	Minor uint32
}

func (v Version32) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, v.Major)
	return bytesutil.AppendUint32BE(dst, v.Minor)
}

func DecodeVersion32(data []byte) (Version32, error) {
	if len(data) < 8 {
		return Version32{}, ErrShortReply
	}
	return Version32{Major: bytesutil.Uint32BE(data[0:4]), Minor: bytesutil.Uint32BE(data[4:8])}, nil
}

// DecodeBigRequestsEnableReply returns the maximum request length, in 4-byte
// units, allowed once big requests are enabled.
func DecodeBigRequestsEnableReply(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, ErrShortReply
	}
	return bytesutil.Uint32BE(data[0:4]), nil
}

// XkbUseExtensionReply carries Supported in the reply's reserved byte.
type XkbUseExtensionReply struct {
	Supported bool
	Version   Version16
}

func DecodeXkbUseExtensionReply(reserved byte, data []byte) (XkbUseExtensionReply, error) {
	v, err := DecodeVersion16(data)
	if err != nil {
		return XkbUseExtensionReply{}, err
	}
	return XkbUseExtensionReply{Supported: reserved != 0, Version: v}, nil
}
