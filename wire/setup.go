package wire

import (
	"fmt"
	"io"
	"strings"

	"github.com/lithdew/bytesutil"
)

const (
	ProtocolMajorVersion = 11
	ProtocolMinorVersion = 0

	byteOrderMSBFirst = 'B'
)

const (
	setupFailed       = 0
	setupSuccess      = 1
	setupAuthenticate = 2
)

// SetupRequest is the first message a client sends.
type SetupRequest struct {
	AuthName string
	AuthData []byte
}

func (s SetupRequest) AppendTo(dst []byte) []byte {
	dst = append(dst, byteOrderMSBFirst, 0)
	dst = bytesutil.AppendUint16BE(dst, ProtocolMajorVersion)
	dst = bytesutil.AppendUint16BE(dst, ProtocolMinorVersion)
	dst = bytesutil.AppendUint16BE(dst, uint16(len(s.AuthName)))
	dst = bytesutil.AppendUint16BE(dst, uint16(len(s.AuthData)))
	dst = append(dst, 0, 0)
	dst = append(dst, s.AuthName...)
	dst = appendPad(dst, len(s.AuthName))
	dst = append(dst, s.AuthData...)
	dst = appendPad(dst, len(s.AuthData))
	return dst
}

// SetupError is returned when the server refuses the connection or asks for
// further authentication.
type SetupError struct {
	Authenticate bool
	Major        uint16
	Minor        uint16
	Reason       string
}

func (e *SetupError) Error() string {
	if e.Authenticate {
		return fmt.Sprintf("x11: server requires authentication: %s", e.Reason)
	}
	return fmt.Sprintf("x11: connection refused by server (protocol %d.%d): %s", e.Major, e.Minor, e.Reason)
}

// Setup is the server's description of itself, captured once per connection.
type Setup struct {
	ProtocolMajor uint16
	ProtocolMinor uint16

	Release          uint32
	ResourceIDBase   uint32
	ResourceIDMask   uint32
	MotionBufferSize uint32
	Vendor           string

	// MaximumRequestLength is in 4-byte units.
	MaximumRequestLength uint16

	ImageByteOrder           uint8
	BitmapFormatBitOrder     uint8
	BitmapFormatScanlineUnit uint8
	BitmapFormatScanlinePad  uint8
	MinKeycode               uint8
	MaxKeycode               uint8

	PixmapFormats []Format
	Screens       []Screen
}

type Format struct {
	Depth        uint8
	BitsPerPixel uint8
	ScanlinePad  uint8
}

type Screen struct {
	Root                uint32
	DefaultColormap     uint32
	WhitePixel          uint32
	BlackPixel          uint32
	CurrentInputMasks   uint32
	WidthInPixels       uint16
	HeightInPixels      uint16
	WidthInMillimeters  uint16
	HeightInMillimeters uint16
	MinInstalledMaps    uint16
	MaxInstalledMaps    uint16
	RootVisual          uint32
	BackingStores       uint8
	SaveUnders          bool
	RootDepth           uint8
	Depths              []Depth
}

type Depth struct {
	Depth   uint8
	Visuals []Visual
}

type Visual struct {
	ID              uint32
	Class           uint8
	BitsPerRGBValue uint8
	ColormapEntries uint16
	RedMask         uint32
	GreenMask       uint32
	BlueMask        uint32
}

// ReadSetup reads the server's answer to a SetupRequest.
func ReadSetup(r io.Reader) (*Setup, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read setup header: %w", err)
	}

	status := head[0]
	major := bytesutil.Uint16BE(head[2:4])
	minor := bytesutil.Uint16BE(head[4:6])
	body := make([]byte, int(bytesutil.Uint16BE(head[6:8]))*4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read setup body: %w", err)
	}

	switch status {
	case setupFailed:
		n := int(head[1])
		if n > len(body) {
			n = len(body)
		}
		return nil, &SetupError{Major: major, Minor: minor, Reason: string(body[:n])}
	case setupAuthenticate:
		return nil, &SetupError{Authenticate: true, Major: major, Minor: minor, Reason: strings.TrimRight(string(body), "\x00")}
	case setupSuccess:
	default:
		return nil, fmt.Errorf("x11: unknown setup status %d", status)
	}

	s, err := UnmarshalSetup(body)
	if err != nil {
		return nil, err
	}
	s.ProtocolMajor = major
	s.ProtocolMinor = minor
	return s, nil
}

// UnmarshalSetup decodes the body of a successful setup reply.
func UnmarshalSetup(buf []byte) (*Setup, error) {
	var s Setup

	if len(buf) < 32 {
		return nil, errShort
	}
	s.Release = bytesutil.Uint32BE(buf[0:4])
	s.ResourceIDBase = bytesutil.Uint32BE(buf[4:8])
	s.ResourceIDMask = bytesutil.Uint32BE(buf[8:12])
	s.MotionBufferSize = bytesutil.Uint32BE(buf[12:16])
	vendorLen := int(bytesutil.Uint16BE(buf[16:18]))
	s.MaximumRequestLength = bytesutil.Uint16BE(buf[18:20])
	numScreens := int(buf[20])
	numFormats := int(buf[21])
	s.ImageByteOrder = buf[22]
	s.BitmapFormatBitOrder = buf[23]
	s.BitmapFormatScanlineUnit = buf[24]
	s.BitmapFormatScanlinePad = buf[25]
	s.MinKeycode = buf[26]
	s.MaxKeycode = buf[27]
	buf = buf[32:]

	if len(buf) < vendorLen+Pad(vendorLen) {
		return nil, errShort
	}
	s.Vendor, buf = string(buf[:vendorLen]), buf[vendorLen+Pad(vendorLen):]

	if len(buf) < numFormats*8 {
		return nil, errShort
	}
	s.PixmapFormats = make([]Format, numFormats)
	for i := range s.PixmapFormats {
		s.PixmapFormats[i] = Format{Depth: buf[0], BitsPerPixel: buf[1], ScanlinePad: buf[2]}
		buf = buf[8:]
	}

	s.Screens = make([]Screen, numScreens)
	for i := range s.Screens {
		var err error
		if buf, err = unmarshalScreen(buf, &s.Screens[i]); err != nil {
			return nil, fmt.Errorf("screen %d: %w", i, err)
		}
	}

	return &s, nil
}

func unmarshalScreen(buf []byte, sc *Screen) ([]byte, error) {
	if len(buf) < 40 {
		return nil, errShort
	}
	sc.Root = bytesutil.Uint32BE(buf[0:4])
	sc.DefaultColormap = bytesutil.Uint32BE(buf[4:8])
	sc.WhitePixel = bytesutil.Uint32BE(buf[8:12])
	sc.BlackPixel = bytesutil.Uint32BE(buf[12:16])
	sc.CurrentInputMasks = bytesutil.Uint32BE(buf[16:20])
	sc.WidthInPixels = bytesutil.Uint16BE(buf[20:22])
	sc.HeightInPixels = bytesutil.Uint16BE(buf[22:24])
	sc.WidthInMillimeters = bytesutil.Uint16BE(buf[24:26])
	sc.HeightInMillimeters = bytesutil.Uint16BE(buf[26:28])
	sc.MinInstalledMaps = bytesutil.Uint16BE(buf[28:30])
	sc.MaxInstalledMaps = bytesutil.Uint16BE(buf[30:32])
	sc.RootVisual = bytesutil.Uint32BE(buf[32:36])
	sc.BackingStores = buf[36]
	sc.SaveUnders = buf[37] != 0
	sc.RootDepth = buf[38]
	numDepths := int(buf[39])
	buf = buf[40:]

	sc.Depths = make([]Depth, numDepths)
	for i := range sc.Depths {
		if len(buf) < 8 {
			return nil, errShort
		}
		d := &sc.Depths[i]
		d.Depth = buf[0]
		numVisuals := int(bytesutil.Uint16BE(buf[2:4]))
		buf = buf[8:]

		if len(buf) < numVisuals*24 {
			return nil, errShort
		}
		d.Visuals = make([]Visual, numVisuals)
		for j := range d.Visuals {
			d.Visuals[j] = Visual{
				ID:              bytesutil.Uint32BE(buf[0:4]),
				Class:           buf[4],
				BitsPerRGBValue: buf[5],
				ColormapEntries: bytesutil.Uint16BE(buf[6:8]),
				RedMask:         bytesutil.Uint32BE(buf[8:12]),
				GreenMask:       bytesutil.Uint32BE(buf[12:16]),
				BlueMask:        bytesutil.Uint32BE(buf[16:20]),
			}
			buf = buf[24:]
		}
	}
	return buf, nil
}

// AppendTo encodes the body of a successful setup reply. Servers (and fake
// servers in tests) use it; the client only ever decodes.
func (s *Setup) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, s.Release)
	dst = bytesutil.AppendUint32BE(dst, s.ResourceIDBase)
	dst = bytesutil.AppendUint32BE(dst, s.ResourceIDMask)
	dst = bytesutil.AppendUint32BE(dst, s.MotionBufferSize)
	dst = bytesutil.AppendUint16BE(dst, uint16(len(s.Vendor)))
	dst = bytesutil.AppendUint16BE(dst, s.MaximumRequestLength)
	dst = append(dst, uint8(len(s.Screens)), uint8(len(s.PixmapFormats)),
		s.ImageByteOrder, s.BitmapFormatBitOrder, s.BitmapFormatScanlineUnit, s.BitmapFormatScanlinePad,
		s.MinKeycode, s.MaxKeycode, 0, 0, 0, 0)
	dst = append(dst, s.Vendor...)
	dst = appendPad(dst, len(s.Vendor))
	for _, f := range s.PixmapFormats {
		dst = append(dst, f.Depth, f.BitsPerPixel, f.ScanlinePad, 0, 0, 0, 0, 0)
	}
	for _, sc := range s.Screens {
		dst = bytesutil.AppendUint32BE(dst, sc.Root)
		dst = bytesutil.AppendUint32BE(dst, sc.DefaultColormap)
		dst = bytesutil.AppendUint32BE(dst, sc.WhitePixel)
		dst = bytesutil.AppendUint32BE(dst, sc.BlackPixel)
		dst = bytesutil.AppendUint32BE(dst, sc.CurrentInputMasks)
		dst = bytesutil.AppendUint16BE(dst, sc.WidthInPixels)
		dst = bytesutil.AppendUint16BE(dst, sc.HeightInPixels)
		dst = bytesutil.AppendUint16BE(dst, sc.WidthInMillimeters)
		dst = bytesutil.AppendUint16BE(dst, sc.HeightInMillimeters)
		dst = bytesutil.AppendUint16BE(dst, sc.MinInstalledMaps)
		dst = bytesutil.AppendUint16BE(dst, sc.MaxInstalledMaps)
		dst = bytesutil.AppendUint32BE(dst, sc.RootVisual)
		dst = append(dst, sc.BackingStores, boolByte(sc.SaveUnders), sc.RootDepth, uint8(len(sc.Depths)))
		for _, d := range sc.Depths {
			dst = append(dst, d.Depth, 0)
			dst = bytesutil.AppendUint16BE(dst, uint16(len(d.Visuals)))
			dst = append(dst, 0, 0, 0, 0)
			for _, v := range d.Visuals {
				dst = bytesutil.AppendUint32BE(dst, v.ID)
				dst = append(dst, v.Class, v.BitsPerRGBValue)
				dst = bytesutil.AppendUint16BE(dst, v.ColormapEntries)
				dst = bytesutil.AppendUint32BE(dst, v.RedMask)
				dst = bytesutil.AppendUint32BE(dst, v.GreenMask)
				dst = bytesutil.AppendUint32BE(dst, v.BlueMask)
				dst = append(dst, 0, 0, 0, 0)
			}
		}
	}
	return dst
}

// AppendSetupReply wraps an encoded setup body in the 8-byte success header.
func AppendSetupReply(dst []byte, s *Setup) []byte {
	body := s.AppendTo(nil)
	dst = append(dst, setupSuccess, 0)
	dst = bytesutil.AppendUint16BE(dst, ProtocolMajorVersion)
	dst = bytesutil.AppendUint16BE(dst, ProtocolMinorVersion)
	dst = bytesutil.AppendUint16BE(dst, uint16(len(body)/4))
	return append(dst, body...)
}

// UnmarshalSetupRequest decodes a client's setup request. It returns the
// number of bytes consumed.
func UnmarshalSetupRequest(buf []byte) (SetupRequest, int, error) {
	var req SetupRequest
	if len(buf) < 12 {
		return req, 0, errShort
	}
	if buf[0] != byteOrderMSBFirst {
		return req, 0, fmt.Errorf("x11: unsupported byte order %q", buf[0])
	}
	nameLen := int(bytesutil.Uint16BE(buf[6:8]))
	dataLen := int(bytesutil.Uint16BE(buf[8:10]))
	n := 12 + nameLen + Pad(nameLen) + dataLen + Pad(dataLen)
	if len(buf) < n {
		return req, 0, errShort
	}
	off := 12
	req.AuthName = string(buf[off : off+nameLen])
	off += nameLen + Pad(nameLen)
	req.AuthData = append([]byte(nil), buf[off:off+dataLen]...)
	return req, n, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
