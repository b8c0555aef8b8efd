package lib

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheSmallBoat/xwire/wire"
	"github.com/lithdew/bytesutil"
	"github.com/stretchr/testify/require"
)

// Opcodes the fake server understands on top of the core ones the
// connection issues itself.
const (
	opEcho     uint8 = 120 // replies with the request body
	opFailVoid uint8 = 121 // void; fails with BadValue carrying the first body word
	opVoid     uint8 = 122 // void; always succeeds
	opHang     uint8 = 123 // never answered

	// Both send two Expose events stamped with their own sequence number and
	// hold the answer back until answerHeld.
	opHeldEcho uint8 = 124
	opHeldFail uint8 = 125 // void
)

type heldRequest struct {
	seq  uint16
	hdr  wire.RequestHeader
	body []byte
}

type fakeExtension struct {
	name       string
	opcode     uint8
	firstEvent uint8
	firstError uint8
	version    Version
	supported  bool // XKEYBOARD only
}

func defaultFakeExtensions() []fakeExtension {
	return []fakeExtension{
		{name: wire.GenericEventName, opcode: 128, version: Version{Major: 1}},
		{name: wire.BigRequestsName, opcode: 133},
		{name: wire.XKeyboardName, opcode: 135, firstEvent: 85, firstError: 137, version: Version{Major: 1}, supported: true},
		{name: wire.XInputName, opcode: 131, firstEvent: 66, firstError: 129, version: Version{Major: 2, Minor: 3}},
		{name: wire.RandRName, opcode: 140, firstEvent: 89, firstError: 147, version: Version{Major: 1, Minor: 6}},
	}
}

// fakeServer speaks just enough X11 over one end of a net.Pipe to drive a
// Conn through setup, extension bootstrap, atoms, replies, errors and events.
type fakeServer struct {
	t    *testing.T
	conn net.Conn

	setup      wire.Setup
	extensions []fakeExtension
	bigMax     uint32
	authName   string // expected auth name, if set

	wmu sync.Mutex
	seq atomic.Uint32 // last request processed

	mu        sync.Mutex
	headers   []wire.RequestHeader
	counts    map[uint8]int
	atoms     map[string]uint32
	atomNames map[uint32]string
	nextAtom  uint32
	held      []heldRequest

	holdFocus atomic.Bool // hold GetInputFocus replies back too

	done chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t: t,
		setup: wire.Setup{
			Release:              12101004,
			ResourceIDBase:       0x04a00000,
			ResourceIDMask:       0x001fffff,
			Vendor:               "fake",
			MaximumRequestLength: 65535,
			MinKeycode:           8,
			MaxKeycode:           255,
			PixmapFormats:        []wire.Format{{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32}},
			Screens: []wire.Screen{{
				Root:           0x3a7,
				WidthInPixels:  1920,
				HeightInPixels: 1080,
				RootVisual:     0x21,
				RootDepth:      24,
				Depths:         []wire.Depth{{Depth: 24, Visuals: []wire.Visual{{ID: 0x21, Class: 4, BitsPerRGBValue: 8}}}},
			}},
		},
		extensions: defaultFakeExtensions(),
		bigMax:     4 * 1024 * 1024,
		counts:     make(map[uint8]int),
		atoms:      make(map[string]uint32),
		atomNames:  make(map[uint32]string),
		nextAtom:   200,
		done:       make(chan struct{}),
	}
}

// without drops an extension from the server.
func (s *fakeServer) without(name string) *fakeServer {
	exts := s.extensions[:0]
	for _, e := range s.extensions {
		if e.name != name {
			exts = append(exts, e)
		}
	}
	s.extensions = exts
	return s
}

func (s *fakeServer) withVersion(name string, v Version) *fakeServer {
	for i := range s.extensions {
		if s.extensions[i].name == name {
			s.extensions[i].version = v
		}
	}
	return s
}

// start serves on one end of a pipe and returns the other.
func (s *fakeServer) start() net.Conn {
	client, server := net.Pipe()
	s.conn = server

	go func() {
		defer close(s.done)
		defer s.conn.Close()

		if err := s.serve(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			s.t.Logf("fake server: %v", err)
		}
	}()
	return client
}

// open starts the server and connects a Conn to it. The returned func closes
// both; defer it after goleak so it runs first.
func (s *fakeServer) open(cfg Config) (*Conn, func()) {
	s.t.Helper()

	client := s.start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Open(ctx, client, client, cfg)
	if err != nil {
		s.stop()
		require.NoError(s.t, err)
	}
	return c, func() {
		require.NoError(s.t, c.Close())
		s.stop()
	}
}

func (s *fakeServer) stop() {
	s.conn.Close()
	<-s.done
}

func (s *fakeServer) count(op uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

func (s *fakeServer) requestHeaders() []wire.RequestHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.RequestHeader(nil), s.headers...)
}

func (s *fakeServer) write(buf []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err := s.conn.Write(buf)
	return err
}

// sendEvent writes a core or extension event stamped with the last processed
// sequence number.
func (s *fakeServer) sendEvent(code, detail uint8, body []byte) {
	s.t.Helper()
	require.NoError(s.t, s.write(wire.AppendEvent(nil, code, detail, uint16(s.seq.Load()), body)))
}

func (s *fakeServer) sendGenericEvent(opcode uint8, evtype uint16, extra []byte) {
	s.t.Helper()
	require.NoError(s.t, s.write(wire.AppendGenericEvent(nil, opcode, uint16(s.seq.Load()), evtype, extra)))
}

func (s *fakeServer) serve() error {
	head := make([]byte, 12)
	if _, err := io.ReadFull(s.conn, head); err != nil {
		return err
	}
	nameLen := int(bytesutil.Uint16BE(head[6:8]))
	dataLen := int(bytesutil.Uint16BE(head[8:10]))
	rest := make([]byte, nameLen+wire.Pad(nameLen)+dataLen+wire.Pad(dataLen))
	if _, err := io.ReadFull(s.conn, rest); err != nil {
		return err
	}
	req, _, err := wire.UnmarshalSetupRequest(append(head, rest...))
	if err != nil {
		return err
	}
	if s.authName != "" && req.AuthName != s.authName {
		return s.write(setupFailure("bad authorization"))
	}
	if err := s.write(wire.AppendSetupReply(nil, &s.setup)); err != nil {
		return err
	}

	for {
		hdr, body, err := s.readRequest()
		if err != nil {
			return err
		}
		seq := uint16(s.seq.Add(1))

		s.mu.Lock()
		s.headers = append(s.headers, hdr)
		s.counts[hdr.Major]++
		s.mu.Unlock()

		if err := s.handle(seq, hdr, body); err != nil {
			return err
		}
	}
}

func (s *fakeServer) readRequest() (wire.RequestHeader, []byte, error) {
	buf := make([]byte, wire.BigRequestHeaderLength)
	if _, err := io.ReadFull(s.conn, buf[:wire.RequestHeaderLength]); err != nil {
		return wire.RequestHeader{}, nil, err
	}
	if buf[2] == 0 && buf[3] == 0 {
		if _, err := io.ReadFull(s.conn, buf[wire.RequestHeaderLength:]); err != nil {
			return wire.RequestHeader{}, nil, err
		}
	}
	hdr, n, err := wire.UnmarshalRequestHeader(buf)
	if err != nil {
		return hdr, nil, err
	}
	body := make([]byte, int(hdr.Units)*4-n)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return hdr, nil, err
	}
	return hdr, body, nil
}

func (s *fakeServer) reply(seq uint16, reserved byte, data []byte) error {
	return s.write(wire.AppendReply(nil, seq, reserved, data))
}

func (s *fakeServer) fail(seq uint16, hdr wire.RequestHeader, code uint8, value uint32) error {
	e := wire.ErrorReply{Code: code, Sequence: seq, BadValue: value, MajorOpcode: hdr.Major, MinorOpcode: uint16(hdr.Minor)}
	return s.write(e.AppendTo(nil))
}

func (s *fakeServer) handle(seq uint16, hdr wire.RequestHeader, body []byte) error {
	switch hdr.Major {
	case wire.OpInternAtom:
		req, err := wire.UnmarshalInternAtomRequest(hdr.Minor, body)
		if err != nil {
			return err
		}
		return s.reply(seq, 0, bytesutil.AppendUint32BE(nil, s.intern(req)))
	case wire.OpGetAtomName:
		id := bytesutil.Uint32BE(body[0:4])
		s.mu.Lock()
		name, ok := s.atomNames[id]
		s.mu.Unlock()
		if !ok {
			return s.fail(seq, hdr, wire.BadAtom, id)
		}
		return s.reply(seq, 0, wire.AppendGetAtomNameReplyData(nil, name))
	case wire.OpGetInputFocus:
		if s.holdFocus.Load() {
			s.hold(seq, hdr, body)
			return nil
		}
		return s.answer(heldRequest{seq: seq, hdr: hdr, body: body})
	case wire.OpQueryExtension:
		req, err := wire.UnmarshalQueryExtensionRequest(body)
		if err != nil {
			return err
		}
		qr := wire.QueryExtensionReply{}
		if e, ok := s.extension(req.Name); ok {
			qr = wire.QueryExtensionReply{Present: true, MajorOpcode: e.opcode, FirstEvent: e.firstEvent, FirstError: e.firstError}
		}
		return s.reply(seq, 0, qr.AppendTo(nil))
	case wire.OpListExtensions:
		names := make([]string, 0, len(s.extensions))
		for _, e := range s.extensions {
			names = append(names, e.name)
		}
		return s.reply(seq, byte(len(names)), wire.AppendListExtensionsReplyData(nil, names))
	case wire.OpNoOperation, opVoid, opHang:
		return nil
	case opEcho:
		return s.reply(seq, 0, body)
	case opHeldEcho, opHeldFail:
		for i := uint8(0); i < 2; i++ {
			if err := s.write(wire.AppendEvent(nil, wire.Expose, i, seq, nil)); err != nil {
				return err
			}
		}
		s.hold(seq, hdr, body)
		return nil
	case opFailVoid:
		return s.fail(seq, hdr, wire.BadValue, bytesutil.Uint32BE(body[0:4]))
	}

	for _, e := range s.extensions {
		if e.opcode == hdr.Major {
			return s.handleExtension(seq, hdr, e)
		}
	}
	return s.fail(seq, hdr, wire.BadRequest, 0)
}

func (s *fakeServer) handleExtension(seq uint16, hdr wire.RequestHeader, e fakeExtension) error {
	v16 := wire.Version16{Major: uint16(e.version.Major), Minor: uint16(e.version.Minor)}

	switch {
	case e.name == wire.GenericEventName && hdr.Minor == wire.GEQueryVersion:
		return s.reply(seq, 0, v16.AppendTo(nil))
	case e.name == wire.BigRequestsName && hdr.Minor == wire.BigRequestsEnable:
		return s.reply(seq, 0, bytesutil.AppendUint32BE(nil, s.bigMax))
	case e.name == wire.XKeyboardName && hdr.Minor == wire.XkbUseExtension:
		var supported byte
		if e.supported {
			supported = 1
		}
		return s.reply(seq, supported, v16.AppendTo(nil))
	case e.name == wire.XInputName && hdr.Minor == wire.XIQueryVersion:
		return s.reply(seq, 0, v16.AppendTo(nil))
	case e.name == wire.RandRName && hdr.Minor == wire.RandRQueryVersion:
		return s.reply(seq, 0, wire.Version32{Major: e.version.Major, Minor: e.version.Minor}.AppendTo(nil))
	}
	return s.fail(seq, hdr, e.firstError, 0)
}

func (s *fakeServer) hold(seq uint16, hdr wire.RequestHeader, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = append(s.held, heldRequest{seq: seq, hdr: hdr, body: body})
}

func (s *fakeServer) heldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// answerHeld sends the answers held back so far, in request order.
func (s *fakeServer) answerHeld() {
	s.t.Helper()

	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, r := range held {
		require.NoError(s.t, s.answer(r))
	}
}

func (s *fakeServer) answer(r heldRequest) error {
	switch r.hdr.Major {
	case wire.OpGetInputFocus:
		return s.reply(r.seq, 1, bytesutil.AppendUint32BE(nil, s.setup.Screens[0].Root))
	case opHeldFail:
		return s.fail(r.seq, r.hdr, wire.BadValue, bytesutil.Uint32BE(r.body[0:4]))
	}
	return s.reply(r.seq, 0, r.body)
}

func (s *fakeServer) extension(name string) (fakeExtension, bool) {
	for _, e := range s.extensions {
		if e.name == name {
			return e, true
		}
	}
	return fakeExtension{}, false
}

func (s *fakeServer) intern(req wire.InternAtomRequest) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.atoms[req.Name]; ok {
		return id
	}
	for i, name := range predefinedAtoms {
		if name == req.Name {
			return uint32(i + 1)
		}
	}
	if req.OnlyIfExists {
		return uint32(AtomNone)
	}
	id := s.nextAtom
	s.nextAtom++
	s.atoms[req.Name] = id
	s.atomNames[id] = req.Name
	return id
}

func setupFailure(reason string) []byte {
	body := append([]byte(reason), make([]byte, wire.Pad(len(reason)))...)
	buf := []byte{0, byte(len(reason))}
	buf = bytesutil.AppendUint16BE(buf, wire.ProtocolMajorVersion)
	buf = bytesutil.AppendUint16BE(buf, wire.ProtocolMinorVersion)
	buf = bytesutil.AppendUint16BE(buf, uint16(len(body)/4))
	return append(buf, body...)
}
