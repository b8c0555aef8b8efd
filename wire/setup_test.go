package wire

import (
	"bytes"
	"testing"

	"github.com/lithdew/bytesutil"
	"github.com/stretchr/testify/require"
)

func testSetup() *Setup {
	return &Setup{
		Release:              12101004,
		ResourceIDBase:       0x04a00000,
		ResourceIDMask:       0x001fffff,
		Vendor:               "The X.Org Foundation",
		MaximumRequestLength: 65535,
		MinKeycode:           8,
		MaxKeycode:           255,
		PixmapFormats: []Format{
			{Depth: 1, BitsPerPixel: 1, ScanlinePad: 32},
			{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32},
		},
		Screens: []Screen{{
			Root:           0x3a7,
			WidthInPixels:  1920,
			HeightInPixels: 1080,
			RootVisual:     0x21,
			SaveUnders:     true,
			RootDepth:      24,
			Depths: []Depth{
				{Depth: 24, Visuals: []Visual{
					{ID: 0x21, Class: 4, BitsPerRGBValue: 8, ColormapEntries: 256, RedMask: 0xff0000, GreenMask: 0xff00, BlueMask: 0xff},
					{ID: 0x22, Class: 5, BitsPerRGBValue: 8, ColormapEntries: 256, RedMask: 0xff0000, GreenMask: 0xff00, BlueMask: 0xff},
				}},
				{Depth: 32, Visuals: []Visual{}},
			},
		}},
	}
}

func TestSetupRoundTrip(t *testing.T) {
	want := testSetup()

	got, err := ReadSetup(bytes.NewReader(AppendSetupReply(nil, want)))
	require.NoError(t, err)

	want.ProtocolMajor = ProtocolMajorVersion
	want.ProtocolMinor = ProtocolMinorVersion
	require.Equal(t, want, got)
}

func TestSetupRequestEncoding(t *testing.T) {
	req := SetupRequest{AuthName: "MIT-MAGIC-COOKIE-1", AuthData: bytes.Repeat([]byte{0xab}, 16)}
	buf := req.AppendTo(nil)
	require.Zero(t, len(buf)%4)
	require.EqualValues(t, 'B', buf[0])

	got, n, err := UnmarshalSetupRequest(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, req, got)
}

func TestSetupRefused(t *testing.T) {
	reason := "No protocol specified\n"
	body := append([]byte(reason), make([]byte, Pad(len(reason)))...)

	buf := []byte{setupFailed, byte(len(reason))}
	buf = bytesutil.AppendUint16BE(buf, 11)
	buf = bytesutil.AppendUint16BE(buf, 0)
	buf = bytesutil.AppendUint16BE(buf, uint16(len(body)/4))
	buf = append(buf, body...)

	_, err := ReadSetup(bytes.NewReader(buf))
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	require.False(t, setupErr.Authenticate)
	require.Equal(t, reason, setupErr.Reason)
}

func TestSetupAuthenticate(t *testing.T) {
	buf := []byte{setupAuthenticate, 0, 0, 0, 0, 0, 0, 2}
	buf = append(buf, "cookie\x00\x00"...)

	_, err := ReadSetup(bytes.NewReader(buf))
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	require.True(t, setupErr.Authenticate)
	require.Equal(t, "cookie", setupErr.Reason)
}

func TestSetupTruncatedScreen(t *testing.T) {
	body := testSetup().AppendTo(nil)
	_, err := UnmarshalSetup(body[:len(body)-24])
	require.Error(t, err)
}
