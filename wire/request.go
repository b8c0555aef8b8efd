// Package wire implements the byte-level framing of the X11 protocol as seen
// by a client: request headers (including the BIG-REQUESTS form), the
// connection setup exchange, the 32-byte server frames (events, errors and
// replies) and the handful of request bodies the connection engine issues on
// its own behalf.
//
// All multi-byte fields are big-endian: the client announces MSB-first byte
// order during setup.
package wire

import (
	"errors"
	"math"

	"github.com/lithdew/bytesutil"
)

const (
	// RequestHeaderLength is the size of a normal request header.
	RequestHeaderLength = 4
	// BigRequestHeaderLength is the size of a header using the extended
	// 32-bit length field.
	BigRequestHeaderLength = 8
)

var ErrRequestTooLarge = errors.New("wire: request exceeds maximum request length")

// Encoder is implemented by request bodies. AppendTo appends everything that
// follows the request header.
type Encoder interface {
	AppendTo(dst []byte) []byte
}

// Raw is a pre-encoded request body.
type Raw []byte

func (r Raw) AppendTo(dst []byte) []byte { return append(dst, r...) }

// Empty is the body of requests that carry nothing but a header.
type Empty struct{}

func (Empty) AppendTo(dst []byte) []byte { return dst }

// Pad returns the number of bytes needed to align n to four bytes.
func Pad(n int) int { return (4 - n%4) % 4 }

func appendPad(dst []byte, n int) []byte {
	for i := Pad(n); i > 0; i-- {
		dst = append(dst, 0)
	}
	return dst
}

// EncodeRequest appends a complete request to dst and returns the slice
// holding exactly the bytes to put on the wire together with the declared
// length in 4-byte units.
//
// maxUnits is the largest request the server accepts. When the request does
// not fit the 16-bit length field it is encoded with a zero length and an
// extra 32-bit length word, which is only legal when big is set.
func EncodeRequest(dst []byte, major, minor uint8, body Encoder, maxUnits uint32, big bool) ([]byte, uint32, error) {
	start := len(dst)

	// reserve room for the extended header; a normal header is written
	// into the last four reserved bytes.
	dst = append(dst, 0, 0, 0, 0, 0, 0, 0, 0)
	if body != nil {
		dst = body.AppendTo(dst)
	}
	dst = appendPad(dst, len(dst)-start)

	n := uint64(len(dst)-start-BigRequestHeaderLength) + RequestHeaderLength
	units := n / 4

	if units <= math.MaxUint16 {
		if units > uint64(maxUnits) {
			return dst[:start], 0, ErrRequestTooLarge
		}
		frame := dst[start+4:]
		frame[0] = major
		frame[1] = minor
		frame[2] = byte(units >> 8)
		frame[3] = byte(units)
		return frame, uint32(units), nil
	}

	units++ // the extra length word
	if !big || units > uint64(maxUnits) || units > math.MaxUint32 {
		return dst[:start], 0, ErrRequestTooLarge
	}

	frame := dst[start:]
	frame[0] = major
	frame[1] = minor
	frame[2] = 0
	frame[3] = 0
	copy(frame[4:8], bytesutil.AppendUint32BE(nil, uint32(units)))
	return frame, uint32(units), nil
}

// RequestHeader is the decoded header of a request, used by anything that has
// to read requests back (tests, proxies).
type RequestHeader struct {
	Major uint8
	Minor uint8
	Units uint32
	Big   bool
}

// UnmarshalRequestHeader decodes a request header. buf must hold at least
// RequestHeaderLength bytes, and BigRequestHeaderLength bytes if the 16-bit
// length is zero. It returns the number of header bytes consumed.
func UnmarshalRequestHeader(buf []byte) (RequestHeader, int, error) {
	var hdr RequestHeader
	if len(buf) < RequestHeaderLength {
		return hdr, 0, errShort
	}
	hdr.Major = buf[0]
	hdr.Minor = buf[1]
	hdr.Units = uint32(bytesutil.Uint16BE(buf[2:4]))
	if hdr.Units != 0 {
		return hdr, RequestHeaderLength, nil
	}
	if len(buf) < BigRequestHeaderLength {
		return hdr, 0, errShort
	}
	hdr.Big = true
	hdr.Units = bytesutil.Uint32BE(buf[4:8])
	return hdr, BigRequestHeaderLength, nil
}
