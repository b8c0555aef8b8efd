package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lithdew/bytesutil"
)

// Address families used in Xauthority entries.
const (
	FamilyInternet  uint16 = 0
	FamilyInternet6 uint16 = 6
	FamilyLocal     uint16 = 256
	FamilyWild      uint16 = 65535
)

// MagicCookie is the only authorization protocol this package hands out.
const MagicCookie = "MIT-MAGIC-COOKIE-1"

// AuthEntry is one record of an Xauthority file.
type AuthEntry struct {
	Family  uint16
	Address string
	Number  string
	Name    string
	Data    []byte
}

// AuthorityPath returns $XAUTHORITY or ~/.Xauthority.
func AuthorityPath() string {
	if p := os.Getenv("XAUTHORITY"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".Xauthority")
}

// ReadAuthority decodes every entry of an Xauthority stream.
func ReadAuthority(r io.Reader) ([]AuthEntry, error) {
	br := bufio.NewReader(r)

	var entries []AuthEntry
	for {
		var head [2]byte
		if _, err := io.ReadFull(br, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, err
		}

		e := AuthEntry{Family: bytesutil.Uint16BE(head[:])}
		var fields [4][]byte
		for i := range fields {
			field, err := readCounted(br)
			if err != nil {
				return entries, fmt.Errorf("xauthority entry %d: %w", len(entries), err)
			}
			fields[i] = field
		}
		e.Address = string(fields[0])
		e.Number = string(fields[1])
		e.Name = string(fields[2])
		e.Data = fields[3]
		entries = append(entries, e)
	}
}

func readCounted(r io.Reader) ([]byte, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, noEOF(err)
	}
	buf := make([]byte, bytesutil.Uint16BE(head[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, noEOF(err)
	}
	return buf, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// AppendTo encodes the entry in Xauthority format.
func (e AuthEntry) AppendTo(dst []byte) []byte {
	dst = bytesutil.AppendUint16BE(dst, e.Family)
	for _, field := range [][]byte{[]byte(e.Address), []byte(e.Number), []byte(e.Name), e.Data} {
		dst = bytesutil.AppendUint16BE(dst, uint16(len(field)))
		dst = append(dst, field...)
	}
	return dst
}

// FindCookie returns the first MIT-MAGIC-COOKIE-1 entry matching the display.
// Local displays match FamilyLocal entries for hostname; remote displays
// match the host as written in the display name. Wildcard entries match
// anything.
func FindCookie(entries []AuthEntry, display Display, hostname string) (AuthEntry, bool) {
	number := strconv.Itoa(display.Number)

	for _, e := range entries {
		if e.Name != MagicCookie {
			continue
		}
		if e.Number != "" && e.Number != number {
			continue
		}
		switch e.Family {
		case FamilyWild:
			return e, true
		case FamilyLocal:
			if display.Local() && e.Address == hostname {
				return e, true
			}
		default:
			if !display.Local() && e.Address == display.Host {
				return e, true
			}
		}
	}
	return AuthEntry{}, false
}

// Cookie loads the authorization for display from the Xauthority file at
// path. A missing file or entry is not an error: the connection is then
// attempted without authorization.
func Cookie(path string, display Display) (name string, data []byte, err error) {
	if path == "" {
		return "", nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, nil
		}
		return "", nil, err
	}
	defer f.Close()

	entries, err := ReadAuthority(f)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}

	hostname, _ := os.Hostname()
	e, ok := FindCookie(entries, display, hostname)
	if !ok {
		return "", nil, nil
	}
	return e.Name, e.Data, nil
}
