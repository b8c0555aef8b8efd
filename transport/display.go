// Package transport opens the byte stream an X11 connection runs over: it
// parses display names, dials unix or TCP sockets with retry, and looks up
// authorization cookies in Xauthority files.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	// TCPBasePort is the port of display 0 on a TCP listener.
	TCPBasePort = 6000
	// SocketDir holds the unix sockets of local displays.
	SocketDir = "/tmp/.X11-unix"
)

var ErrNoDisplay = errors.New("transport: no display name and $DISPLAY is not set")

// Display is a parsed display name of the form
// [protocol/][host]:number[.screen].
type Display struct {
	Protocol string
	Host     string
	Number   int
	Screen   int

	// Path is set for display names that are themselves a socket path, as
	// handed out by launchd on macOS.
	Path string
}

// ParseDisplay parses name, falling back to $DISPLAY when name is empty.
func ParseDisplay(name string) (Display, error) {
	var d Display

	if name == "" {
		name = os.Getenv("DISPLAY")
	}
	if name == "" {
		return d, ErrNoDisplay
	}

	if strings.HasPrefix(name, "/") {
		d.Path = name
		colon := strings.LastIndexByte(name, ':')
		if colon >= 0 {
			if n, err := strconv.Atoi(name[colon+1:]); err == nil {
				d.Number = n
			}
		}
		return d, nil
	}

	colon := strings.LastIndexByte(name, ':')
	if colon < 0 {
		return d, fmt.Errorf("transport: display name %q has no ':'", name)
	}

	host := name[:colon]
	if slash := strings.IndexByte(host, '/'); slash >= 0 {
		d.Protocol, host = host[:slash], host[slash+1:]
	}
	d.Host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	number := name[colon+1:]
	if dot := strings.IndexByte(number, '.'); dot >= 0 {
		screen, err := strconv.Atoi(number[dot+1:])
		if err != nil || screen < 0 {
			return d, fmt.Errorf("transport: bad screen number in display name %q", name)
		}
		d.Screen, number = screen, number[:dot]
	}

	n, err := strconv.Atoi(number)
	if err != nil || n < 0 {
		return d, fmt.Errorf("transport: bad display number in display name %q", name)
	}
	d.Number = n

	return d, nil
}

// Local reports whether the display is reached over a unix socket.
func (d Display) Local() bool {
	if d.Path != "" {
		return true
	}
	switch d.Protocol {
	case "unix":
		return true
	case "tcp", "inet", "inet6":
		return false
	}
	return d.Host == "" || d.Host == "unix"
}

// Network returns the net.Dial network and address for the display.
func (d Display) Network() (network, address string) {
	if d.Path != "" {
		return "unix", d.Path
	}
	if d.Local() {
		return "unix", SocketDir + "/X" + strconv.Itoa(d.Number)
	}
	network = "tcp"
	switch d.Protocol {
	case "inet":
		network = "tcp4"
	case "inet6":
		network = "tcp6"
	}
	return network, net.JoinHostPort(d.Host, strconv.Itoa(TCPBasePort+d.Number))
}

func (d Display) String() string {
	if d.Path != "" {
		return d.Path
	}
	s := d.Host + ":" + strconv.Itoa(d.Number)
	if d.Protocol != "" {
		s = d.Protocol + "/" + s
	}
	if d.Screen != 0 {
		s += "." + strconv.Itoa(d.Screen)
	}
	return s
}
