package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestParseDisplay(t *testing.T) {
	tests := []struct {
		name    string
		want    Display
		network string
		address string
	}{
		{":0", Display{Number: 0}, "unix", "/tmp/.X11-unix/X0"},
		{":1.2", Display{Number: 1, Screen: 2}, "unix", "/tmp/.X11-unix/X1"},
		{"unix:3", Display{Host: "unix", Number: 3}, "unix", "/tmp/.X11-unix/X3"},
		{"localhost:10.0", Display{Host: "localhost", Number: 10}, "tcp", "localhost:6010"},
		{"tcp/example.org:2", Display{Protocol: "tcp", Host: "example.org", Number: 2}, "tcp", "example.org:6002"},
		{"inet6/[::1]:0", Display{Protocol: "inet6", Host: "::1"}, "tcp6", "[::1]:6000"},
		{"/private/tmp/launch-x/org.xquartz:0", Display{Path: "/private/tmp/launch-x/org.xquartz:0"}, "unix", "/private/tmp/launch-x/org.xquartz:0"},
	}

	for _, test := range tests {
		d, err := ParseDisplay(test.name)
		require.NoError(t, err, test.name)
		require.Equal(t, test.want, d, test.name)

		network, address := d.Network()
		require.Equal(t, test.network, network, test.name)
		require.Equal(t, test.address, address, test.name)
	}
}

func TestParseDisplayErrors(t *testing.T) {
	for _, name := range []string{"localhost", ":x", ":0.y", ":-1"} {
		_, err := ParseDisplay(name)
		require.Error(t, err, name)
	}

	t.Setenv("DISPLAY", "")
	_, err := ParseDisplay("")
	require.ErrorIs(t, err, ErrNoDisplay)

	t.Setenv("DISPLAY", ":7")
	d, err := ParseDisplay("")
	require.NoError(t, err)
	require.Equal(t, 7, d.Number)
}

func TestReadAuthority(t *testing.T) {
	entries := []AuthEntry{
		{Family: FamilyLocal, Address: "otherhost", Number: "0", Name: MagicCookie, Data: []byte{1}},
		{Family: FamilyLocal, Address: "myhost", Number: "1", Name: MagicCookie, Data: []byte{2}},
		{Family: FamilyLocal, Address: "myhost", Number: "0", Name: "XDM-AUTHORIZATION-1", Data: []byte{3}},
		{Family: FamilyLocal, Address: "myhost", Number: "0", Name: MagicCookie, Data: []byte{4, 4}},
		{Family: FamilyInternet, Address: "remote", Number: "", Name: MagicCookie, Data: []byte{5}},
	}

	var buf []byte
	for _, e := range entries {
		buf = e.AppendTo(buf)
	}

	got, err := ReadAuthority(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, entries, got)

	e, ok := FindCookie(got, Display{Number: 0}, "myhost")
	require.True(t, ok)
	require.Equal(t, []byte{4, 4}, e.Data)

	e, ok = FindCookie(got, Display{Host: "remote", Number: 3}, "myhost")
	require.True(t, ok)
	require.Equal(t, []byte{5}, e.Data)

	_, ok = FindCookie(got, Display{Number: 9}, "myhost")
	require.False(t, ok)

	_, err = ReadAuthority(bytes.NewReader(buf[:len(buf)-1]))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCookieMissingFile(t *testing.T) {
	name, data, err := Cookie(filepath.Join(t.TempDir(), "nope"), Display{})
	require.NoError(t, err)
	require.Empty(t, name)
	require.Nil(t, data)
}

func TestCookieFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Xauthority")
	entry := AuthEntry{Family: FamilyWild, Name: MagicCookie, Data: []byte("0123456789abcdef")}
	require.NoError(t, os.WriteFile(path, entry.AppendTo(nil), 0o600))

	name, data, err := Cookie(path, Display{Number: 4})
	require.NoError(t, err)
	require.Equal(t, MagicCookie, name)
	require.Equal(t, entry.Data, data)
}

func TestDialerRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	d := &Dialer{
		Attempts:   3,
		MinBackoff: time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			require.Equal(t, "unix", network)
			require.Equal(t, "/tmp/.X11-unix/X0", address)
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("connection refused")
			}
			return client, nil
		},
	}

	conn, err := d.DialDisplay(context.Background(), Display{})
	require.NoError(t, err)
	require.Equal(t, client, conn)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDialerGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	refused := errors.New("connection refused")
	d := &Dialer{
		Attempts:   2,
		MinBackoff: time.Millisecond,
		MaxBackoff: time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, refused
		},
	}

	_, err := d.DialDisplay(context.Background(), Display{Host: "localhost"})
	require.ErrorIs(t, err, refused)
}
