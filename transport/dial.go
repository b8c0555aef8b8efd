package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

// DialFunc opens the raw stream to a display. Tests substitute in-memory
// pipes for it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer connects to a display, retrying failed attempts with jittered
// exponential backoff. Retrying only ever applies to establishing the
// stream; once connected, failures are reported to the caller.
type Dialer struct {
	// Attempts is the maximum number of dials; values below 1 mean 1.
	Attempts int
	// Timeout bounds each individual dial.
	Timeout time.Duration

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Dial   DialFunc
	Logger *slog.Logger
}

func (d *Dialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	if d.Dial != nil {
		return d.Dial(ctx, network, address)
	}
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, network, address)
}

// DialDisplay connects to the display's socket.
func (d *Dialer) DialDisplay(ctx context.Context, display Display) (net.Conn, error) {
	network, address := display.Network()

	attempts := d.Attempts
	if attempts < 1 {
		attempts = 1
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    d.MinBackoff,
		Max:    d.MaxBackoff,
	}
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 2 * time.Second
	}

	var err error
	for i := 0; i < attempts; i++ {
		var conn net.Conn
		conn, err = d.dial(ctx, network, address)
		if err == nil {
			return conn, nil
		}
		if i == attempts-1 {
			break
		}

		duration := b.Duration()
		logger.Debug("dial failed, retrying", "display", display.String(), "error", err, "backoff", duration)

		timer := time.NewTimer(duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
}
