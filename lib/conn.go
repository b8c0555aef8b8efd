// Package lib multiplexes one X11 client connection among any number of
// goroutines. Requests are numbered and queued by SendRequest, written by a
// single writer goroutine, and the reader goroutine routes every reply and
// error back to the caller that owns its sequence number while broadcasting
// events to subscribers.
package lib

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/xwire/transport"
	"github.com/TheSmallBoat/xwire/wire"
)

// Conn is a live X11 connection. All methods are safe for concurrent use.
type Conn struct {
	cfg    Config
	logger *slog.Logger
	setup  *wire.Setup
	screen int

	r       *bufio.Reader
	w       *bufio.Writer
	closers []io.Closer
	rCloser bool // closing the transport interrupts a blocked read
	rDone   chan struct{}
	syncing atomic.Bool // a background sync is in flight

	mu          sync.Mutex
	writerCond  sync.Cond
	writerQueue []*pendingWrite
	writerDone  bool
	seq         uint16 // last sequence number handed out
	maxUnits    uint32
	bigRequests bool

	table  *responseTable
	events *eventBus
	exts   *extensionRegistry
	atoms  *atomCache
	ids    *idAllocator

	wg   sync.WaitGroup // writer only; the reader signals rDone
	once sync.Once
	dead chan struct{}
	err  error // set before dead is closed
}

// Connect dials the display named by cfg.Display (or $DISPLAY) and performs
// the setup handshake, authenticating with the matching Xauthority cookie.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	display, err := transport.ParseDisplay(cfg.Display)
	if err != nil {
		return nil, err
	}
	return connect(ctx, display, cfg)
}

// ConnectHost connects to display number on host over TCP, or over the local
// socket when host is empty.
func ConnectHost(ctx context.Context, host string, number int, cfg Config) (*Conn, error) {
	return connect(ctx, transport.Display{Host: host, Number: number}, cfg)
}

func connect(ctx context.Context, display transport.Display, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()

	if cfg.AuthName == "" {
		path := cfg.AuthorityFile
		if path == "" {
			path = transport.AuthorityPath()
		}
		name, data, err := transport.Cookie(path, display)
		if err != nil {
			cfg.Logger.Warn("could not read authority file, connecting without authorization", "path", path, "err", err)
		}
		cfg.AuthName, cfg.AuthData = name, data
	}

	dialer := &transport.Dialer{
		Attempts: cfg.DialAttempts,
		Timeout:  cfg.HandshakeTimeout,
		Dial:     cfg.Dial,
		Logger:   cfg.Logger,
	}
	nc, err := dialer.DialDisplay(ctx, display)
	if err != nil {
		return nil, err
	}

	c, err := Open(ctx, nc, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: %w", display, err)
	}
	if display.Screen < len(c.setup.Screens) {
		c.screen = display.Screen
	}
	return c, nil
}

type setupResult struct {
	setup *wire.Setup
	err   error
}

// Open runs the setup handshake over an already established byte stream and
// starts the connection's reader and writer. Closing the connection, or a
// failed Open, closes r and w when they implement io.Closer.
//
// If r is not an io.Closer a blocked read cannot be interrupted: Close then
// returns without waiting for the reader, which exits once r reports an
// error.
func Open(ctx context.Context, w io.Writer, r io.Reader, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()

	c := &Conn{
		cfg:    cfg,
		logger: cfg.Logger,
		r:      bufio.NewReaderSize(r, cfg.ReadBufferSize),
		w:      bufio.NewWriterSize(w, cfg.WriteBufferSize),
		dead:   make(chan struct{}),
		rDone:  make(chan struct{}),
	}
	c.writerCond.L = &c.mu
	c.closers = closersOf(w, r)
	_, c.rCloser = r.(io.Closer)

	done := make(chan setupResult, 1)
	go func() {
		setup, err := c.handshake()
		done <- setupResult{setup: setup, err: err}
	}()

	timer := timerPool.acquire(cfg.HandshakeTimeout)
	defer timerPool.release(timer)

	var res setupResult
	aborted := false
	select {
	case res = <-done:
	case <-timer.C:
		res.err, aborted = ErrHandshakeTimeout, true
	case <-ctx.Done():
		res.err, aborted = ctx.Err(), true
	}
	if res.err != nil {
		c.closeTransport()
		if aborted && len(c.closers) > 0 {
			// closing the stream unblocks the handshake goroutine
			<-done
		}
		return nil, res.err
	}

	c.setup = res.setup
	c.maxUnits = uint32(res.setup.MaximumRequestLength)
	c.table = newResponseTable(c.logger)
	c.events = newEventBus(cfg.EventBufferSize)
	c.exts = newExtensionRegistry()
	c.atoms = newAtomCache()
	c.ids = newIDAllocator(res.setup.ResourceIDBase, res.setup.ResourceIDMask)

	c.wg.Add(1)
	go c.writeLoop()
	go c.readLoop()

	if err := c.enableExtensions(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.logger.Debug("connected",
		"vendor", res.setup.Vendor,
		"release", res.setup.Release,
		"screens", len(res.setup.Screens),
		"max_request_units", c.MaximumRequestLength(),
	)
	c.cfg.ConnState.HandleConnState(c, StateNew)
	return c, nil
}

func (c *Conn) handshake() (*wire.Setup, error) {
	req := wire.SetupRequest{AuthName: c.cfg.AuthName, AuthData: c.cfg.AuthData}
	if _, err := c.w.Write(req.AppendTo(nil)); err != nil {
		return nil, fmt.Errorf("write setup request: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, fmt.Errorf("write setup request: %w", err)
	}
	return wire.ReadSetup(c.r)
}

func closersOf(w io.Writer, r io.Reader) []io.Closer {
	var closers []io.Closer
	if wc, ok := w.(io.Closer); ok {
		closers = append(closers, wc)
	}
	if rc, ok := r.(io.Closer); ok {
		closers = append(closers, rc)
	}
	return closers
}

func (c *Conn) closeTransport() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Debug("close transport", "err", err)
		}
	}
}

// fail marks the connection dead with cause. The first call wins; every
// waiter, sender and subscriber observes the error from then on.
func (c *Conn) fail(cause error) {
	c.once.Do(func() {
		c.err = cause
		close(c.dead)

		c.mu.Lock()
		c.writerDone = true
		c.writerCond.Broadcast()
		c.mu.Unlock()

		c.events.close(cause)
		c.closeTransport()

		if !errors.Is(cause, ErrClosed) {
			c.logger.Warn("connection lost", "err", cause)
		}
		c.cfg.ConnState.HandleConnState(c, StateClosed)
	})
}

// Close shuts the connection down and waits for its reader and writer to
// exit. Requests still queued are discarded. See Open for streams that
// cannot be closed.
func (c *Conn) Close() error {
	c.fail(fmt.Errorf("%w: %w", ErrConnectionDead, ErrClosed))
	c.wg.Wait()
	if c.rCloser {
		<-c.rDone
	}
	return nil
}

// Done is closed once the connection is dead.
func (c *Conn) Done() <-chan struct{} { return c.dead }

// Err returns why the connection died, or nil while it is alive.
func (c *Conn) Err() error {
	select {
	case <-c.dead:
		return c.err
	default:
		return nil
	}
}

// Setup returns the server's setup reply.
func (c *Conn) Setup() *wire.Setup { return c.setup }

// DefaultScreen returns the screen named by the display, or the first one.
func (c *Conn) DefaultScreen() *wire.Screen {
	if len(c.setup.Screens) == 0 {
		return nil
	}
	return &c.setup.Screens[c.screen]
}

// MaximumRequestLength returns the largest request accepted, in 4-byte
// units. It grows once BIG-REQUESTS is enabled.
func (c *Conn) MaximumRequestLength() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxUnits
}

func (c *Conn) enableBigRequests(maxUnits uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxUnits > c.maxUnits {
		c.maxUnits = maxUnits
	}
	c.bigRequests = true
}
