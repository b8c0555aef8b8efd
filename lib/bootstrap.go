package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheSmallBoat/xwire/wire"
)

// extensionDescriptor is what this package knows statically about an
// extension it can enable: how many event and error codes it claims and how
// to negotiate its version.
type extensionDescriptor struct {
	name        string
	numEvents   uint8
	numErrors   uint8
	multiplexed bool
	requires    []string
	handshake   func(ctx context.Context, c *Conn, info ExtInfo) (Version, error)
}

// knownExtensions is enabled in order; an extension may only require ones
// listed before it.
var knownExtensions = []extensionDescriptor{
	{
		name:      wire.GenericEventName,
		handshake: handshakeGenericEvent,
	},
	{
		name:      wire.BigRequestsName,
		handshake: handshakeBigRequests,
	},
	{
		name:        wire.XKeyboardName,
		numEvents:   1,
		numErrors:   1,
		multiplexed: true,
		handshake:   handshakeXkb,
	},
	{
		name:      wire.XInputName,
		numEvents: 17,
		numErrors: 5,
		requires:  []string{wire.GenericEventName},
		handshake: handshakeXInput,
	},
	{
		name:      wire.RandRName,
		numEvents: 2,
		numErrors: 4,
		handshake: handshakeRandR,
	},
}

// enableExtensions runs the enable sequence for every wanted extension. A
// failing extension is marked missing and the rest carry on; only a dead
// connection or a done context aborts the whole sequence.
func (c *Conn) enableExtensions(ctx context.Context) error {
	for _, d := range knownExtensions {
		if !c.cfg.wantsExtension(d.name) {
			continue
		}

		info, err := c.enableExtension(ctx, d)
		if err == nil {
			c.logger.Debug("extension enabled", "name", info.Name, "opcode", info.MajorOpcode, "version", info.Version.String())
			continue
		}
		if errors.Is(err, ErrConnectionDead) || ctx.Err() != nil {
			return err
		}
		c.exts.markMissing(d.name, err)
		c.logger.Info("extension unavailable", "name", d.name, "err", err)
	}
	return nil
}

func (c *Conn) enableExtension(ctx context.Context, d extensionDescriptor) (ExtInfo, error) {
	for _, name := range d.requires {
		if _, ok := c.exts.lookup(name); !ok {
			return ExtInfo{}, fmt.Errorf("%w: %s requires %s", ErrMissingExtension, d.name, name)
		}
	}

	info, err := c.queryExtension(ctx, d.name)
	if err != nil {
		return ExtInfo{}, err
	}
	info.EventCodeCount = d.numEvents
	info.ErrorCodeCount = d.numErrors
	info.MultiplexedEvents = d.multiplexed

	// registered before the handshake so its errors decode with the right
	// extension name
	c.exts.register(info)

	v, err := d.handshake(ctx, c, info)
	if err != nil {
		return ExtInfo{}, err
	}
	info.Version = v
	c.exts.register(info)
	return info, nil
}

func handshakeGenericEvent(ctx context.Context, c *Conn, info ExtInfo) (Version, error) {
	want := wire.Version16{Major: 1, Minor: 0}
	seq, err := c.SendRequest(info.MajorOpcode, wire.GEQueryVersion, false, want)
	if err != nil {
		return Version{}, err
	}
	got, err := ReceiveReply(ctx, c, seq, wire.DecodeVersion16)
	if err != nil {
		return Version{}, err
	}
	return checkVersion(info.Name, Version{Major: uint32(want.Major), Minor: uint32(want.Minor)}, Version{Major: uint32(got.Major), Minor: uint32(got.Minor)})
}

// handshakeBigRequests switches the connection to the extended length form.
// The extension has no version negotiation; 2.0 is what every server speaks.
func handshakeBigRequests(ctx context.Context, c *Conn, info ExtInfo) (Version, error) {
	seq, err := c.SendRequest(info.MajorOpcode, wire.BigRequestsEnable, false, wire.Empty{})
	if err != nil {
		return Version{}, err
	}
	maxUnits, err := ReceiveReply(ctx, c, seq, wire.DecodeBigRequestsEnableReply)
	if err != nil {
		return Version{}, err
	}
	c.enableBigRequests(maxUnits)
	return Version{Major: 2}, nil
}

func handshakeXkb(ctx context.Context, c *Conn, info ExtInfo) (Version, error) {
	want := wire.Version16{Major: 1, Minor: 0}
	seq, err := c.SendRequest(info.MajorOpcode, wire.XkbUseExtension, false, want)
	if err != nil {
		return Version{}, err
	}
	reply, err := ReceiveReplyReserved(ctx, c, seq, wire.DecodeXkbUseExtensionReply)
	if err != nil {
		return Version{}, err
	}
	got := Version{Major: uint32(reply.Version.Major), Minor: uint32(reply.Version.Minor)}
	if !reply.Supported {
		return Version{}, &VersionMismatchError{Extension: info.Name, Want: Version{Major: 1}, Got: got}
	}
	return checkVersion(info.Name, Version{Major: 1}, got)
}

func handshakeXInput(ctx context.Context, c *Conn, info ExtInfo) (Version, error) {
	want := wire.Version16{Major: 2, Minor: 2}
	seq, err := c.SendRequest(info.MajorOpcode, wire.XIQueryVersion, false, want)
	if err != nil {
		return Version{}, err
	}
	got, err := ReceiveReply(ctx, c, seq, wire.DecodeVersion16)
	if err != nil {
		return Version{}, err
	}
	return checkVersion(info.Name, Version{Major: 2, Minor: 2}, Version{Major: uint32(got.Major), Minor: uint32(got.Minor)})
}

func handshakeRandR(ctx context.Context, c *Conn, info ExtInfo) (Version, error) {
	want := wire.Version32{Major: 1, Minor: 5}
	seq, err := c.SendRequest(info.MajorOpcode, wire.RandRQueryVersion, false, want)
	if err != nil {
		return Version{}, err
	}
	got, err := ReceiveReply(ctx, c, seq, wire.DecodeVersion32)
	if err != nil {
		return Version{}, err
	}
	return checkVersion(info.Name, Version{Major: want.Major, Minor: want.Minor}, Version(got))
}

// checkVersion accepts any server version with the same major number.
func checkVersion(name string, want, got Version) (Version, error) {
	if got.Major != want.Major {
		return Version{}, &VersionMismatchError{Extension: name, Want: want, Got: got}
	}
	return got, nil
}
