package lib

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionDead is returned by every operation once the stream has
	// failed or the connection was closed. The error returned wraps both this
	// and the underlying cause.
	ErrConnectionDead = errors.New("x11: connection dead")

	ErrClosed           = errors.New("x11: connection closed")
	ErrHandshakeTimeout = errors.New("x11: setup handshake timed out")
	ErrReplyTimeout     = errors.New("x11: timed out waiting for reply")
	ErrMissingExtension = errors.New("x11: missing extension")

	// ErrNoReply is returned by ReceiveReply when the sequence number
	// belongs to a request that completed without producing a reply.
	ErrNoReply = errors.New("x11: request produced no reply")
)

// VersionMismatchError reports an extension whose server-side major version
// is incompatible with the one this client speaks.
type VersionMismatchError struct {
	Extension string
	Want      Version
	Got       Version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("x11: extension %s: server version %s, need %d.x", e.Extension, e.Got, e.Want.Major)
}

// LaggedError is returned once by Subscription.Next when the subscriber fell
// further behind than the event buffer retains. Missed events are gone; the
// next call resumes with the oldest retained event.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("x11: event subscriber lagged, %d events dropped", e.Missed)
}
