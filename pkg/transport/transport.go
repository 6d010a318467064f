// Package transport defines the channel-oriented abstraction the
// synchronizer and input path are written against: reliable ordered
// "ctrl" traffic, best-effort "term" traffic, and named extension
// side-channels. Concrete transports (WebSocket, Unix-domain IPC) live
// in sibling packages and implement Transport; no transport-specific
// code is meant to leak into pkg/sync or pkg/input.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Kind names one of a session's channels.
type Kind string

const (
	ChannelControl Kind = "ctrl"
	ChannelTerm    Kind = "term"
)

// ErrTimeout is returned by Recv when its context deadline elapses
// without a message arriving; this is a normal, expected outcome of
// the polling idiom, not a failure.
var ErrTimeout = errors.New("transport: recv timeout")

// ErrChannelClosed is returned once a channel's peer has disconnected
// or the channel has been explicitly closed. The caller's subscription
// task tears down in response.
var ErrChannelClosed = errors.New("transport: channel closed")

// SetupError reports a failure to establish a transport or channel
// (e.g. listen/bind/upgrade failure).
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string { return fmt.Sprintf("transport setup (%s): %v", e.Op, e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// Message is one inbound payload received on a Channel.
type Message struct {
	Binary bool
	Data   []byte
}

// Channel is one ordered stream of frames — ctrl, term, or a named
// extension namespace.
type Channel interface {
	SendText(data []byte) error
	SendBinary(data []byte) error
	// Recv blocks until a message arrives, ctx is done (ErrTimeout), or
	// the channel closes (ErrChannelClosed).
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Extensions lets a transport expose auxiliary namespaces alongside its
// ctrl/term channels, round-tripping extension frames unchanged.
type Extensions interface {
	SubscribeExtension(namespace string) (Channel, error)
	SendExtension(namespace, kind string, payload []byte) error
}

// Transport provides one session's ctrl and term channels plus any
// extension namespaces. Implementations select themselves at session
// setup; no dynamic dispatch leaks past this interface.
type Transport interface {
	Control() Channel
	Output() Channel
	Extensions
	Close() error
}
