// Package transport implements the push-stream connections a relay session
// consumes: a long-lived, server-to-client channel delivering discrete text
// frames and named events. Implementations own their reconnect policy; the
// session above them only opens and closes the handle.
package transport

import "context"

// Status reports a connection's lifecycle phase.
type Status string

const (
	// StatusConnecting covers both the initial handshake and the gap between
	// reconnect attempts.
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Handler is the set of callbacks a transport drives. Nil callbacks are
// skipped. Callbacks are invoked sequentially from the transport's read loop,
// so a handler runs to completion before the next event is delivered.
type Handler struct {
	// OnOpen fires each time a connection is established, including after a
	// reconnect.
	OnOpen func()

	// OnFrame delivers one data frame's text payload.
	OnFrame func(data string)

	// OnEvent delivers a named event, such as the relay's "ping".
	OnEvent func(name, data string)

	// OnError reports a connection failure. The transport keeps reconnecting
	// after reporting unless it has been closed.
	OnError func(err error)
}

func (h Handler) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handler) frame(data string) {
	if h.OnFrame != nil {
		h.OnFrame(data)
	}
}

func (h Handler) event(name, data string) {
	if h.OnEvent != nil {
		h.OnEvent(name, data)
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Transport is an open push-stream connection.
type Transport interface {
	// Status reports the current connection phase.
	Status() Status

	// Close tears the connection down. It is idempotent and must not block
	// on in-flight handler callbacks.
	Close() error
}

// Dialer opens a transport to a channel URL with the given handler wired.
// The handshake completes asynchronously: the dialer returns once the
// connection attempt is underway, and Handler.OnOpen fires when it succeeds.
type Dialer func(ctx context.Context, url string, h Handler) (Transport, error)
