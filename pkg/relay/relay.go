// Package relay maintains a client session against one relay channel. A
// session owns at most one push-stream transport, decodes every received
// frame into a webhook.Message, and republishes connection activity through
// a typed event dispatcher. Channel provisioning against the relay server
// lives here too, outside the session's critical path.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/germanamz/hookrelay/pkg/events"
	"github.com/germanamz/hookrelay/pkg/transport"
	"github.com/germanamz/hookrelay/pkg/webhook"
)

// ErrStream is the fallback cause published when the transport reports a
// failure with no message of its own.
var ErrStream = errors.New("stream error")

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the default SSE dialer, e.g. with transport.DialWS or
// a test double.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithHTTPClient sets the HTTP client used by the default SSE transport.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// WithLogger sets the session's logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Session) { s.log = log }
}

// Session owns one relay channel connection. All failures after Start are
// surfaced through Error events rather than return values; the session stays
// usable and the caller decides whether to Stop and Start again.
type Session struct {
	channel string
	dialer  transport.Dialer
	client  *http.Client
	log     *logrus.Logger
	events  events.Dispatcher

	mu sync.Mutex
	tr transport.Transport

	// gen invalidates handlers wired to a previous transport: a frame that
	// was in flight when Stop ran is discarded instead of published.
	gen atomic.Uint64
}

// New creates a session for the given channel URL. A single trailing slash
// is removed; the address is immutable afterwards.
func New(channel string, opts ...Option) *Session {
	s := &Session{
		channel: strings.TrimSuffix(channel, "/"),
		log:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.dialer == nil {
		client := s.client
		s.dialer = func(ctx context.Context, url string, h transport.Handler) (transport.Transport, error) {
			return transport.DialSSEWith(ctx, url, h, transport.SSEOptions{Client: client, Logger: s.log})
		}
	}

	return s
}

// Channel returns the normalized channel URL.
func (s *Session) Channel() string { return s.channel }

// Subscribe registers a handler for an event kind and returns the session
// for chaining.
func (s *Session) Subscribe(kind events.Kind, h events.Handler) *Session {
	s.events.Subscribe(kind, h)
	return s
}

// Unsubscribe removes a previously registered handler and returns the
// session for chaining.
func (s *Session) Unsubscribe(kind events.Kind, h events.Handler) *Session {
	s.events.Unsubscribe(kind, h)
	return s
}

// Events exposes the session's dispatcher, e.g. to set its PanicHandler.
func (s *Session) Events() *events.Dispatcher { return &s.events }

// Start opens the transport and begins publishing events. Calling Start
// while a transport exists is a no-op, not an error. The handshake completes
// asynchronously: an Open event fires once the stream is established.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr != nil {
		return nil
	}

	gen := s.gen.Load()

	tr, err := s.dialer(ctx, s.channel, transport.Handler{
		OnOpen: func() {
			if !s.live(gen) {
				return
			}
			s.log.WithField("channel", s.channel).Debug("relay stream open")
			s.events.Publish(events.Event{Kind: events.Open})
		},
		OnFrame: func(data string) {
			if !s.live(gen) {
				return
			}
			msg, err := webhook.Decode(data)
			if err != nil {
				s.events.Publish(events.Event{Kind: events.Error, Err: fmt.Errorf("relay: %w", err)})
				return
			}
			s.events.Publish(events.Event{Kind: events.Message, Message: &msg, At: time.UnixMilli(msg.Timestamp)})
		},
		OnEvent: func(name, _ string) {
			if name != "ping" || !s.live(gen) {
				return
			}
			s.events.Publish(events.Event{Kind: events.Ping})
		},
		OnError: func(err error) {
			if !s.live(gen) {
				return
			}
			if err == nil {
				err = ErrStream
			}
			s.events.Publish(events.Event{Kind: events.Error, Err: fmt.Errorf("relay: %w", err)})
		},
	})
	if err != nil {
		return fmt.Errorf("relay: connect %s: %w", s.channel, err)
	}

	s.tr = tr
	return nil
}

// Stop closes the transport, if any, and publishes a Close event
// unconditionally: stopping a never-started session still emits Close.
// A later Start opens a brand-new transport.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			s.log.WithError(err).Warn("relay transport close failed")
		}
		s.tr = nil
	}
	s.gen.Add(1)
	s.mu.Unlock()

	s.events.Publish(events.Event{Kind: events.Close})
}

// Connected reports whether a transport exists and its stream is open. It is
// false during the handshake window between Start returning and the Open
// event firing.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tr != nil && s.tr.Status() == transport.StatusOpen
}

func (s *Session) live(gen uint64) bool {
	return s.gen.Load() == gen
}
