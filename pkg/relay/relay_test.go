package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/hookrelay/pkg/events"
	"github.com/germanamz/hookrelay/pkg/transport"
	"github.com/germanamz/hookrelay/pkg/webhook"
)

// fakeTransport hands control of the four callbacks to the test.
type fakeTransport struct {
	mu      sync.Mutex
	handler transport.Handler
	status  transport.Status
	closes  int
}

func (f *fakeTransport) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.status = transport.StatusClosed
	return nil
}

func (f *fakeTransport) setStatus(st transport.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = st
}

// fakeDialer returns a fresh fakeTransport per dial and remembers them all.
type fakeDialer struct {
	mu    sync.Mutex
	dials []*fakeTransport
}

func (d *fakeDialer) dial(_ context.Context, _ string, h transport.Handler) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := &fakeTransport{handler: h, status: transport.StatusConnecting}
	d.dials = append(d.dials, tr)
	return tr, nil
}

func (d *fakeDialer) last(t *testing.T) *fakeTransport {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.dials)
	return d.dials[len(d.dials)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// counter tallies events per kind on a session.
type counter struct {
	mu   sync.Mutex
	seen map[events.Kind]int
}

func attachCounter(s *Session) *counter {
	c := &counter{seen: make(map[events.Kind]int)}
	for _, kind := range []events.Kind{events.Message, events.Open, events.Error, events.Close, events.Ping} {
		kind := kind
		s.Subscribe(kind, func(events.Event) {
			c.mu.Lock()
			c.seen[kind]++
			c.mu.Unlock()
		})
	}
	return c
}

func (c *counter) of(kind events.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[kind]
}

func TestChannelNormalization(t *testing.T) {
	assert.Equal(t, "https://relay.example/abc", New("https://relay.example/abc/").Channel())
	assert.Equal(t, "https://relay.example/abc", New("https://relay.example/abc").Channel())
}

func TestStartTwiceDialsOnce(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))
	c := attachCounter(s)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 1, d.count())

	d.last(t).handler.OnOpen()
	assert.Equal(t, 1, c.of(events.Open))
}

func TestStopAlwaysEmitsClose(t *testing.T) {
	s := New("https://relay.example/abc", WithDialer((&fakeDialer{}).dial))
	c := attachCounter(s)

	s.Stop() // Never started.
	assert.Equal(t, 1, c.of(events.Close))
}

func TestRestartOpensNewTransport(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))
	c := attachCounter(s)

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnOpen()
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnOpen()

	assert.Equal(t, 2, d.count())
	assert.Equal(t, 2, c.of(events.Open))
	assert.Equal(t, 1, c.of(events.Close))
}

func TestConnected(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))

	assert.False(t, s.Connected())

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Connected(), "connecting is not connected")

	d.last(t).setStatus(transport.StatusOpen)
	assert.True(t, s.Connected())

	s.Stop()
	assert.False(t, s.Connected())
	assert.Equal(t, 1, d.last(t).closes)
}

func TestFrameBecomesMessage(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))

	var got *webhook.Message
	s.Subscribe(events.Message, func(ev events.Event) { got = ev.Message })

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnFrame(`{"body":{"action":"push","repository":"r"},"query":{"p":"v"},"timestamp":1234567890,"x-github-event":"push"}`)

	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"action": "push", "repository": "r"}, got.Body)
	assert.Equal(t, `{"action":"push","repository":"r"}`, got.RawBody)
	assert.Equal(t, map[string]string{"p": "v"}, got.Query)
	assert.Equal(t, int64(1234567890), got.Timestamp)
	assert.Equal(t, map[string]string{"x-github-event": "push"}, got.Headers)
}

func TestMalformedFrameBecomesErrorEvent(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))
	c := attachCounter(s)

	var got error
	s.Subscribe(events.Error, func(ev events.Event) { got = ev.Err })

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnFrame(`{not json`)

	assert.Zero(t, c.of(events.Message))
	require.Error(t, got)
	assert.ErrorIs(t, got, webhook.ErrMalformedFrame)

	// The session stays usable: a good frame still goes through.
	d.last(t).handler.OnFrame(`{"body":{}}`)
	assert.Equal(t, 1, c.of(events.Message))
}

func TestPingRouting(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))
	c := attachCounter(s)

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnEvent("ping", "{}")
	d.last(t).handler.OnEvent("ready", "{}")

	assert.Equal(t, 1, c.of(events.Ping))
}

func TestTransportErrorFallback(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))

	var got []error
	s.Subscribe(events.Error, func(ev events.Event) { got = append(got, ev.Err) })

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnError(nil)
	d.last(t).handler.OnError(errors.New("connection reset"))

	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], ErrStream)
	assert.Contains(t, got[1].Error(), "connection reset")
}

func TestStopDiscardsInFlightFrames(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))
	c := attachCounter(s)

	require.NoError(t, s.Start(context.Background()))
	old := d.last(t).handler
	s.Stop()

	// The old transport's callbacks fire after Stop; none may publish.
	old.OnFrame(`{"body":{}}`)
	old.OnOpen()
	old.OnEvent("ping", "{}")
	old.OnError(errors.New("late"))

	assert.Zero(t, c.of(events.Message))
	assert.Zero(t, c.of(events.Open))
	assert.Zero(t, c.of(events.Ping))
	assert.Zero(t, c.of(events.Error))
}

func TestSubscribeUnsubscribeChaining(t *testing.T) {
	d := &fakeDialer{}
	s := New("https://relay.example/abc", WithDialer(d.dial))

	calls := 0
	h := func(events.Event) { calls++ }

	s.Subscribe(events.Message, h).Unsubscribe(events.Message, h)

	require.NoError(t, s.Start(context.Background()))
	d.last(t).handler.OnFrame(`{"body":{}}`)

	assert.Zero(t, calls)
}

func TestStartDialError(t *testing.T) {
	dialErr := errors.New("refused")
	s := New("https://relay.example/abc", WithDialer(func(context.Context, string, transport.Handler) (transport.Transport, error) {
		return nil, dialErr
	}))

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
	assert.False(t, s.Connected())
}
