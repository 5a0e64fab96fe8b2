package transport

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// maxFrameSize bounds a single SSE line. Relay payloads are webhook bodies,
// so 1 MiB leaves generous headroom.
const maxFrameSize = 1 << 20

// SSEOptions configures an SSE transport. The zero value is usable.
type SSEOptions struct {
	Client  *http.Client // Defaults to http.DefaultClient.
	Header  http.Header  // Extra headers applied to the stream request.
	Backoff Backoff
	Logger  *logrus.Logger // Defaults to logrus.StandardLogger.
}

// DialSSE opens a Server-Sent Events stream to the channel URL. It is the
// default Dialer for relay sessions.
func DialSSE(ctx context.Context, channelURL string, h Handler) (Transport, error) {
	return DialSSEWith(ctx, channelURL, h, SSEOptions{})
}

// DialSSEWith is DialSSE with explicit options.
func DialSSEWith(ctx context.Context, channelURL string, h Handler, opts SSEOptions) (Transport, error) {
	if _, err := url.ParseRequestURI(channelURL); err != nil {
		return nil, fmt.Errorf("transport: invalid channel url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	t := &sseTransport{
		url:     channelURL,
		handler: h,
		client:  opts.Client,
		header:  opts.Header,
		backoff: opts.Backoff,
		log:     opts.Logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.status.Store(int32(phaseConnecting))

	go t.run(ctx)

	return t, nil
}

const (
	phaseConnecting int32 = iota
	phaseOpen
	phaseClosed
)

type sseTransport struct {
	url     string
	handler Handler
	client  *http.Client
	header  http.Header
	backoff Backoff
	log     *logrus.Logger

	cancel context.CancelFunc
	done   chan struct{}
	status atomic.Int32
	retry  atomic.Int64 // Server-supplied base reconnect delay, in ms.
}

func (t *sseTransport) Status() Status {
	switch t.status.Load() {
	case phaseOpen:
		return StatusOpen
	case phaseClosed:
		return StatusClosed
	default:
		return StatusConnecting
	}
}

func (t *sseTransport) Close() error {
	t.status.Store(phaseClosed)
	t.cancel()
	return nil
}

// run reconnects until the transport is closed. A connection that opened
// successfully resets the backoff counter.
func (t *sseTransport) run(ctx context.Context) {
	defer close(t.done)
	defer t.status.Store(phaseClosed)

	attempt := 0
	for {
		opened, err := t.stream(ctx)
		if opened {
			attempt = 0
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.handler.error(fmt.Errorf("transport: sse stream: %w", err))
		}

		attempt++
		t.status.Store(phaseConnecting)

		delay := t.reconnectDelay(attempt)
		t.log.WithFields(logrus.Fields{"url": t.url, "attempt": attempt, "delay": delay}).
			Debug("sse reconnect scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (t *sseTransport) reconnectDelay(attempt int) time.Duration {
	b := t.backoff
	if ms := t.retry.Load(); ms > 0 {
		b.Initial = time.Duration(ms) * time.Millisecond
	}
	return b.Delay(attempt)
}

// stream runs one connection to completion. It reports whether the stream
// reached the open state, so the caller can reset its backoff.
func (t *sseTransport) stream(ctx context.Context) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vals := range t.header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	t.status.Store(phaseOpen)
	t.handler.open()

	var (
		event string
		data  []string
	)
	dispatch := func() {
		if event == "" && len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")
		if event == "" || event == "message" {
			t.handler.frame(payload)
		} else {
			t.handler.event(event, payload)
		}
		event = ""
		data = nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// Comment line, used by relays as a keepalive.
		default:
			t.consumeField(line, &event, &data)
		}
	}

	return true, scanner.Err()
}

// consumeField handles one "field: value" line of the event stream.
func (t *sseTransport) consumeField(line string, event *string, data *[]string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		*event = value
	case "data":
		*data = append(*data, value)
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			t.retry.Store(int64(ms))
		}
	case "id":
		// Last-event-ID resumption is the relay's concern; missed events are
		// not replayed.
	}
}
