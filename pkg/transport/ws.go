package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// wsEnvelope is the frame format on websocket channels. Data carries the
// frame text; Event distinguishes named events ("ping") from data frames
// ("" or "message").
type wsEnvelope struct {
	Event string `json:"event,omitempty"`
	Data  string `json:"data"`
}

// WSOptions configures a websocket transport. The zero value is usable.
type WSOptions struct {
	Client  *http.Client // Defaults to http.DefaultClient.
	Header  http.Header  // Extra headers applied to the handshake.
	Backoff Backoff
	Logger  *logrus.Logger // Defaults to logrus.StandardLogger.
}

// DialWS opens a websocket stream to the channel URL. http and https schemes
// are rewritten to ws and wss.
func DialWS(ctx context.Context, channelURL string, h Handler) (Transport, error) {
	return DialWSWith(ctx, channelURL, h, WSOptions{})
}

// DialWSWith is DialWS with explicit options.
func DialWSWith(ctx context.Context, channelURL string, h Handler, opts WSOptions) (Transport, error) {
	if _, err := url.ParseRequestURI(channelURL); err != nil {
		return nil, fmt.Errorf("transport: invalid channel url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	t := &wsTransport{
		url:     wsURL(channelURL),
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

type wsTransport struct {
	url     string
	handler Handler
	client  *http.Client
	header  http.Header
	backoff Backoff
	log     *logrus.Logger

	cancel context.CancelFunc
	done   chan struct{}
	status atomic.Int32
}

func (t *wsTransport) Status() Status {
	switch t.status.Load() {
	case phaseOpen:
		return StatusOpen
	case phaseClosed:
		return StatusClosed
	default:
		return StatusConnecting
	}
}

func (t *wsTransport) Close() error {
	t.status.Store(phaseClosed)
	t.cancel()
	return nil
}

func (t *wsTransport) run(ctx context.Context) {
	defer close(t.done)
	defer t.status.Store(phaseClosed)

	attempt := 0
	for {
		opened, err := t.readConn(ctx)
		if opened {
			attempt = 0
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.handler.error(fmt.Errorf("transport: websocket stream: %w", err))
		}

		attempt++
		t.status.Store(phaseConnecting)

		delay := t.backoff.Delay(attempt)
		t.log.WithFields(logrus.Fields{"url": t.url, "attempt": attempt, "delay": delay}).
			Debug("websocket reconnect scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// readConn dials once and reads envelopes until the connection fails.
func (t *wsTransport) readConn(ctx context.Context) (opened bool, err error) {
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: t.header,
	})
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	conn.SetReadLimit(maxFrameSize)

	t.status.Store(phaseOpen)
	t.handler.open()

	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if typ != websocket.MessageText {
			continue
		}

		var env wsEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.handler.error(fmt.Errorf("transport: websocket envelope: %w", err))
			continue
		}

		if env.Event == "" || env.Event == "message" {
			t.handler.frame(env.Data)
		} else {
			t.handler.event(env.Event, env.Data)
		}
	}
}

// wsURL rewrites http(s) URLs to their websocket scheme. URLs already using
// ws or wss pass through unchanged.
func wsURL(u string) string {
	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}
	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}
	return u
}
