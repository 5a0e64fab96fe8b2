// Package forwarder re-delivers forwarded webhook messages to a local HTTP
// target, reconstructing each original request from the decoded message:
// method, headers, query parameters, and the byte-faithful raw body.
package forwarder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/germanamz/hookrelay/pkg/events"
	"github.com/germanamz/hookrelay/pkg/relay"
	"github.com/germanamz/hookrelay/pkg/webhook"
)

// DeliveryHeader names the header carrying this client's per-delivery ID.
const DeliveryHeader = "X-Relay-Delivery"

const defaultQueueSize = 64

// Headers describing the relay hop, not the original request. Content-Length
// is recomputed from the raw body.
var skipHeaders = map[string]struct{}{
	"host":            {},
	"content-length":  {},
	"connection":      {},
	"accept-encoding": {},
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithWorkers sets the number of concurrent deliveries (default 1, which
// preserves arrival order).
func WithWorkers(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithHTTPClient sets the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

// WithLogger sets the forwarder's logger.
func WithLogger(log *logrus.Logger) Option {
	return func(f *Forwarder) { f.log = log }
}

// Forwarder delivers each received message to one HTTP target. Deliveries
// are not retried; a failed delivery is logged and the next one proceeds.
type Forwarder struct {
	target  string
	workers int
	client  *http.Client
	log     *logrus.Logger
}

// New creates a forwarder for the given target URL.
func New(target string, opts ...Option) *Forwarder {
	f := &Forwarder{
		target:  target,
		workers: 1,
		client:  http.DefaultClient,
		log:     logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Run subscribes to the session's message events and delivers them until ctx
// is canceled. Messages arriving faster than the workers drain them are
// dropped with a warning once the queue fills; the relay does not buffer
// missed events, and neither does the forwarder.
func (f *Forwarder) Run(ctx context.Context, sess *relay.Session) error {
	if _, err := url.ParseRequestURI(f.target); err != nil {
		return fmt.Errorf("forwarder: invalid target: %w", err)
	}

	queue := make(chan *webhook.Message, defaultQueueSize)

	handler := func(ev events.Event) {
		select {
		case queue <- ev.Message:
		default:
			f.log.WithField("target", f.target).Warn("forward queue full, dropping delivery")
		}
	}

	sess.Subscribe(events.Message, handler)
	defer sess.Unsubscribe(events.Message, handler)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-queue:
					if err := f.Deliver(ctx, msg); err != nil {
						f.log.WithError(err).WithField("target", f.target).Error("delivery failed")
					}
				}
			}
		})
	}

	return g.Wait()
}

// Deliver sends one message to the target.
func (f *Forwarder) Deliver(ctx context.Context, msg *webhook.Message) error {
	u, err := url.Parse(f.target)
	if err != nil {
		return fmt.Errorf("forwarder: invalid target: %w", err)
	}

	q := u.Query()
	for k, v := range msg.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(msg.RawBody))
	if err != nil {
		return fmt.Errorf("forwarder: build request: %w", err)
	}

	for k, v := range msg.Headers {
		if _, skip := skipHeaders[strings.ToLower(k)]; skip {
			continue
		}
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	delivery := uuid.NewString()
	req.Header.Set(DeliveryHeader, delivery)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forwarder: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	entry := f.log.WithFields(logrus.Fields{
		"target":   f.target,
		"delivery": delivery,
		"status":   resp.StatusCode,
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		entry.Warn("target rejected delivery")
		return nil
	}

	entry.Debug("delivered")
	return nil
}
