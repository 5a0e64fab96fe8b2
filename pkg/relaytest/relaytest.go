// Package relaytest provides an in-process relay server: channel
// provisioning via a redirect from /new, webhook ingestion via POST to a
// channel, and per-channel SSE fan-out to subscribers. It backs the
// integration tests and the CLI's local development mode; it keeps no
// history, so a webhook posted to a channel with no subscribers is gone.
package relaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

const defaultPingInterval = 30 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithPingInterval sets the liveness ping cadence; tests shorten it.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// Server is an http.Handler implementing the relay wire protocol.
type Server struct {
	router       chi.Router
	pingInterval time.Duration

	mu       sync.Mutex
	channels map[string]map[chan string]struct{}
}

// NewServer creates a relay server ready to be mounted, typically under
// httptest.NewServer or http.Server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		pingInterval: defaultPingInterval,
		channels:     make(map[string]map[chan string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router.Head("/new", s.handleNew)
	s.router.Get("/new", s.handleNew)
	s.router.Get("/{channel}", s.handleStream)
	s.router.Post("/{channel}", s.handlePublish)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Subscribers reports how many streams are attached to a channel. Tests use
// it to wait for a client before publishing.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channels[channel])
}

// handleNew provisions a channel: the new address is announced as a
// redirect target and never stored, since channels need no registration.
func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Location", "/"+uuid.NewString())
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	channel := chi.URLParam(r, "channel")
	frames := s.subscribe(channel)
	defer s.unsubscribe(channel, frames)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case frame := <-frames:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	frame := buildFrame(r, body, time.Now())
	s.broadcast(chi.URLParam(r, "channel"), frame)

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// buildFrame assembles the envelope the relay forwards: original headers at
// the top level, then query, timestamp, and the body set raw so its bytes
// reach subscribers exactly as posted.
func buildFrame(r *http.Request, body []byte, now time.Time) string {
	frame := "{}"

	frame, _ = sjson.Set(frame, "host", r.Host)
	for name, vals := range r.Header {
		if len(vals) == 0 {
			continue
		}
		frame, _ = sjson.Set(frame, escapePath(strings.ToLower(name)), vals[0])
	}

	for name, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		frame, _ = sjson.Set(frame, "query."+escapePath(name), vals[0])
	}

	frame, _ = sjson.Set(frame, "timestamp", now.UnixMilli())

	if len(body) > 0 {
		if json.Valid(body) {
			frame, _ = sjson.SetRaw(frame, "body", string(body))
		} else {
			frame, _ = sjson.Set(frame, "body", string(body))
		}
	}

	return frame
}

// escapePath neutralizes sjson path syntax in header and query names.
var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapePath(key string) string {
	return pathEscaper.Replace(key)
}

func (s *Server) subscribe(channel string) chan string {
	ch := make(chan string, 16)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[channel] == nil {
		s.channels[channel] = make(map[chan string]struct{})
	}
	s.channels[channel][ch] = struct{}{}

	return ch
}

func (s *Server) unsubscribe(channel string, ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels[channel], ch)
	if len(s.channels[channel]) == 0 {
		delete(s.channels, channel)
	}
}

func (s *Server) broadcast(channel, frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.channels[channel] {
		select {
		case ch <- frame:
		default:
			// Slow subscriber; the relay drops rather than buffers.
		}
	}
}
