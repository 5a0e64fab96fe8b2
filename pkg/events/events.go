// Package events provides the typed publish/subscribe dispatcher that fans
// relay session events out to registered listeners. Fan-out is synchronous:
// every listener for a kind runs, in registration order, before Publish
// returns. A panicking listener is isolated so the remaining listeners for
// that publish still run.
package events

import (
	"reflect"
	"sync"
	"time"

	"github.com/germanamz/hookrelay/pkg/webhook"
)

// Kind identifies the type of session event.
type Kind string

const (
	// Message carries one decoded webhook frame.
	Message Kind = "message"
	// Open signals that the transport connection was established.
	Open Kind = "open"
	// Error carries a transport or decode failure. The session stays usable.
	Error Kind = "error"
	// Close signals that the session was stopped.
	Close Kind = "close"
	// Ping signals relay liveness.
	Ping Kind = "ping"
)

// Event is an immutable notification published by a session.
type Event struct {
	Kind    Kind
	Message *webhook.Message // Set for Message events.
	Err     error            // Set for Error events.
	At      time.Time
}

// Handler is a caller-supplied listener for one event kind.
type Handler func(Event)

type registration struct {
	fn  Handler
	key uintptr
}

// Dispatcher maps event kinds to ordered listener lists. The zero value is
// ready for use. Registering the same function twice for a kind has no
// additional effect, and removal matches by function identity, so the caller
// must unsubscribe with the same function value it subscribed with.
type Dispatcher struct {
	// PanicHandler, when set, observes values recovered from panicking
	// listeners. Recovered panics are otherwise discarded.
	PanicHandler func(kind Kind, recovered any)

	mu       sync.Mutex
	handlers map[Kind][]registration
}

// Subscribe registers h under kind. Nil handlers are ignored.
func (d *Dispatcher) Subscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}

	key := reflect.ValueOf(h).Pointer()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, reg := range d.handlers[kind] {
		if reg.key == key {
			return
		}
	}

	if d.handlers == nil {
		d.handlers = make(map[Kind][]registration)
	}
	d.handlers[kind] = append(d.handlers[kind], registration{fn: h, key: key})
}

// Unsubscribe removes a previously registered handler. Removing a handler
// that was never registered is a no-op.
func (d *Dispatcher) Unsubscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}

	key := reflect.ValueOf(h).Pointer()

	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[kind]
	for i, reg := range regs {
		if reg.key == key {
			d.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler registered for ev.Kind, in registration
// order. Handlers registered or removed by a running handler take effect on
// the next publish, not the current one.
func (d *Dispatcher) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	d.mu.Lock()
	regs := make([]registration, len(d.handlers[ev.Kind]))
	copy(regs, d.handlers[ev.Kind])
	d.mu.Unlock()

	for _, reg := range regs {
		d.invoke(ev, reg.fn)
	}
}

// Len reports how many handlers are registered for kind.
func (d *Dispatcher) Len(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.handlers[kind])
}

func (d *Dispatcher) invoke(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil && d.PanicHandler != nil {
			d.PanicHandler(ev.Kind, r)
		}
	}()

	h(ev)
}
