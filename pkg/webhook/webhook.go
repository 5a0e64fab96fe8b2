// Package webhook defines the forwarded message value produced for each relay
// frame and the decoder that builds it. A frame is one UTF-8 JSON object: the
// reserved keys body, query, and timestamp are extracted, and every remaining
// string-valued top-level key is treated as an original-request HTTP header.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame is wrapped into every decode error.
var ErrMalformedFrame = errors.New("webhook: malformed frame")

// Reserved top-level frame keys that never become headers.
const (
	keyBody      = "body"
	keyQuery     = "query"
	keyTimestamp = "timestamp"
)

// Message is the decoded representation of one relayed webhook callback.
type Message struct {
	// Body is the relayed payload decoded from JSON. Defaults to an empty
	// object when the frame carries no body.
	Body any

	// RawBody is the exact body text sliced out of the frame, suitable as
	// input to HMAC signature verification. Empty when the frame carries no
	// body. Re-parsing RawBody always yields Body; fidelity to the original
	// upstream request body additionally depends on the relay not having
	// reformatted the payload in transit.
	RawBody string

	// Query holds the original request's URL query parameters.
	Query map[string]string

	// Headers holds the original request's headers. Only string-valued frame
	// fields survive; the relay occasionally injects non-string siblings and
	// those are dropped, never coerced.
	Headers map[string]string

	// Timestamp is the relay's receipt time in milliseconds, or the local
	// decode time when the frame omits it.
	Timestamp int64
}

// Decode parses one frame's text payload into a Message.
func Decode(frame string) (Message, error) {
	return decode(frame, time.Now)
}

func decode(frame string, now func() time.Time) (Message, error) {
	if !gjson.Valid(frame) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}

	root := gjson.Parse(frame)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: frame is not a JSON object", ErrMalformedFrame)
	}

	msg := Message{
		Body:      map[string]any{},
		Query:     map[string]string{},
		Headers:   map[string]string{},
		Timestamp: now().UnixMilli(),
	}

	if body := root.Get(keyBody); body.Exists() {
		// Slice the body text straight out of the frame rather than
		// re-serializing the parsed value, so key order and whitespace
		// survive for signature verification.
		msg.RawBody = body.Raw

		var decoded any
		if err := json.Unmarshal([]byte(body.Raw), &decoded); err != nil {
			return Message{}, fmt.Errorf("%w: body: %v", ErrMalformedFrame, err)
		}
		msg.Body = decoded
	}

	if ts := root.Get(keyTimestamp); ts.Exists() {
		msg.Timestamp = ts.Int()
	}

	if query := root.Get(keyQuery); query.IsObject() {
		query.ForEach(func(key, value gjson.Result) bool {
			msg.Query[key.String()] = value.String()
			return true
		})
	}

	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == keyBody || name == keyQuery || name == keyTimestamp {
			return true
		}
		if value.Type == gjson.String {
			msg.Headers[name] = value.String()
		}
		return true
	})

	return msg, nil
}
