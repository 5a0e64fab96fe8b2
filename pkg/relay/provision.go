package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultRelay is the public relay used when no server address is given.
const DefaultRelay = "https://smee.io"

// ErrNoChannel is returned when the relay's provisioning response carries no
// channel address.
var ErrNoChannel = errors.New("relay: response has no channel location")

// CreateChannel asks the relay server for a fresh channel and returns its
// address. The server answers the creation request with a redirect whose
// Location header names the channel; the redirect is read, not followed.
// A nil client falls back to http.DefaultClient; base defaults to
// DefaultRelay. There is no retry: a failed call is fatal to this call only.
func CreateChannel(ctx context.Context, client *http.Client, base string) (string, error) {
	if base == "" {
		base = DefaultRelay
	}
	base = strings.TrimSuffix(base, "/")

	if client == nil {
		client = http.DefaultClient
	}

	// Shallow-copy the client so disabling redirects does not leak into the
	// caller's client.
	noRedirect := *client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, base+"/new", nil)
	if err != nil {
		return "", fmt.Errorf("relay: create channel: %w", err)
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay: create channel: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("%w (status %d)", ErrNoChannel, resp.StatusCode)
	}

	channel, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("relay: create channel: bad location %q: %w", loc, err)
	}

	return resp.Request.URL.ResolveReference(channel).String(), nil
}
