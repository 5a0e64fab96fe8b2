package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/new", r.URL.Path)
		w.Header().Set("Location", "/channel-42")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	channel, err := CreateChannel(context.Background(), nil, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/channel-42", channel)
}

func TestCreateChannelAbsoluteLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://relay.example/channel-7")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	channel, err := CreateChannel(context.Background(), nil, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example/channel-7", channel)
}

func TestCreateChannelDoesNotFollowRedirect(t *testing.T) {
	var followed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/new" {
			followed.Store(true)
			return
		}
		w.Header().Set("Location", "/channel-9")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	_, err := CreateChannel(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.False(t, followed.Load(), "provisioning must read the redirect, not follow it")
}

func TestCreateChannelMissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := CreateChannel(context.Background(), nil, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestCreateChannelConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // Immediately unreachable.

	_, err := CreateChannel(context.Background(), nil, srv.URL)
	require.Error(t, err)
}
