package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, timeout time.Duration, retries int) *Client {
	t.Helper()
	c, err := NewClient(Options{Timeout: timeout, Retries: retries, MaxConcurrency: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientRejectsBadOptions(t *testing.T) {
	_, err := NewClient(Options{Timeout: 0})
	assert.Error(t, err)

	_, err = NewClient(Options{Timeout: time.Second, Retries: -1})
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/chain", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"nid":"0x1"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 0)
	body, err := c.Fetch(context.Background(), srv.URL+"/admin/chain")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"nid":"0x1"}]`, string(body))
}

func TestFetchInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>nope</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 0)
	_, err := c.Fetch(context.Background(), srv.URL)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, IsTimeout(err))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 1)
	_, err := c.Fetch(context.Background(), srv.URL)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchRecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 1)
	body, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, 150*time.Millisecond, 0)
	_, err := c.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFetchCancelledContext(t *testing.T) {
	c := newTestClient(t, time.Second, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "http://127.0.0.1:1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchAfterClose(t *testing.T) {
	c := newTestClient(t, time.Second, 0)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.True(t, c.Closed())
	_, err := c.Fetch(context.Background(), "http://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req["jsonrpc"])
		assert.Equal(t, "icx_call", req["method"])

		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"preps":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 0)
	result, err := c.Call(context.Background(), APIURL(srv.URL), "icx_call", map[string]any{"to": governanceAddress})
	require.NoError(t, err)
	assert.JSONEq(t, `{"preps":[]}`, string(result))
}

func TestCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, time.Second, 0)
	_, err := c.Call(context.Background(), srv.URL, "icx_nope", nil)

	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.False(t, IsTimeout(err))
}

func TestAPIURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:9000/api/v3", APIURL("http://10.0.0.1:9000"))
	assert.Equal(t, "http://10.0.0.1:9000/api/v3", APIURL("http://10.0.0.1:9000/"))
}
