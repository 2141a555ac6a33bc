package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gateway/openai", r.URL.Path)
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"prompt":"hi"}`, string(body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/gateway", WithAPIKey("k1"))
	rsp, err := c.PostJSON(context.Background(), "openai", []byte(`{"prompt":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(rsp))
}

func TestHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Get(context.Background(), "/anything")
	require.Error(t, err)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Message)
}

func TestResponseBodyIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithMaxResponseBytes(32)).Get(context.Background(), "/")
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	rsp, err := NewClient(srv.URL, WithMaxResponseBytes(64)).Get(context.Background(), "/")
	require.NoError(t, err)
	assert.Len(t, rsp, 64)
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL).Get(ctx, "/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPutJSONWithHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithHeader("X-Tenant-ID", "acme")).PutJSON(context.Background(), "/providers/openai", []byte(`{}`))
	require.NoError(t, err)
}
