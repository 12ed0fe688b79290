package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAuthAndRequestID(t *testing.T) {
	var (
		user, pass, reqID string
		hasAuth           bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, hasAuth = r.BasicAuth()
		reqID = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client := New(Options{Timeout: time.Second, Username: "kiosk", Password: "secret"})

	ctx := WithRequestID(context.Background(), "job-7")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, hasAuth)
	assert.Equal(t, "kiosk", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, "job-7", reqID)
	assert.Empty(t, req.Header.Get("Authorization"), "caller request must not be mutated")
}

func TestNoDecorationWithoutCredentials(t *testing.T) {
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
	}))
	defer srv.Close()

	resp, err := New(Options{}).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, header.Get("Authorization"))
	assert.Empty(t, header.Get("X-Request-ID"))
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, New(Options{}).Timeout)
	assert.Equal(t, 2*time.Second, New(Options{Timeout: 2 * time.Second}).Timeout)
	assert.Equal(t, "", RequestID(context.Background()))
}
