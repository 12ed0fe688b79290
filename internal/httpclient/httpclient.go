package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration

	// Username and Password enable HTTP basic auth on every request.
	Username string
	Password string

	// Transport overrides the dialing transport, mainly for tests.
	Transport http.RoundTripper
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	base := opts.Transport
	if base == nil {
		base = newTransport(opts.PreferIPv4, timeout)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &decorator{
			base:     base,
			username: opts.Username,
			password: opts.Password,
		},
	}
}

func newTransport(preferIPv4 bool, timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if preferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx so outgoing requests carry an X-Request-ID header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// decorator adds credentials and the correlation header without mutating
// the caller's request.
type decorator struct {
	base     http.RoundTripper
	username string
	password string
}

func (d *decorator) RoundTrip(req *http.Request) (*http.Response, error) {
	id := RequestID(req.Context())
	if d.username == "" && d.password == "" && id == "" {
		return d.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if d.username != "" || d.password != "" {
		clone.SetBasicAuth(d.username, d.password)
	}
	if id != "" {
		clone.Header.Set("X-Request-ID", id)
	}
	return d.base.RoundTrip(clone)
}
