package sdapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"not-you-kiosk/internal/httpclient"
	"not-you-kiosk/internal/logging"
)

const (
	txt2imgPath = "/sdapi/v1/txt2img"
	optionsPath = "/sdapi/v1/options"

	// maxErrorBody bounds how much of a failed response ends up in errors.
	maxErrorBody = 512
)

// ErrMalformedResponse means the service answered 200 with a body that is
// not a usable txt2img result.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for any non-200 answer.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sdapi %s: http %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("sdapi %s: http %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client speaks the AUTOMATIC1111 web UI API. Credentials and timeouts live
// on the injected http.Client; the request id from the context is sent on
// every call whichever client is used.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Options{})
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Txt2Img posts one generation request and returns the decoded body. The
// response is guaranteed to hold at least one non-empty image.
func (c *Client) Txt2Img(ctx context.Context, req Txt2ImgRequest) (Txt2ImgResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Txt2ImgResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, txt2imgPath, body)
	if err != nil {
		return Txt2ImgResponse{}, err
	}

	var out Txt2ImgResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Txt2ImgResponse{}, fmt.Errorf("%w: decode txt2img: %v", ErrMalformedResponse, err)
	}
	if len(out.Images) == 0 || strings.TrimSpace(out.Images[0]) == "" {
		return Txt2ImgResponse{}, fmt.Errorf("%w: no images in txt2img response", ErrMalformedResponse)
	}
	return out, nil
}

// Options fetches the service's current settings; used as a health probe.
func (c *Client) Options(ctx context.Context) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, optionsPath, nil)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode options: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if id := httpclient.RequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		c.logger.Debug().
			Str("path", path).
			Int("status", httpResp.StatusCode).
			Msg("sdapi request failed")
		return nil, &StatusError{Endpoint: path, StatusCode: httpResp.StatusCode, Body: snippet}
	}
	return raw, nil
}

// IsStatus reports whether err carries an HTTP status error.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
