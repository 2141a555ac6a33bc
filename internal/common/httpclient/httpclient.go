// Package httpclient is a small JSON client for the HTTP collaborators modhost
// talks to: the cloud inference gateway, the retrieval service and module
// workloads. Every call takes a context and non-2xx answers come back as
// *HTTPError.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultMaxResponseBytes bounds response bodies unless WithMaxResponseBytes
// says otherwise.
const DefaultMaxResponseBytes int64 = 8 << 20

// ErrResponseTooLarge is returned when a response body exceeds the limit.
var ErrResponseTooLarge = errors.New("response body too large")

// HTTPError is a non-2xx answer from the remote end.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client issues requests against a single base URL.
type Client struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	maxBody    int64
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHeader sends an extra header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = map[string]string{}
		}
		c.headers[key] = value
	}
}

// WithTimeout bounds every request in addition to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxResponseBytes bounds the size of response bodies.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		maxBody:    DefaultMaxResponseBytes,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOptions describes one call. Body is sent as application/json.
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
}

// DoRequest performs the call and returns the response body.
func (c *Client) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if opts.Path != "" {
		u.Path = path.Join(u.Path, opts.Path)
	}
	if len(opts.QueryParams) > 0 {
		q := u.Query()
		for k, v := range opts.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	rspBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(rspBody)) > c.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(rspBody)
		if e := gjson.GetBytes(rspBody, "error"); e.Exists() && e.Type == gjson.String {
			msg = e.String()
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return rspBody, nil
}

// PostJSON is DoRequest with POST.
func (c *Client) PostJSON(ctx context.Context, p string, body []byte) ([]byte, error) {
	return c.DoRequest(ctx, RequestOptions{Method: http.MethodPost, Path: p, Body: body})
}

// PutJSON is DoRequest with PUT.
func (c *Client) PutJSON(ctx context.Context, p string, body []byte) ([]byte, error) {
	return c.DoRequest(ctx, RequestOptions{Method: http.MethodPut, Path: p, Body: body})
}

// Get is DoRequest with GET.
func (c *Client) Get(ctx context.Context, p string) ([]byte, error) {
	return c.DoRequest(ctx, RequestOptions{Method: http.MethodGet, Path: p})
}
