package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/model"
)

var _ SessionsClient = (*HTTPClient)(nil)

// maxErrorBody caps how much of a non-JSON error body ends up in an APIError.
const maxErrorBody = 4 << 10

// HTTPClient talks to the sessiond HTTP/JSON API.
type HTTPClient struct {
	base  *url.URL
	token string
	codec codec.Codec
	hc    *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithCodec sets the request body codec. codec.Zstd compresses graph
// fragments on the wire.
func WithCodec(cd codec.Codec) Option {
	return func(c *HTTPClient) { c.codec = cd }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.hc = hc }
}

// NewHTTPClient targets a server such as "http://localhost:8080". A
// trailing slash is ignored.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q: scheme must be http or https", baseURL)
	}
	c := &HTTPClient{base: u, codec: codec.JSON, hc: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	return call[ResolveResponse](ctx, c, http.MethodPost, "/v1/resolve", nil, req)
}

func (c *HTTPClient) Attribute(ctx context.Context, g *model.Graph) (*AttributeResponse, error) {
	return call[AttributeResponse](ctx, c, http.MethodPost, "/v1/attribute", nil, g)
}

// ListSessions lists every session, or only those of pseudoKey when set.
func (c *HTTPClient) ListSessions(ctx context.Context, pseudoKey string) (*ListSessionsResponse, error) {
	var q url.Values
	if pseudoKey != "" {
		q = url.Values{"pseudo_key": {pseudoKey}}
	}
	return call[ListSessionsResponse](ctx, c, http.MethodGet, "/v1/sessions", q, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	resp, err := call[struct {
		Status string `json:"status"`
	}](ctx, c, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		data, err := c.codec.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if enc := c.codec.ContentEncoding(); enc != "" {
			req.Header.Set("Content-Encoding", enc)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func call[T any](ctx context.Context, c *HTTPClient, method, path string, q url.Values, body any) (*T, error) {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, readAPIError(resp)
	}
	out := new(T)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return out, nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
