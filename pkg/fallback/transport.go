package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// DefaultTimeout bounds a single HTTP transport attempt.
const DefaultTimeout = 30 * time.Second

// EnvelopePath is where a proxy transport posts its envelopes.
const EnvelopePath = "/proxy"

// Transport performs one attempt of a logical request.
type Transport interface {
	Name() string
	Do(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error)
}

// Envelope wraps a logical request for delivery through the local proxy.
type Envelope struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// EnvelopeReply is the proxy's answer: the origin's status and body, or
// the reason the proxy could not reach it.
type EnvelopeReply struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HTTPTransport sends requests to an HTTP origin, either directly or
// wrapped in an Envelope for the local proxy.
type HTTPTransport struct {
	name     string
	baseURL  string
	headers  map[string]string
	dynamic  func() map[string]string
	client   *http.Client
	envelope bool
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHeaders adds static headers to every request. Request headers win.
func WithHeaders(h map[string]string) TransportOption {
	return func(t *HTTPTransport) {
		for k, v := range h {
			t.headers[k] = v
		}
	}
}

// WithHeaderFunc adds headers computed on every attempt, such as a session
// token that may be refreshed between calls. They override static headers.
func WithHeaderFunc(fn func() map[string]string) TransportOption {
	return func(t *HTTPTransport) { t.dynamic = fn }
}

// WithTimeout sets the per-attempt timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithEnvelope makes the transport talk to a local proxy.
func WithEnvelope() TransportOption {
	return func(t *HTTPTransport) { t.envelope = true }
}

// NewHTTPTransport creates a transport for the origin at baseURL.
func NewHTTPTransport(name, baseURL string, opts ...TransportOption) (*HTTPTransport, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid transport URL: %w", err)
	}
	t := &HTTPTransport{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: make(map[string]string),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the transport name used in logs, metrics and errors.
func (t *HTTPTransport) Name() string { return t.name }

// Do sends req and returns the raw reply. Only failures to get a reply at
// all are returned as errors; status codes are left to the caller.
func (t *HTTPTransport) Do(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error) {
	if t.envelope {
		return t.doEnvelope(ctx, req)
	}
	return t.send(ctx, methodOf(req), req.Path, t.mergeHeaders(req.Headers), req.Body)
}

func (t *HTTPTransport) doEnvelope(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error) {
	env := Envelope{
		Method:  methodOf(req),
		Path:    req.Path,
		Headers: req.Headers,
		Body:    req.Body,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	res, err := t.send(ctx, http.MethodPost, EnvelopePath, t.mergeHeaders(nil), body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, nil
	}

	var reply EnvelopeReply
	if err := json.Unmarshal(res.Body, &reply); err != nil {
		return nil, fmt.Errorf("decode envelope reply: %w", err)
	}
	if reply.Status == 0 {
		return nil, fmt.Errorf("proxy: %s", reply.Error)
	}
	return &models.TransportResponse{
		StatusCode: reply.Status,
		Header:     res.Header,
		Body:       reply.Body,
	}, nil
}

func (t *HTTPTransport) send(ctx context.Context, method, path string, headers map[string]string, body []byte) (*models.TransportResponse, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &models.TransportResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (t *HTTPTransport) mergeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(t.headers)+len(h))
	for k, v := range t.headers {
		out[k] = v
	}
	if t.dynamic != nil {
		for k, v := range t.dynamic() {
			out[k] = v
		}
	}
	for k, v := range h {
		out[k] = v
	}
	return out
}

func methodOf(req models.FallbackRequest) string {
	return RequestMethod(req.Method, req.Body)
}

// RequestMethod returns method upper-cased, or the default when it is
// empty: POST if there is a body, GET otherwise. The proxy applies the same
// rule to envelopes.
func RequestMethod(method string, body []byte) string {
	if method != "" {
		return strings.ToUpper(method)
	}
	if len(body) > 0 {
		return http.MethodPost
	}
	return http.MethodGet
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc struct {
	name string
	fn   func(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error)
}

// NewTransportFunc wraps fn as a Transport called name.
func NewTransportFunc(name string, fn func(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error)) *TransportFunc {
	return &TransportFunc{name: name, fn: fn}
}

// Name returns the transport name.
func (t *TransportFunc) Name() string { return t.name }

// Do calls the wrapped function.
func (t *TransportFunc) Do(ctx context.Context, req models.FallbackRequest) (*models.TransportResponse, error) {
	return t.fn(ctx, req)
}
