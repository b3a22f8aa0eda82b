package octoprint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// DefaultRequestTimeout bounds a request when none is configured.
	DefaultRequestTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a reply body is read.
	maxResponseBytes = 4 << 20

	apiKeyHeader = "X-Api-Key"
)

// Connection holds the printer endpoint and credentials. It is immutable
// once the bridge is constructed.
type Connection struct {
	// Endpoint is host or host:port. A value with a scheme is used as-is.
	Endpoint string
	APIKey   string
	Username string
}

// Validate reports a missing endpoint or API key.
func (c Connection) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConnection)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidConnection)
	}
	return nil
}

func (c Connection) baseURL() string {
	base := strings.TrimRight(c.Endpoint, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base
}

// Response is a completed HTTP exchange of any status.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs requests against the printer API. Implementations
// must be safe for concurrent use by the poll and command paths.
type Transport interface {
	Get(ctx context.Context, route string) (Response, error)
	Post(ctx context.Context, route string, body []byte) (Response, error)
	Close() error
}

// HTTPTransport is the Transport used against a real OctoPrint server.
// It owns a dedicated connection pool that Close releases.
type HTTPTransport struct {
	conn   Connection
	base   string
	client *http.Client
	pool   *http.Transport
	closed atomic.Bool
}

// NewHTTPTransport creates a transport for conn. A non-positive timeout
// selects DefaultRequestTimeout.
func NewHTTPTransport(conn Connection, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	pool := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	pool.MaxIdleConnsPerHost = 4
	pool.ResponseHeaderTimeout = timeout

	return &HTTPTransport{
		conn: conn,
		base: conn.baseURL(),
		pool: pool,
		client: &http.Client{
			Transport: pool,
			Timeout:   timeout,
		},
	}
}

// URL returns the absolute URL for route.
func (t *HTTPTransport) URL(route string) string {
	return t.base + "/" + strings.TrimLeft(route, "/")
}

// Get issues a GET to route.
func (t *HTTPTransport) Get(ctx context.Context, route string) (Response, error) {
	return t.do(ctx, http.MethodGet, route, nil)
}

// Post issues a POST with a JSON body to route.
func (t *HTTPTransport) Post(ctx context.Context, route string, body []byte) (Response, error) {
	return t.do(ctx, http.MethodPost, route, body)
}

func (t *HTTPTransport) do(ctx context.Context, method, route string, body []byte) (Response, error) {
	if t.closed.Load() {
		return Response{}, &TransportError{Method: method, Route: route, Err: ErrTransportClosed}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.URL(route), reader)
	if err != nil {
		return Response{}, &TransportError{Method: method, Route: route, Err: err}
	}
	req.Header.Set(apiKeyHeader, t.conn.APIKey)
	if method == http.MethodPost {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Response{}, &TransportError{Method: method, Route: route, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &TransportError{Method: method, Route: route, Err: fmt.Errorf("reading body: %w", err)}
	}

	return Response{Status: resp.StatusCode, Body: data}, nil
}

// Close releases idle pooled connections. Later calls fail with
// ErrTransportClosed. Requests already in flight run to completion.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.pool.CloseIdleConnections()
	return nil
}
