// Package httputil holds the JSON response helpers used by the monitor server
// and the HTTP client seam its callers are tested through.
package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout applies to clients built by NewStandardClient(nil).
const DefaultTimeout = 10 * time.Second

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, or a client with DefaultTimeout when c is nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = &http.Client{Timeout: DefaultTimeout}
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// MockResponse is a canned reply for one route of a MockHTTPClient.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// MockHTTPClient answers requests from canned responses keyed by method and
// URL path. Unrouted requests get 404.
type MockHTTPClient struct {
	mu       sync.Mutex
	routes   map[string]MockResponse
	requests []*http.Request
	bodies   []string
}

// NewMockHTTPClient creates a mock with no routes.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{routes: make(map[string]MockResponse)}
}

func routeKey(method, path string) string { return method + " " + path }

// Handle registers the response for method and path.
func (m *MockHTTPClient) Handle(method, path string, status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeKey(method, path)] = MockResponse{StatusCode: status, Body: body}
	return m
}

// Fail makes requests to method and path return err.
func (m *MockHTTPClient) Fail(method, path string, err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeKey(method, path)] = MockResponse{Error: err}
	return m
}

// Do records the request and returns the routed response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body.Close()
		body = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	resp, ok := m.routes[routeKey(req.Method, req.URL.Path)]
	if !ok {
		resp = MockResponse{StatusCode: http.StatusNotFound, Body: `{"error":"no route"}`}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// Requests returns the recorded requests in order.
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// Body returns the body of the nth recorded request.
func (m *MockHTTPClient) Body(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.bodies) {
		return ""
	}
	return m.bodies[n]
}
