// Package httputil narrows the HTTP client surface to what the tracker's
// outbound calls need, so the predictor client and fallback poller can be
// driven by canned responses in tests.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the only request surface the tracker uses. Production code
// wraps *http.Client via NewStandardClient; tests use MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient adapts *http.Client to HTTPClient.
type StandardClient struct {
	client *http.Client
}

// NewStandardClient wraps the given client, falling back to
// http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{client: c}
}

func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// MockHTTPClient records every request and replays a FIFO queue of canned
// responses. Once the queue drains it answers 200 with an empty body.
type MockHTTPClient struct {
	mu       sync.Mutex
	Requests []*http.Request
	queue    []mockResponse
	next     int
}

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a canned response for the next unanswered request.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResponse{statusCode: statusCode, body: body})
	return m
}

// AddErrorResponse queues a transport-level failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResponse{err: err})
	return m
}

// Do records the request and returns the next queued response. The request
// body is left unread so callers' tests can inspect it afterwards.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.next < len(m.queue) {
		canned := m.queue[m.next]
		m.next++
		if canned.err != nil {
			return nil, canned.err
		}
		return &http.Response{
			StatusCode: canned.statusCode,
			Body:       io.NopCloser(bytes.NewBufferString(canned.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
