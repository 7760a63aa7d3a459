// Package testutil holds shared fakes for package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// MockHTTPDoer implements the HTTPDoer interfaces of the connectors for testing.
// Responses are matched on method and full URL first, then on method and path alone,
// so a test can answer every page of a listing with one registration.
type MockHTTPDoer struct {
	responses map[string]cannedResponse
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.RWMutex
}

type cannedResponse struct {
	header http.Header
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string]cannedResponse),
		errors:    make(map[string]error),
	}
}

// Do records the request and returns the configured response, or 404.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("mock: read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	for _, key := range []string{makeKey(req.Method, req.URL.String()), makeKey(req.Method, pathOnly(req.URL))} {
		if err, ok := m.errors[key]; ok {
			return nil, err
		}
		if resp, ok := m.responses[key]; ok {
			return resp.build(), nil
		}
	}

	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Body:       io.NopCloser(strings.NewReader(`{"message":"not found"}`)),
		Header:     make(http.Header),
	}, nil
}

// SetResponse configures a JSON response for a method and URL. A URL without a query
// string matches any query on that path.
func (m *MockHTTPDoer) SetResponse(method, rawURL string, statusCode int, body any) {
	var bodyBytes []byte
	switch v := body.(type) {
	case nil:
	case string:
		bodyBytes = []byte(v)
	case []byte:
		bodyBytes = v
	default:
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[makeKey(method, rawURL)] = cannedResponse{
		status: statusCode,
		body:   bodyBytes,
		header: http.Header{"Content-Type": []string{"application/json"}},
	}
}

// SetError configures a transport error for a method and URL.
func (m *MockHTTPDoer) SetError(method, rawURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[makeKey(method, rawURL)] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many requests hit the given path.
func (m *MockHTTPDoer) CallCount(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, call := range m.calls {
		u, err := url.Parse(call.URL)
		if err != nil {
			continue
		}
		if call.Method == method && pathOnly(u) == path {
			n++
		}
	}
	return n
}

// Reset clears all configured responses and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string]cannedResponse)
	m.errors = make(map[string]error)
	m.calls = nil
}

func (r cannedResponse) build() *http.Response {
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Body:       io.NopCloser(bytes.NewReader(r.body)),
		Header:     r.header.Clone(),
	}
}

func pathOnly(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

func makeKey(method, rawURL string) string {
	return method + ":" + rawURL
}
