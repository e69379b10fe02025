// Package testutil provides testing utilities for the bookmark importer.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one scripted response of the mock timeline.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Delay      time.Duration
}

// MockTimeline is a scripted bookmarks endpoint. Responses are served in
// order; once the script is exhausted the last response repeats.
type MockTimeline struct {
	server *httptest.Server
	mu     sync.Mutex
	script []MockResponse
	served int

	// Tracking
	cursors           []string
	lastRequestHeader http.Header
}

// NewMockTimeline creates a mock server serving script.
func NewMockTimeline(script ...MockResponse) *MockTimeline {
	mock := &MockTimeline{script: script}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		var vars struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars)
		mock.cursors = append(mock.cursors, vars.Cursor)
		mock.lastRequestHeader = r.Header.Clone()

		resp := MockResponse{StatusCode: http.StatusInternalServerError}
		if len(mock.script) > 0 {
			idx := mock.served
			if idx >= len(mock.script) {
				idx = len(mock.script) - 1
			}
			resp = mock.script[idx]
		}
		mock.served++
		mock.mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if len(resp.Body) > 0 {
			w.Write(resp.Body)
		}
	}))

	return mock
}

// URL returns the mock endpoint URL.
func (m *MockTimeline) URL() string {
	return m.server.URL + "/i/api/graphql/test/Bookmarks"
}

// Close shuts down the mock server.
func (m *MockTimeline) Close() {
	m.server.Close()
}

// RequestCount returns the number of requests served.
func (m *MockTimeline) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served
}

// Cursors returns the cursor sent with each request, in order.
func (m *MockTimeline) Cursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cursors))
	copy(out, m.cursors)
	return out
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockTimeline) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequestHeader
}

// OKResponse creates a 200 response carrying body.
func OKResponse(body []byte) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// RateLimitResponse creates a 429 Too Many Requests response.
func RateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte(`{"errors":[{"message":"Rate limit exceeded","code":88}]}`),
		Headers:    map[string]string{"x-rate-limit-remaining": "0"},
	}
}

// ServerErrorResponse creates a 500 Internal Server Error response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       []byte(`{"errors":[{"message":"Internal error"}]}`),
	}
}
