// Package testutil provides testing utilities for the search harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// GraphQLRequest is a decoded request received by the mock server.
type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	Header    http.Header    `json:"-"`
}

// MockResponse defines the behavior for a mock GraphQL response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGraphQL is a configurable mock GraphQL server for testing.
type MockGraphQL struct {
	server *httptest.Server

	mu       sync.RWMutex
	respond  func(req GraphQLRequest) MockResponse
	requests []GraphQLRequest
}

// NewMockGraphQL creates a new mock server answering every request with
// NewDataResponse(`{}`, 5000) until SetResponder is called.
func NewMockGraphQL() *MockGraphQL {
	mock := &MockGraphQL{
		respond: func(GraphQLRequest) MockResponse { return NewDataResponse(`{}`, 5000) },
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GraphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
			return
		}
		req.Header = r.Header.Clone()

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		respond := mock.respond
		mock.mu.Unlock()

		resp := respond(req)
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockGraphQL) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGraphQL) Close() {
	m.server.Close()
}

// SetResponder sets the function answering every request.
func (m *MockGraphQL) SetResponder(respond func(req GraphQLRequest) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = respond
}

// SetResponse answers every request with resp.
func (m *MockGraphQL) SetResponse(resp MockResponse) {
	m.SetResponder(func(GraphQLRequest) MockResponse { return resp })
}

// SetSequence answers requests with resps in order and repeats the last one.
func (m *MockGraphQL) SetSequence(resps ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetResponder(func(GraphQLRequest) MockResponse {
		mu.Lock()
		defer mu.Unlock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		return resp
	})
}

// Requests returns the received requests in order.
func (m *MockGraphQL) Requests() []GraphQLRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GraphQLRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGraphQL) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Reset clears the recorded requests.
func (m *MockGraphQL) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func quotaHeaders(remaining int) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     "5000",
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}
}

// NewDataResponse creates a 200 response whose data member is data, with
// quota headers reporting remaining out of 5000.
func NewDataResponse(data string, remaining int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":%s}`, data),
		Headers:    quotaHeaders(remaining),
	}
}

// NewPartialResponse creates a 200 response carrying both data and an
// errors member.
func NewPartialResponse(data, message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":%s,"errors":[{"message":%q}]}`, data, message),
		Headers:    quotaHeaders(4000),
	}
}

// NewGraphQLErrorResponse creates a 200 response with a null data member.
func NewGraphQLErrorResponse(errType, message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"data":null,"errors":[{"type":%q,"message":%q}]}`, errType, message),
		Headers:    quotaHeaders(4000),
	}
}

// NewPrimaryRateLimitResponse creates a 403 response with an exhausted quota.
func NewPrimaryRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message":"API rate limit exceeded"}`,
		Headers:    quotaHeaders(0),
	}
}

// NewSecondaryRateLimitResponse creates a 403 abuse-detection response.
func NewSecondaryRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message":"You have exceeded a secondary rate limit. Please wait a few minutes before you try again."}`,
		Headers:    map[string]string{"Retry-After": "60"},
	}
}

// NewServerErrorResponse creates a 502 response as returned for queries
// that time out upstream.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `{"message":"Server Error"}`,
	}
}
