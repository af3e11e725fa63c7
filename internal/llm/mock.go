package llm

import (
	"context"
	"sync"
	"time"
)

// MockClient is a test double for the Client interface. It is safe for
// concurrent use and can simulate a slow endpoint.
type MockClient struct {
	// Respond computes the reply; when nil, Response/Err are returned as-is.
	Respond  func(req *Request) (*Response, error)
	Response *Response
	Err      error
	Delay    time.Duration
	Healthy  bool

	mu    sync.Mutex
	calls []Request
}

// Complete records the call, waits Delay (or until ctx is done), and returns
// the mock response.
func (m *MockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Respond != nil {
		return m.Respond(req)
	}
	return m.Response, m.Err
}

// Health returns m.Healthy.
func (m *MockClient) Health(ctx context.Context) bool {
	return m.Healthy
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many requests were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
