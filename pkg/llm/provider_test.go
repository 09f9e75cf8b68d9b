package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// MockProvider is a test double that satisfies the Provider interface.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req *Request) (*Response, error)
	PingFunc     func(ctx context.Context) error
	closed       bool
}

func (m *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Response{Content: "mock response"}, nil
}

func (m *MockProvider) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockProvider) Close() { m.closed = true }

func TestProviderInterface(t *testing.T) {
	mock := &MockProvider{}
	var provider Provider = mock
	ctx := context.Background()

	resp, err := provider.Complete(ctx, &Request{Messages: []Message{{Role: "user", Content: "test"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty content")
	}
	if err := provider.Ping(ctx); err != nil {
		t.Errorf("unexpected ping error: %v", err)
	}
	provider.Close()
	if !mock.closed {
		t.Error("expected Close to reach the provider")
	}
}

func TestStatusError(t *testing.T) {
	var err error = &StatusError{StatusCode: 503, Body: "overloaded", RetryAfter: 2 * time.Second}
	if err.Error() != "API error (status 503): overloaded" {
		t.Errorf("unexpected message %q", err.Error())
	}
	var se *StatusError
	if !errors.As(err, &se) || se.RetryAfter != 2*time.Second {
		t.Errorf("expected StatusError with retry-after, got %v", err)
	}
}
