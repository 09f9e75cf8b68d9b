package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Ping checks that the backend is reachable and the credentials work.
	Ping(ctx context.Context) error

	// Close releases pooled connections.
	Close()
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	// Headers are sent with every request (e.g. OpenRouter's X-Title).
	Headers map[string]string
}
