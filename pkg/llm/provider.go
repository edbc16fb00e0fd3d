package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations translate their wire protocol into the StreamEvent
// vocabulary so callers never see provider-specific events.
type Provider interface {
	// Stream sends a request and returns the model's incremental output.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is an iterator over the events of one model response.
type Stream interface {
	Next() bool
	Current() StreamEvent
	Err() error
	Close() error
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
