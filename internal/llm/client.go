package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends one request and returns the model's reply, which may
	// request tool calls.
	Chat(ctx context.Context, req Request) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}
