// ABOUTME: Minimal client interface for one-shot, memoryless model calls
// ABOUTME: Used for chat auto-titling and job summarization, never for conversation

package llm

import "context"

// Message is one entry in a completion request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Client performs single-shot completions with no conversation state.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
