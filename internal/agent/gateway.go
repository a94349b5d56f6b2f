// ABOUTME: Gateway interface and content types for agent invocation
// ABOUTME: Abstracts streaming vs non-streaming calls, addressed by thread ID

package agent

import (
	"context"
	"errors"
)

// ErrInvocationFailed wraps any failure to get a response out of the agent
// runtime. Partial streamed output already delivered is not retracted.
var ErrInvocationFailed = errors.New("agent invocation failed")

// Block content types
const (
	BlockText  = "text"
	BlockImage = "image"
)

// Block is one element of a message's content. Text messages carry a single
// text block; attachments add image blocks with base64 payloads.
type Block struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64 for image blocks
}

// TextContent wraps plain text as a single-block content payload
func TextContent(text string) []Block {
	return []Block{{Type: BlockText, Text: text}}
}

// Delta is one increment of streamed agent output. A non-nil Err is terminal;
// the channel is closed after it.
type Delta struct {
	Text string
	Err  error
}

// Gateway invokes the shared agent for a thread. The runtime maintains the
// thread's conversational memory, so callers only ever send the new content.
type Gateway interface {
	// Invoke sends content and blocks until the complete response is ready.
	Invoke(ctx context.Context, threadID string, content []Block) (string, error)

	// Stream sends content and returns a channel of text deltas. The channel
	// is finite and not restartable; the caller must drain it or cancel ctx.
	Stream(ctx context.Context, threadID string, content []Block) (<-chan Delta, error)

	// UpdateState appends text to the thread's memory as an assistant turn
	// without triggering inference.
	UpdateState(ctx context.Context, threadID, text string) error
}
