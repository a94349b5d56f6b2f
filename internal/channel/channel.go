// ABOUTME: Canonical message envelope and the channel adapter contract
// ABOUTME: Adapters translate platform events to/from the channel-agnostic form

package channel

import "context"

// Attachment categories
const (
	CategoryImage    = "image"
	CategoryDocument = "document"
)

// Attachment is one normalized inbound file
type Attachment struct {
	Category string
	MimeType string
	Data     []byte
}

// Envelope is the channel-agnostic form of one inbound message.
// ThreadID is never empty; at least one of Text/Attachments is non-empty.
// Meta is an opaque channel-specific handle needed later to deliver the
// response; only the adapter that produced it reads it back.
type Envelope struct {
	ThreadID    string
	Text        string
	Attachments []Attachment
	Meta        any
}

// Adapter is the outbound half of a channel: everything the dispatch
// pipeline needs to run channel UX around an agent exchange. Normalization
// of raw events is channel-specific and lives on the concrete types.
type Adapter interface {
	Name() string

	// Acknowledge signals receipt to the origin. Best-effort: failures are
	// logged by the adapter and never returned.
	Acknowledge(ctx context.Context, meta any)

	// StartTyping begins a processing indicator. The returned stop function
	// is idempotent and must be called on every exit path.
	StartTyping(meta any) (stop func())

	// Send delivers a completed response.
	Send(ctx context.Context, threadID, text string, meta any) error
}
