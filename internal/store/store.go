// ABOUTME: Store interface and data types for burrow-gateway persistence
// ABOUTME: Defines Thread, Turn structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DefaultTitle is the sentinel title given to threads created implicitly on
// their first message. Auto-titling only replaces this value, never a title
// that was set later.
const DefaultTitle = "New Chat"

// Turn roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread represents one conversation, keyed by a channel-stable ID
type Thread struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is a single persisted message within a thread. Turns are immutable
// once written.
type Turn struct {
	ID        string
	ThreadID  string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for thread and turn persistence
type Store interface {
	// EnsureThread returns the thread with the given ID, creating it with the
	// supplied owner and title if it does not exist. Safe to call from
	// concurrent requests for the same ID.
	EnsureThread(ctx context.Context, id, ownerID, title string) (*Thread, error)

	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, ownerID string) ([]*Thread, error)

	// AppendTurn writes a turn and bumps the thread's updated_at in the same
	// transaction.
	AppendTurn(ctx context.Context, threadID, role, content string) (*Turn, error)
	GetTurns(ctx context.Context, threadID string) ([]*Turn, error)

	// SetTitleIfDefault replaces the thread title only while it still holds
	// DefaultTitle. Returns true if the title was changed.
	SetTitleIfDefault(ctx context.Context, threadID, title string) (bool, error)

	// DeleteThread removes a thread and all of its turns.
	DeleteThread(ctx context.Context, id string) error
	// DeleteAllThreads removes every thread owned by ownerID, turns first.
	DeleteAllThreads(ctx context.Context, ownerID string) error

	// CreateJob inserts a pending job with a fresh ID.
	CreateJob(ctx context.Context, threadID, description string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	// CompleteJob records the CI conclusion and notification summary.
	CompleteJob(ctx context.Context, id, conclusion, summary string) error

	// Close releases any resources held by the store
	Close() error
}
