// ABOUTME: Thread-safe holder for the active Telegram bot token
// ABOUTME: Seeded from config, replaceable at runtime via the register endpoint

package channel

import "sync"

// TokenCell holds the active bot token behind a lock. The register endpoint
// swaps it at runtime; the adapter reads it on every API call so a swap takes
// effect immediately.
type TokenCell struct {
	mu    sync.RWMutex
	token string
}

// NewTokenCell creates a cell seeded with the given token (may be empty)
func NewTokenCell(token string) *TokenCell {
	return &TokenCell{token: token}
}

// Get returns the current token, or "" if none is configured
func (c *TokenCell) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Set replaces the current token
func (c *TokenCell) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}
