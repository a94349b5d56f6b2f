// ABOUTME: Package store provides durable conversation persistence for burrow-gateway
// ABOUTME: Threads own an append-only log of turns, backed by SQLite

// Package store persists conversation threads and their turns.
//
// A Thread is one logical conversation, keyed by a stable ID chosen by the
// originating channel (a client UUID for web chats, a chat ID for Telegram).
// Turns are immutable once written and strictly ordered by creation time
// within their thread.
package store
