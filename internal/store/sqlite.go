// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/turn persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_owner
			ON threads(owner_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id),

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_thread_created
			ON turns(thread_id, created_at);

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			conclusion TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,

			CHECK (status IN ('pending', 'completed'))
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// EnsureThread returns the existing thread or creates it. A concurrent create
// racing on the same ID loses to the row already inserted and falls back to a
// re-read.
func (s *SQLiteStore) EnsureThread(ctx context.Context, id, ownerID, title string) (*Thread, error) {
	thread, err := s.GetThread(ctx, id)
	if err == nil {
		return thread, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	thread = &Thread{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		thread.ID, thread.OwnerID, thread.Title, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race to another request; the existing row wins.
			existing, lookupErr := s.GetThread(ctx, id)
			if lookupErr == nil {
				s.logger.Debug("found existing thread after race", "thread_id", id)
				return existing, nil
			}
			return nil, lookupErr
		}
		return nil, fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("thread created", "thread_id", id, "owner_id", ownerID)
	return thread, nil
}

// GetThread retrieves a thread by ID
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM threads WHERE id = ?`, id)

	var t Thread
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns all threads for an owner, most recently updated first
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM threads
		 WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// AppendTurn writes a turn and bumps the thread's updated_at atomically
func (s *SQLiteStore) AppendTurn(ctx context.Context, threadID, role, content string) (*Turn, error) {
	turn := &Turn{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.ThreadID, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, turn.CreatedAt, threadID)
	if err != nil {
		return nil, fmt.Errorf("updating thread timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}
	return turn, nil
}

// GetTurns returns all turns for a thread in creation order
func (s *SQLiteStore) GetTurns(ctx context.Context, threadID string) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at FROM turns
		 WHERE thread_id = ? ORDER BY created_at, rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

// SetTitleIfDefault replaces the title only while it still holds DefaultTitle.
// The WHERE clause makes the check-and-set a single statement, so two racing
// titlers cannot both win.
func (s *SQLiteStore) SetTitleIfDefault(ctx context.Context, threadID, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ? AND title = ?`,
		title, time.Now().UTC(), threadID, DefaultTitle)
	if err != nil {
		return false, fmt.Errorf("updating title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteThread removes a thread and its turns
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// DeleteAllThreads removes every thread owned by ownerID
func (s *SQLiteStore) DeleteAllThreads(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM turns WHERE thread_id IN (SELECT id FROM threads WHERE owner_id = ?)`, ownerID)
	if err != nil {
		return fmt.Errorf("deleting turns: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("deleting threads: %w", err)
	}

	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
