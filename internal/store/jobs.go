// ABOUTME: Job record persistence on the SQLite store
// ABOUTME: Jobs track dispatched CI work from launch to reported completion

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses
const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
)

// Job is one dispatched background work item. ThreadID points at the
// conversation to notify when the job finishes; it may be empty when the
// job was launched outside any conversation.
type Job struct {
	ID          string
	ThreadID    string
	Description string
	Status      string
	Conclusion  string // CI conclusion, e.g. "success" or "failure"; set on completion
	Summary     string // notification text produced on completion
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateJob inserts a pending job and returns it with a fresh ID
func (s *SQLiteStore) CreateJob(ctx context.Context, threadID, description string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New().String(),
		ThreadID:    threadID,
		Description: description,
		Status:      JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, thread_id, description, status, conclusion, summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', '', ?, ?)`,
		job.ID, job.ThreadID, job.Description, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("job created", "job_id", job.ID, "thread_id", threadID)
	return job, nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, description, status, conclusion, summary, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	var j Job
	err := row.Scan(&j.ID, &j.ThreadID, &j.Description, &j.Status, &j.Conclusion,
		&j.Summary, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	return &j, nil
}

// CompleteJob marks a job finished with the CI conclusion and the summary
// that was sent as the notification
func (s *SQLiteStore) CompleteJob(ctx context.Context, id, conclusion, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, conclusion = ?, summary = ?, updated_at = ? WHERE id = ?`,
		JobStatusCompleted, conclusion, summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
