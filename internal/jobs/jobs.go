// ABOUTME: Job lifecycle service: launch, status lookup, branch matching
// ABOUTME: A job is a persisted row plus one dispatched workflow run

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/burrowhq/burrow/internal/store"
)

// branchPrefix marks branches created by job workflow runs
const branchPrefix = "job/"

// Service ties job persistence to workflow dispatch
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService creates a job service
func NewService(st store.Store, dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger.With("component", "jobs"),
	}
}

// Launch persists a pending job and dispatches its workflow run. The row is
// written first so a completion webhook racing the dispatch response still
// finds it. threadID may be empty for jobs with no conversation to notify.
func (s *Service) Launch(ctx context.Context, threadID, description string) (*store.Job, error) {
	job, err := s.store.CreateJob(ctx, threadID, description)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID, description); err != nil {
		return nil, fmt.Errorf("launching job %s: %w", job.ID, err)
	}

	s.logger.Info("job launched", "job_id", job.ID, "thread_id", threadID)
	return job, nil
}

// Status returns the current job record
func (s *Service) Status(ctx context.Context, jobID string) (*store.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Complete records the CI conclusion and the summary that was sent out
func (s *Service) Complete(ctx context.Context, jobID, conclusion, summary string) error {
	return s.store.CompleteJob(ctx, jobID, conclusion, summary)
}

// JobIDFromBranch extracts the job ID from a job/<id> branch name.
// Returns false for any other branch: pushes to main or feature branches
// are not job completions.
func JobIDFromBranch(branch string) (string, bool) {
	if !strings.HasPrefix(branch, branchPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(branch, branchPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}
