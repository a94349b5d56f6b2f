// ABOUTME: GitHub Actions client for launching jobs via workflow_dispatch
// ABOUTME: Each job runs a workflow that reports back on its job/<id> branch

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// Dispatcher launches a job run identified by jobID
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, description string) error
}

// GitHubDispatcher triggers a repository workflow through the
// workflow_dispatch API. The workflow receives the job ID as an input and
// does its work on a job/<id> branch, which is how the completion webhook
// is later matched back to the job.
type GitHubDispatcher struct {
	repo     string // "owner/name"
	workflow string // workflow file name, e.g. "job.yml"
	ref      string
	token    string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// GitHubConfig configures a GitHubDispatcher
type GitHubConfig struct {
	Repo     string
	Workflow string
	// Ref is the git ref the workflow runs from (default "main")
	Ref   string
	Token string
	// BaseURL overrides the GitHub API root, for tests
	BaseURL string
	Logger  *slog.Logger
}

// NewGitHubDispatcher creates a dispatcher for the given repo and workflow
func NewGitHubDispatcher(cfg GitHubConfig) *GitHubDispatcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGitHubAPI
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubDispatcher{
		repo:     cfg.Repo,
		workflow: cfg.Workflow,
		ref:      cfg.Ref,
		token:    cfg.Token,
		baseURL:  cfg.BaseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "jobs"),
	}
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// Dispatch launches the workflow with the job ID and description as inputs
func (d *GitHubDispatcher) Dispatch(ctx context.Context, jobID, description string) error {
	body, err := json.Marshal(dispatchRequest{
		Ref: d.ref,
		Inputs: map[string]string{
			"job_id": jobID,
			"job":    description,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding dispatch: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches", d.baseURL, d.repo, d.workflow)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatching workflow: %w", err)
	}
	defer resp.Body.Close()

	// GitHub answers 204 on success
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github returned %d: %s", resp.StatusCode, msg)
	}

	d.logger.Info("workflow dispatched", "job_id", jobID, "workflow", d.workflow)
	return nil
}
