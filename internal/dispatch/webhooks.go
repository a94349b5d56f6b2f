// ABOUTME: Webhook handlers: Telegram messages, GitHub job completions,
// ABOUTME: job launches and the Telegram registration endpoint

package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/channel"
	"github.com/burrowhq/burrow/internal/jobs"
	"github.com/burrowhq/burrow/internal/notify"
	"github.com/burrowhq/burrow/internal/store"
)

const apologyText = "Sorry, something went wrong handling that message. Please try again."

// fallbackReplyText replaces a reply whose delivery failed; the retry sends
// this instead of the original in case the content itself was the problem
const fallbackReplyText = "I have a response ready but could not deliver it. Please ask again."

// Request bodies are capped; Telegram and GitHub payloads are far smaller
const maxWebhookBody = 1 << 20

// handleTelegramWebhook acknowledges the delivery immediately and runs the
// whole conversational exchange on a detached pipeline. Telegram redelivers
// updates it considers unanswered, so the 200 must never wait on the agent.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	// Always answer 200: any other status makes Telegram redeliver forever
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("unreadable webhook body", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	s.fireTriggers(r, body)

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Warn("undecodable update dropped", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Redelivered updates are acknowledged again but processed once
	if s.seen.Seen("telegram:" + strconv.Itoa(update.UpdateID)) {
		s.logger.Debug("duplicate update ignored", "update_id", update.UpdateID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	env, err := s.telegram.Receive(update)
	if err != nil {
		s.logger.Warn("update not normalized", "update_id", update.UpdateID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if env == nil {
		// Service event or empty message; nothing to do
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	s.runner.Go(context.Background(), "telegram-exchange", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
		defer cancel()
		return s.runTelegramExchange(ctx, env)
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// runTelegramExchange is the detached message pipeline: acknowledge, show
// typing, persist, invoke, deliver. Persistence is best-effort throughout;
// a dead database must not silence the bot.
func (s *Server) runTelegramExchange(ctx context.Context, env *channel.Envelope) error {
	s.telegram.Acknowledge(ctx, env.Meta)
	stopTyping := s.telegram.StartTyping(env.Meta)
	defer stopTyping()

	// Attachment-only messages still leave a trace in the history
	userText := env.Text
	if userText == "" {
		userText = "[attachment]"
	}

	if _, err := s.store.EnsureThread(ctx, env.ThreadID, s.telegram.Name(), ""); err != nil {
		s.logger.Warn("thread not ensured", "thread_id", env.ThreadID, "error", err)
	} else {
		if _, err := s.store.AppendTurn(ctx, env.ThreadID, store.RoleUser, userText); err != nil {
			s.logger.Warn("user turn not persisted", "thread_id", env.ThreadID, "error", err)
		}
		if env.Text != "" {
			s.autoTitle(env.ThreadID, env.Text)
		}
	}

	reply, err := s.gateway.Invoke(ctx, env.ThreadID, contentFromEnvelope(env))
	if err != nil {
		s.logger.Error("agent invocation failed", "thread_id", env.ThreadID, "error", err)
		stopTyping()
		if sendErr := s.telegram.Send(ctx, env.ThreadID, apologyText, env.Meta); sendErr != nil {
			s.logger.Error("apology not delivered", "thread_id", env.ThreadID, "error", sendErr)
		}
		return nil
	}

	if _, err := s.store.AppendTurn(ctx, env.ThreadID, store.RoleAssistant, reply); err != nil {
		s.logger.Warn("assistant turn not persisted", "thread_id", env.ThreadID, "error", err)
	}

	stopTyping()
	if err := s.telegram.Send(ctx, env.ThreadID, reply, env.Meta); err != nil {
		s.logger.Warn("delivery failed, retrying with fallback", "thread_id", env.ThreadID, "error", err)
		if err := s.telegram.Send(ctx, env.ThreadID, fallbackReplyText, env.Meta); err != nil {
			return fmt.Errorf("delivering reply: %w", err)
		}
	}
	return nil
}

// contentFromEnvelope builds the agent content blocks for an inbound
// message. Attachment bytes travel base64-encoded.
func contentFromEnvelope(env *channel.Envelope) []agent.Block {
	var content []agent.Block
	if env.Text != "" {
		content = agent.TextContent(env.Text)
	}
	for _, att := range env.Attachments {
		content = append(content, agent.Block{
			Type:     agent.BlockImage,
			MimeType: att.MimeType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		})
	}
	return content
}

type registerRequest struct {
	Token string `json:"bot_token"`
	URL   string `json:"webhook_url"`
}

// handleTelegramRegister points the bot at this gateway's webhook URL and
// adopts the token for subsequent API calls
func (s *Server) handleTelegramRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "bot_token and webhook_url are required")
		return
	}

	if err := s.telegram.RegisterWebhook(req.Token, req.URL, s.cfg.Telegram.WebhookSecret); err != nil {
		s.logger.Error("webhook registration failed", "error", err)
		writeError(w, http.StatusBadGateway, "registration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// githubEvent is the job completion payload posted by the CI workflow
type githubEvent struct {
	JobID      string `json:"job_id"`
	Branch     string `json:"branch"`
	Conclusion string `json:"conclusion"`
	notify.Report
}

// handleGithubWebhook matches a CI completion back to its job and notifies
// the originating conversation. Non-job events are acknowledged and skipped
// so branch protection rules can point every push at this endpoint.
func (s *Server) handleGithubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	s.fireTriggers(r, body)

	var event githubEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	jobID := event.JobID
	if jobID == "" {
		jobID, _ = jobs.JobIDFromBranch(event.Branch)
	}
	if jobID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true, "reason": "not a job"})
		return
	}

	// A resolved job id is notified even without a job row (runs launched
	// outside this gateway); the configured chat is the default destination
	var threadID string
	job, err := s.jobs.Status(r.Context(), jobID)
	switch {
	case err == nil:
		threadID = job.ThreadID
	case !errors.Is(err, store.ErrNotFound):
		s.logger.Error("job lookup failed", "job_id", jobID, "error", err)
	}
	if threadID == "" {
		threadID = s.cfg.Telegram.ChatID
	}
	if threadID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true, "reason": "no chat to notify"})
		return
	}

	summary := s.summarizer.Summarize(r.Context(), event.Report)

	if err := s.notifier.Notify(r.Context(), threadID, summary); err != nil {
		s.logger.Error("job notification failed", "job_id", jobID, "error", err)
	}
	if job != nil {
		if err := s.jobs.Complete(r.Context(), jobID, event.Conclusion, summary); err != nil {
			s.logger.Warn("job completion not recorded", "job_id", jobID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "notified": true})
}

type launchRequest struct {
	Job      string `json:"job"`
	ThreadID string `json:"thread_id"`
}

// handleLaunchJob creates a job and dispatches its workflow run. The job is
// bound to the requested thread, falling back to the configured chat so
// completions always have a default destination.
func (s *Server) handleLaunchJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	s.fireTriggers(r, body)

	var req launchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Job == "" {
		writeError(w, http.StatusBadRequest, "job description is required")
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.cfg.Telegram.ChatID
	}

	job, err := s.jobs.Launch(r.Context(), threadID, req.Job)
	if err != nil {
		s.logger.Error("job launch failed", "error", err)
		writeError(w, http.StatusBadGateway, "job launch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": job.ID})
}

// handleJobStatus returns the stored job record
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	job, err := s.jobs.Status(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"conclusion": job.Conclusion,
		"summary":    job.Summary,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

// handlePing is the authenticated liveness probe
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Pong!"})
}
