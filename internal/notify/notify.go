// ABOUTME: Job completion notifications: summarize the report, fan out
// ABOUTME: Delivery legs are independent and best-effort; none blocks another

package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/channel"
	"github.com/burrowhq/burrow/internal/llm"
	"github.com/burrowhq/burrow/internal/store"
)

// FallbackSummary is sent when summarization cannot produce anything better
const FallbackSummary = "Job finished."

// Report carries whatever the CI run chose to include about a finished job.
// Every field is optional; absent fields are left out of the summary prompt
// entirely rather than sent as empty sections.
type Report struct {
	Task          string   `json:"job,omitempty"`
	CommitMessage string   `json:"commit_message,omitempty"`
	ChangedFiles  []string `json:"changed_files,omitempty"`
	Status        string   `json:"status,omitempty"`
	MergeResult   string   `json:"merge_result,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	RunURL        string   `json:"run_url,omitempty"`
	AgentLog      string   `json:"log,omitempty"`
}

// Summarizer turns job reports into short human notifications
type Summarizer struct {
	llm    llm.Client
	model  string
	logger *slog.Logger
}

// NewSummarizer creates a summarizer using model for completions
func NewSummarizer(client llm.Client, model string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		llm:    client,
		model:  model,
		logger: logger.With("component", "notify"),
	}
}

const summaryInstruction = "Summarize this completed job for a chat notification. " +
	"Two or three sentences, plain language, lead with the outcome. " +
	"Include the PR link if there is one."

// Summarize produces the notification text for a report. It never fails:
// an unusable model answer degrades to FallbackSummary.
func (s *Summarizer) Summarize(ctx context.Context, report Report) string {
	prompt := buildPrompt(report)
	if prompt == "" {
		return FallbackSummary
	}

	text, err := s.llm.Complete(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 300,
	})
	if err != nil {
		s.logger.Warn("summary generation failed, using fallback", "error", err)
		return FallbackSummary
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackSummary
	}
	return text
}

// buildPrompt renders only the sections the report actually has
func buildPrompt(r Report) string {
	var b strings.Builder
	section := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(name)
		b.WriteString(":\n")
		b.WriteString(value)
		b.WriteString("\n\n")
	}

	section("Task", r.Task)
	section("Commit Message", r.CommitMessage)
	if len(r.ChangedFiles) > 0 {
		section("Changed Files", strings.Join(r.ChangedFiles, "\n"))
	}
	section("Status", r.Status)
	section("Merge Result", r.MergeResult)
	section("PR URL", r.PRURL)
	section("Run URL", r.RunURL)
	section("Agent Log", r.AgentLog)

	return strings.TrimSpace(b.String())
}

// Notifier delivers a finished-job summary to the conversation: the chat
// channel, the durable history, and the agent's thread memory.
type Notifier struct {
	adapter channel.Adapter
	store   store.Store
	gateway agent.Gateway
	logger  *slog.Logger
}

// NewNotifier creates a notifier fanning out over the given destinations
func NewNotifier(adapter channel.Adapter, st store.Store, gw agent.Gateway, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		adapter: adapter,
		store:   st,
		gateway: gw,
		logger:  logger.With("component", "notify"),
	}
}

// Notify fans the summary out to the thread. Each leg is attempted even when
// an earlier one fails; the returned error is only the channel delivery's,
// since that is the leg the user actually sees.
func (n *Notifier) Notify(ctx context.Context, threadID, summary string) error {
	sendErr := n.adapter.Send(ctx, threadID, summary, nil)
	if sendErr != nil {
		n.logger.Error("notification delivery failed", "thread_id", threadID, "error", sendErr)
	}

	// The thread normally exists already; jobs launched against a fresh chat
	// ID get one created here so the summary has somewhere to land
	if _, err := n.store.EnsureThread(ctx, threadID, n.adapter.Name(), ""); err != nil {
		n.logger.Warn("notification thread not ensured", "thread_id", threadID, "error", err)
	} else if _, err := n.store.AppendTurn(ctx, threadID, store.RoleAssistant, summary); err != nil {
		n.logger.Warn("notification not persisted", "thread_id", threadID, "error", err)
	}

	if err := n.gateway.UpdateState(ctx, threadID, summary); err != nil {
		n.logger.Warn("agent memory not updated", "thread_id", threadID, "error", err)
	}

	return sendErr
}
