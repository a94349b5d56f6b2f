// ABOUTME: Web chat handler: SSE token streaming backed by the agent runtime
// ABOUTME: Persists both sides of the exchange and auto-titles fresh threads

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/auth"
	"github.com/burrowhq/burrow/internal/llm"
	"github.com/burrowhq/burrow/internal/store"
)

type chatPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Parts   []chatPart `json:"parts"`
	Content string     `json:"content"`
}

type chatRequest struct {
	ThreadID string        `json:"chatId"`
	Messages []chatMessage `json:"messages"`
}

// lastUserText joins the text parts of the most recent user message,
// falling back to its plain content field for clients that send no parts
func lastUserText(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != store.RoleUser {
			continue
		}
		var texts []string
		for _, p := range messages[i].Parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) == 0 && messages[i].Content != "" {
			return strings.TrimSpace(messages[i].Content)
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}
	return ""
}

// handleChat streams an agent response over SSE. The user turn is persisted
// before invocation; the assistant turn is persisted with whatever text
// accumulated by the time the stream ends, including early client
// disconnects. Persistence failures are logged and never interrupt the
// stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := lastUserText(req.Messages)
	if text == "" {
		writeError(w, http.StatusBadRequest, "no user message")
		return
	}

	username := auth.UserFromContext(r.Context())
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}

	// Persistence is best-effort: a dead database must not block the reply
	if _, err := s.store.EnsureThread(r.Context(), threadID, username, ""); err != nil {
		s.logger.Error("thread not ensured", "thread_id", threadID, "error", err)
	} else {
		if _, err := s.store.AppendTurn(r.Context(), threadID, store.RoleUser, text); err != nil {
			s.logger.Warn("user turn not persisted", "thread_id", threadID, "error", err)
		}
		s.autoTitle(threadID, text)
	}

	deltas, err := s.gateway.Stream(r.Context(), threadID, agent.TextContent(text))
	if err != nil {
		s.logger.Error("stream rejected", "thread_id", threadID, "error", err)
		writeError(w, http.StatusBadGateway, "agent unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Thread-Id", threadID)

	sse := func(v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	sse(map[string]string{"type": "start", "thread_id": threadID})
	sse(map[string]string{"type": "text-start"})

	var full strings.Builder
	streamErr := false
	for d := range deltas {
		if d.Err != nil {
			s.logger.Error("stream failed mid-flight", "thread_id", threadID, "error", d.Err)
			sse(map[string]string{"type": "error", "message": "agent stream failed"})
			streamErr = true
			break
		}
		full.WriteString(d.Text)
		sse(map[string]string{"type": "text-delta", "delta": d.Text})
	}

	if !streamErr {
		sse(map[string]string{"type": "text-end"})
		sse(map[string]string{"type": "finish"})
	}

	// Persist whatever made it out, whole or partial. The request context is
	// dead if the client disconnected, so this write gets its own.
	if full.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.store.AppendTurn(ctx, threadID, store.RoleAssistant, full.String()); err != nil {
			s.logger.Warn("assistant turn not persisted", "thread_id", threadID, "error", err)
		}
	}
}

const titleInstruction = "Write a title for a conversation that starts with the " +
	"following message. At most five words, no quotes, no trailing punctuation."

// autoTitle generates a short title for threads still carrying the default
// one. Fire-and-forget: a failed or lost title leaves the default in place,
// and the conditional update means a second racing titler is a no-op.
func (s *Server) autoTitle(threadID, firstMessage string) {
	thread, err := s.store.GetThread(context.Background(), threadID)
	if err != nil || thread.Title != store.DefaultTitle {
		return
	}

	s.runner.Go(context.Background(), "auto-title", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		title, err := s.titler.Complete(ctx, llm.Request{
			Model: s.cfg.Agent.TitleModel,
			Messages: []llm.Message{
				{Role: "system", Content: titleInstruction},
				{Role: "user", Content: firstMessage},
			},
			MaxTokens: 30,
		})
		if err != nil {
			return fmt.Errorf("generating title: %w", err)
		}

		title = strings.Trim(strings.TrimSpace(title), `"`)
		if title == "" {
			return nil
		}
		if _, err := s.store.SetTitleIfDefault(ctx, threadID, title); err != nil {
			return fmt.Errorf("setting title: %w", err)
		}
		return nil
	})
}
