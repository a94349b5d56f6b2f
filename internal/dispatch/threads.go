// ABOUTME: Login and thread history endpoints for the web chat client
// ABOUTME: Threads are scoped to the session user; deletes cascade to turns

package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/burrowhq/burrow/internal/auth"
	"github.com/burrowhq/burrow/internal/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin checks credentials against the configured user and sets the
// session cookie. Both failure modes answer identically.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != s.cfg.Auth.Username ||
		!auth.CheckPassword(s.cfg.Auth.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.sessions.Issue(req.Username)
	if err != nil {
		s.logger.Error("session issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.sessions.TTL()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type threadResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleListThreads returns the session user's threads, most recent first
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	username := auth.UserFromContext(r.Context())

	threads, err := s.store.ListThreads(r.Context(), username)
	if err != nil {
		s.logger.Error("thread list failed", "owner", username, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	out := make([]threadResponse, 0, len(threads))
	for _, t := range threads {
		out = append(out, threadResponse{
			ID: t.ID, Title: t.Title, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

type turnResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// handleGetTurns returns a thread's full history in order
func (s *Server) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error("thread lookup failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	turns, err := s.store.GetTurns(r.Context(), threadID)
	if err != nil {
		s.logger.Error("turn list failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnResponse{
			ID: t.ID, Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

// handleDeleteThread removes one thread and its turns
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	err := s.store.DeleteThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		s.logger.Error("thread delete failed", "thread_id", threadID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDeleteAllThreads clears the session user's entire history
func (s *Server) handleDeleteAllThreads(w http.ResponseWriter, r *http.Request) {
	username := auth.UserFromContext(r.Context())

	if err := s.store.DeleteAllThreads(r.Context(), username); err != nil {
		s.logger.Error("history clear failed", "owner", username, "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
