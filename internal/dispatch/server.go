// ABOUTME: The dispatch surface: one chi router over all inbound channels
// ABOUTME: Web chat, Telegram webhook, GitHub webhook, jobs, thread history

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/assets"
	"github.com/burrowhq/burrow/internal/auth"
	"github.com/burrowhq/burrow/internal/background"
	"github.com/burrowhq/burrow/internal/channel"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/dedupe"
	"github.com/burrowhq/burrow/internal/jobs"
	"github.com/burrowhq/burrow/internal/llm"
	"github.com/burrowhq/burrow/internal/notify"
	"github.com/burrowhq/burrow/internal/store"
	"github.com/burrowhq/burrow/internal/trigger"
)

// Webhook secret headers checked by the public routes
const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	githubSecretHeader   = "X-Github-Webhook-Secret-Token"
)

// How long a detached webhook pipeline may run after its HTTP request
// has already been answered
const pipelineTimeout = 10 * time.Minute

// Server owns the HTTP surface and the pieces the handlers dispatch into
type Server struct {
	cfg        *config.Config
	store      store.Store
	gateway    agent.Gateway
	telegram   *channel.Telegram
	sessions   *auth.Sessions
	triggers   *trigger.Registry
	jobs       *jobs.Service
	summarizer *notify.Summarizer
	notifier   *notify.Notifier
	titler     llm.Client
	seen       *dedupe.Cache
	runner     *background.Runner
	logger     *slog.Logger

	httpSrv *http.Server
}

// Deps carries everything a Server needs; all fields are required except
// Logger
type Deps struct {
	Config     *config.Config
	Store      store.Store
	Gateway    agent.Gateway
	Telegram   *channel.Telegram
	Sessions   *auth.Sessions
	Triggers   *trigger.Registry
	Jobs       *jobs.Service
	Summarizer *notify.Summarizer
	Notifier   *notify.Notifier
	Titler     llm.Client
	Seen       *dedupe.Cache
	Runner     *background.Runner
	Logger     *slog.Logger
}

// NewServer wires a Server from its dependencies
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        d.Config,
		store:      d.Store,
		gateway:    d.Gateway,
		telegram:   d.Telegram,
		sessions:   d.Sessions,
		triggers:   d.Triggers,
		jobs:       d.Jobs,
		summarizer: d.Summarizer,
		notifier:   d.Notifier,
		titler:     d.Titler,
		seen:       d.Seen,
		runner:     d.Runner,
		logger:     logger.With("component", "dispatch"),
	}
}

// Router builds the full route table. Auth is applied per group and always
// rejects before a handler can read the request body.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Public: webhooks carry their own shared-secret headers, login carries
	// credentials in the body
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireHeaderSecret(telegramSecretHeader, s.cfg.Telegram.WebhookSecret))
		r.Post("/telegram/webhook", s.handleTelegramWebhook)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireHeaderSecret(githubSecretHeader, s.cfg.GitHub.WebhookSecret))
		r.Post("/github/webhook", s.handleGithubWebhook)
	})
	r.Post("/login", s.handleLogin)

	// Session: the browser chat client
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(s.sessions))
		r.Post("/chat", s.handleChat)
		r.Get("/threads", s.handleListThreads)
		r.Get("/threads/{threadID}/turns", s.handleGetTurns)
		r.Delete("/threads", s.handleDeleteAllThreads)
		r.Delete("/threads/{threadID}", s.handleDeleteThread)
	})

	// Key: programmatic callers
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAPIKey(s.cfg.Auth.APIKey))
		r.Get("/ping", s.handlePing)
		r.Post("/webhook", s.handleLaunchJob)
		r.Get("/jobs/status", s.handleJobStatus)
		r.Post("/telegram/register", s.handleTelegramRegister)
	})

	// Embedded chat client at the root. The page itself is public; every
	// API call it makes carries the session cookie.
	r.Handle("/*", assets.Handler())

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains:
// first open connections, then detached background pipelines.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	if !s.runner.Wait(30 * time.Second) {
		s.logger.Warn("background pipelines still running at shutdown")
	}
	return nil
}

// requestLogger logs one line per request in the access-log style
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// fireTriggers snapshots the request and forwards it to matching trigger
// rules on a detached task. body is passed separately because the handler
// has already drained it.
func (s *Server) fireTriggers(r *http.Request, body []byte) {
	if s.triggers == nil {
		return
	}
	event := trigger.EventFromRequest(r, body)
	s.runner.Go(context.Background(), "trigger:"+event.Path, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s.triggers.Fire(ctx, event)
		return nil
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
