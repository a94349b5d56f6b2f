package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/internal/agent"
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

// fakeGateway is a scriptable agent.Gateway
type fakeGateway struct {
	mu           sync.Mutex
	invokeReply  string
	invokeErr    error
	streamDeltas []string
	streamErr    error
	streamDelay  time.Duration
	invokes      []string
	stateUpdates []string
	onStream     func(threadID string)
	onInvoke     func(threadID string)
}

func (f *fakeGateway) Invoke(ctx context.Context, threadID string, content []agent.Block) (string, error) {
	f.mu.Lock()
	f.invokes = append(f.invokes, threadID)
	hook := f.onInvoke
	f.mu.Unlock()
	if hook != nil {
		hook(threadID)
	}
	if f.invokeErr != nil {
		return "", f.invokeErr
	}
	return f.invokeReply, nil
}

func (f *fakeGateway) Stream(ctx context.Context, threadID string, content []agent.Block) (<-chan agent.Delta, error) {
	if f.onStream != nil {
		f.onStream(threadID)
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan agent.Delta)
	go func() {
		defer close(ch)
		for _, d := range f.streamDeltas {
			if f.streamDelay > 0 {
				select {
				case <-time.After(f.streamDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- agent.Delta{Text: d}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeGateway) UpdateState(ctx context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateUpdates = append(f.stateUpdates, text)
	return nil
}

// fakeLLM answers every completion with a fixed reply
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, nil
}

// recordingDispatcher implements jobs.Dispatcher without GitHub
type recordingDispatcher struct {
	mu     sync.Mutex
	jobIDs []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, jobID, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobIDs = append(d.jobIDs, jobID)
	return nil
}

// botStub answers the Telegram Bot API surface the adapter touches
type botStub struct {
	srv *httptest.Server

	mu        sync.Mutex
	sent      []string
	webhooks  []map[string]string
	failSends int
}

func newBotStub(t *testing.T) *botStub {
	b := &botStub{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		require.NoError(t, r.ParseForm())

		b.mu.Lock()
		failSend := false
		switch method {
		case "sendMessage":
			if b.failSends > 0 {
				b.failSends--
				failSend = true
			} else {
				b.sent = append(b.sent, r.FormValue("text"))
			}
		case "setWebhook":
			params := map[string]string{}
			for k := range r.Form {
				params[k] = r.FormValue(k)
			}
			b.webhooks = append(b.webhooks, params)
		}
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case failSend:
			io.WriteString(w, `{"ok":false,"error_code":500,"description":"boom"}`)
		case method == "getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot"}}`)
		case method == "sendMessage":
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`)
		default:
			io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *botStub) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type testEnv struct {
	srv        *Server
	http       *httptest.Server
	store      *store.SQLiteStore
	gateway    *fakeGateway
	bot        *botStub
	dispatcher *recordingDispatcher
	titler     *fakeLLM
	summarizer *fakeLLM
	runner     *background.Runner
	cfg        *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	passwordHash, err := auth.HashPassword("swordfish")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Auth.APIKey = "test-key"
	cfg.Auth.SessionSecret = "test-session-secret"
	cfg.Auth.Username = "admin"
	cfg.Auth.PasswordHash = passwordHash
	cfg.Telegram.WebhookSecret = "tg-secret"
	cfg.Telegram.ChatID = "555"
	cfg.GitHub.WebhookSecret = "gh-secret"
	cfg.Agent.TitleModel = "small"

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bot := newBotStub(t)
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Tokens:   channel.NewTokenCell("test-token"),
		Endpoint: bot.srv.URL + "/bot%s/%s",
	})

	gw := &fakeGateway{invokeReply: "hello from the agent", streamDeltas: []string{"Hel", "lo"}}
	titler := &fakeLLM{reply: "Fix Login Bug"}
	summarizer := &fakeLLM{reply: "Job finished: all green."}
	dispatcher := &recordingDispatcher{}
	runner := background.NewRunner(nil)
	seen := dedupe.New(5*time.Minute, 1000)
	t.Cleanup(seen.Close)

	srv := NewServer(Deps{
		Config:     cfg,
		Store:      st,
		Gateway:    gw,
		Telegram:   telegram,
		Sessions:   auth.NewSessions([]byte(cfg.Auth.SessionSecret), time.Hour),
		Triggers:   trigger.NewRegistry(nil, nil),
		Jobs:       jobs.NewService(st, dispatcher, nil),
		Summarizer: notify.NewSummarizer(summarizer, "small", nil),
		Notifier:   notify.NewNotifier(telegram, st, gw, nil),
		Titler:     titler,
		Seen:       seen,
		Runner:     runner,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{
		srv: srv, http: ts, store: st, gateway: gw, bot: bot,
		dispatcher: dispatcher, titler: titler, summarizer: summarizer,
		runner: runner, cfg: cfg,
	}
}

// request helpers

func (e *testEnv) do(t *testing.T, method, path string, body any, mod func(*http.Request)) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if mod != nil {
		mod(req)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) withKey(r *http.Request)      { r.Header.Set("X-API-Key", "test-key") }
func (e *testEnv) withTgSecret(r *http.Request) { r.Header.Set(telegramSecretHeader, "tg-secret") }
func (e *testEnv) withGhSecret(r *http.Request) { r.Header.Set(githubSecretHeader, "gh-secret") }

// login performs the login flow and returns the session cookie
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/login",
		map[string]string{"username": "admin", "password": "swordfish"}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie in login response")
	return nil
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// parseSSE collects the data payloads of an SSE body
func parseSSE(t *testing.T, body io.Reader) []map[string]string {
	t.Helper()
	var events []map[string]string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev map[string]string
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/ping", nil, env.withKey)
	body := decodeJSON(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pong!", body["message"])
}

func TestPing_RequiresKey(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/ping", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_BadCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/login",
		map[string]string{"username": "admin", "password": "wrong"}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
}

func TestSessionRoutes_RequireCookie(t *testing.T) {
	env := newTestEnv(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/chat"},
		{http.MethodGet, "/threads"},
		{http.MethodDelete, "/threads"},
	} {
		resp := env.do(t, route.method, route.path, nil, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)
	}
}

func TestThreads_ListTurnsDelete(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t)
	withSession := func(r *http.Request) { r.AddCookie(cookie) }
	ctx := context.Background()

	_, err := env.store.EnsureThread(ctx, "t1", "admin", "")
	require.NoError(t, err)
	_, err = env.store.AppendTurn(ctx, "t1", store.RoleUser, "hi")
	require.NoError(t, err)
	_, err = env.store.AppendTurn(ctx, "t1", store.RoleAssistant, "hello")
	require.NoError(t, err)
	_, err = env.store.EnsureThread(ctx, "t2", "admin", "Other")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/threads", nil, withSession)
	body := decodeJSON(t, resp)
	assert.Len(t, body["threads"], 2)

	resp = env.do(t, http.MethodGet, "/threads/t1/turns", nil, withSession)
	body = decodeJSON(t, resp)
	turns := body["turns"].([]any)
	require.Len(t, turns, 2)
	first := turns[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hi", first["content"])

	resp = env.do(t, http.MethodDelete, "/threads/t1", nil, withSession)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/threads/t1/turns", nil, withSession)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/threads", nil, withSession)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	threads, err := env.store.ListThreads(ctx, "admin")
	require.NoError(t, err)
	assert.Empty(t, threads)
}
