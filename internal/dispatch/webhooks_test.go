package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/channel"
	"github.com/burrowhq/burrow/internal/store"
	"github.com/burrowhq/burrow/internal/trigger"
)

func telegramUpdate(updateID int, chatID int64, text string) map[string]any {
	return map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": 1,
			"chat":       map[string]any{"id": chatID},
			"text":       text,
		},
	}
}

func TestTelegramWebhook_RequiresSecret(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(1, 100, "hi"), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(1, 100, "hi"),
		func(r *http.Request) { r.Header.Set(telegramSecretHeader, "wrong") })
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTelegramWebhook_RunsExchange(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.invokeReply = "the answer is 42"

	resp := env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(10, 100, "what is the answer"), env.withTgSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	require.True(t, env.runner.Wait(3*time.Second))

	// Both sides of the exchange are durable, user first
	turns, err := env.store.GetTurns(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, "what is the answer", turns[0].Content)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)
	assert.Equal(t, "the answer is 42", turns[1].Content)

	// The reply went out through the bot
	sent := env.bot.sentTexts()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1], "the answer is 42")
}

func TestTelegramWebhook_DuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(77, 100, "once please"), env.withTgSecret)
		body := decodeJSON(t, resp)
		assert.Equal(t, true, body["ok"], "duplicates are still acknowledged")
	}

	require.True(t, env.runner.Wait(3*time.Second))

	turns, err := env.store.GetTurns(context.Background(), "100")
	require.NoError(t, err)
	var userTurns int
	for _, turn := range turns {
		if turn.Role == store.RoleUser {
			userTurns++
		}
	}
	assert.Equal(t, 1, userTurns, "a redelivered update must be processed once")
}

func TestTelegramWebhook_NonMessageUpdate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/telegram/webhook", map[string]any{"update_id": 5}, env.withTgSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"])

	require.True(t, env.runner.Wait(time.Second))
	assert.Empty(t, env.gateway.invokes)
}

func TestTelegramWebhook_AgentFailureSendsApology(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.invokeErr = assert.AnError

	resp := env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(11, 100, "hello"), env.withTgSecret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, env.runner.Wait(3*time.Second))

	sent := env.bot.sentTexts()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1], "Sorry")

	// No assistant turn for a failed invocation
	turns, err := env.store.GetTurns(context.Background(), "100")
	require.NoError(t, err)
	for _, turn := range turns {
		assert.NotEqual(t, store.RoleAssistant, turn.Role)
	}
}

func TestTelegramWebhook_MalformedBodyAcked(t *testing.T) {
	env := newTestEnv(t)

	// Anything but a 200 makes Telegram redeliver forever
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/telegram/webhook",
		strings.NewReader("not json"))
	require.NoError(t, err)
	req.Header.Set(telegramSecretHeader, "tg-secret")

	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	body := decodeJSON(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
}

func TestTelegramExchange_DeliveryRetryFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.invokeReply = "the real answer"
	env.bot.mu.Lock()
	env.bot.failSends = 1
	env.bot.mu.Unlock()

	resp := env.do(t, http.MethodPost, "/telegram/webhook", telegramUpdate(21, 100, "hi"), env.withTgSecret)
	resp.Body.Close()
	require.True(t, env.runner.Wait(3*time.Second))

	// The retry sends the static fallback, not the original reply
	sent := env.bot.sentTexts()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "could not deliver")
}

func TestTelegramExchange_AttachmentOnly(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.invokeReply = "nice picture"

	err := env.srv.runTelegramExchange(context.Background(), &channel.Envelope{
		ThreadID: "300",
		Attachments: []channel.Attachment{
			{Category: channel.CategoryImage, MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}},
		},
	})
	require.NoError(t, err)

	// The history still shows the exchange happened
	turns, err := env.store.GetTurns(context.Background(), "300")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, "[attachment]", turns[0].Content)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)
}

func TestContentFromEnvelope_EncodesAttachments(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	content := contentFromEnvelope(&channel.Envelope{
		ThreadID: "100",
		Text:     "look at this",
		Attachments: []channel.Attachment{
			{Category: channel.CategoryImage, MimeType: "image/jpeg", Data: raw},
		},
	})

	require.Len(t, content, 2)
	assert.Equal(t, agent.BlockText, content[0].Type)
	assert.Equal(t, "look at this", content[0].Text)
	assert.Equal(t, agent.BlockImage, content[1].Type)
	assert.Equal(t, "image/jpeg", content[1].MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), content[1].Data)
}

func TestTelegramRegister(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/telegram/register",
		map[string]string{"bot_token": "new-token", "webhook_url": "https://gw.example.com/telegram/webhook"},
		env.withKey)
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	env.bot.mu.Lock()
	defer env.bot.mu.Unlock()
	require.Len(t, env.bot.webhooks, 1)
	assert.Equal(t, "https://gw.example.com/telegram/webhook", env.bot.webhooks[0]["url"])
	assert.Equal(t, "tg-secret", env.bot.webhooks[0]["secret_token"])
}

func TestGithubWebhook_RequiresSecret(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/github/webhook", map[string]any{"branch": "job/x"}, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGithubWebhook_NotAJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/github/webhook",
		map[string]any{"branch": "main", "conclusion": "success"}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "not a job", body["reason"])
}

func TestGithubWebhook_UnknownJob_NotifiesConfiguredChat(t *testing.T) {
	env := newTestEnv(t)

	// No job row exists, but a resolved job id still notifies the
	// configured chat
	resp := env.do(t, http.MethodPost, "/github/webhook",
		map[string]any{"branch": "job/external-abc"}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["notified"])

	sent := env.bot.sentTexts()
	require.NotEmpty(t, sent)

	turns, err := env.store.GetTurns(context.Background(), "555")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.RoleAssistant, turns[0].Role)
}

func TestGithubWebhook_UnknownJob_NoConfiguredChat(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Telegram.ChatID = ""

	resp := env.do(t, http.MethodPost, "/github/webhook",
		map[string]any{"branch": "job/external-abc"}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "no chat to notify", body["reason"])
	assert.Empty(t, env.bot.sentTexts())
}

func TestGithubWebhook_Notifies(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.store.CreateJob(context.Background(), "100", "ship the release")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/github/webhook", map[string]any{
		"branch":         "job/" + job.ID,
		"conclusion":     "success",
		"job":            "ship the release",
		"commit_message": "release v1.4.0",
		"pr_url":         "https://example.com/pr/9",
	}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["notified"])

	// Summary delivered to the chat
	sent := env.bot.sentTexts()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1], "Job finished: all green.")

	// Job is closed out with conclusion and summary
	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, stored.Status)
	assert.Equal(t, "success", stored.Conclusion)
	assert.Equal(t, "Job finished: all green.", stored.Summary)

	// The agent's thread memory heard about it too
	env.gateway.mu.Lock()
	defer env.gateway.mu.Unlock()
	require.Len(t, env.gateway.stateUpdates, 1)

	// And the summary is in the durable history
	turns, err := env.store.GetTurns(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.RoleAssistant, turns[0].Role)
}

func TestGithubWebhook_ExplicitJobID(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.store.CreateJob(context.Background(), "100", "run checks")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/github/webhook",
		map[string]any{"job_id": job.ID, "conclusion": "failure"}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["notified"])
}

func TestLaunchJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/webhook",
		map[string]string{"job": "bump all dependencies"}, env.withKey)
	body := decodeJSON(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	env.dispatcher.mu.Lock()
	assert.Equal(t, []string{jobID}, env.dispatcher.jobIDs)
	env.dispatcher.mu.Unlock()

	// Jobs without an explicit thread bind to the configured chat
	stored, err := env.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "555", stored.ThreadID)
}

func TestLaunchJob_MissingDescription(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/webhook", map[string]string{}, env.withKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobStatus(t *testing.T) {
	env := newTestEnv(t)

	job, err := env.store.CreateJob(context.Background(), "100", "nightly run")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/jobs/status?job_id="+job.ID, nil, env.withKey)
	body := decodeJSON(t, resp)
	assert.Equal(t, job.ID, body["job_id"])
	assert.Equal(t, store.JobStatusPending, body["status"])
}

func TestJobStatus_Errors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/jobs/status", nil, env.withKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/jobs/status?job_id=nope", nil, env.withKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggers_SideDispatch(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var received []trigger.Event
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev trigger.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	}))
	t.Cleanup(receiver.Close)

	env.srv.triggers = trigger.NewRegistry([]trigger.Rule{
		{Name: "mirror", PathPrefix: "/github", ForwardURL: receiver.URL},
	}, nil)

	resp := env.do(t, http.MethodPost, "/github/webhook",
		map[string]any{"branch": "main"}, env.withGhSecret)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["ok"], "response does not wait on trigger delivery")

	require.True(t, env.runner.Wait(3*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "/github/webhook", received[0].Path)
	assert.JSONEq(t, `{"branch":"main"}`, string(received[0].Body))
}
