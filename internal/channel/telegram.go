// ABOUTME: Telegram channel adapter over the Bot API
// ABOUTME: Normalizes webhook updates and delivers responses with HTML formatting

package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen  = 4000
	typingRefreshEvery = 4 * time.Second
)

// telegramMeta is the opaque delivery handle for a Telegram message
type telegramMeta struct {
	ChatID    int64
	MessageID int
}

// Telegram implements Adapter for the Telegram Bot API. The bot client is
// built lazily from the token cell and rebuilt whenever the token changes.
type Telegram struct {
	tokens   *TokenCell
	endpoint string
	logger   *slog.Logger

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	botToken string
}

// TelegramConfig configures a Telegram adapter
type TelegramConfig struct {
	Tokens *TokenCell
	// Endpoint overrides the Bot API endpoint, for tests
	Endpoint string
	Logger   *slog.Logger
}

// NewTelegram creates a Telegram adapter reading its token from the cell
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		tokens:   cfg.Tokens,
		endpoint: cfg.Endpoint,
		logger:   logger.With("component", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Receive normalizes a webhook update. Returns (nil, nil) for updates that
// carry no actionable message: service events, edits, empty messages.
func (t *Telegram) Receive(update tgbotapi.Update) (*Envelope, error) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, nil
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var attachments []Attachment
	if len(msg.Photo) > 0 {
		// Telegram sends multiple resolutions; the last is the largest
		photo := msg.Photo[len(msg.Photo)-1]
		if att, ok := t.downloadAttachment(photo.FileID, CategoryImage, "image/jpeg"); ok {
			attachments = append(attachments, att)
		}
	}
	if msg.Document != nil {
		mime := msg.Document.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		if att, ok := t.downloadAttachment(msg.Document.FileID, CategoryDocument, mime); ok {
			attachments = append(attachments, att)
		}
	}

	if text == "" && len(attachments) == 0 {
		return nil, nil
	}

	return &Envelope{
		ThreadID:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:        text,
		Attachments: attachments,
		Meta: telegramMeta{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
		},
	}, nil
}

// downloadAttachment fetches file bytes from the Bot API. Best-effort: a
// failed download drops the attachment rather than the whole message.
func (t *Telegram) downloadAttachment(fileID, category, mimeType string) (Attachment, bool) {
	bot, err := t.api()
	if err != nil {
		t.logger.Warn("attachment skipped, no bot client", "error", err)
		return Attachment{}, false
	}

	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		t.logger.Warn("attachment skipped, file lookup failed", "file_id", fileID, "error", err)
		return Attachment{}, false
	}

	resp, err := http.Get(url)
	if err != nil {
		t.logger.Warn("attachment skipped, download failed", "file_id", fileID, "error", err)
		return Attachment{}, false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.logger.Warn("attachment skipped, read failed", "file_id", fileID, "status", resp.StatusCode)
		return Attachment{}, false
	}

	return Attachment{Category: category, MimeType: mimeType, Data: data}, true
}

// Acknowledge is a no-op for Telegram: the webhook's immediate 200 response
// is the platform-level receipt. Kept for contract symmetry.
func (t *Telegram) Acknowledge(ctx context.Context, meta any) {
	m, ok := meta.(telegramMeta)
	if !ok {
		return
	}
	t.logger.Debug("message acknowledged", "chat_id", m.ChatID, "message_id", m.MessageID)
}

// StartTyping shows the "typing..." indicator, refreshing it until stopped.
// Telegram expires chat actions after ~5s, so a long agent call needs the
// refresh loop. The stop function is safe to call multiple times.
func (t *Telegram) StartTyping(meta any) func() {
	m, ok := meta.(telegramMeta)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(typingRefreshEvery)
		defer ticker.Stop()

		t.sendTyping(m.ChatID)
		for {
			select {
			case <-ticker.C:
				t.sendTyping(m.ChatID)
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func (t *Telegram) sendTyping(chatID int64) {
	bot, err := t.api()
	if err != nil {
		return
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := bot.Request(action); err != nil {
		t.logger.Debug("typing indicator failed", "chat_id", chatID, "error", err)
	}
}

// Send delivers text to the chat identified by meta, or by threadID when
// meta is absent (the notification path has no inbound message).
// Long responses are chunked; each chunk goes out as Telegram HTML with a
// plain-text retry when the markup is rejected.
func (t *Telegram) Send(ctx context.Context, threadID, text string, meta any) error {
	var chatID int64
	if m, ok := meta.(telegramMeta); ok {
		chatID = m.ChatID
	} else {
		id, err := strconv.ParseInt(threadID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat ID %q: %w", threadID, err)
		}
		chatID = id
	}

	bot, err := t.api()
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(bot, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk tries HTML first, falling back to plain text on a parse rejection
func (t *Telegram) sendChunk(bot *tgbotapi.BotAPI, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, renderTelegramHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := bot.Send(msg); err != nil {
		if strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram rejected HTML, retrying as plain text", "error", err)
			plain := tgbotapi.NewMessage(chatID, text)
			if _, err2 := bot.Send(plain); err2 != nil {
				return fmt.Errorf("telegram send: %w", err2)
			}
			return nil
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// RegisterWebhook points the bot at url, protected by secret. Uses the raw
// setWebhook call because the typed helper predates secret tokens.
func (t *Telegram) RegisterWebhook(token, url, secret string) error {
	bot, err := t.apiFor(token)
	if err != nil {
		return fmt.Errorf("telegram webhook register: %w", err)
	}

	params := tgbotapi.Params{"url": url}
	if secret != "" {
		params["secret_token"] = secret
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("telegram webhook register: %w", err)
	}

	// Only adopt the token once Telegram has accepted it
	t.tokens.Set(token)
	t.logger.Info("telegram webhook registered", "url", url)
	return nil
}

// api returns a bot client for the current token, rebuilding after a swap
func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	token := t.tokens.Get()
	if token == "" {
		return nil, fmt.Errorf("no bot token configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil && t.botToken == token {
		return t.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.botToken = token
	return bot, nil
}

// apiFor builds a client for a specific token without caching it
func (t *Telegram) apiFor(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithAPIEndpoint(token, t.endpoint)
}

// splitMessage chunks text at the limit, preferring newline boundaries and
// never cutting inside a multi-byte rune
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
