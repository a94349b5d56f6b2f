// ABOUTME: HTTP client implementation of the agent Gateway interface
// ABOUTME: Talks to an agent runtime API with SSE streaming for incremental output

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const deltaBufferSize = 16

// HTTPGateway implements Gateway over the agent runtime's HTTP API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration

	// Separate clients: invoke/state calls get a hard timeout, streams must
	// be allowed to outlive it and are bounded by the caller's context.
	client    *http.Client
	streaming *http.Client
	logger    *slog.Logger
}

// HTTPConfig configures an HTTPGateway
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewHTTPGateway creates a Gateway client for the given agent runtime
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		client:    &http.Client{Timeout: cfg.Timeout},
		streaming: &http.Client{},
		logger:    logger.With("component", "agent"),
	}
}

type invokeRequest struct {
	Model   string  `json:"model,omitempty"`
	Content []Block `json:"content"`
}

type invokeResponse struct {
	Text string `json:"text"`
}

type stateRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type streamChunk struct {
	Text string `json:"text"`
}

// Invoke sends content for a thread and waits for the full response
func (g *HTTPGateway) Invoke(ctx context.Context, threadID string, content []Block) (string, error) {
	var out invokeResponse
	if err := g.post(ctx, g.client, g.threadPath(threadID, "invoke"), invokeRequest{
		Model:   g.model,
		Content: content,
	}, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	return out.Text, nil
}

// Stream sends content and returns incremental text deltas. The runtime
// answers with an SSE body of "data:" lines terminated by [DONE]. Cancelling
// ctx aborts the underlying request; deltas already emitted stand.
func (g *HTTPGateway) Stream(ctx context.Context, threadID string, content []Block) (<-chan Delta, error) {
	body, err := json.Marshal(invokeRequest{Model: g.model, Content: content})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrInvocationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.threadPath(threadID, "stream"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrInvocationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: runtime returned %d: %s", ErrInvocationFailed, resp.StatusCode, msg)
	}

	out := make(chan Delta, deltaBufferSize)
	go g.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream parses SSE data lines into deltas until [DONE] or an error
func (g *HTTPGateway) readStream(ctx context.Context, body io.ReadCloser, out chan<- Delta) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			g.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Text == "" {
			continue
		}

		select {
		case out <- Delta{Text: chunk.Text}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- Delta{Err: fmt.Errorf("%w: reading stream: %v", ErrInvocationFailed, err)}:
		case <-ctx.Done():
		}
	}
}

// UpdateState appends an assistant turn to thread memory without inference
func (g *HTTPGateway) UpdateState(ctx context.Context, threadID, text string) error {
	if err := g.post(ctx, g.client, g.threadPath(threadID, "state"), stateRequest{
		Role: "assistant",
		Text: text,
	}, nil); err != nil {
		return fmt.Errorf("updating thread state: %w", err)
	}
	return nil
}

// post performs a JSON POST and decodes the response into out (if non-nil)
func (g *HTTPGateway) post(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime returned %d: %s", resp.StatusCode, firstLine(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (g *HTTPGateway) threadPath(threadID, op string) string {
	return g.baseURL + "/threads/" + url.PathEscape(threadID) + "/" + op
}

func firstLine(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
