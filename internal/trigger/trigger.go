// ABOUTME: Side-dispatch of inbound webhook events to configured forward URLs
// ABOUTME: Fire-and-forget; trigger failures never affect the origin response

package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Rule forwards events whose request path starts with PathPrefix
type Rule struct {
	Name       string
	PathPrefix string
	ForwardURL string
}

// Event is the snapshot of an inbound request handed to matching rules.
// Headers are flattened to first values; hop-by-hop noise is not filtered
// because receivers only look at the platform headers they know.
type Event struct {
	Path    string            `json:"path"`
	Query   string            `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Registry holds the configured rules and forwards matching events
type Registry struct {
	rules  []Rule
	client *http.Client
	logger *slog.Logger
}

// NewRegistry creates a Registry with the given rules
func NewRegistry(rules []Rule, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rules:  rules,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "trigger"),
	}
}

// EventFromRequest builds an Event snapshot. The body must be passed in
// because the handler has usually consumed the request body already.
func EventFromRequest(r *http.Request, body []byte) Event {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	var raw json.RawMessage
	if json.Valid(body) {
		raw = body
	} else if len(body) > 0 {
		raw, _ = json.Marshal(string(body))
	}
	return Event{
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: headers,
		Body:    raw,
	}
}

// Fire forwards the event to every rule matching its path, sequentially.
// Each failure is logged and swallowed; Fire never returns an error. Run it
// detached: the originating handler must not wait on trigger delivery.
func (reg *Registry) Fire(ctx context.Context, event Event) {
	for _, rule := range reg.rules {
		if !strings.HasPrefix(event.Path, rule.PathPrefix) {
			continue
		}
		if err := reg.forward(ctx, rule, event); err != nil {
			reg.logger.Warn("trigger forward failed", "trigger", rule.Name, "url", rule.ForwardURL, "error", err)
			continue
		}
		reg.logger.Debug("trigger forwarded", "trigger", rule.Name, "path", event.Path)
	}
}

func (reg *Registry) forward(ctx context.Context, rule Rule, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rule.ForwardURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := reg.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	return nil
}
