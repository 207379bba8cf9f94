package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/internal/router/skill"
)

const defaultWebhookTimeout = 15 * time.Second

// defaultWebhookAck is the spoken acknowledgement after a successful webhook
// trigger.
const defaultWebhookAck = "Okay, wird erledigt."

// defaultWebhookKeywords are the trigger words that route an utterance to the
// automation webhook when no custom list is configured. Matched fuzzily.
var defaultWebhookKeywords = []string{
	"schalte", "schalten", "licht", "steckdose", "heizung", "rollladen", "szene",
}

// WebhookOption is a functional option for configuring a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookToken sets the token included in the POST body.
func WithWebhookToken(token string) WebhookOption {
	return func(w *Webhook) { w.token = token }
}

// WithWebhookKeywords replaces the trigger word list.
func WithWebhookKeywords(words []string) WebhookOption {
	return func(w *Webhook) {
		if len(words) > 0 {
			w.keywords = words
		}
	}
}

// WithWebhookAck sets the acknowledgement reply.
func WithWebhookAck(ack string) WebhookOption {
	return func(w *Webhook) {
		if ack != "" {
			w.ack = ack
		}
	}
}

// WithWebhookHTTPClient replaces the HTTP client, for tests.
func WithWebhookHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// Webhook forwards smart-home style utterances to an automation endpoint
// (typically an n8n workflow). Safe for concurrent use.
type Webhook struct {
	url      string
	token    string
	ack      string
	keywords []string
	client   *http.Client
}

// NewWebhook creates a Webhook targeting url.
func NewWebhook(url string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("router: webhook url must not be empty")
	}
	w := &Webhook{
		url:      url,
		ack:      defaultWebhookAck,
		keywords: defaultWebhookKeywords,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Matches reports whether the keyword policy routes text to the webhook.
func (w *Webhook) Matches(text string) bool {
	return skill.MatchesTrigger(text, w.keywords)
}

// Ack returns the configured acknowledgement reply.
func (w *Webhook) Ack() string { return w.ack }

// Trigger posts the query to the automation endpoint. A non-2xx status is an
// error.
func (w *Webhook) Trigger(ctx context.Context, query string) error {
	payload, err := json.Marshal(struct {
		Query string `json:"query"`
		Token string `json:"token,omitempty"`
	}{Query: query, Token: w.token})
	if err != nil {
		return fmt.Errorf("router: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("router: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("router: POST webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("router: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// String describes the webhook target for logs, token redacted.
func (w *Webhook) String() string {
	return "webhook " + strings.SplitN(w.url, "?", 2)[0]
}
