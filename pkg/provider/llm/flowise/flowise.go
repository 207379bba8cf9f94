// Package flowise provides an LLM provider backed by a Flowise chatflow.
//
// Flowise exposes each chatflow under POST /api/v1/prediction/{chatflow-id};
// the request carries the question and optional history, the response carries
// the generated text. Model selection, temperature and prompting live inside
// the chatflow itself, so per-request parameters beyond the question are
// advisory and history is passed through as-is.
package flowise

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

	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const (
	defaultTimeout     = 30 * time.Second
	predictionEndpoint = "/api/v1/prediction/"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements llm.Provider against a Flowise server. Safe for
// concurrent use.
type Provider struct {
	baseURL    string
	chatflowID string
	token      string
	httpClient *http.Client
}

// New creates a Provider for the chatflow at baseURL (e.g.
// "http://localhost:3000") with the given chatflow id.
func New(baseURL, chatflowID string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("flowise: baseURL must not be empty")
	}
	if chatflowID == "" {
		return nil, errors.New("flowise: chatflowID must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatflowID: chatflowID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "flowise".
func (p *Provider) Name() string { return "flowise" }

// predictionRequest is the JSON body of POST /api/v1/prediction/{id}.
type predictionRequest struct {
	Question string           `json:"question"`
	History  []historyMessage `json:"history,omitempty"`
}

// historyMessage is one prior turn in Flowise's history format.
type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// predictionResponse is the JSON body returned by a prediction call.
type predictionResponse struct {
	Text string `json:"text"`
}

// Complete posts the query to the chatflow and returns the generated text.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", errors.New("flowise: query must not be empty")
	}

	body := predictionRequest{Question: req.Query}
	for _, t := range req.History {
		role := t.Role
		// Flowise names the assistant role "apiMessage" and the user role
		// "userMessage".
		switch t.Role {
		case llm.RoleUser:
			role = "userMessage"
		case llm.RoleAssistant:
			role = "apiMessage"
		}
		body.History = append(body.History, historyMessage{Role: role, Content: t.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("flowise: marshal request: %w", err)
	}

	url := p.baseURL + predictionEndpoint + p.chatflowID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("flowise: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("flowise: POST prediction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("flowise: prediction returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var pr predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("flowise: decode response: %w", err)
	}
	return strings.TrimSpace(pr.Text), nil
}

// Models returns the chatflow id as the single "model"; Flowise has no model
// listing API and the model is fixed by the chatflow.
func (p *Provider) Models(_ context.Context) ([]string, error) {
	return []string{p.chatflowID}, nil
}
