// Package llm implements the AgentGateway against OpenAI-compatible
// chat-completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/pkg/jsonx"
)

const (
	maxAttempts       = 3
	defaultRetryAfter = 5 * time.Second
)

// Client talks to one OpenAI-compatible chat-completions endpoint.
type Client struct {
	model        string
	apiKey       string
	baseURL      string
	extraHeaders map[string]string
	http         *http.Client
	log          app.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithExtraHeader adds a header sent on every request. OpenRouter uses
// HTTP-Referer and X-Title for attribution.
func WithExtraHeader(key, value string) Option {
	return func(c *Client) {
		c.extraHeaders[key] = value
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient builds a client for baseURL (e.g. "https://api.openai.com/v1").
func NewClient(apiKey, model, baseURL string, log app.Logger, opts ...Option) *Client {
	c := &Client{
		model:        model,
		apiKey:       apiKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		extraHeaders: map[string]string{},
		http:         &http.Client{Timeout: 30 * time.Second},
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate returns a plain-text completion, retrying transient failures up
// to three attempts.
func (c *Client) Generate(ctx context.Context, prompt, system string) (string, error) {
	return c.complete(ctx, prompt, system, nil)
}

// GenerateStructured asks for a JSON object via response_format. Endpoints
// that reject the parameter fall back to a plain completion, and content
// that is not valid JSON goes through extraction plus one repair round.
func (c *Client) GenerateStructured(ctx context.Context, prompt, system string) (json.RawMessage, error) {
	content, err := c.complete(ctx, prompt, system, &responseFormat{Type: "json_object"})
	if err != nil {
		c.log.Warn("structured response_format failed: %v", err)
		content, err = c.Generate(ctx, prompt, system)
		if err != nil {
			return nil, err
		}
	}

	repairer := &jsonx.Repairer{Generate: c.Generate}
	raw, err := repairer.Extract(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("structured completion: %w", err)
	}
	return raw, nil
}

func (c *Client) complete(ctx context.Context, prompt, system string, format *responseFormat) (string, error) {
	req := chatRequest{Model: c.model, ResponseFormat: format}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		content, retryAfter, err := c.post(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		c.log.Warn("completion request failed (attempt %d/%d): %v", attempt, maxAttempts, err)
		if retryAfter > 0 {
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// post performs one request. The returned duration is non-zero when the
// endpoint asked us to back off before retrying.
func (c *Client) post(ctx context.Context, body []byte) (string, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := defaultRetryAfter
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, resp.Body)
		return "", wait, fmt.Errorf("rate limited: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("API error: status %d: %s", resp.StatusCode, string(data))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	if chat.Usage != nil {
		c.log.Info("completion usage: prompt=%d completion=%d total=%d",
			chat.Usage.PromptTokens, chat.Usage.CompletionTokens, chat.Usage.TotalTokens)
	}
	if len(chat.Choices) == 0 {
		return "", 0, fmt.Errorf("empty choices in response")
	}
	return chat.Choices[0].Message.Content, 0, nil
}
