package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// maxResponseLogBytes bounds the provider response preview in logs.
const maxResponseLogBytes = 2048

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the inputs to one chat completion call.
type Params struct {
	Model       string
	Messages    []Message
	Temperature float64
}

// Usage is the token accounting for one call. Providers disagree on field
// naming, so unmarshalling accepts both snake_case and camelCase shapes.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UnmarshalJSON accepts {prompt_tokens,...} and {promptTokens,...}. Extra
// provider fields (token detail objects and the like) are ignored.
func (u *Usage) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(keys ...string) int {
		for _, k := range keys {
			if n, ok := raw[k].(float64); ok {
				return int(n)
			}
		}
		return 0
	}
	u.PromptTokens = pick("prompt_tokens", "promptTokens")
	u.CompletionTokens = pick("completion_tokens", "completionTokens")
	u.TotalTokens = pick("total_tokens", "totalTokens")
	return nil
}

// Result holds the decoded payload of the first choice plus token usage.
// Data is the JSON-decoded value when the content parses, otherwise the raw
// string; semantic validation belongs to the assembler.
type Result struct {
	Data  any
	Usage Usage
}

// ProviderError carries the HTTP status of a failed provider call so the
// retry layers can classify it.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai provider returned status %d: %s", e.StatusCode, e.Body)
}

// Retriable reports whether the failure is transient: 5xx or rate limiting.
func (e *ProviderError) Retriable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client is a typed wrapper over an OpenAI-compatible chat completions API
// with bounded retries and exponential backoff.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
}

// NewClient creates the adapter. maxRetries bounds retry attempts beyond the
// first call; backoffBase is the first delay, doubled per retry.
func NewClient(apiKey, baseURL, model string, maxRetries int, backoffBase time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// CreateChatCompletion calls the provider, retrying transient failures
// (status >= 500 or 429) with exponential backoff. All other errors
// terminate immediately.
func (c *Client) CreateChatCompletion(ctx context.Context, params Params) (*Result, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<uint(attempt-1))
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying chat completion after transient provider error")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		result, err := c.call(ctx, model, params)
		if err == nil {
			log.Info().
				Str("model", model).
				Dur("elapsed", time.Since(start)).
				Int("prompt_tokens", result.Usage.PromptTokens).
				Int("completion_tokens", result.Usage.CompletionTokens).
				Int("total_tokens", result.Usage.TotalTokens).
				Msg("Chat completion succeeded")
			return result, nil
		}

		lastErr = err
		var provErr *ProviderError
		if errors.As(err, &provErr) && provErr.Retriable() {
			continue
		}
		log.Error().Err(err).Str("model", model).Msg("Chat completion failed (not retriable)")
		return nil, err
	}

	log.Error().Err(lastErr).Str("model", model).Int("retries", c.maxRetries).Msg("Chat completion failed after retries")
	return nil, lastErr
}

// call performs one request and extracts the first choice.
func (c *Client) call(ctx context.Context, model string, params Params) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    params.Messages,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are transient by classification (§ error taxonomy):
		// surface them with a retriable pseudo-status.
		return nil, &ProviderError{StatusCode: http.StatusServiceUnavailable, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &ProviderError{StatusCode: http.StatusServiceUnavailable, Body: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: previewBody(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	content := parsed.Choices[0].Message.Content

	// Best-effort decode; the assembler owns semantic validation.
	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		data = content
	}

	return &Result{Data: data, Usage: parsed.Usage}, nil
}

func previewBody(body []byte) string {
	if len(body) > maxResponseLogBytes {
		return string(body[:maxResponseLogBytes]) + "... [truncated]"
	}
	return string(body)
}
