package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RESTQueue pushes envelopes over an HTTP endpoint with Bearer auth. It is
// push-only; deployments that run a worker must configure the list broker.
type RESTQueue struct {
	url        string
	token      string
	queueName  string
	httpClient *http.Client
}

// NewRESTQueue creates the REST push fallback adapter.
func NewRESTQueue(url, token, queueName string) *RESTQueue {
	return &RESTQueue{
		url:       url,
		token:     token,
		queueName: queueName,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type restPushBody struct {
	Queue    string   `json:"queue"`
	Messages []string `json:"messages"`
}

type restCommandBody struct {
	Command []string `json:"command"`
}

// Push POSTs all envelopes in a single request. When the endpoint rejects
// the body with a command-parse error (or 400/422/0), one retry is made with
// a Redis-command-style body. Auth errors abort immediately.
func (q *RESTQueue) Push(ctx context.Context, envs ...Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	messages := make([]string, len(envs))
	for i, env := range envs {
		msg, err := env.Encode()
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	status, body, err := q.post(ctx, restPushBody{Queue: q.queueName, Messages: messages})
	if err == nil && status >= 200 && status < 300 {
		log.Debug().Int("messages", len(messages)).Str("queue", q.queueName).Msg("Envelopes pushed via REST")
		return nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("rest push auth rejected (status %d)", status)
	}

	if !restShouldRetryAsCommand(status, body) {
		if err != nil {
			return fmt.Errorf("rest push: %w", err)
		}
		return fmt.Errorf("rest push failed (status %d): %s", status, truncateBody(body))
	}

	// The endpoint could not parse the structured body; retry once with the
	// raw Redis command shape.
	command := append([]string{"RPUSH", q.queueName}, messages...)
	log.Warn().
		Int("status", status).
		Str("queue", q.queueName).
		Msg("REST push rejected, retrying with RPUSH command body")

	status, body, err = q.post(ctx, restCommandBody{Command: command})
	if err != nil {
		return fmt.Errorf("rest push (command retry): %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("rest push auth rejected (status %d)", status)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("rest push failed after command retry (status %d): %s", status, truncateBody(body))
	}
	return nil
}

// Pop is unsupported on the REST adapter; the endpoint only accepts pushes.
func (q *RESTQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	return nil, nil
}

// Close is a no-op; the adapter holds no persistent connection.
func (q *RESTQueue) Close() error {
	return nil
}

// post sends one JSON POST. Returns status 0 with a non-nil error when the
// request never produced a response.
func (q *RESTQueue) post(ctx context.Context, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal push body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return resp.StatusCode, string(body), nil
}

// restShouldRetryAsCommand reports whether a failed push looks like the
// endpoint not understanding the structured body rather than a hard error.
func restShouldRetryAsCommand(status int, body string) bool {
	if status == 0 || status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "failed to parse") || strings.Contains(lower, "parse error")
}

func truncateBody(body string) string {
	if len(body) > 256 {
		return body[:256] + "..."
	}
	return body
}
