package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/little-loop/tales/internal/config"
	"github.com/rs/zerolog/log"
)

// ErrPushUnsupported is returned by adapters that cannot push (no-op variant).
var ErrPushUnsupported = errors.New("queue push not supported: no queue configured")

// Envelope is the minimal message placed on the queue. All truth about the
// job lives in the job store; the envelope only carries the reference.
type Envelope struct {
	JobID     string `json:"jobId"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// NewEnvelope wraps a job id with the current timestamp.
func NewEnvelope(jobID string) Envelope {
	return Envelope{JobID: jobID, Timestamp: time.Now().UnixMilli()}
}

// Encode renders the envelope as a single-line JSON string.
func (e Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope parses a queue message back into an envelope.
func DecodeEnvelope(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.JobID == "" {
		return nil, fmt.Errorf("envelope missing jobId")
	}
	return &env, nil
}

// Queue decouples request admission from execution. Push enqueues job
// references; Pop blocks up to timeout and returns nil when nothing arrived.
type Queue interface {
	Push(ctx context.Context, envs ...Envelope) error
	Pop(ctx context.Context, timeout time.Duration) (*Envelope, error)
	Close() error
}

// New selects the queue variant from configuration. Precedence: list broker
// URL, then REST url+token, then no-op. The choice is static for the
// process lifetime.
func New(cfg *config.Config) (Queue, error) {
	switch {
	case cfg.UpstashRedisURL != "":
		q, err := NewRedisQueue(cfg.UpstashRedisURL, cfg.QueueName)
		if err != nil {
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		log.Info().Str("queue", cfg.QueueName).Msg("Queue adapter: redis list broker")
		return q, nil
	case cfg.UpstashRESTURL != "" && cfg.UpstashRESTToken != "":
		log.Info().Str("queue", cfg.QueueName).Str("url", cfg.UpstashRESTURL).Msg("Queue adapter: REST push fallback")
		return NewRESTQueue(cfg.UpstashRESTURL, cfg.UpstashRESTToken, cfg.QueueName), nil
	default:
		log.Warn().Msg("Queue adapter: no-op (no queue configured)")
		return NewNoopQueue(), nil
	}
}
