package failures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/database"
	"github.com/little-loop/tales/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// maxAttempts is the recorder's default retry ceiling for ShouldRetry.
const maxAttempts = 3

// Context carries where a failure happened. JobID is nil for failures
// outside a specific job (persistence, queue push).
type Context struct {
	JobID    *uuid.UUID
	StoryRef string
	Stage    string
	Attempt  int
	Extra    map[string]any
}

// failedJobStore is the subset of the failed-job repository the recorder
// needs (for testability).
type failedJobStore interface {
	Create(ctx context.Context, row *models.FailedJob) error
}

// Recorder classifies and stores unrecoverable failures, and optionally
// notifies a Slack webhook.
type Recorder struct {
	repo       failedJobStore
	webhookURL string
}

// NewRecorder creates a Recorder. webhookURL may be empty to disable
// notifications.
func NewRecorder(repo *database.FailedJobRepository, webhookURL string) *Recorder {
	return &Recorder{repo: repo, webhookURL: webhookURL}
}

// NewRecorderWithStore wires an arbitrary store; used by tests.
func NewRecorderWithStore(repo failedJobStore, webhookURL string) *Recorder {
	return &Recorder{repo: repo, webhookURL: webhookURL}
}

// RecordFailure writes one row to the failure table and fires the optional
// notification. Notification failures are logged, never propagated.
func (r *Recorder) RecordFailure(ctx context.Context, fctx Context, failure error) *models.FailedJob {
	message := normalizeError(failure)
	detail := fmt.Sprintf("stage=%s attempt=%d", fctx.Stage, fctx.Attempt)
	if fctx.StoryRef != "" {
		detail += " story=" + fctx.StoryRef
	}
	if len(fctx.Extra) > 0 {
		if extraJSON, err := json.Marshal(fctx.Extra); err == nil {
			detail += " extra=" + string(extraJSON)
		}
	}

	row := &models.FailedJob{
		ID:           uuid.New(),
		JobID:        fctx.JobID,
		ErrorCode:    fctx.Stage,
		ErrorMessage: detail + ": " + message,
		Resolved:     false,
		CreatedAt:    time.Now(),
	}

	if err := r.repo.Create(ctx, row); err != nil {
		log.Error().Err(err).Str("stage", fctx.Stage).Msg("Failed to record failure row")
	} else {
		log.Error().
			Err(failure).
			Str("stage", fctx.Stage).
			Str("story_ref", fctx.StoryRef).
			Int("attempt", fctx.Attempt).
			Msg("Permanent failure recorded")
	}

	r.notify(fctx, message)
	return row
}

// notify posts to the Slack webhook without blocking the caller.
func (r *Recorder) notify(fctx Context, message string) {
	if r.webhookURL == "" {
		return
	}
	url := r.webhookURL
	text := fmt.Sprintf("Generation failure at stage %q (attempt %d, story %s): %s",
		fctx.Stage, fctx.Attempt, fctx.StoryRef, message)
	go func() {
		if err := slack.PostWebhook(url, &slack.WebhookMessage{Text: text}); err != nil {
			log.Warn().Err(err).Msg("Failure notification webhook failed")
		}
	}()
}

// ShouldRetry applies the recorder's retry policy: retry while the attempt
// count is below the ceiling and the error carries a transient provider
// status (>= 500 or 429). Aborted calls are never retried.
func ShouldRetry(err error, attempt int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if isAbort(err) {
		return false
	}
	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retriable()
	}
	return false
}

// Retriable reports whether an error may succeed on a later attempt. Errors
// without a provider status (validation, parsing) are treated as transient:
// the model may comply next time. Permanent provider errors (4xx other than
// 429) and aborts are not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if isAbort(err) {
		return false
	}
	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retriable()
	}
	return true
}

func isAbort(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Abort")
}

// normalizeError renders an error for storage: the message when available,
// a JSON stringification otherwise.
func normalizeError(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	if data, jsonErr := json.Marshal(err); jsonErr == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", err)
}
