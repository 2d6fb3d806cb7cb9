package failures

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/models"
)

type memFailedJobStore struct {
	rows []*models.FailedJob
	err  error
}

func (s *memFailedJobStore) Create(ctx context.Context, row *models.FailedJob) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func TestRecordFailure_WritesOneRow(t *testing.T) {
	store := &memFailedJobStore{}
	rec := NewRecorderWithStore(store, "")

	jobID := uuid.New()
	rec.RecordFailure(context.Background(), Context{
		JobID:    &jobID,
		StoryRef: "story-1",
		Stage:    "translation",
		Attempt:  3,
		Extra:    map[string]any{"pushedJobCount": 4},
	}, fmt.Errorf("provider exploded"))

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.JobID == nil || *row.JobID != jobID {
		t.Errorf("job id %v", row.JobID)
	}
	if row.ErrorCode != "translation" {
		t.Errorf("error code %q", row.ErrorCode)
	}
	for _, want := range []string{"stage=translation", "attempt=3", "story=story-1", "provider exploded", "pushedJobCount"} {
		if !strings.Contains(row.ErrorMessage, want) {
			t.Errorf("message %q missing %q", row.ErrorMessage, want)
		}
	}
	if row.Resolved {
		t.Error("new failures must be unresolved")
	}
}

func TestRecordFailure_NilJobRef(t *testing.T) {
	store := &memFailedJobStore{}
	rec := NewRecorderWithStore(store, "")

	rec.RecordFailure(context.Background(), Context{Stage: "persistence", StoryRef: "s"}, fmt.Errorf("rollback"))

	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store.rows))
	}
	if store.rows[0].JobID != nil {
		t.Error("story-scope failures carry no job ref")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"5xx below ceiling", &ai.ProviderError{StatusCode: 500}, 0, true},
		{"503 below ceiling", &ai.ProviderError{StatusCode: 503}, 2, true},
		{"429 below ceiling", &ai.ProviderError{StatusCode: 429}, 1, true},
		{"5xx at ceiling", &ai.ProviderError{StatusCode: 500}, 3, false},
		{"400 never", &ai.ProviderError{StatusCode: 400}, 0, false},
		{"403 never", &ai.ProviderError{StatusCode: 403}, 0, false},
		{"abort named", fmt.Errorf("AbortError: request aborted"), 0, false},
		{"no status", fmt.Errorf("schema validation failed"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry(%v, %d) = %v, want %v", tt.err, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation error transient", fmt.Errorf("story payload failed schema validation"), true},
		{"5xx", &ai.ProviderError{StatusCode: 502}, true},
		{"429", &ai.ProviderError{StatusCode: 429}, true},
		{"404", &ai.ProviderError{StatusCode: 404}, false},
		{"abort", fmt.Errorf("AbortError"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retriable(tt.err); got != tt.want {
				t.Errorf("Retriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
