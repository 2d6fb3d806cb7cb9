package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/queue"
)

type stalePendingStore struct {
	jobs []*models.GenerationJob
	err  error
}

func (s *stalePendingStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.jobs, nil
}

func TestReconciler_RepushesStaleJobs(t *testing.T) {
	stale := []*models.GenerationJob{
		{ID: uuid.New(), JobType: models.JobTypeImage, Status: models.JobStatusPending},
		{ID: uuid.New(), JobType: models.JobTypeAudio, Status: models.JobStatusPending},
	}
	q := &chanQueue{ch: make(chan queue.Envelope, 4)}
	r := NewReconciler(&stalePendingStore{jobs: stale}, q)

	r.sweep(context.Background())

	if len(q.ch) != 2 {
		t.Fatalf("expected 2 re-pushed envelopes, got %d", len(q.ch))
	}
	env := <-q.ch
	if env.JobID != stale[0].ID.String() {
		t.Errorf("envelope job id %q", env.JobID)
	}
}

func TestReconciler_NothingToDo(t *testing.T) {
	q := &chanQueue{ch: make(chan queue.Envelope, 1)}
	r := NewReconciler(&stalePendingStore{}, q)

	r.sweep(context.Background())

	if len(q.ch) != 0 {
		t.Errorf("expected no pushes, got %d", len(q.ch))
	}
}
