package worker

import (
	"context"
	"time"

	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/queue"
	"github.com/rs/zerolog/log"
)

// Reconciler defaults: how often to scan, and how stale a pending job must
// be before it is considered orphaned (its queue push was lost).
const (
	defaultReconcileInterval = 5 * time.Minute
	defaultReconcileAge      = 15 * time.Minute
	reconcileBatchSize       = 100
)

// pendingLister is the job store surface the reconciler needs.
type pendingLister interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationJob, error)
}

// Reconciler closes the gap between the DB commit and the queue push: the
// database is the source of truth, so pending jobs that never made it onto
// the queue (push failure, broker outage) are re-pushed periodically.
// Re-pushing an already-enqueued job is harmless; the claim CAS dedupes.
type Reconciler struct {
	store    pendingLister
	queue    queue.Queue
	interval time.Duration
	age      time.Duration
}

// NewReconciler creates a Reconciler with default pacing.
func NewReconciler(store pendingLister, q queue.Queue) *Reconciler {
	return &Reconciler{
		store:    store,
		queue:    q,
		interval: defaultReconcileInterval,
		age:      defaultReconcileAge,
	}
}

// Run scans on a ticker until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep re-pushes one batch of stale pending jobs.
func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.age)
	jobs, err := r.store.ListPendingOlderThan(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Reconciler scan failed")
		return
	}
	if len(jobs) == 0 {
		return
	}

	envelopes := make([]queue.Envelope, len(jobs))
	for i, job := range jobs {
		envelopes[i] = queue.NewEnvelope(job.ID.String())
	}
	if err := r.queue.Push(ctx, envelopes...); err != nil {
		log.Error().Err(err).Int("jobs", len(envelopes)).Msg("Reconciler re-push failed")
		return
	}

	log.Info().Int("jobs", len(envelopes)).Msg("Re-enqueued stale pending jobs")
}
