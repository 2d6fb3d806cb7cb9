package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
)

// maxFailureReasonLen bounds the failure_reason column payload.
const maxFailureReasonLen = 512

// JobRepository handles generation job database operations. ClaimJob is the
// sole concurrency primitive for worker coordination.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, story_id, job_type, status, retry_count, payload, result_uri, failure_reason, created_at, started_at, finished_at`

// Create inserts one pending job and returns its id.
func (r *JobRepository) Create(ctx context.Context, storyID *uuid.UUID, jobType string, payload map[string]any) (uuid.UUID, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New()
	query := `
		INSERT INTO generation_jobs (id, story_id, job_type, status, retry_count, payload, created_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, id, storyID, jobType, payloadJSON, time.Now()); err != nil {
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Claim atomically transitions a pending job to processing and returns it.
// Returns (nil, nil) if the job does not exist or is not pending, so at most
// one worker observes the transition. Implemented as a conditional UPDATE
// returning the row; never read-then-write.
func (r *JobRepository) Claim(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	query := `
		UPDATE generation_jobs
		SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// GetByID retrieves a job by ID. Returns (nil, nil) when absent.
func (r *JobRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// Complete sets status=completed and stores the result pointer.
func (r *JobRepository) Complete(ctx context.Context, jobID uuid.UUID, resultURI string) error {
	query := `
		UPDATE generation_jobs
		SET status = 'completed', result_uri = $2, finished_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, jobID, resultURI); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail sets status=failed and records the reason, truncated to 512 chars.
func (r *JobRepository) Fail(ctx context.Context, jobID uuid.UUID, reason string) error {
	if runes := []rune(reason); len(runes) > maxFailureReasonLen {
		reason = string(runes[:maxFailureReasonLen])
	}
	query := `
		UPDATE generation_jobs
		SET status = 'failed', failure_reason = $2, finished_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, jobID, reason); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the new count.
func (r *JobRepository) IncrementRetry(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	query := `
		UPDATE generation_jobs
		SET retry_count = retry_count + 1
		WHERE id = $1
		RETURNING retry_count
	`
	if err := r.db.QueryRowContext(ctx, query, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

// ListPendingOlderThan returns pending jobs created before the cutoff.
// Used by the worker's reconciler to re-enqueue jobs whose queue push was lost.
func (r *JobRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	job := &models.GenerationJob{}
	var payloadJSON []byte
	err := row.Scan(
		&job.ID, &job.StoryID, &job.JobType, &job.Status, &job.RetryCount,
		&payloadJSON, &job.ResultURI, &job.FailureReason,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return job, nil
}
