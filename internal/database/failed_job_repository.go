package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
)

// FailedJobRepository handles the failure audit table. It is the single
// source of truth for post-mortem analysis of asynchronous failures.
type FailedJobRepository struct {
	db *DB
}

// NewFailedJobRepository creates a new FailedJobRepository
func NewFailedJobRepository(db *DB) *FailedJobRepository {
	return &FailedJobRepository{db: db}
}

// Create inserts one failure row.
func (r *FailedJobRepository) Create(ctx context.Context, row *models.FailedJob) error {
	query := `
		INSERT INTO failed_jobs (id, job_id, error_code, error_message, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.JobID, row.ErrorCode, row.ErrorMessage, row.Resolved, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed job: %w", err)
	}
	return nil
}

// ListUnresolved returns unresolved failure rows, newest first.
func (r *FailedJobRepository) ListUnresolved(ctx context.Context, limit int) ([]*models.FailedJob, error) {
	query := `
		SELECT id, job_id, error_code, error_message, resolved, created_at
		FROM failed_jobs
		WHERE resolved = false
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []*models.FailedJob
	for rows.Next() {
		f := &models.FailedJob{}
		if err := rows.Scan(&f.ID, &f.JobID, &f.ErrorCode, &f.ErrorMessage, &f.Resolved, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// MarkResolved flags a failure row as handled by an operator.
func (r *FailedJobRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE failed_jobs SET resolved = true WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	return nil
}

// AuditLogRepository records API-initiated actions for the admin surface.
type AuditLogRepository struct {
	db *DB
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create inserts one audit row.
func (r *AuditLogRepository) Create(ctx context.Context, actor, action string, detail map[string]any) error {
	detailJSON, err := jsonMarshalMap(detail)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_logs (id, actor, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New(), actor, action, detailJSON, time.Now()); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
