package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/database"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/queue"
	"github.com/rs/zerolog/log"
)

// ErrMissingTheme rejects story requests without a theme.
var ErrMissingTheme = fmt.Errorf("missing theme")

// jobCreator is the job store surface the dispatcher needs.
type jobCreator interface {
	Create(ctx context.Context, storyID *uuid.UUID, jobType string, payload map[string]any) (uuid.UUID, error)
}

// auditWriter records dispatch actions for the admin surface.
type auditWriter interface {
	Create(ctx context.Context, actor, action string, detail map[string]any) error
}

// DispatchService admits story requests: it creates the initial pending
// story_script job and returns the ids synchronously while work proceeds
// asynchronously. It never calls the AI provider.
type DispatchService struct {
	jobs  jobCreator
	audit auditWriter
	queue queue.Queue
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(jobs *database.JobRepository, audit *database.AuditLogRepository, q queue.Queue) *DispatchService {
	return &DispatchService{jobs: jobs, audit: audit, queue: q}
}

// NewDispatchServiceWith wires arbitrary dependencies; used by tests.
func NewDispatchServiceWith(jobs jobCreator, audit auditWriter, q queue.Queue) *DispatchService {
	return &DispatchService{jobs: jobs, audit: audit, queue: q}
}

// CreateStoryScript validates the request, allocates a story id when
// absent, creates one pending story_script job, and best-effort enqueues
// it so a worker picks it up immediately.
func (s *DispatchService) CreateStoryScript(ctx context.Context, req *models.StoryScriptRequest) (*models.StoryScriptResponse, error) {
	if req.Theme == "" {
		return nil, ErrMissingTheme
	}

	storyID := req.StoryID
	if storyID == "" {
		storyID = uuid.New().String()
	}

	payload := map[string]any{
		"type":    models.JobTypeStoryScript,
		"storyId": storyID,
		"theme":   req.Theme,
	}
	if req.Tone != "" {
		payload["tone"] = req.Tone
	}
	if req.AgeRange != "" {
		payload["ageRange"] = req.AgeRange
	}
	if req.ScheduledAt != "" {
		payload["scheduledAt"] = req.ScheduledAt
	}
	if req.InitiatedBy != "" {
		payload["initiatedBy"] = req.InitiatedBy
	}

	jobID, err := s.jobs.Create(ctx, nil, models.JobTypeStoryScript, payload)
	if err != nil {
		return nil, fmt.Errorf("create story_script job: %w", err)
	}

	// Immediate async execution; a push failure leaves the job pending and
	// claimable by out-of-band triggers, so the request still succeeds.
	if s.queue != nil {
		if err := s.queue.Push(ctx, queue.NewEnvelope(jobID.String())); err != nil {
			log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to enqueue story_script job")
		}
	}

	if s.audit != nil {
		actor := req.InitiatedBy
		if actor == "" {
			actor = "api"
		}
		if err := s.audit.Create(ctx, actor, "story_script_requested", map[string]any{
			"storyId": storyID,
			"jobId":   jobID.String(),
			"theme":   req.Theme,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to write audit log")
		}
	}

	log.Info().
		Str("story_id", storyID).
		Str("job_id", jobID.String()).
		Str("theme", req.Theme).
		Msg("Story script job created")

	return &models.StoryScriptResponse{
		OK:      true,
		StoryID: storyID,
		JobIDs:  []string{jobID.String()},
	}, nil
}
