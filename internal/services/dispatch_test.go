package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/queue"
)

type memJobs struct {
	id  uuid.UUID
	err error
}

func (m *memJobs) Create(ctx context.Context, storyID *uuid.UUID, jobType string, payload map[string]any) (uuid.UUID, error) {
	if m.err != nil {
		return uuid.Nil, m.err
	}
	m.id = uuid.New()
	return m.id, nil
}

type memAudit struct {
	actions []string
}

func (m *memAudit) Create(ctx context.Context, actor, action string, detail map[string]any) error {
	m.actions = append(m.actions, action)
	return nil
}

type memQueue struct {
	pushed []queue.Envelope
	err    error
}

func (m *memQueue) Push(ctx context.Context, envs ...queue.Envelope) error {
	if m.err != nil {
		return m.err
	}
	m.pushed = append(m.pushed, envs...)
	return nil
}

func (m *memQueue) Pop(ctx context.Context, timeout time.Duration) (*queue.Envelope, error) {
	return nil, nil
}

func (m *memQueue) Close() error { return nil }

// TestCreateStoryScript_EnqueuesJob asserts the dispatcher pushes the new
// job reference for immediate async execution, and audits the request.
func TestCreateStoryScript_EnqueuesJob(t *testing.T) {
	jobs := &memJobs{}
	audit := &memAudit{}
	q := &memQueue{}
	svc := NewDispatchServiceWith(jobs, audit, q)

	resp, err := svc.CreateStoryScript(context.Background(), &models.StoryScriptRequest{
		Theme:       "deep sea",
		InitiatedBy: "scheduler",
	})
	if err != nil {
		t.Fatalf("CreateStoryScript: %v", err)
	}
	if len(q.pushed) != 1 || q.pushed[0].JobID != jobs.id.String() {
		t.Errorf("pushed %+v", q.pushed)
	}
	if len(audit.actions) != 1 || audit.actions[0] != "story_script_requested" {
		t.Errorf("audit %v", audit.actions)
	}
	if len(resp.JobIDs) != 1 {
		t.Errorf("job ids %v", resp.JobIDs)
	}
}

// TestCreateStoryScript_PushFailureDoesNotFailRequest asserts the job stays
// claimable and the request still succeeds when the broker is down.
func TestCreateStoryScript_PushFailureDoesNotFailRequest(t *testing.T) {
	jobs := &memJobs{}
	svc := NewDispatchServiceWith(jobs, nil, &memQueue{err: fmt.Errorf("broker down")})

	resp, err := svc.CreateStoryScript(context.Background(), &models.StoryScriptRequest{Theme: "rain"})
	if err != nil {
		t.Fatalf("CreateStoryScript: %v", err)
	}
	if !resp.OK {
		t.Error("expected ok response despite push failure")
	}
}

func TestCreateStoryScript_MissingTheme(t *testing.T) {
	svc := NewDispatchServiceWith(&memJobs{}, nil, nil)
	if _, err := svc.CreateStoryScript(context.Background(), &models.StoryScriptRequest{}); err != ErrMissingTheme {
		t.Errorf("expected ErrMissingTheme, got %v", err)
	}
}

func TestCreateStoryScript_StoreError(t *testing.T) {
	svc := NewDispatchServiceWith(&memJobs{err: fmt.Errorf("connection refused")}, nil, nil)
	if _, err := svc.CreateStoryScript(context.Background(), &models.StoryScriptRequest{Theme: "rain"}); err == nil {
		t.Fatal("expected error")
	}
}
