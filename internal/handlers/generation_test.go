package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/services"
)

// fakeDispatch is a minimal dispatchService for tests.
type fakeDispatch struct {
	create func(context.Context, *models.StoryScriptRequest) (*models.StoryScriptResponse, error)
}

func (f *fakeDispatch) CreateStoryScript(ctx context.Context, req *models.StoryScriptRequest) (*models.StoryScriptResponse, error) {
	if f.create != nil {
		return f.create(ctx, req)
	}
	return &models.StoryScriptResponse{OK: true, StoryID: uuid.New().String(), JobIDs: []string{uuid.New().String()}}, nil
}

// memJobCreator backs the real dispatch service in the happy-path test.
type memJobCreator struct {
	storyID *uuid.UUID
	jobType string
	payload map[string]any
	id      uuid.UUID
}

func (m *memJobCreator) Create(ctx context.Context, storyID *uuid.UUID, jobType string, payload map[string]any) (uuid.UUID, error) {
	m.storyID = storyID
	m.jobType = jobType
	m.payload = payload
	m.id = uuid.New()
	return m.id, nil
}

// TestCreateStoryScript_HappyPath drives the real dispatch service: a theme
// yields 200 with ok, a UUID storyId, and one pending story_script job.
func TestCreateStoryScript_HappyPath(t *testing.T) {
	jobs := &memJobCreator{}
	svc := services.NewDispatchServiceWith(jobs, nil, nil)
	h := NewHandler(svc, nil)

	body := bytes.NewBufferString(`{"theme":"A friendly dragon"}`)
	req := httptest.NewRequest(http.MethodPost, "/generation/story-script", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateStoryScript(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.StoryScriptResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Error("expected ok=true")
	}
	if _, err := uuid.Parse(resp.StoryID); err != nil {
		t.Errorf("storyId %q is not a UUID", resp.StoryID)
	}
	if len(resp.JobIDs) != 1 {
		t.Fatalf("expected 1 job id, got %d", len(resp.JobIDs))
	}
	if resp.JobIDs[0] != jobs.id.String() {
		t.Errorf("job id %q != created %q", resp.JobIDs[0], jobs.id)
	}

	// The created row: story_script with dispatch payload for the worker.
	if jobs.jobType != models.JobTypeStoryScript {
		t.Errorf("job type %q", jobs.jobType)
	}
	if jobs.storyID != nil {
		t.Error("story_script jobs must not reference a story row yet")
	}
	if jobs.payload["type"] != models.JobTypeStoryScript {
		t.Errorf("payload type %v", jobs.payload["type"])
	}
	if jobs.payload["theme"] != "A friendly dragon" {
		t.Errorf("payload theme %v", jobs.payload["theme"])
	}
	if jobs.payload["storyId"] != resp.StoryID {
		t.Errorf("payload storyId %v != %s", jobs.payload["storyId"], resp.StoryID)
	}
}

// TestCreateStoryScript_MissingTheme asserts 400 with the documented error.
func TestCreateStoryScript_MissingTheme(t *testing.T) {
	svc := services.NewDispatchServiceWith(&memJobCreator{}, nil, nil)
	h := NewHandler(svc, nil)

	body := bytes.NewBufferString(`{"tone":"warm"}`)
	req := httptest.NewRequest(http.MethodPost, "/generation/story-script", body)
	rec := httptest.NewRecorder()

	h.CreateStoryScript(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ok"] != false || resp["error"] != "missing theme" {
		t.Errorf("response %v", resp)
	}
}

// TestCreateStoryScript_InvalidBody asserts 400 for undecodable JSON.
func TestCreateStoryScript_InvalidBody(t *testing.T) {
	h := NewHandler(&fakeDispatch{}, nil)

	body := bytes.NewBufferString(`{invalid json`)
	req := httptest.NewRequest(http.MethodPost, "/generation/story-script", body)
	rec := httptest.NewRecorder()

	h.CreateStoryScript(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// TestCreateStoryScript_ServiceError asserts 500 for dispatch-layer faults.
func TestCreateStoryScript_ServiceError(t *testing.T) {
	h := NewHandler(&fakeDispatch{
		create: func(context.Context, *models.StoryScriptRequest) (*models.StoryScriptResponse, error) {
			return nil, fmt.Errorf("insert job: connection refused")
		},
	}, nil)

	body := bytes.NewBufferString(`{"theme":"dragons"}`)
	req := httptest.NewRequest(http.MethodPost, "/generation/story-script", body)
	rec := httptest.NewRecorder()

	h.CreateStoryScript(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["ok"] != false {
		t.Errorf("response %v", resp)
	}
}

// TestCreateStoryScript_ProvidedStoryIDKept asserts the caller's storyId is
// echoed back.
func TestCreateStoryScript_ProvidedStoryIDKept(t *testing.T) {
	jobs := &memJobCreator{}
	svc := services.NewDispatchServiceWith(jobs, nil, nil)
	h := NewHandler(svc, nil)

	body := bytes.NewBufferString(`{"storyId":"story-42","theme":"the sea","ageRange":"3-5"}`)
	req := httptest.NewRequest(http.MethodPost, "/generation/story-script", body)
	rec := httptest.NewRecorder()

	h.CreateStoryScript(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp models.StoryScriptResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StoryID != "story-42" {
		t.Errorf("storyId %q", resp.StoryID)
	}
	if jobs.payload["ageRange"] != "3-5" {
		t.Errorf("payload ageRange %v", jobs.payload["ageRange"])
	}
}

func TestHealth_NoDatabase(t *testing.T) {
	h := NewHandler(&fakeDispatch{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
