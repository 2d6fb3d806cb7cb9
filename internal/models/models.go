package models

import (
	"time"

	"github.com/google/uuid"
)

// Story lifecycle statuses.
const (
	StoryStatusDraft      = "draft"
	StoryStatusScheduled  = "scheduled"
	StoryStatusProcessing = "processing"
	StoryStatusPublished  = "published"
	StoryStatusFailed     = "failed"
)

// Generation job statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Generation job types.
const (
	JobTypeStoryScript = "story_script"
	JobTypeTranslation = "translation"
	JobTypeVocabulary  = "vocabulary"
	JobTypeImage       = "image"
	JobTypeAudio       = "audio"
	JobTypeVideo       = "video"
)

// Media asset kinds.
const (
	MediaKindImage = "image"
	MediaKindAudio = "audio"
	MediaKindVideo = "video"
)

// PagesPerStory and VocabPerStory are fixed by the product: every story has
// exactly 10 pages and 10 vocabulary entries.
const (
	PagesPerStory = 10
	VocabPerStory = 10
)

// Story is the aggregate root of one generated story.
type Story struct {
	ID        uuid.UUID      `json:"id"`
	TitleEn   string         `json:"title_en"`
	TitleZh   string         `json:"title_zh"`
	Theme     string         `json:"theme"`
	Status    string         `json:"status"` // draft, scheduled, processing, published, failed
	AgeRange  string         `json:"age_range"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StoryPage is one of the ordered pages of a story. Immutable after
// insertion except for the asset back-references.
type StoryPage struct {
	ID           uuid.UUID  `json:"id"`
	StoryID      uuid.UUID  `json:"story_id"`
	PageNumber   int        `json:"page_number"` // 1..10, unique within story
	TextEn       string     `json:"text_en"`
	TextZh       string     `json:"text_zh"`
	WordCount    int        `json:"word_count"`
	ImageAssetID *uuid.UUID `json:"image_asset_id,omitempty"`
	AudioAssetID *uuid.UUID `json:"audio_asset_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// VocabEntry is one vocabulary item of a story.
type VocabEntry struct {
	ID                 uuid.UUID `json:"id"`
	StoryID            uuid.UUID `json:"story_id"`
	Word               string    `json:"word"`
	PartOfSpeech       string    `json:"part_of_speech"`
	DefinitionEn       string    `json:"definition_en"`
	DefinitionZh       string    `json:"definition_zh"`
	ExampleSentence    string    `json:"example_sentence"`
	ExampleTranslation string    `json:"example_translation"`
	CefrLevel          *string   `json:"cefr_level,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// GenerationJob is the durable unit of asynchronous work.
// StoryID is nil for story_script jobs: the story row does not exist until
// the persistence coordinator commits it. The payload carries the story ref.
type GenerationJob struct {
	ID            uuid.UUID      `json:"id"`
	StoryID       *uuid.UUID     `json:"story_id,omitempty"`
	JobType       string         `json:"job_type"` // story_script, translation, vocabulary, image, audio, video
	Status        string         `json:"status"`   // pending, processing, completed, failed
	RetryCount    int            `json:"retry_count"`
	Payload       map[string]any `json:"payload,omitempty"`
	ResultURI     *string        `json:"result_uri,omitempty"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// MediaAsset is a produced artifact. At most one asset exists per
// generating job; insertion is idempotent on GeneratingJobID.
type MediaAsset struct {
	ID              uuid.UUID      `json:"id"`
	StoryID         uuid.UUID      `json:"story_id"`
	PageID          *uuid.UUID     `json:"page_id,omitempty"`
	Kind            string         `json:"kind"` // image, audio, video
	URI             string         `json:"uri"`
	Format          string         `json:"format"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	GeneratingJobID uuid.UUID      `json:"generating_job_id"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FailedJob is an audit row for an unrecoverable failure. JobID is nil when
// the failure happened outside a specific job (persistence, queue push).
type FailedJob struct {
	ID           uuid.UUID  `json:"id"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	Resolved     bool       `json:"resolved"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AuditLog records an operator- or API-initiated action.
type AuditLog struct {
	ID        uuid.UUID      `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// StoryScriptRequest is the dispatch API input.
type StoryScriptRequest struct {
	StoryID     string `json:"storyId,omitempty"`
	Theme       string `json:"theme"`
	Tone        string `json:"tone,omitempty"`
	AgeRange    string `json:"ageRange,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
	InitiatedBy string `json:"initiatedBy,omitempty"`
}

// StoryScriptResponse is returned synchronously while work proceeds async.
type StoryScriptResponse struct {
	OK      bool     `json:"ok"`
	StoryID string   `json:"storyId"`
	JobIDs  []string `json:"jobIds"`
}
