package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/models"
	"github.com/rs/zerolog/log"
)

// MediaJobSeed describes one media job to create alongside a story bundle.
type MediaJobSeed struct {
	JobType string
	Payload map[string]any
}

// StoryBundle is everything the persistence coordinator commits in one
// transaction: the story, its pages, its vocabulary, and the pending media
// jobs derived from the pages.
type StoryBundle struct {
	Story      *models.Story
	Pages      []*models.StoryPage
	Vocab      []*models.VocabEntry
	MediaSeeds []MediaJobSeed
}

// StoryRepository handles story, page, vocab and asset database operations
type StoryRepository struct {
	db *DB
}

// NewStoryRepository creates a new StoryRepository
func NewStoryRepository(db *DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// PersistBundle inserts the story, all pages, all vocab entries and one
// pending job per media seed inside a single transaction, and returns the
// created media job ids. If any insert fails the entire bundle rolls back
// and no ids are returned.
func (r *StoryRepository) PersistBundle(ctx context.Context, bundle *StoryBundle) ([]uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	story := bundle.Story
	metadataJSON, err := json.Marshal(story.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal story metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stories (id, title_en, title_zh, theme, status, age_range, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, story.ID, story.TitleEn, story.TitleZh, story.Theme, story.Status, story.AgeRange, metadataJSON, story.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert story: %w", err)
	}

	for _, page := range bundle.Pages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO story_pages (id, story_id, page_number, text_en, text_zh, word_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, page.ID, page.StoryID, page.PageNumber, page.TextEn, page.TextZh, page.WordCount, page.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert page %d: %w", page.PageNumber, err)
		}
	}

	for i, entry := range bundle.Vocab {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vocab_entries (id, story_id, word, part_of_speech, definition_en, definition_zh,
				example_sentence, example_translation, cefr_level, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, entry.ID, entry.StoryID, entry.Word, entry.PartOfSpeech, entry.DefinitionEn, entry.DefinitionZh,
			entry.ExampleSentence, entry.ExampleTranslation, entry.CefrLevel, entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert vocab entry %d: %w", i, err)
		}
	}

	jobIDs := make([]uuid.UUID, 0, len(bundle.MediaSeeds))
	for i, seed := range bundle.MediaSeeds {
		payloadJSON, err := json.Marshal(seed.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal media job payload %d: %w", i, err)
		}
		jobID := uuid.New()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO generation_jobs (id, story_id, job_type, status, retry_count, payload, created_at)
			VALUES ($1, $2, $3, 'pending', 0, $4, $5)
		`, jobID, story.ID, seed.JobType, payloadJSON, time.Now())
		if err != nil {
			return nil, fmt.Errorf("insert media job %d: %w", i, err)
		}
		jobIDs = append(jobIDs, jobID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit story bundle: %w", err)
	}

	log.Info().
		Str("story_id", story.ID.String()).
		Int("pages", len(bundle.Pages)).
		Int("vocab", len(bundle.Vocab)).
		Int("media_jobs", len(jobIDs)).
		Msg("Story bundle persisted")

	return jobIDs, nil
}

// InsertAssetIfAbsent inserts a media asset, idempotent on generating_job_id.
// A second call with the same generating job returns the existing row.
func (r *StoryRepository) InsertAssetIfAbsent(ctx context.Context, asset *models.MediaAsset) (*models.MediaAsset, error) {
	metaJSON, err := json.Marshal(asset.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal asset meta: %w", err)
	}

	query := `
		INSERT INTO media_assets (id, story_id, page_id, kind, uri, format, duration_seconds, meta, generating_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (generating_job_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		asset.ID, asset.StoryID, asset.PageID, asset.Kind, asset.URI, asset.Format,
		asset.DurationSeconds, metaJSON, asset.GeneratingJobID, asset.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return asset, nil
	}

	// Lost the race (or repeat delivery): read back the row that won.
	existing, err := r.GetAssetByGeneratingJob(ctx, asset.GeneratingJobID)
	if err != nil {
		return nil, fmt.Errorf("read back asset for job %s: %w", asset.GeneratingJobID, err)
	}
	return existing, nil
}

// GetAssetByGeneratingJob returns the asset produced by the given job.
func (r *StoryRepository) GetAssetByGeneratingJob(ctx context.Context, jobID uuid.UUID) (*models.MediaAsset, error) {
	query := `
		SELECT id, story_id, page_id, kind, uri, format, duration_seconds, meta, generating_job_id, created_at
		FROM media_assets
		WHERE generating_job_id = $1
	`
	asset := &models.MediaAsset{}
	var metaJSON []byte
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&asset.ID, &asset.StoryID, &asset.PageID, &asset.Kind, &asset.URI, &asset.Format,
		&asset.DurationSeconds, &metaJSON, &asset.GeneratingJobID, &asset.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found")
	}
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &asset.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
	}
	return asset, nil
}

// SetPageAssetRef stores the asset back-reference on a page after a media
// job completes. kind selects the image or audio column.
func (r *StoryRepository) SetPageAssetRef(ctx context.Context, storyID uuid.UUID, pageNumber int, kind string, assetID uuid.UUID) error {
	var column string
	switch kind {
	case models.MediaKindImage:
		column = "image_asset_id"
	case models.MediaKindAudio:
		column = "audio_asset_id"
	default:
		return fmt.Errorf("no page asset column for kind %q", kind)
	}
	query := fmt.Sprintf(`UPDATE story_pages SET %s = $1 WHERE story_id = $2 AND page_number = $3`, column)
	if _, err := r.db.ExecContext(ctx, query, assetID, storyID, pageNumber); err != nil {
		return fmt.Errorf("set page %s: %w", column, err)
	}
	return nil
}

// GetStory retrieves a story by ID.
func (r *StoryRepository) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	query := `
		SELECT id, title_en, title_zh, theme, status, age_range, metadata, created_at, updated_at
		FROM stories WHERE id = $1
	`
	story := &models.Story{}
	var metadataJSON []byte
	err := r.db.QueryRowContext(ctx, query, storyID).Scan(
		&story.ID, &story.TitleEn, &story.TitleZh, &story.Theme, &story.Status,
		&story.AgeRange, &metadataJSON, &story.CreatedAt, &story.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story not found")
	}
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &story.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return story, nil
}

// ListPages retrieves the pages of a story in page order.
func (r *StoryRepository) ListPages(ctx context.Context, storyID uuid.UUID) ([]*models.StoryPage, error) {
	query := `
		SELECT id, story_id, page_number, text_en, text_zh, word_count, image_asset_id, audio_asset_id, created_at
		FROM story_pages
		WHERE story_id = $1
		ORDER BY page_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*models.StoryPage
	for rows.Next() {
		page := &models.StoryPage{}
		err := rows.Scan(
			&page.ID, &page.StoryID, &page.PageNumber, &page.TextEn, &page.TextZh,
			&page.WordCount, &page.ImageAssetID, &page.AudioAssetID, &page.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}
