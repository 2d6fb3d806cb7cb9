package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/assemble"
	"github.com/little-loop/tales/internal/database"
	"github.com/little-loop/tales/internal/failures"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/queue"
	"github.com/rs/zerolog/log"
)

// bundleStore is the transactional write surface of the story repository.
type bundleStore interface {
	PersistBundle(ctx context.Context, bundle *database.StoryBundle) ([]uuid.UUID, error)
}

// failureRecorder receives coordination failures (persistence, queue push).
type failureRecorder interface {
	RecordFailure(ctx context.Context, fctx failures.Context, err error) *models.FailedJob
}

// Coordinator is the sole writer of story/pages/vocab/media-jobs, always
// within one database transaction, and enqueues the created media jobs
// after commit.
type Coordinator struct {
	store           bundleStore
	recorder        failureRecorder
	queue           queue.Queue
	skipPersistence bool
}

// New creates a Coordinator. skipPersistence enables the dev short-circuit:
// synthetic ids, no I/O.
func New(store bundleStore, recorder failureRecorder, q queue.Queue, skipPersistence bool) *Coordinator {
	return &Coordinator{store: store, recorder: recorder, queue: q, skipPersistence: skipPersistence}
}

// Persist commits the story, its pages and vocabulary, and one pending
// image and audio job per page, in one transaction; then pushes the media
// job references to the queue best-effort. Returns the created media job
// ids in page order, image before audio.
func (c *Coordinator) Persist(ctx context.Context, storyRef, theme, ageRange string, story *assemble.Story, translation *assemble.Translation, vocab *assemble.Vocabulary) ([]string, error) {
	if c.skipPersistence {
		return c.syntheticIDs(storyRef, story), nil
	}

	bundle, err := c.buildBundle(storyRef, theme, ageRange, story, translation, vocab)
	if err != nil {
		c.recorder.RecordFailure(ctx, failures.Context{StoryRef: storyRef, Stage: "persistence"}, err)
		return nil, err
	}

	jobIDs, err := c.store.PersistBundle(ctx, bundle)
	if err != nil {
		c.recorder.RecordFailure(ctx, failures.Context{StoryRef: storyRef, Stage: "persistence"}, err)
		return nil, fmt.Errorf("persist story bundle: %w", err)
	}

	ids := make([]string, len(jobIDs))
	envelopes := make([]queue.Envelope, len(jobIDs))
	for i, id := range jobIDs {
		ids[i] = id.String()
		envelopes[i] = queue.NewEnvelope(id.String())
	}

	// The jobs are durably pending; a push failure is recorded for operator
	// re-enqueue, never rolled back.
	if err := c.queue.Push(ctx, envelopes...); err != nil {
		c.recorder.RecordFailure(ctx, failures.Context{
			StoryRef: bundle.Story.ID.String(),
			Stage:    "upstash_push",
			Extra:    map[string]any{"pushedJobCount": len(envelopes)},
		}, err)
		log.Error().
			Err(err).
			Str("story_id", bundle.Story.ID.String()).
			Int("jobs", len(envelopes)).
			Msg("Queue push failed after commit; jobs remain pending")
	}

	return ids, nil
}

// buildBundle derives the canonical story id and assembles all rows.
func (c *Coordinator) buildBundle(storyRef, theme, ageRange string, story *assemble.Story, translation *assemble.Translation, vocab *assemble.Vocabulary) (*database.StoryBundle, error) {
	now := time.Now()

	metadata := map[string]any{
		"synopsisEn": story.SynopsisEn,
		"synopsisZh": translation.SynopsisZh,
	}

	storyID, err := uuid.Parse(storyRef)
	if err != nil {
		storyID = uuid.New()
		metadata["originalStoryId"] = storyRef
	}

	titleZh := translation.TitleZh
	if titleZh == "" {
		titleZh = story.TitleEn
	}
	if ageRange == "" {
		ageRange = "0-6"
	}

	bundle := &database.StoryBundle{
		Story: &models.Story{
			ID:        storyID,
			TitleEn:   sanitize(story.TitleEn),
			TitleZh:   sanitize(titleZh),
			Theme:     theme,
			Status:    models.StoryStatusProcessing,
			AgeRange:  ageRange,
			Metadata:  metadata,
			CreatedAt: now,
		},
	}

	zhByPage := make(map[int]assemble.TranslationPage, len(translation.Pages))
	for _, p := range translation.Pages {
		zhByPage[p.PageNumber] = p
	}

	for _, page := range story.Pages {
		textEn := sanitize(page.TextEn)
		textZh := sanitize(zhByPage[page.PageNumber].TextZh)
		bundle.Pages = append(bundle.Pages, &models.StoryPage{
			ID:         uuid.New(),
			StoryID:    storyID,
			PageNumber: page.PageNumber,
			TextEn:     textEn,
			TextZh:     textZh,
			WordCount:  len(strings.Fields(textEn)),
			CreatedAt:  now,
		})

		bundle.MediaSeeds = append(bundle.MediaSeeds,
			database.MediaJobSeed{
				JobType: models.JobTypeImage,
				Payload: map[string]any{
					"type":       models.JobTypeImage,
					"storyId":    storyID.String(),
					"pageNumber": page.PageNumber,
					"textEn":     textEn,
					"summaryEn":  page.SummaryEn,
					"theme":      theme,
				},
			},
			database.MediaJobSeed{
				JobType: models.JobTypeAudio,
				Payload: map[string]any{
					"type":       models.JobTypeAudio,
					"storyId":    storyID.String(),
					"pageNumber": page.PageNumber,
					"textEn":     textEn,
					"textZh":     textZh,
				},
			},
		)
	}

	for _, entry := range vocab.Entries {
		var cefr *string
		if entry.CefrLevel != "" {
			level := entry.CefrLevel
			cefr = &level
		}
		bundle.Vocab = append(bundle.Vocab, &models.VocabEntry{
			ID:                 uuid.New(),
			StoryID:            storyID,
			Word:               sanitize(entry.Word),
			PartOfSpeech:       entry.PartOfSpeech,
			DefinitionEn:       sanitize(entry.DefinitionEn),
			DefinitionZh:       sanitize(entry.DefinitionZh),
			ExampleSentence:    sanitize(entry.ExampleSentence),
			ExampleTranslation: sanitize(entry.ExampleTranslation),
			CefrLevel:          cefr,
			CreatedAt:          now,
		})
	}

	return bundle, nil
}

// syntheticIDs is the SKIP_PERSISTENCE short-circuit: no I/O, deterministic
// ids in page order, image before audio.
func (c *Coordinator) syntheticIDs(storyRef string, story *assemble.Story) []string {
	ids := make([]string, 0, 2*len(story.Pages))
	for _, page := range story.Pages {
		ids = append(ids,
			fmt.Sprintf("%s-image-%d", storyRef, page.PageNumber),
			fmt.Sprintf("%s-audio-%d", storyRef, page.PageNumber),
		)
	}
	log.Info().Str("story_ref", storyRef).Int("jobs", len(ids)).Msg("SKIP_PERSISTENCE set, returning synthetic job ids")
	return ids
}

// sanitize ensures PostgreSQL never sees invalid byte sequences.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
