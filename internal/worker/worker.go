package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/little-loop/tales/internal/assemble"
	"github.com/little-loop/tales/internal/failures"
	"github.com/little-loop/tales/internal/media"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/orchestrator"
	"github.com/little-loop/tales/internal/prompts"
	"github.com/little-loop/tales/internal/queue"
	"github.com/little-loop/tales/internal/storage"
	"github.com/rs/zerolog/log"
)

// JobStore is the worker's surface of the job repository. Claim is the sole
// concurrency primitive: exactly one worker observes the pending->processing
// transition.
type JobStore interface {
	Claim(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	Complete(ctx context.Context, jobID uuid.UUID, resultURI string) error
	Fail(ctx context.Context, jobID uuid.UUID, reason string) error
	IncrementRetry(ctx context.Context, jobID uuid.UUID) (int, error)
}

// AssetStore persists produced media assets.
type AssetStore interface {
	InsertAssetIfAbsent(ctx context.Context, asset *models.MediaAsset) (*models.MediaAsset, error)
	SetPageAssetRef(ctx context.Context, storyID uuid.UUID, pageNumber int, kind string, assetID uuid.UUID) error
}

// TextPipeline runs the three text stages.
type TextPipeline interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Persister commits the text pipeline output and enqueues media jobs.
type Persister interface {
	Persist(ctx context.Context, storyRef, theme, ageRange string, story *assemble.Story, translation *assemble.Translation, vocab *assemble.Vocabulary) ([]string, error)
}

// MediaGenerator produces page illustrations and narration audio.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, in media.ImageInput) (*media.Artifact, error)
	GenerateAudio(ctx context.Context, in media.AudioInput) (*media.Artifact, error)
}

// VideoComposer assembles a story video from per-page assets.
type VideoComposer interface {
	Compose(ctx context.Context, in media.VideoInput) (string, error)
}

// FailureRecorder records permanent failures.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, fctx failures.Context, err error) *models.FailedJob
}

// Options bound the worker's concurrency and retry behavior.
type Options struct {
	Concurrency int
	PollTimeout time.Duration
	PollDelay   time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// Worker polls the queue, atomically claims jobs, routes them to stage
// handlers, and enforces the retry/permanence policy. The poll loop is
// single-threaded and only dispatches; handlers run concurrently up to the
// configured cap.
type Worker struct {
	store    JobStore
	assets   AssetStore
	queue    queue.Queue
	pipeline TextPipeline
	persist  Persister
	media    MediaGenerator
	video    VideoComposer
	uploader storage.Uploader
	recorder FailureRecorder
	opts     Options

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a Worker.
func New(store JobStore, assets AssetStore, q queue.Queue, pipeline TextPipeline, persist Persister, mediaGen MediaGenerator, video VideoComposer, uploader storage.Uploader, recorder FailureRecorder, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.PollDelay <= 0 {
		opts.PollDelay = 500 * time.Millisecond
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	return &Worker{
		store:    store,
		assets:   assets,
		queue:    q,
		pipeline: pipeline,
		persist:  persist,
		media:    mediaGen,
		video:    video,
		uploader: uploader,
		recorder: recorder,
		opts:     opts,
		running:  make(map[string]struct{}),
	}
}

// Run polls until the context is cancelled. It blocks the calling
// goroutine; in-flight handlers are awaited via Wait.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Int("concurrency", w.opts.Concurrency).
		Dur("poll_timeout", w.opts.PollTimeout).
		Int("max_retries", w.opts.MaxRetries).
		Msg("Worker started, polling for job messages")

	popFailures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Hold the poll while at capacity so a popped message is never
		// dropped on the floor.
		if !w.waitForCapacity(ctx) {
			return nil
		}

		env, err := w.queue.Pop(ctx, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Back off exponentially on consecutive broker errors so a
			// down broker is not hammered.
			delay := w.opts.BackoffBase * time.Duration(1<<uint(min(popFailures, 6)))
			popFailures++
			log.Warn().Err(err).Dur("delay", delay).Msg("Queue pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		popFailures = 0
		if env == nil {
			// Idle: nothing arrived within the poll timeout.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.opts.PollDelay):
			}
			continue
		}

		if !w.tryAcquire(env.JobID) {
			// Already in flight in this process; the claim CAS makes the
			// duplicate harmless, skip it early.
			log.Info().Str("job_id", env.JobID).Msg("Job already being handled, skipping duplicate message")
			continue
		}

		w.wg.Add(1)
		go func(jobID string) {
			defer w.wg.Done()
			defer w.release(jobID)
			w.handle(ctx, jobID)
		}(env.JobID)
	}
}

// Wait blocks until in-flight handlers finish or the timeout elapses.
func (w *Worker) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("All handlers finished")
	case <-time.After(timeout):
		log.Warn().Msg("Shutdown timeout, abandoning in-flight handlers")
	}
}

func (w *Worker) waitForCapacity(ctx context.Context) bool {
	for {
		w.mu.Lock()
		inFlight := len(w.running)
		w.mu.Unlock()
		if inFlight < w.opts.Concurrency {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (w *Worker) tryAcquire(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.running[jobID]; ok {
		return false
	}
	w.running[jobID] = struct{}{}
	return true
}

func (w *Worker) release(jobID string) {
	w.mu.Lock()
	delete(w.running, jobID)
	w.mu.Unlock()
}

// handle claims and executes one job.
func (w *Worker) handle(ctx context.Context, rawID string) {
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		log.Warn().Str("job_id", rawID).Msg("Queue message carries a non-UUID job id, dropping")
		return
	}

	job, err := w.store.Claim(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", rawID).Msg("Claim failed")
		return
	}
	if job == nil {
		// Another worker took it, or the message is stale. Not an error.
		log.Info().Str("job_id", rawID).Msg("Claim miss, job not pending")
		return
	}

	if job.JobType == "" || job.Payload == nil {
		log.Error().Str("job_id", rawID).Msg("Claimed job row has invalid shape")
		if err := w.store.Fail(ctx, jobID, "invalid_job_row_shape"); err != nil {
			log.Error().Err(err).Str("job_id", rawID).Msg("Failed to mark malformed job failed")
		}
		return
	}

	log.Info().
		Str("job_id", rawID).
		Str("job_type", job.JobType).
		Int("retry_count", job.RetryCount).
		Msg("Job claimed")

	var handleErr error
	switch job.JobType {
	case models.JobTypeStoryScript:
		handleErr = w.handleStoryScript(ctx, job)
	case models.JobTypeImage:
		handleErr = w.handleImage(ctx, job)
	case models.JobTypeAudio:
		handleErr = w.handleAudio(ctx, job)
	case models.JobTypeVideo:
		handleErr = w.handleVideo(ctx, job)
	default:
		reason := fmt.Sprintf("unknown job type: %s", job.JobType)
		if err := w.store.Fail(ctx, jobID, reason); err != nil {
			log.Error().Err(err).Str("job_id", rawID).Msg("Failed to mark job failed")
		}
		w.recorder.RecordFailure(ctx, failures.Context{
			JobID:   &job.ID,
			Stage:   "routing",
			Attempt: job.RetryCount,
		}, fmt.Errorf("%s", reason))
		return
	}

	if handleErr != nil {
		w.jobFailed(ctx, job, handleErr)
		return
	}

	log.Info().Str("job_id", rawID).Str("job_type", job.JobType).Msg("Job completed")
}

// handleStoryScript runs the text pipeline and persists the bundle.
func (w *Worker) handleStoryScript(ctx context.Context, job *models.GenerationJob) error {
	storyRef := payloadString(job.Payload, "storyId")
	theme := payloadString(job.Payload, "theme")
	if theme == "" {
		return fmt.Errorf("story_script payload missing theme")
	}
	if storyRef == "" {
		storyRef = job.ID.String()
	}

	result, err := w.pipeline.Run(ctx, orchestrator.Request{
		StoryID:  storyRef,
		Theme:    theme,
		Tone:     payloadString(job.Payload, "tone"),
		AgeRange: payloadString(job.Payload, "ageRange"),
		Attempt:  job.RetryCount,
	})
	if err != nil {
		return err
	}

	mediaJobIDs, err := w.persist.Persist(ctx, storyRef, theme, payloadString(job.Payload, "ageRange"),
		result.Story, result.Translation, result.Vocabulary)
	if err != nil {
		return err
	}

	log.Info().
		Str("story_ref", storyRef).
		Int("media_jobs", len(mediaJobIDs)).
		Msg("Story persisted, media jobs enqueued")

	return w.store.Complete(ctx, job.ID, "story://"+storyRef)
}

// handleImage generates one page illustration and records the asset.
func (w *Worker) handleImage(ctx context.Context, job *models.GenerationJob) error {
	pageNumber := payloadInt(job.Payload, "pageNumber")
	scene := payloadString(job.Payload, "summaryEn")
	if scene == "" {
		scene = payloadString(job.Payload, "textEn")
	}
	prompt := prompts.ImagePrompt(payloadString(job.Payload, "theme"), scene)

	artifact, err := w.media.GenerateImage(ctx, media.ImageInput{Prompt: prompt, Size: "1024x1024"})
	if err != nil {
		return err
	}

	uri, err := w.resolveArtifactURI(ctx, job, artifact, fmt.Sprintf("pages/%d/image.%s", pageNumber, artifact.Format))
	if err != nil {
		return err
	}

	if err := w.recordAsset(ctx, job, models.MediaKindImage, uri, artifact, pageNumber); err != nil {
		return err
	}
	return w.store.Complete(ctx, job.ID, uri)
}

// handleAudio narrates one page and records the asset.
func (w *Worker) handleAudio(ctx context.Context, job *models.GenerationJob) error {
	pageNumber := payloadInt(job.Payload, "pageNumber")
	text := payloadString(job.Payload, "textZh")
	if text == "" {
		text = payloadString(job.Payload, "textEn")
	}

	artifact, err := w.media.GenerateAudio(ctx, media.AudioInput{Text: text})
	if err != nil {
		return err
	}

	uri, err := w.resolveArtifactURI(ctx, job, artifact, fmt.Sprintf("pages/%d/audio.%s", pageNumber, artifact.Format))
	if err != nil {
		return err
	}

	if err := w.recordAsset(ctx, job, models.MediaKindAudio, uri, artifact, pageNumber); err != nil {
		return err
	}
	return w.store.Complete(ctx, job.ID, uri)
}

// handleVideo composes the story video, uploads it and records the asset.
func (w *Worker) handleVideo(ctx context.Context, job *models.GenerationJob) error {
	imageURIs := payloadStringSlice(job.Payload, "imageUris")
	if len(imageURIs) == 0 {
		return fmt.Errorf("video payload missing imageUris")
	}

	localPath, err := w.video.Compose(ctx, media.VideoInput{
		ImageURIs:        imageURIs,
		AudioURI:         payloadString(job.Payload, "audioUri"),
		PerPageDurations: payloadFloatSlice(job.Payload, "perPageDurations"),
		Format:           payloadString(job.Payload, "format"),
		FPS:              payloadInt(job.Payload, "fps"),
	})
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open composed video: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat composed video: %w", err)
	}

	key := w.assetKey(job, "video/story.mp4")
	uri, err := w.uploader.Upload(ctx, key, f, "video/mp4", info.Size())
	if err != nil {
		return fmt.Errorf("upload composed video: %w", err)
	}

	artifact := &media.Artifact{Format: "mp4", MimeType: "video/mp4"}
	if err := w.recordAsset(ctx, job, models.MediaKindVideo, uri, artifact, 0); err != nil {
		return err
	}
	return w.store.Complete(ctx, job.ID, uri)
}

// resolveArtifactURI uploads artifact content when present, or returns the
// provider/placeholder URI as-is.
func (w *Worker) resolveArtifactURI(ctx context.Context, job *models.GenerationJob, artifact *media.Artifact, suffix string) (string, error) {
	if artifact.Data == nil {
		if artifact.URI == "" {
			return "", fmt.Errorf("media artifact has neither content nor URI")
		}
		return artifact.URI, nil
	}
	uri, err := w.uploader.Upload(ctx, w.assetKey(job, suffix), artifact.Data, artifact.MimeType, artifact.Size)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return uri, nil
}

func (w *Worker) assetKey(job *models.GenerationJob, suffix string) string {
	scope := job.ID.String()
	if job.StoryID != nil {
		scope = job.StoryID.String()
	}
	return fmt.Sprintf("stories/%s/%s", scope, suffix)
}

// recordAsset inserts the asset idempotently and back-references it from
// the page.
func (w *Worker) recordAsset(ctx context.Context, job *models.GenerationJob, kind, uri string, artifact *media.Artifact, pageNumber int) error {
	if job.StoryID == nil {
		return fmt.Errorf("%s job %s has no story reference", kind, job.ID)
	}

	asset := &models.MediaAsset{
		ID:              uuid.New(),
		StoryID:         *job.StoryID,
		Kind:            kind,
		URI:             uri,
		Format:          artifact.Format,
		Meta:            artifact.Meta,
		GeneratingJobID: job.ID,
		CreatedAt:       time.Now(),
	}
	if artifact.Duration > 0 {
		duration := artifact.Duration
		asset.DurationSeconds = &duration
	}

	inserted, err := w.assets.InsertAssetIfAbsent(ctx, asset)
	if err != nil {
		return fmt.Errorf("record %s asset: %w", kind, err)
	}

	if pageNumber > 0 && (kind == models.MediaKindImage || kind == models.MediaKindAudio) {
		if err := w.assets.SetPageAssetRef(ctx, *job.StoryID, pageNumber, kind, inserted.ID); err != nil {
			log.Warn().Err(err).
				Str("story_id", job.StoryID.String()).
				Int("page", pageNumber).
				Msg("Failed to back-reference asset on page")
		}
	}
	return nil
}

// jobFailed applies the retry/permanence policy. Retriable failures below
// the ceiling stay visible as temporary_error for operator requeue;
// everything else becomes permanent_error and reaches the failure recorder
// exactly once.
func (w *Worker) jobFailed(ctx context.Context, job *models.GenerationJob, cause error) {
	attempt, err := w.store.IncrementRetry(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to increment retry count")
		attempt = job.RetryCount + 1
	}

	if failures.Retriable(cause) && attempt < w.opts.MaxRetries {
		log.Warn().
			Err(cause).
			Str("job_id", job.ID.String()).
			Int("attempt", attempt).
			Int("max_retries", w.opts.MaxRetries).
			Msg("Job failed, eligible for requeue")
		if err := w.store.Fail(ctx, job.ID, fmt.Sprintf("temporary_error:%s", cause.Error())); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job failed")
		}
		return
	}

	if err := w.store.Fail(ctx, job.ID, fmt.Sprintf("permanent_error:%s", cause.Error())); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job failed")
	}
	w.recorder.RecordFailure(ctx, failures.Context{
		JobID:    &job.ID,
		StoryRef: payloadString(job.Payload, "storyId"),
		Stage:    job.JobType,
		Attempt:  attempt,
	}, cause)
}

// Payload accessors: JSON round-tripping leaves numbers as float64 and
// arrays as []any.

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func payloadStringSlice(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func payloadFloatSlice(payload map[string]any, key string) []float64 {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		}
	}
	return out
}
