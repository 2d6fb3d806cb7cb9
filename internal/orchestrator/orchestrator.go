package orchestrator

import (
	"context"
	"fmt"

	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/assemble"
	"github.com/little-loop/tales/internal/failures"
	"github.com/little-loop/tales/internal/models"
	"github.com/little-loop/tales/internal/prompts"
	"github.com/rs/zerolog/log"
)

// Stage temperatures: creative writing runs hot, translation and
// vocabulary extraction run near-deterministic.
const (
	storyTemperature       = 0.8
	translationTemperature = 0.2
	vocabularyTemperature  = 0.2
)

// ChatClient is the AI adapter surface the orchestrator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, params ai.Params) (*ai.Result, error)
}

// FailureRecorder receives stage failures before they are re-raised.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, fctx failures.Context, err error) *models.FailedJob
}

// Request describes one story to generate.
type Request struct {
	StoryID  string
	Theme    string
	Tone     string
	AgeRange string
	Attempt  int
}

// Usages aggregates per-stage token usage.
type Usages struct {
	Story       ai.Usage `json:"story"`
	Translation ai.Usage `json:"translation"`
	Vocabulary  ai.Usage `json:"vocabulary"`
}

// Result is the validated output of the three text stages.
type Result struct {
	Story       *assemble.Story
	Translation *assemble.Translation
	Vocabulary  *assemble.Vocabulary
	Usages      Usages
}

// Orchestrator sequences script, translation and vocabulary for one story
// request. It performs no database writes; persistence belongs to the
// coordinator.
type Orchestrator struct {
	ai       ChatClient
	recorder FailureRecorder
}

// New creates an Orchestrator.
func New(chat ChatClient, recorder FailureRecorder) *Orchestrator {
	return &Orchestrator{ai: chat, recorder: recorder}
}

// Run executes the three stages in order. A stage error is surfaced to the
// failure recorder with its stage context and then returned so the worker
// applies its retry/permanence policy. Stages that already succeeded are
// not re-run within this call.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}

	log.Info().
		Str("story_id", req.StoryID).
		Str("theme", req.Theme).
		Msg("Starting text pipeline")

	story, usage, err := o.runStoryStage(ctx, req)
	if err != nil {
		return nil, o.stageFailed(ctx, req, "story", err)
	}
	result.Story = story
	result.Usages.Story = usage

	translation, usage, err := o.runTranslationStage(ctx, story)
	if err != nil {
		return nil, o.stageFailed(ctx, req, "translation", err)
	}
	result.Translation = translation
	result.Usages.Translation = usage

	vocabulary, usage, err := o.runVocabularyStage(ctx, story, translation)
	if err != nil {
		return nil, o.stageFailed(ctx, req, "vocabulary", err)
	}
	result.Vocabulary = vocabulary
	result.Usages.Vocabulary = usage

	log.Info().
		Str("story_id", req.StoryID).
		Int("total_tokens", result.Usages.Story.TotalTokens+result.Usages.Translation.TotalTokens+result.Usages.Vocabulary.TotalTokens).
		Msg("Text pipeline complete")

	return result, nil
}

func (o *Orchestrator) runStoryStage(ctx context.Context, req Request) (*assemble.Story, ai.Usage, error) {
	res, err := o.ai.CreateChatCompletion(ctx, ai.Params{
		Messages:    prompts.StoryMessages(req.Theme, req.Tone, req.AgeRange),
		Temperature: storyTemperature,
	})
	if err != nil {
		return nil, ai.Usage{}, err
	}
	story, err := assemble.AssembleStory(res.Data)
	if err != nil {
		return nil, ai.Usage{}, err
	}
	return story, res.Usage, nil
}

func (o *Orchestrator) runTranslationStage(ctx context.Context, story *assemble.Story) (*assemble.Translation, ai.Usage, error) {
	res, err := o.ai.CreateChatCompletion(ctx, ai.Params{
		Messages:    prompts.TranslationMessages(story),
		Temperature: translationTemperature,
	})
	if err != nil {
		return nil, ai.Usage{}, err
	}
	translation, err := assemble.AssembleTranslation(res.Data)
	if err != nil {
		return nil, ai.Usage{}, err
	}
	return translation, res.Usage, nil
}

func (o *Orchestrator) runVocabularyStage(ctx context.Context, story *assemble.Story, translation *assemble.Translation) (*assemble.Vocabulary, ai.Usage, error) {
	res, err := o.ai.CreateChatCompletion(ctx, ai.Params{
		Messages:    prompts.VocabularyMessages(story, translation),
		Temperature: vocabularyTemperature,
	})
	if err != nil {
		return nil, ai.Usage{}, err
	}
	vocabulary, err := assemble.AssembleVocabulary(res.Data)
	if err != nil {
		return nil, ai.Usage{}, err
	}
	return vocabulary, res.Usage, nil
}

// stageFailed records the failure with its stage context and returns the
// error wrapped with the stage name, preserving the cause for the worker's
// classification.
func (o *Orchestrator) stageFailed(ctx context.Context, req Request, stage string, err error) error {
	if o.recorder != nil {
		o.recorder.RecordFailure(ctx, failures.Context{
			StoryRef: req.StoryID,
			Stage:    stage,
			Attempt:  req.Attempt,
		}, err)
	}
	return fmt.Errorf("%s stage: %w", stage, err)
}
