package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/failures"
	"github.com/little-loop/tales/internal/models"
)

// scriptedChat returns canned results in order.
type scriptedChat struct {
	results []*ai.Result
	errs    []error
	calls   int
}

func (s *scriptedChat) CreateChatCompletion(ctx context.Context, params ai.Params) (*ai.Result, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.results) {
		return nil, fmt.Errorf("unexpected call %d", i)
	}
	return s.results[i], nil
}

// capturingRecorder remembers recorded failures.
type capturingRecorder struct {
	contexts []failures.Context
}

func (r *capturingRecorder) RecordFailure(ctx context.Context, fctx failures.Context, err error) *models.FailedJob {
	r.contexts = append(r.contexts, fctx)
	return &models.FailedJob{}
}

func storyResult(t *testing.T) *ai.Result {
	t.Helper()
	pages := make([]map[string]any, 10)
	for i := range pages {
		pages[i] = map[string]any{
			"page_number": i + 1,
			"text_en":     fmt.Sprintf("A little cloud floats by on page %d.", i+1),
			"summary_en":  fmt.Sprintf("Cloud scene %d", i+1),
		}
	}
	return jsonResult(t, map[string]any{
		"title_en":    "The Friendly Cloud",
		"synopsis_en": "A cloud finds friends.",
		"pages":       pages,
	}, 120)
}

func translationResult(t *testing.T) *ai.Result {
	t.Helper()
	pages := make([]map[string]any, 10)
	for i := range pages {
		pages[i] = map[string]any{
			"page_number": i + 1,
			"text_zh":     fmt.Sprintf("第%d页：小云朵飘过。", i+1),
			"notes_zh":    "",
		}
	}
	return jsonResult(t, map[string]any{
		"title_zh":    "友好的云",
		"synopsis_zh": "一朵云找到了朋友。",
		"pages":       pages,
	}, 90)
}

func vocabularyResult(t *testing.T) *ai.Result {
	t.Helper()
	entries := make([]map[string]any, 10)
	for i := range entries {
		entries[i] = map[string]any{
			"word":                fmt.Sprintf("cloud%d", i+1),
			"part_of_speech":      "noun",
			"definition_en":       "a white shape in the sky",
			"definition_zh":       "天空中的白色形状",
			"example_sentence":    "The cloud is soft.",
			"example_translation": "云朵很柔软。",
			"cefr_level":          "A1",
		}
	}
	return jsonResult(t, map[string]any{"entries": entries}, 60)
}

func jsonResult(t *testing.T, payload any, tokens int) *ai.Result {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	return &ai.Result{
		Data:  data,
		Usage: ai.Usage{PromptTokens: tokens / 2, CompletionTokens: tokens / 2, TotalTokens: tokens},
	}
}

// TestRun_FullTextPipeline drives all three stages against valid stubbed
// payloads.
func TestRun_FullTextPipeline(t *testing.T) {
	chat := &scriptedChat{results: []*ai.Result{storyResult(t), translationResult(t), vocabularyResult(t)}}
	rec := &capturingRecorder{}
	orch := New(chat, rec)

	result, err := orch.Run(context.Background(), Request{
		StoryID:  "test-story-1",
		Theme:    "friendly cloud",
		Tone:     "warm",
		AgeRange: "0-6",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if chat.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", chat.calls)
	}
	if len(result.Story.Pages) != 10 {
		t.Errorf("story pages %d", len(result.Story.Pages))
	}
	if len(result.Translation.Pages) != 10 {
		t.Errorf("translation pages %d", len(result.Translation.Pages))
	}
	if len(result.Vocabulary.Entries) != 10 {
		t.Errorf("vocab entries %d", len(result.Vocabulary.Entries))
	}
	if result.Usages.Story.TotalTokens <= 0 ||
		result.Usages.Translation.TotalTokens <= 0 ||
		result.Usages.Vocabulary.TotalTokens <= 0 {
		t.Errorf("usages %+v", result.Usages)
	}
	if len(rec.contexts) != 0 {
		t.Errorf("no failures expected, recorded %d", len(rec.contexts))
	}
}

// TestRun_StageFailureRecordedOnce asserts a failing stage reaches the
// recorder exactly once with its stage name, and the error propagates.
func TestRun_StageFailureRecordedOnce(t *testing.T) {
	providerErr := &ai.ProviderError{StatusCode: 503, Body: "overloaded"}
	chat := &scriptedChat{
		results: []*ai.Result{storyResult(t)},
		errs:    []error{nil, providerErr},
	}
	rec := &capturingRecorder{}
	orch := New(chat, rec)

	_, err := orch.Run(context.Background(), Request{StoryID: "s1", Theme: "cloud", Attempt: 2})
	if err == nil {
		t.Fatal("expected error from translation stage")
	}
	if chat.calls != 2 {
		t.Errorf("expected pipeline to stop at failing stage, got %d calls", chat.calls)
	}
	if len(rec.contexts) != 1 {
		t.Fatalf("expected exactly one recorded failure, got %d", len(rec.contexts))
	}
	if rec.contexts[0].Stage != "translation" {
		t.Errorf("stage %q", rec.contexts[0].Stage)
	}
	if rec.contexts[0].Attempt != 2 {
		t.Errorf("attempt %d", rec.contexts[0].Attempt)
	}
}

// TestRun_ValidationFailure asserts an invalid story payload fails the
// story stage before any later calls.
func TestRun_ValidationFailure(t *testing.T) {
	short := jsonResult(t, map[string]any{
		"title_en":    "Too Short",
		"synopsis_en": "Not enough pages.",
		"pages": []map[string]any{
			{"page_number": 1, "text_en": "only page", "summary_en": ""},
		},
	}, 10)
	chat := &scriptedChat{results: []*ai.Result{short}}
	rec := &capturingRecorder{}
	orch := New(chat, rec)

	_, err := orch.Run(context.Background(), Request{StoryID: "s2", Theme: "cloud"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if chat.calls != 1 {
		t.Errorf("expected 1 call, got %d", chat.calls)
	}
	if len(rec.contexts) != 1 || rec.contexts[0].Stage != "story" {
		t.Errorf("recorded %+v", rec.contexts)
	}
}
