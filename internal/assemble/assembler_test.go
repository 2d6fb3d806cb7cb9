package assemble

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func validStoryPayload() map[string]any {
	pages := make([]any, 10)
	for i := range pages {
		pages[i] = map[string]any{
			"page_number": i + 1,
			"text_en":     fmt.Sprintf("Page %d text about a friendly dragon.", i+1),
			"summary_en":  fmt.Sprintf("Scene %d", i+1),
		}
	}
	return map[string]any{
		"title_en":    "The Friendly Dragon",
		"synopsis_en": "A dragon makes friends.",
		"pages":       pages,
	}
}

func validVocabularyPayload() map[string]any {
	entries := make([]any, 10)
	for i := range entries {
		entries[i] = map[string]any{
			"word":                fmt.Sprintf("word%d", i+1),
			"part_of_speech":      "noun",
			"definition_en":       "a thing",
			"definition_zh":       "东西",
			"example_sentence":    "This is a word.",
			"example_translation": "这是一个词。",
			"cefr_level":          "A1",
		}
	}
	return map[string]any{"entries": entries}
}

// TestAssembleStory_Idempotent asserts that assembling the same structured
// payload twice yields byte-identical records.
func TestAssembleStory_Idempotent(t *testing.T) {
	payload := validStoryPayload()

	first, err := AssembleStory(payload)
	if err != nil {
		t.Fatalf("AssembleStory: %v", err)
	}
	second, err := AssembleStory(payload)
	if err != nil {
		t.Fatalf("AssembleStory (second): %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("repeated assembly differs:\n%s\n%s", a, b)
	}
	if len(first.Pages) != 10 {
		t.Errorf("expected 10 pages, got %d", len(first.Pages))
	}
	if first.Pages[0].TextEn == "" {
		t.Error("expected non-empty page text")
	}
}

// TestAssembleStory_FencedJSON asserts the decoder strips markdown fences.
func TestAssembleStory_FencedJSON(t *testing.T) {
	raw, err := json.Marshal(validStoryPayload())
	if err != nil {
		t.Fatal(err)
	}

	fenced := "```json\n" + string(raw) + "\n```"
	story, err := AssembleStory(fenced)
	if err != nil {
		t.Fatalf("AssembleStory(fenced): %v", err)
	}
	if story.TitleEn != "The Friendly Dragon" {
		t.Errorf("title %q", story.TitleEn)
	}
}

// TestAssembleStory_TrailingComma asserts a single trailing comma before
// the closing brace is repaired.
func TestAssembleStory_TrailingComma(t *testing.T) {
	raw, err := json.Marshal(validStoryPayload())
	if err != nil {
		t.Fatal(err)
	}
	broken := strings.TrimSuffix(string(raw), "}") + ",}"

	story, err := AssembleStory(broken)
	if err != nil {
		t.Fatalf("AssembleStory(trailing comma): %v", err)
	}
	if len(story.Pages) != 10 {
		t.Errorf("expected 10 pages, got %d", len(story.Pages))
	}
}

// TestAssembleStory_SurroundingProse asserts the balanced-object scan
// recovers JSON embedded in commentary.
func TestAssembleStory_SurroundingProse(t *testing.T) {
	raw, err := json.Marshal(validStoryPayload())
	if err != nil {
		t.Fatal(err)
	}
	noisy := "Here is your story!\n" + string(raw) + "\nHope you like it."

	story, err := AssembleStory(noisy)
	if err != nil {
		t.Fatalf("AssembleStory(prose): %v", err)
	}
	if story.SynopsisEn == "" {
		t.Error("expected synopsis to survive recovery")
	}
}

func TestAssembleStory_WrongPageCount(t *testing.T) {
	for _, count := range []int{0, 9, 11} {
		payload := validStoryPayload()
		pages := payload["pages"].([]any)
		if count < len(pages) {
			payload["pages"] = pages[:count]
		} else {
			payload["pages"] = append(pages, map[string]any{"page_number": 11, "text_en": "extra", "summary_en": ""})
		}
		if _, err := AssembleStory(payload); err == nil {
			t.Errorf("expected validation error for %d pages", count)
		}
	}
}

func TestAssembleStory_ModelDeclaredFailure(t *testing.T) {
	_, err := AssembleStory(`{"error":"unable_to_produce_json"}`)
	if err == nil {
		t.Fatal("expected error for declared failure sentinel")
	}
	if !strings.Contains(err.Error(), "unable_to_produce_json") {
		t.Errorf("error %q should carry the sentinel", err)
	}
}

func TestAssembleTranslation_EmptyPageText(t *testing.T) {
	payload := map[string]any{
		"title_zh":    "友好的龙",
		"synopsis_zh": "一条龙交朋友。",
		"pages": []any{
			map[string]any{"page_number": 1, "text_zh": "第一页。", "notes_zh": ""},
			map[string]any{"page_number": 2, "text_zh": "", "notes_zh": ""},
		},
	}
	if _, err := AssembleTranslation(payload); err == nil {
		t.Fatal("expected validation error for empty text_zh")
	}
}

func TestAssembleTranslation_LengthNotPinned(t *testing.T) {
	payload := map[string]any{
		"title_zh": "友好的龙",
		"pages": []any{
			map[string]any{"page_number": 1, "text_zh": "第一页。"},
			map[string]any{"page_number": 2, "text_zh": "第二页。"},
		},
	}
	tr, err := AssembleTranslation(payload)
	if err != nil {
		t.Fatalf("AssembleTranslation: %v", err)
	}
	if len(tr.Pages) != 2 {
		t.Errorf("expected 2 pages, got %d", len(tr.Pages))
	}
	if tr.Pages[1].TextZh != "第二页。" {
		t.Errorf("page 2 text %q", tr.Pages[1].TextZh)
	}
}

func TestAssembleVocabulary_WrongEntryCount(t *testing.T) {
	payload := validVocabularyPayload()
	payload["entries"] = payload["entries"].([]any)[:9]
	if _, err := AssembleVocabulary(payload); err == nil {
		t.Fatal("expected validation error for 9 entries")
	}
}

// TestAssembleVocabulary_BareArray asserts that a payload consisting of
// only the entries array is wrapped and accepted.
func TestAssembleVocabulary_BareArray(t *testing.T) {
	entries := validVocabularyPayload()["entries"]
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}

	vocab, err := AssembleVocabulary(string(raw))
	if err != nil {
		t.Fatalf("AssembleVocabulary(bare array): %v", err)
	}
	if len(vocab.Entries) != 10 {
		t.Errorf("expected 10 entries, got %d", len(vocab.Entries))
	}
	if vocab.Entries[0].Word != "word1" {
		t.Errorf("first word %q", vocab.Entries[0].Word)
	}
}

func TestDecode_PassThrough(t *testing.T) {
	in := map[string]any{"a": float64(1)}
	out, err := Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("structured value should pass through unchanged")
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode("not json at all"); err == nil {
		t.Fatal("expected error for undecodable payload")
	}
}
