package prompts

import (
	"strings"
	"testing"

	"github.com/little-loop/tales/internal/assemble"
)

func TestStoryMessages_Shape(t *testing.T) {
	msgs := StoryMessages("a friendly dragon", "", "")
	if len(msgs) != 2 {
		t.Fatalf("expected {system, user}, got %d messages", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("roles %q, %q", msgs[0].Role, msgs[1].Role)
	}

	system := msgs[0].Content
	for _, want := range []string{
		"title_en", "synopsis_en", "pages", "page_number", "text_en", "summary_en",
		"exactly 10", `{"error":"unable_to_produce_json"}`,
		"non-violent",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(msgs[1].Content, "a friendly dragon") {
		t.Errorf("user prompt missing theme: %q", msgs[1].Content)
	}
}

func TestTranslationMessages_CarriesAllPages(t *testing.T) {
	story := &assemble.Story{TitleEn: "T", SynopsisEn: "S"}
	for i := 1; i <= 10; i++ {
		story.Pages = append(story.Pages, assemble.StoryPage{PageNumber: i, TextEn: "page text"})
	}

	msgs := TranslationMessages(story)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, want := range []string{"title_zh", "synopsis_zh", "text_zh", "notes_zh", "page_number"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(msgs[1].Content, "Page 10:") {
		t.Error("user prompt should carry every source page")
	}
}

func TestVocabularyMessages_Shape(t *testing.T) {
	story := &assemble.Story{TitleEn: "T"}
	story.Pages = append(story.Pages, assemble.StoryPage{PageNumber: 1, TextEn: "hello"})
	translation := &assemble.Translation{TitleZh: "题"}
	translation.Pages = append(translation.Pages, assemble.TranslationPage{PageNumber: 1, TextZh: "你好"})

	msgs := VocabularyMessages(story, translation)
	for _, want := range []string{"entries", "part_of_speech", "definition_en", "definition_zh", "example_sentence", "example_translation", "cefr_level", "exactly 10"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(msgs[1].Content, "你好") {
		t.Error("user prompt should include the translated text")
	}
}

func TestImagePrompt(t *testing.T) {
	p := ImagePrompt("the sea", "a boat bobs on waves")
	if !strings.Contains(p, "the sea") || !strings.Contains(p, "a boat bobs on waves") {
		t.Errorf("prompt %q", p)
	}
}
