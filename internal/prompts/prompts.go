package prompts

import (
	"fmt"
	"strings"

	"github.com/little-loop/tales/internal/ai"
	"github.com/little-loop/tales/internal/assemble"
)

// jsonDiscipline is appended to every system prompt: the pipeline depends on
// machine-parseable output, and a sentinel error object when the model
// cannot comply.
const jsonDiscipline = `Output rules (STRICT):
- Respond with exactly one JSON object and nothing else.
- The object must be valid, parseable JSON on a single line; escape newlines inside strings as \n.
- Do not wrap the JSON in markdown code fences or add commentary.
- If you cannot produce the requested JSON, respond with {"error":"unable_to_produce_json"} and nothing else.

Content rules:
- The audience is children aged 0-6. All content must be age-appropriate, gentle, non-violent and non-adult.`

// StoryMessages builds the story-script prompt pair.
func StoryMessages(theme, tone, ageRange string) []ai.Message {
	if tone == "" {
		tone = "warm and playful"
	}
	if ageRange == "" {
		ageRange = "0-6"
	}

	system := fmt.Sprintf(`You are a children's picture-book author writing short illustrated stories for ages %s.

Produce a JSON object with this exact shape:
{"title_en": string, "synopsis_en": string, "pages": [{"page_number": int, "text_en": string, "summary_en": string}]}

Requirements:
- "pages" must contain exactly 10 entries, page_number 1 through 10 in order.
- Each "text_en" is 2-4 simple sentences a young child can follow.
- Each "summary_en" is one sentence describing the page's scene, usable as an illustration brief.

%s`, ageRange, jsonDiscipline)

	user := fmt.Sprintf("Write a 10-page story about: %s. Tone: %s.", theme, tone)

	return []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// TranslationMessages builds the translation prompt pair from an assembled
// story. Pages correspond 1:1 to the source by page_number.
func TranslationMessages(story *assemble.Story) []ai.Message {
	system := fmt.Sprintf(`You are a literary translator producing Simplified Chinese text for young children.

Produce a JSON object with this exact shape:
{"title_zh": string, "synopsis_zh": string, "pages": [{"page_number": int, "text_zh": string, "notes_zh": string}]}

Requirements:
- Provide one entry per source page, matched by page_number.
- "text_zh" is the translation of the page text, natural and simple enough to read aloud to a child.
- "notes_zh" may carry a short translator note, or be an empty string.

%s`, jsonDiscipline)

	var b strings.Builder
	fmt.Fprintf(&b, "Translate this story.\nTitle: %s\nSynopsis: %s\n", story.TitleEn, story.SynopsisEn)
	for _, page := range story.Pages {
		fmt.Fprintf(&b, "Page %d: %s\n", page.PageNumber, page.TextEn)
	}

	return []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

// VocabularyMessages builds the vocabulary-extraction prompt pair from the
// translated story.
func VocabularyMessages(story *assemble.Story, translation *assemble.Translation) []ai.Message {
	system := fmt.Sprintf(`You are an English-learning editor selecting vocabulary for very young learners.

Produce a JSON object with this exact shape:
{"entries": [{"word": string, "part_of_speech": string, "definition_en": string, "definition_zh": string, "example_sentence": string, "example_translation": string, "cefr_level": string}]}

Requirements:
- "entries" must contain exactly 10 items drawn from the story text.
- Prefer concrete, picturable words a child aged 0-6 can learn.
- "cefr_level" is one of A1, A2, B1.

%s`, jsonDiscipline)

	var b strings.Builder
	fmt.Fprintf(&b, "Select 10 vocabulary words from this story.\nTitle: %s / %s\n", story.TitleEn, translation.TitleZh)
	zhByPage := make(map[int]string, len(translation.Pages))
	for _, page := range translation.Pages {
		zhByPage[page.PageNumber] = page.TextZh
	}
	for _, page := range story.Pages {
		fmt.Fprintf(&b, "Page %d: %s\nPage %d (zh): %s\n", page.PageNumber, page.TextEn, page.PageNumber, zhByPage[page.PageNumber])
	}

	return []ai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

// ImagePrompt renders an illustration brief for one page.
func ImagePrompt(theme, summaryEn string) string {
	return fmt.Sprintf(
		"Children's picture-book illustration, soft colors, friendly characters, no text in image. Story theme: %s. Scene: %s",
		theme, summaryEn,
	)
}
