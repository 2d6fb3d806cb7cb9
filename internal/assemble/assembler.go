package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Canonical internal records. The assembler is the boundary where the
// prompts' snake_case naming is translated inward to camelCase.

// Story is the validated output of the story-script stage.
type Story struct {
	TitleEn    string      `json:"titleEn"`
	SynopsisEn string      `json:"synopsisEn"`
	Pages      []StoryPage `json:"pages"`
}

// StoryPage is one page of the assembled story.
type StoryPage struct {
	PageNumber int    `json:"pageNumber"`
	TextEn     string `json:"textEn"`
	SummaryEn  string `json:"summaryEn"`
}

// Translation is the validated output of the translation stage.
type Translation struct {
	TitleZh    string            `json:"titleZh"`
	SynopsisZh string            `json:"synopsisZh"`
	Pages      []TranslationPage `json:"pages"`
}

// TranslationPage corresponds 1:1 to a story page by page number.
type TranslationPage struct {
	PageNumber int    `json:"pageNumber"`
	TextZh     string `json:"textZh"`
	NotesZh    string `json:"notesZh"`
}

// Vocabulary is the validated output of the vocabulary stage.
type Vocabulary struct {
	Entries []VocabEntry `json:"entries"`
}

// VocabEntry is one extracted vocabulary item.
type VocabEntry struct {
	Word               string `json:"word"`
	PartOfSpeech       string `json:"partOfSpeech"`
	DefinitionEn       string `json:"definitionEn"`
	DefinitionZh       string `json:"definitionZh"`
	ExampleSentence    string `json:"exampleSentence"`
	ExampleTranslation string `json:"exampleTranslation"`
	CefrLevel          string `json:"cefrLevel"`
}

// wire shapes mirror the prompt contracts (snake_case).

type wireStory struct {
	TitleEn    string `json:"title_en"`
	SynopsisEn string `json:"synopsis_en"`
	Pages      []struct {
		PageNumber int    `json:"page_number"`
		TextEn     string `json:"text_en"`
		SummaryEn  string `json:"summary_en"`
	} `json:"pages"`
}

type wireTranslation struct {
	TitleZh    string `json:"title_zh"`
	SynopsisZh string `json:"synopsis_zh"`
	Pages      []struct {
		PageNumber int    `json:"page_number"`
		TextZh     string `json:"text_zh"`
		NotesZh    string `json:"notes_zh"`
	} `json:"pages"`
}

type wireVocabulary struct {
	Entries []struct {
		Word               string `json:"word"`
		PartOfSpeech       string `json:"part_of_speech"`
		DefinitionEn       string `json:"definition_en"`
		DefinitionZh       string `json:"definition_zh"`
		ExampleSentence    string `json:"example_sentence"`
		ExampleTranslation string `json:"example_translation"`
		CefrLevel          string `json:"cefr_level"`
	} `json:"entries"`
}

// normalize decodes, rejects the model's declared-failure sentinel, and
// validates against the stage schema. It returns the canonical JSON bytes
// of the payload for typed unmarshalling.
func normalize(raw any, schema string, stage string) ([]byte, error) {
	value, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", stage, err)
	}

	if obj, ok := value.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok && len(obj) == 1 {
			return nil, fmt.Errorf("%s stage: model declared failure: %s", stage, msg)
		}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%s payload re-encode: %w", stage, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%s schema validation: %w", stage, err)
	}
	if !result.Valid() {
		var issues []string
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, fmt.Errorf("%s payload failed schema validation: %s", stage, strings.Join(issues, "; "))
	}

	return data, nil
}

// AssembleStory validates and normalizes a story-script payload. Payloads
// whose pages length differs from 10 are rejected by the schema.
func AssembleStory(raw any) (*Story, error) {
	data, err := normalize(raw, storySchema, "story")
	if err != nil {
		return nil, err
	}

	var wire wireStory
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("story payload shape: %w", err)
	}

	story := &Story{TitleEn: wire.TitleEn, SynopsisEn: wire.SynopsisEn}
	seen := make(map[int]bool, len(wire.Pages))
	for _, p := range wire.Pages {
		if seen[p.PageNumber] {
			return nil, fmt.Errorf("story payload has duplicate page_number %d", p.PageNumber)
		}
		seen[p.PageNumber] = true
		story.Pages = append(story.Pages, StoryPage{
			PageNumber: p.PageNumber,
			TextEn:     p.TextEn,
			SummaryEn:  p.SummaryEn,
		})
	}
	return story, nil
}

// AssembleTranslation validates and normalizes a translation payload. The
// page count is not pinned, but every provided text_zh must be non-empty.
func AssembleTranslation(raw any) (*Translation, error) {
	data, err := normalize(raw, translationSchema, "translation")
	if err != nil {
		return nil, err
	}

	var wire wireTranslation
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("translation payload shape: %w", err)
	}

	tr := &Translation{TitleZh: wire.TitleZh, SynopsisZh: wire.SynopsisZh}
	for _, p := range wire.Pages {
		tr.Pages = append(tr.Pages, TranslationPage{
			PageNumber: p.PageNumber,
			TextZh:     p.TextZh,
			NotesZh:    p.NotesZh,
		})
	}
	return tr, nil
}

// AssembleVocabulary validates and normalizes a vocabulary payload. Entry
// counts other than 10 are rejected by the schema.
func AssembleVocabulary(raw any) (*Vocabulary, error) {
	data, err := normalize(raw, vocabularySchema, "vocabulary")
	if err != nil {
		return nil, err
	}

	var wire wireVocabulary
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("vocabulary payload shape: %w", err)
	}

	vocab := &Vocabulary{}
	for _, e := range wire.Entries {
		vocab.Entries = append(vocab.Entries, VocabEntry{
			Word:               e.Word,
			PartOfSpeech:       e.PartOfSpeech,
			DefinitionEn:       e.DefinitionEn,
			DefinitionZh:       e.DefinitionZh,
			ExampleSentence:    e.ExampleSentence,
			ExampleTranslation: e.ExampleTranslation,
			CefrLevel:          e.CefrLevel,
		})
	}
	return vocab, nil
}
