package assemble

// Stage schemas are explicit gojsonschema documents. The decoder is
// tolerant; the validator is strict. The story and vocabulary stages pin
// their collection sizes; translation requires non-empty page text but not
// an exact count.

const storySchema = `{
  "type": "object",
  "required": ["title_en", "synopsis_en", "pages"],
  "properties": {
    "title_en": {"type": "string", "minLength": 1},
    "synopsis_en": {"type": "string", "minLength": 1},
    "pages": {
      "type": "array",
      "minItems": 10,
      "maxItems": 10,
      "items": {
        "type": "object",
        "required": ["page_number", "text_en", "summary_en"],
        "properties": {
          "page_number": {"type": "integer", "minimum": 1, "maximum": 10},
          "text_en": {"type": "string", "minLength": 1},
          "summary_en": {"type": "string"}
        }
      }
    }
  }
}`

const translationSchema = `{
  "type": "object",
  "required": ["title_zh", "pages"],
  "properties": {
    "title_zh": {"type": "string", "minLength": 1},
    "synopsis_zh": {"type": "string"},
    "pages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["page_number", "text_zh"],
        "properties": {
          "page_number": {"type": "integer", "minimum": 1},
          "text_zh": {"type": "string", "minLength": 1},
          "notes_zh": {"type": "string"}
        }
      }
    }
  }
}`

const vocabularySchema = `{
  "type": "object",
  "required": ["entries"],
  "properties": {
    "entries": {
      "type": "array",
      "minItems": 10,
      "maxItems": 10,
      "items": {
        "type": "object",
        "required": ["word", "part_of_speech", "definition_en", "definition_zh", "example_sentence", "example_translation"],
        "properties": {
          "word": {"type": "string", "minLength": 1},
          "part_of_speech": {"type": "string", "minLength": 1},
          "definition_en": {"type": "string", "minLength": 1},
          "definition_zh": {"type": "string", "minLength": 1},
          "example_sentence": {"type": "string", "minLength": 1},
          "example_translation": {"type": "string", "minLength": 1},
          "cefr_level": {"type": "string"}
        }
      }
    }
  }
}`
