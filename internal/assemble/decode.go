package assemble

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// trailingCommaRe matches a comma directly before a closing brace/bracket,
// the most common near-miss in model output.
var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Decode normalizes a raw model payload into a structured value. The repair
// set is deliberately small and explicit:
//  1. structured values pass through, except a structured array, which is
//     wrapped as {"entries": [...]} like step 5;
//  2. markdown code fences are stripped;
//  3. strict JSON decode;
//  4. balanced {...} substring scan with trailing-comma fix;
//  5. top-level [...] substring wrapped as {"entries": [...]}.
func Decode(raw any) (any, error) {
	if raw == nil {
		return nil, fmt.Errorf("empty payload")
	}

	if arr, ok := raw.([]any); ok {
		return map[string]any{"entries": arr}, nil
	}

	str, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	str = stripFences(str)

	var value any
	if err := json.Unmarshal([]byte(str), &value); err == nil {
		// A clean top-level array is a model that emitted only the entries.
		if arr, ok := value.([]any); ok {
			return map[string]any{"entries": arr}, nil
		}
		return value, nil
	}

	if value, ok := decodeBalancedObject(str); ok {
		return value, nil
	}

	if value, ok := decodeArrayAsEntries(str); ok {
		return value, nil
	}

	return nil, fmt.Errorf("payload is not decodable JSON")
}

// stripFences removes a surrounding markdown code fence, with or without a
// "json" language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeBalancedObject scans for balanced {...} substrings starting at the
// first brace, longest first, repairing trailing commas per candidate.
func decodeBalancedObject(s string) (any, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}

	// Collect the offsets where the object opened at start closes, tracking
	// string literals and escapes so braces inside strings don't count.
	var ends []int
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				ends = append(ends, i)
			}
		}
	}

	for i := len(ends) - 1; i >= 0; i-- {
		candidate := trailingCommaRe.ReplaceAllString(s[start:ends[i]+1], "$1")
		var value any
		if err := json.Unmarshal([]byte(candidate), &value); err == nil {
			return value, true
		}
	}
	return nil, false
}

// decodeArrayAsEntries absorbs models that emit only the entries array: a
// top-level [...] substring is wrapped as {"entries": [...]}.
func decodeArrayAsEntries(s string) (any, bool) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, false
	}

	candidate := trailingCommaRe.ReplaceAllString(s[start:end+1], "$1")
	var arr []any
	if err := json.Unmarshal([]byte(candidate), &arr); err != nil {
		return nil, false
	}
	return map[string]any{"entries": arr}, true
}
