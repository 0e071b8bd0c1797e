package oracle

import (
	"encoding/json"
	"strings"
)

// Parsed is the tagged result of extracting structured data from a
// free-text oracle reply. Callers must branch on OK: the malformed case
// carries the raw text for diagnostics and maps to the caller's fail-safe
// default, never to a crash.
type Parsed[T any] struct {
	OK    bool
	Value T
	Raw   string
}

// ExtractObject finds the first balanced {...} substring in text and
// unmarshals it into T.
func ExtractObject[T any](text string) Parsed[T] {
	return extract[T](text, '{', '}')
}

// ExtractArray finds the first balanced [...] substring in text and
// unmarshals it into T (a slice type).
func ExtractArray[T any](text string) Parsed[T] {
	return extract[T](text, '[', ']')
}

func extract[T any](text string, open, close byte) Parsed[T] {
	var zero T
	start := strings.IndexByte(text, open)
	for start >= 0 {
		if candidate, ok := balancedSlice(text[start:], open, close); ok {
			var v T
			if err := json.Unmarshal([]byte(candidate), &v); err == nil {
				return Parsed[T]{OK: true, Value: v, Raw: candidate}
			}
		}
		next := strings.IndexByte(text[start+1:], open)
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return Parsed[T]{OK: false, Value: zero, Raw: text}
}

// balancedSlice returns the prefix of s that forms a balanced bracket pair,
// ignoring brackets inside JSON strings.
func balancedSlice(s string, open, close byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
