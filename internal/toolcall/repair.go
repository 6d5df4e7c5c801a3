// Package toolcall repairs the argument payloads of model-emitted tool calls.
//
// Models streaming function calls produce a surprising variety of broken
// argument strings: empty payloads, several JSON objects concatenated
// back-to-back (typically one per streamed fragment), and objects wrapped in
// stray prose or partial output. [Repair] normalizes all of these into a
// single argument map, or reports a [MalformedArgumentsError] carrying the
// raw payload for diagnostics.
package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MalformedArgumentsError reports an argument payload that could not be
// repaired into a JSON object.
type MalformedArgumentsError struct {
	// Raw is the original argument string as emitted by the model.
	Raw string
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("toolcall: malformed arguments: %q", e.Raw)
}

// Repair normalizes a raw tool-call argument string into an argument map:
//
//  1. Surrounding whitespace is trimmed.
//  2. An empty payload means "no arguments" and yields an empty map.
//  3. A payload that parses as a single JSON object is returned as-is.
//  4. Literal control characters (newline, carriage return, tab) are
//     stripped and the parse retried; models sometimes stream raw newlines
//     into string values, which is invalid JSON.
//  5. Otherwise every top-level {...} span in the cleaned payload is
//     extracted with a string-aware brace scanner, tolerating prose or
//     garbage between spans.
//  6. Each span that parses as an object is shallow-merged left to right;
//     later keys overwrite earlier ones. Spans that fail to parse are skipped.
//  7. If no span parses, a [MalformedArgumentsError] is returned.
//
// The shallow merge means '{"a":"1"}{"a":"2","b":"3"}' repairs to
// {"a":"2","b":"3"}: concatenated objects are treated as successive revisions
// of the same call, not as independent calls.
func Repair(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var single map[string]any
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil && single != nil {
		return single, nil
	}

	cleaned := stripControl(trimmed)
	if cleaned != trimmed {
		if err := json.Unmarshal([]byte(cleaned), &single); err == nil && single != nil {
			return single, nil
		}
	}

	merged := map[string]any{}
	parsed := false
	for _, span := range extractObjects(cleaned) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(span), &obj); err != nil || obj == nil {
			continue
		}
		parsed = true
		for k, v := range obj {
			merged[k] = v
		}
	}
	if !parsed {
		return nil, &MalformedArgumentsError{Raw: raw}
	}
	return merged, nil
}

// stripControl removes literal newline, carriage return, and tab characters.
// Properly escaped sequences ("\\n") are two ordinary bytes and pass through
// untouched.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

// extractObjects returns every balanced top-level {...} span in s, in order.
// The scanner tracks brace depth and JSON string state (including escape
// sequences) so braces inside string values do not terminate a span.
// Unterminated trailing objects are dropped.
func extractObjects(s string) []string {
	var spans []string

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue // stray closer outside any object
			}
			depth--
			if depth == 0 {
				spans = append(spans, s[start:i+1])
				start = -1
			}
		}
	}

	return spans
}
