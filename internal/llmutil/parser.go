// File: internal/llmutil/parser.go
//
// Extraction helpers for model output. Models wrap JSON in markdown fences or
// bury it in conversational text; these helpers isolate the structure without
// attempting to repair it.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Raw strings cannot hold backticks, hence \x60.
var (
	fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	fencedArrayRegex  = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON returns the best JSON candidate inside a model response: the
// fenced block if present, else the outermost brace or bracket span, else the
// trimmed input unchanged. It never validates; callers unmarshal strictly.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	hasObject := strings.Contains(response, "{")
	hasArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if hasObject {
			matches = fencedObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && hasArray {
			matches = fencedArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if hasObject {
		if span, ok := outerSpan(response, "{", "}"); ok {
			return span
		}
	}
	if hasArray {
		if span, ok := outerSpan(response, "[", "]"); ok {
			return span
		}
	}
	return response
}

// ParseJSONResponse extracts and unmarshals a model response into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	candidate := ExtractJSON(response)
	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w (candidate: %s)", err, Truncate(candidate, 500))
	}
	return &result, nil
}

// Truncate caps s at maxLen bytes for log and error messages.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func outerSpan(s, opener, closer string) (string, bool) {
	first := strings.Index(s, opener)
	last := strings.LastIndex(s, closer)
	if first == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}
