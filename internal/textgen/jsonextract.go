package textgen

import (
	"strings"

	"github.com/tidwall/gjson"
)

// extractJSON tolerates the common ways a model wraps its JSON answer —
// inside a ```json fenced block, with leading prose, or as a bare object —
// and returns the first valid JSON value found. If nothing in raw parses,
// it returns raw unchanged so callers still see the original text in logs.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if gjson.Valid(trimmed) {
		return trimmed
	}

	if fenced := stripFence(trimmed); fenced != "" && gjson.Valid(fenced) {
		return fenced
	}

	if start := strings.IndexAny(trimmed, "{["); start >= 0 {
		for end := len(trimmed); end > start; end-- {
			candidate := trimmed[start:end]
			if gjson.Valid(candidate) {
				return candidate
			}
		}
	}

	return raw
}

func stripFence(s string) string {
	const fence = "```"
	start := strings.Index(s, fence)
	if start < 0 {
		return ""
	}
	rest := s[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && nl < 20 {
		// skip an optional language tag on the opening fence line ("json\n")
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
