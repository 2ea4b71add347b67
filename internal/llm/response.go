package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*")
	fenceClose = regexp.MustCompile("(?s)\\s*```$")
)

// StripFences removes a surrounding markdown code fence
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// DecodeJSON parses a model answer into v. Fences and any prose around the
// outermost object are ignored.
func DecodeJSON(text string, v any) error {
	text = StripFences(text)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return json.Unmarshal([]byte(text), v)
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
