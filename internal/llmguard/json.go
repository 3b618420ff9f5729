package llmguard

import "regexp"

// firstJSONObject matches the first brace-delimited object in a response.
// It is intentionally non-greedy per nesting level; callers only need the
// top-level object since every LLM contract in this system replies with one
// flat JSON object.
var firstJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractFirstJSON returns the first JSON object substring in text, or ""
// if none is found.
func ExtractFirstJSON(text string) string {
	return firstJSONObject.FindString(text)
}
