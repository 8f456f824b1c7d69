package agent

import (
	"encoding/json"
	"strings"
)

// TryParseEmbeddedCall looks for a tool call the model wrote into its text
// instead of the structured call list, in the form
//
//	{"name": "web_search", "arguments": {"query": "..."}}
//
// "parameters" is accepted in place of "arguments", and the arguments may
// be a JSON object or a JSON-encoded string. Only names for which known
// returns true are accepted. This is a best-effort secondary path; adapters
// consult it only when enabled and only when the structured list is empty.
func TryParseEmbeddedCall(text string, known func(string) bool) (ToolCall, bool) {
	for offset := 0; offset < len(text); {
		rel := strings.IndexByte(text[offset:], '{')
		if rel < 0 {
			break
		}
		start := offset + rel
		end := findMatchingBrace(text, start)
		if end == start {
			offset = start + 1
			continue
		}
		if call, ok := decodeEmbeddedCall(text[start:end], known); ok {
			return call, true
		}
		offset = start + 1
	}
	return ToolCall{}, false
}

func decodeEmbeddedCall(candidate string, known func(string) bool) (ToolCall, bool) {
	var wrapper struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(candidate), &wrapper); err != nil {
		return ToolCall{}, false
	}
	if wrapper.Name == "" || known == nil || !known(wrapper.Name) {
		return ToolCall{}, false
	}

	args := wrapper.Arguments
	if len(args) == 0 {
		args = wrapper.Parameters
	}
	args, ok := normalizeEmbeddedArgs(args)
	if !ok {
		return ToolCall{}, false
	}
	return ToolCall{Name: wrapper.Name, Arguments: args}, true
}

func normalizeEmbeddedArgs(raw json.RawMessage) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return json.RawMessage("{}"), true
	case strings.HasPrefix(trimmed, "{"):
		return json.RawMessage(trimmed), true
	case strings.HasPrefix(trimmed, `"`):
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, false
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return json.RawMessage("{}"), true
		}
		if !strings.HasPrefix(inner, "{") || !json.Valid([]byte(inner)) {
			return nil, false
		}
		return json.RawMessage(inner), true
	}
	return nil, false
}

// findMatchingBrace returns the index just past the brace closing the one
// at start, or start when the object is unbalanced. Braces inside JSON
// strings are ignored.
func findMatchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return start
}

// StripEmbeddedCall removes the first balanced JSON object naming a known
// tool from text, returning the surrounding prose.
func StripEmbeddedCall(text string, known func(string) bool) string {
	for offset := 0; offset < len(text); {
		rel := strings.IndexByte(text[offset:], '{')
		if rel < 0 {
			break
		}
		start := offset + rel
		end := findMatchingBrace(text, start)
		if end != start {
			if _, ok := decodeEmbeddedCall(text[start:end], known); ok {
				return strings.TrimSpace(text[:start] + text[end:])
			}
		}
		offset = start + 1
	}
	return text
}
