package telegram

import (
	"strings"
	"unicode"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// chunkText splits text into pieces of at most max runes. It prefers to
// break at a paragraph, then a line, then a word, and hard-cuts otherwise.
func chunkText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 {
		max = MaxMessageRunes
	}

	var chunks []string
	remaining := []rune(text)
	for len(remaining) > max {
		cut := breakPoint(remaining[:max])
		chunk := strings.TrimRightFunc(string(remaining[:cut]), unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimLeftFunc(string(remaining[cut:]), unicode.IsSpace))
	}
	if len(remaining) > 0 {
		chunks = append(chunks, string(remaining))
	}
	return chunks
}

// breakPoint returns where to cut window. Breaks in the first half are
// ignored so chunks do not get tiny.
func breakPoint(window []rune) int {
	s := string(window)
	half := len(s) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(s, sep); idx > half {
			return len([]rune(s[:idx]))
		}
	}
	return len(window)
}
