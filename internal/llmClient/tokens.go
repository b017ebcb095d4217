package llmclient

import "strings"

// CountTokens provides a rough token count: whitespace-delimited words, or
// a character-based estimate for text without spaces.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := strings.Fields(text)
	if len(words) > 1 {
		return len(words)
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
