package textutil

import (
	"regexp"
	"strings"
)

var blankLinePattern = regexp.MustCompile(`\n[ \t]*\n`)

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// SplitParagraphs splits text at blank lines, trimming each paragraph and
// dropping empty ones. Line endings are normalized to \n first.
func SplitParagraphs(text string) []string {
	text = NormalizeNewlines(text)
	raw := blankLinePattern.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeNewlines converts CRLF and CR line endings to LF.
func NormalizeNewlines(text string) string {
	if !strings.ContainsRune(text, '\r') {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
