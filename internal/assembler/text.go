package assembler

import (
	"strings"
	"unicode"
)

// cutAtSentence returns the longest prefix of text that ends a sentence and has at most
// n runes, or "" when no sentence ends early enough.
func cutAtSentence(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	if n <= 0 {
		return ""
	}
	for i := n - 1; i >= 0; i-- {
		switch runes[i] {
		case '\n':
			return strings.TrimSpace(string(runes[:i]))
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				return strings.TrimSpace(string(runes[:i+1]))
			}
		}
	}
	return ""
}

// cutRunes hard-cuts text to at most n runes, backing off to a word boundary when one
// is close.
func cutRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	if n <= 0 {
		return ""
	}
	cut := runes[:n]
	for i := n - 1; i >= n/2; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), unicode.IsSpace)
		}
	}
	return string(cut)
}
