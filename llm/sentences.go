package llm

import (
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`[^\.!\?]*[\.!\?]+`)

// Sentences splits a reply into sentences for synthesis. Trailing text
// without terminal punctuation is kept as the last sentence.
func Sentences(text string) []string {
	var sentences []string
	for {
		loc := sentenceRe.FindStringIndex(text)
		if loc == nil {
			break
		}
		if s := strings.TrimSpace(text[:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		text = text[loc[1]:]
	}
	if leftover := strings.TrimSpace(text); leftover != "" {
		sentences = append(sentences, leftover)
	}
	return sentences
}
