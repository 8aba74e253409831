package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"

	"docrag/internal/domain"
)

// FallbackItemScore is the fixed score given to every lexical match.
const FallbackItemScore = 0.5

const minSentenceRunes = 10

// FallbackScore ranks the sentences of content by how many query words they
// share with it, loosely: a sentence word and a query word match when either
// contains the other. It needs no external service, so it is used when
// vector search is unavailable.
func FallbackScore(content, query string, maxChunks int) []domain.ContextItem {
	if maxChunks <= 0 {
		return nil
	}
	words := strings.Fields(strings.ToLower(query))

	type scored struct {
		text  string
		score int
	}
	var sentences []scored
	for _, frag := range splitSentences(content) {
		s := strings.TrimSpace(frag)
		if utf8.RuneCountInString(s) < minSentenceRunes {
			continue
		}
		sentences = append(sentences, scored{text: s, score: overlap(words, strings.Fields(strings.ToLower(s)))})
	}
	sort.SliceStable(sentences, func(i, j int) bool { return sentences[i].score > sentences[j].score })
	if len(sentences) > maxChunks {
		sentences = sentences[:maxChunks]
	}

	out := make([]domain.ContextItem, len(sentences))
	for i, s := range sentences {
		out[i] = domain.ContextItem{Text: s.text, Score: FallbackItemScore}
	}
	return out
}

func splitSentences(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

// overlap counts query words matched by at least one sentence word.
func overlap(query, sentence []string) int {
	n := 0
	for _, w := range query {
		for _, s := range sentence {
			if strings.Contains(s, w) || strings.Contains(w, s) {
				n++
				break
			}
		}
	}
	return n
}
