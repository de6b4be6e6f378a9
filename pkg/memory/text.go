// Package memory implements the layered story memory: a bounded
// short-term interaction buffer with compression, long-term key events
// and character relations mined from chapters, and relevance-ranked
// retrieval under a character budget.
package memory

import (
	"strings"
	"unicode"
)

// maxKeywords caps the keyword set extracted from a text.
const maxKeywords = 10

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "my": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "she": {},
	"so": {}, "that": {}, "the": {}, "their": {}, "then": {},
	"there": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "who": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

var interrogativeMarkers = []string{
	"?", "what", "why", "how", "where", "when", "who", "which",
}

// tokenize lowercases and splits text on non-letter, non-digit runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// extractKeywords returns the first maxKeywords non-stopword tokens.
func extractKeywords(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// isInterrogative reports whether the text reads like a question.
func isInterrogative(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "?") {
		return true
	}
	tokens := tokenize(lower)
	for _, tok := range tokens {
		for _, marker := range interrogativeMarkers {
			if tok == marker {
				return true
			}
		}
	}
	return false
}

// splitSentences breaks text on terminal punctuation, keeping non-empty
// trimmed sentences.
func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		s := strings.TrimSpace(sb.String())
		if s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for _, r := range text {
		sb.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？':
			flush()
		}
	}
	flush()
	return out
}

// relevance blends Jaccard similarity of the keyword sets with the
// fraction of topic keywords the item covers, weighted 60/40.
func relevance(topicKeywords, itemKeywords []string) float64 {
	if len(topicKeywords) == 0 || len(itemKeywords) == 0 {
		return 0
	}
	topic := make(map[string]struct{}, len(topicKeywords))
	for _, k := range topicKeywords {
		topic[k] = struct{}{}
	}
	item := make(map[string]struct{}, len(itemKeywords))
	for _, k := range itemKeywords {
		item[k] = struct{}{}
	}

	intersection := 0
	for k := range item {
		if _, ok := topic[k]; ok {
			intersection++
		}
	}
	union := len(topic) + len(item) - intersection
	if union == 0 {
		return 0
	}
	jaccard := float64(intersection) / float64(union)
	coverage := float64(intersection) / float64(len(topic))
	return 0.6*jaccard + 0.4*coverage
}

// truncate tail-truncates text to at most budget characters (runes),
// appending an ellipsis when anything was cut.
func truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	if budget <= 1 {
		return "…"
	}
	return string(runes[:budget-1]) + "…"
}
