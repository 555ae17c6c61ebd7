package training

import "strings"

// stopWords is a compact English stop-word list. Tokens in this set carry
// no class signal and are dropped before vectorization.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "after": {}, "again": {}, "all": {},
	"am": {}, "an": {}, "and": {}, "any": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "because": {}, "been": {}, "before": {}, "being": {}, "below": {},
	"between": {}, "both": {}, "but": {}, "by": {}, "can": {}, "did": {},
	"do": {}, "does": {}, "doing": {}, "down": {}, "during": {}, "each": {},
	"few": {}, "for": {}, "from": {}, "further": {}, "had": {}, "has": {},
	"have": {}, "having": {}, "he": {}, "her": {}, "here": {}, "hers": {},
	"him": {}, "his": {}, "how": {}, "i": {}, "if": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "just": {}, "me": {}, "more": {},
	"most": {}, "my": {}, "no": {}, "nor": {}, "not": {}, "now": {}, "of": {},
	"off": {}, "on": {}, "once": {}, "only": {}, "or": {}, "other": {},
	"our": {}, "out": {}, "over": {}, "own": {}, "same": {}, "she": {},
	"so": {}, "some": {}, "such": {}, "than": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "those": {}, "through": {}, "to": {}, "too": {}, "under": {},
	"until": {}, "up": {}, "very": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {},
	"whom": {}, "why": {}, "will": {}, "with": {}, "you": {}, "your": {},
	"yours": {},
}

// Tokenize normalizes raw text into a deterministic token stream: case-fold,
// strip non-alphabetic characters, split, drop stop-words and one-letter
// tokens, stem. It holds no learned state, so the same input always yields
// the same tokens at training and prediction time.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		tokens = append(tokens, stem(w))
	}
	return tokens
}

// stem applies light suffix stripping. It is not a full Porter stemmer; it
// only needs to merge the obvious inflections of the same word.
func stem(w string) string {
	switch {
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ing") && len(w) > 5:
		return w[:len(w)-3]
	case strings.HasSuffix(w, "ed") && len(w) > 4:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ly") && len(w) > 4:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}
