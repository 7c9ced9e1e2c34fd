// SPDX-License-Identifier: MIT

package matcher

import (
	"math"
	"strings"
	"unicode"
)

// stopwords are excluded from token bags so that filler does not dominate the
// cosine score.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "be": {}, "for": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {},
	"so": {}, "that": {}, "the": {}, "to": {}, "want": {}, "with": {},
}

// tokenize lowercases and splits text into alphanumeric word tokens,
// dropping stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; !skip {
			out = append(out, f)
		}
	}
	return out
}

// bag builds a token frequency map.
func bag(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

// keywordCoverage is the fraction of keywords present in the intention token
// set. Keywords are matched case-insensitively as whole tokens.
func keywordCoverage(intentionTokens []string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(intentionTokens))
	for _, t := range intentionTokens {
		set[t] = struct{}{}
	}
	hits := 0
	for _, kw := range keywords {
		if _, ok := set[strings.ToLower(strings.TrimSpace(kw))]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// cosine computes the cosine similarity of two token bags.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, ca := range a {
		na += float64(ca * ca)
		if cb, ok := b[t]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range b {
		nb += float64(cb * cb)
	}
	if dot == 0 {
		return 0
	}
	// Rounding in the norm product can push the ratio marginally above 1
	// for identical bags; the score is defined on [0,1].
	return math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// similarity scores an intention against candidate text plus keywords. It is
// the maximum of normalized keyword coverage and the token-bag cosine, so any
// monotone increase in keyword overlap increases the score.
func similarity(intention string, candidateText string, keywords []string) float64 {
	intentionTokens := tokenize(intention)
	cov := keywordCoverage(intentionTokens, keywords)
	cos := cosine(bag(intentionTokens), bag(tokenize(candidateText)))
	return math.Max(cov, cos)
}
