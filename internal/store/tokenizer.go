package store

import (
	"regexp"
	"strings"
)

// wordRegex matches runs of letters, digits and underscores.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenizer turns text into index terms.
type Tokenizer func(text string) []string

// TokenizeText lowercases text and splits it into word tokens. It is the
// tokenizer shared by every keyword backend and the query analyzer, so a
// term means the same thing at index and query time.
func TokenizeText(text string) []string {
	return wordRegex.FindAllString(strings.ToLower(text), -1)
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// uniqueTerms returns tokens without duplicates, in first-seen order.
func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
