package memory

import (
	"math"
	"strings"
)

// tokenize lowercases and splits text into a de-duplicated term set,
// mirroring the teacher's KeywordIndexService tokenizer
// (pkg/memory/index_keyword.go). No stop words or short terms are dropped,
// only surrounding punctuation, since routing queries are often short.
func tokenize(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		terms[word] = struct{}{}
	}
	return terms
}

// lexicalSimilarity implements the spec's fallback relevance formula
// (spec §4.2): |query_terms ∩ entry_terms| / max(|query_terms|, |entry_terms|).
func lexicalSimilarity(query, entryText string) float64 {
	q := tokenize(query)
	e := tokenize(entryText)
	if len(q) == 0 || len(e) == 0 {
		return 0
	}

	intersection := 0
	for term := range q {
		if _, ok := e[term]; ok {
			intersection++
		}
	}

	denom := len(q)
	if len(e) > denom {
		denom = len(e)
	}
	return float64(intersection) / float64(denom)
}

// cosineSimilarity is used when both vectors carry an embedding.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
