// Package ranking re-scores vector search candidates and picks the final
// context chunks.
package ranking

import (
	"sort"
	"strings"
	"unicode"

	"localrag/internal/domain"
)

const (
	// Bonus weights sized to the two normalization policies: cosine scores
	// live in [-1, 1], raw inner products reach the order of 1e4.
	NormalizedBonusWeight = 0.5
	RawBonusWeight        = 500.0
)

// DefaultBonusWeight returns the lexical bonus weight matching the index
// normalization policy.
func DefaultBonusWeight(normalized bool) float64 {
	if normalized {
		return NormalizedBonusWeight
	}
	return RawBonusWeight
}

// QueryRunes returns the distinct non-whitespace characters of query in order
// of first appearance.
func QueryRunes(query string) []rune {
	seen := make(map[rune]struct{})
	var out []rune
	for _, r := range query {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// LexicalMatches counts how many of runes occur anywhere in text.
func LexicalMatches(runes []rune, text string) int {
	n := 0
	for _, r := range runes {
		if strings.ContainsRune(text, r) {
			n++
		}
	}
	return n
}

// TextFunc selects the text a candidate is matched against.
type TextFunc func(domain.Chunk) string

// Rank adds the lexical bonus to every candidate and sorts them by final
// score. Candidates must arrive in vector-similarity order; ties keep it.
func Rank(query string, candidates []domain.Candidate, bonusWeight float64, text TextFunc) []domain.Candidate {
	if text == nil {
		text = func(c domain.Chunk) string { return c.Text }
	}
	runes := QueryRunes(query)
	ranked := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		c.LexicalMatches = LexicalMatches(runes, text(c.Chunk))
		c.LexicalBonus = float64(c.LexicalMatches) * bonusWeight
		c.FinalScore = c.VectorScore + c.LexicalBonus
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].FinalScore > ranked[b].FinalScore })
	return ranked
}
