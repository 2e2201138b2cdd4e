package ranking

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
)

func cand(rank int, source, text string, score float64) domain.Candidate {
	return domain.Candidate{
		Chunk:       domain.Chunk{ID: rank, SourceFile: source, Text: text},
		Rank:        rank,
		VectorScore: score,
	}
}

func TestQueryRunes(t *testing.T) {
	assert.Equal(t, []rune("abc"), QueryRunes(" a b\tc a\n"))
	assert.Equal(t, []rune("東京都"), QueryRunes("東京 都 東京"))
	assert.Empty(t, QueryRunes("   "))
}

func TestLexicalMatches(t *testing.T) {
	runes := QueryRunes("東京タワー")
	assert.Equal(t, 2, LexicalMatches(runes, "東京の天気"))
	assert.Equal(t, 0, LexicalMatches(runes, "weather"))
	assert.Equal(t, 1, LexicalMatches(QueryRunes("A"), "cat A"))
	assert.Equal(t, 0, LexicalMatches(QueryRunes("A"), "cat a"), "matching is literal")
}

func TestRank_BonusReordersCandidates(t *testing.T) {
	candidates := []domain.Candidate{
		cand(0, "a.txt", "nothing relevant", 0.80),
		cand(1, "b.txt", "東京タワーの高さ", 0.60),
	}
	ranked := Rank("東京タワー", candidates, 0.5, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b.txt", ranked[0].Chunk.SourceFile)
	assert.Equal(t, 5, ranked[0].LexicalMatches)
	assert.InDelta(t, 2.5, ranked[0].LexicalBonus, 1e-9)
	assert.InDelta(t, 3.1, ranked[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.8, ranked[1].FinalScore, 1e-9)

	// the input slice is left untouched
	assert.Equal(t, "a.txt", candidates[0].Chunk.SourceFile)
	assert.Zero(t, candidates[0].FinalScore)
}

func TestRank_TiesKeepVectorOrder(t *testing.T) {
	candidates := []domain.Candidate{
		cand(0, "a.txt", "xyz", 0.5),
		cand(1, "b.txt", "xyz", 0.5),
		cand(2, "c.txt", "xyz", 0.5),
	}
	ranked := Rank("q", candidates, 0.5, nil)
	for i, c := range ranked {
		assert.Equal(t, i, c.Rank)
	}
}

func TestRank_MonotonicInMatchCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdefghij")
	for iter := 0; iter < 200; iter++ {
		score := rng.Float64()
		lo := rng.Intn(len(alphabet))
		hi := lo + 1 + rng.Intn(len(alphabet)-lo)
		if hi > len(alphabet) {
			hi = len(alphabet)
		}
		// strictly more query characters in the second candidate
		candidates := []domain.Candidate{
			cand(0, "lo.txt", string(alphabet[:lo]), score),
			cand(1, "hi.txt", string(alphabet[:hi]), score),
		}
		ranked := Rank(string(alphabet), candidates, DefaultBonusWeight(true), nil)
		assert.Equal(t, "hi.txt", ranked[0].Chunk.SourceFile, "iteration %d lo=%d hi=%d", iter, lo, hi)
		assert.GreaterOrEqual(t, ranked[0].FinalScore, ranked[1].FinalScore)
	}
}

func TestRank_CustomTextFunc(t *testing.T) {
	candidates := []domain.Candidate{cand(0, "rust.txt", "body", 0.1), cand(1, "go.txt", "body", 0.2)}
	ranked := Rank("rust", candidates, 1, func(c domain.Chunk) string { return c.SourceFile + c.Text })
	assert.Equal(t, "rust.txt", ranked[0].Chunk.SourceFile)
}

func TestDefaultBonusWeight(t *testing.T) {
	assert.Equal(t, 0.5, DefaultBonusWeight(true))
	assert.Equal(t, 500.0, DefaultBonusWeight(false))
}

func TestDiversify_CapsPerSourceAndTotal(t *testing.T) {
	var ranked []domain.Candidate
	for i := 0; i < 5; i++ {
		ranked = append(ranked, cand(i, "big.txt", "x", 1))
	}
	ranked = append(ranked,
		cand(5, "b.txt", "x", 1),
		cand(6, "c.txt", "x", 1),
		cand(7, "b.txt", "x", 1),
		cand(8, "d.txt", "x", 1),
		cand(9, "e.txt", "x", 1),
	)

	admitted, sources := Diversify(ranked, 3, 6)
	require.Len(t, admitted, 6)
	assert.Equal(t, []string{"big.txt", "b.txt", "c.txt"}, sources)
	ids := make([]int, len(admitted))
	for i, c := range admitted {
		ids[i] = c.Chunk.ID
	}
	assert.Equal(t, []int{0, 1, 2, 5, 6, 7}, ids)
}

func TestDiversify_InvariantOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 100; iter++ {
		n := rng.Intn(15)
		ranked := make([]domain.Candidate, n)
		for i := range ranked {
			ranked[i] = cand(i, fmt.Sprintf("f%d.txt", rng.Intn(3)), "x", 1)
		}
		admitted, sources := Diversify(ranked, DefaultMaxPerSource, DefaultTotalResults)
		assert.LessOrEqual(t, len(admitted), DefaultTotalResults)
		per := map[string]int{}
		for _, c := range admitted {
			per[c.Chunk.SourceFile]++
		}
		for src, count := range per {
			assert.LessOrEqual(t, count, DefaultMaxPerSource, src)
		}
		assert.Len(t, sources, len(per))
	}
}

func TestDiversify_Empty(t *testing.T) {
	admitted, sources := Diversify(nil, 3, 6)
	assert.Empty(t, admitted)
	assert.Empty(t, sources)
	assert.NotNil(t, sources)

	admitted, _ = Diversify([]domain.Candidate{cand(0, "a", "x", 1)}, 3, 0)
	assert.Empty(t, admitted)
}
