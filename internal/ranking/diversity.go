package ranking

import "localrag/internal/domain"

const (
	DefaultMaxPerSource = 3
	DefaultTotalResults = 6
)

// Diversify walks ranked candidates and admits each one while its source has
// fewer than maxPerSource admitted chunks, stopping at total. It also returns
// the distinct sources in first-admitted order.
func Diversify(ranked []domain.Candidate, maxPerSource, total int) ([]domain.Candidate, []string) {
	admitted := make([]domain.Candidate, 0, max(0, min(total, len(ranked))))
	sources := make([]string, 0)
	counts := make(map[string]int)
	for _, c := range ranked {
		if len(admitted) >= total {
			break
		}
		src := c.Chunk.SourceFile
		if counts[src] >= maxPerSource {
			continue
		}
		if counts[src] == 0 {
			sources = append(sources, src)
		}
		counts[src]++
		admitted = append(admitted, c)
	}
	return admitted, sources
}
