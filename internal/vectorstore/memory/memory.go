package memory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"localrag/internal/domain"
)

var (
	ErrAlreadyLoaded = errors.New("memory: index already loaded")
	ErrEmpty         = errors.New("memory: no vectors to load")
	ErrDimension     = errors.New("memory: vector dimension mismatch")
)

// Index is a flat in-memory vector index scored by inner product.
// It is loaded once with AddAll and read-only afterwards.
type Index struct {
	mu        sync.RWMutex
	normalize bool
	dimension int
	vectors   [][]float32
	loaded    bool
}

var _ domain.VectorIndex = (*Index)(nil)

// NewIndex creates an empty index. When normalize is true every stored and
// query vector is scaled to unit length, which turns inner product into cosine
// similarity.
func NewIndex(normalize bool) *Index { return &Index{normalize: normalize} }

// AddAll bulk-loads the vectors; row i of the index is vectors[i].
func (s *Index) AddAll(vectors [][]float32) error {
	if len(vectors) == 0 {
		return ErrEmpty
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty vector at row 0", ErrDimension)
	}
	rows := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: row %d has %d, want %d", ErrDimension, i, len(v), dim)
		}
		rows[i] = s.prepare(v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return ErrAlreadyLoaded
	}
	s.dimension = dim
	s.vectors = rows
	s.loaded = true
	return nil
}

// Search returns up to k rows by descending similarity. Equal scores keep row
// order. k is capped to the number of rows.
func (s *Index) Search(vector []float32, k int) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(vector), s.dimension)
	}
	q := s.prepare(vector)
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		scores[i] = dot(s.vectors[i], q)
	}
	idxs := argsortDesc(scores)
	k = min(k, len(idxs))
	hits := make([]domain.Hit, 0, k)
	for _, j := range idxs[:k] {
		hits = append(hits, domain.Hit{Row: j, Score: scores[j]})
	}
	return hits, nil
}

func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func (s *Index) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Index) Normalized() bool { return s.normalize }

// prepare returns a private copy of v under the index normalization policy.
func (s *Index) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.normalize {
		l2normalize(out)
	}
	return out
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// l2normalize scales v to unit length in place; zero vectors stay zero.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}
