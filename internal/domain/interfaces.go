package domain

import (
	"context"
	"io"
	"time"
)

// Document represents a single knowledge file loaded into the system.
type Document struct {
	// Path is the slash-separated path relative to the knowledge directory.
	Path    string
	Content string
}

// Chunk is a provenance-tagged window of a document used for indexing.
// Its embedding lives in row ID of the corpus index.
type Chunk struct {
	ID         int
	SourceFile string
	Text       string
}

// Hit is a raw nearest-neighbor match returned by a VectorIndex.
type Hit struct {
	Row   int
	Score float64
}

// Candidate is a chunk under consideration for a single query.
type Candidate struct {
	Chunk          Chunk
	Rank           int // position in the vector-similarity ordering
	VectorScore    float64
	LexicalMatches int
	LexicalBonus   float64
	FinalScore     float64
}

// QueryResult is the only thing the generation step sees.
type QueryResult struct {
	Context string
	Sources []string
}

// BuildReport summarizes a successful rebuild.
type BuildReport struct {
	Generation string
	Files      int
	Chunks     int
	Skipped    int
	Dimension  int
	Duration   time.Duration
}

// Corpus is one immutable generation of chunks plus the index built over them.
// Index row i always belongs to Chunks[i].
type Corpus struct {
	Generation string
	Chunks     []Chunk
	Index      VectorIndex
	BuiltAt    time.Time
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorIndex is a bulk-loaded similarity index.
type VectorIndex interface {
	AddAll(vectors [][]float32) error
	Search(vector []float32, k int) ([]Hit, error)
	Len() int
	Dimension() int
	Normalized() bool
	Save(w io.Writer) error
}

// Snapshotter persists and restores whole corpus generations.
type Snapshotter interface {
	Save(ctx context.Context, corpus *Corpus) error
	Load(ctx context.Context) (*Corpus, error)
}
