package chunker

import (
	"strings"

	"localrag/internal/domain"
)

const (
	DefaultWindowSize = 600
	DefaultOverlap    = 100
	DefaultMinLength  = 20
)

// WindowChunker splits text into fixed-size, overlapping character windows.
// Windows are counted in runes and know nothing about words or sentences.
type WindowChunker struct {
	windowSize int
	overlap    int
	minLength  int
}

func NewWindowChunker(windowSize, overlap, minLength int) *WindowChunker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if overlap < 0 || overlap >= windowSize {
		overlap = min(DefaultOverlap, windowSize-1)
	}
	if minLength < 0 {
		minLength = DefaultMinLength
	}
	return &WindowChunker{
		windowSize: windowSize,
		overlap:    overlap,
		minLength:  minLength,
	}
}

// Stride is the distance between the starts of two consecutive windows.
func (c *WindowChunker) Stride() int { return c.windowSize - c.overlap }

// Chunk returns the windows of document that survive the noise filter.
// Chunk IDs are local to the document; the caller renumbers them per corpus.
func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := []rune(strings.ToValidUTF8(document.Content, ""))
	var chunks []domain.Chunk
	for start := 0; start < len(text); start += c.Stride() {
		end := min(start+c.windowSize, len(text))
		window := strings.TrimSpace(string(text[start:end]))
		if len([]rune(window)) <= c.minLength {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:         len(chunks),
			SourceFile: document.Path,
			Text:       window,
		})
	}
	return chunks, nil
}
