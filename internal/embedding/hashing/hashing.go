package hashing

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"
)

const DefaultDimension = 512

var ErrNoFeatures = errors.New("hashing: text has no indexable characters")

// Embedder is an offline embedder based on the hashing trick.
// Features are whole words plus rune unigrams and bigrams, so scripts written
// without spaces still share features with their queries. Vectors are returned
// unnormalized; the index decides on normalization.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
}

// NewEmbedder creates a hashing embedder producing vectors of the given size.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed feature vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[string]int)
	for _, tok := range e.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tf["w:"+tok]++
		runes := []rune(tok)
		for i, r := range runes {
			if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
				continue
			}
			tf["u:"+string(r)]++
			if i+1 < len(runes) {
				tf["b:"+string(runes[i:i+2])]++
			}
		}
	}
	if len(tf) == 0 {
		return nil, ErrNoFeatures
	}
	vec := make([]float32, e.dimension)
	for feature, count := range tf {
		h := hashFeature(feature)
		idx := int(h % uint64(e.dimension))
		// Sublinear term frequency
		w := 1 + math.Log(float64(count))
		if h&(1<<63) != 0 {
			w = -w
		}
		vec[idx] += float32(w)
	}
	return vec, nil
}

func hashFeature(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
