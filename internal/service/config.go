package service

import (
	"localrag/internal/ranking"
)

// Config is the engine's slice of the application configuration.
type Config struct {
	KnowledgeDir string
	// Extensions lists the file suffixes that count as knowledge, e.g. ".txt".
	Extensions []string

	// Normalize selects cosine similarity (unit vectors) over raw inner product.
	Normalize  bool
	Candidates int
	// BonusWeight scales the lexical bonus. Nil selects the weight paired
	// with Normalize.
	BonusWeight  *float64
	MaxPerSource int
	TotalResults int

	// Concurrency bounds parallel embedding calls during a build.
	Concurrency int
}

const DefaultCandidates = 10

func DefaultConfig() Config {
	return Config{
		KnowledgeDir: "knowledge",
		Extensions:   []string{".txt"},
		Normalize:    true,
		Candidates:   DefaultCandidates,
		MaxPerSource: ranking.DefaultMaxPerSource,
		TotalResults: ranking.DefaultTotalResults,
		Concurrency:  4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Extensions) == 0 {
		c.Extensions = d.Extensions
	}
	if c.BonusWeight == nil {
		w := ranking.DefaultBonusWeight(c.Normalize)
		c.BonusWeight = &w
	}
	if c.Candidates <= 0 {
		c.Candidates = d.Candidates
	}
	if c.MaxPerSource <= 0 {
		c.MaxPerSource = d.MaxPerSource
	}
	if c.TotalResults <= 0 {
		c.TotalResults = d.TotalResults
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}
