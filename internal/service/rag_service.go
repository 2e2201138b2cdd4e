package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"localrag/internal/chunker"
	"localrag/internal/domain"
	"localrag/internal/ranking"
	"localrag/internal/snapshot"
	"localrag/internal/vectorstore/memory"
)

var (
	ErrNoKnowledge       = errors.New("no knowledge files found")
	ErrNoEligibleChunks  = errors.New("no eligible chunks")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrBuildInProgress   = errors.New("build already in progress")
	ErrPolicyMismatch    = errors.New("snapshot normalization policy differs from configuration")
)

const (
	contextHeader = "\n\n### Knowledge base reference ###\n"
	contextFooter = "\n#############################\n"

	progressLogEvery = 5
)

// RAGService owns the live corpus. Queries read it lock-free; builds replace
// it with a single pointer swap after the new generation is persisted.
type RAGService struct {
	cfg           Config
	chunker       domain.Chunker
	embedder      domain.Embedder
	queryEmbedder domain.Embedder
	store         domain.Snapshotter
	logger        *zap.Logger

	corpus   atomic.Pointer[domain.Corpus]
	buildMu  sync.Mutex
	building atomic.Bool

	onProgress ProgressFunc
	progressMu sync.Mutex

	mu        sync.RWMutex
	lastError string
	progress  *Progress
}

type Option func(*RAGService)

// ProgressFunc receives the number of chunks embedded so far and the total.
// Calls are serialized and done never decreases.
type ProgressFunc func(done, total int)

// WithProgress registers fn to follow the embedding phase of every build.
func WithProgress(fn ProgressFunc) Option {
	return func(s *RAGService) { s.onProgress = fn }
}

// WithQueryEmbedder sets the embedder used for queries. It must produce the
// same vectors as the build embedder; a caching wrapper is the usual choice.
func WithQueryEmbedder(e domain.Embedder) Option {
	return func(s *RAGService) { s.queryEmbedder = e }
}

func NewRAGService(cfg Config, ch domain.Chunker, embedder domain.Embedder, store domain.Snapshotter, logger *zap.Logger, opts ...Option) *RAGService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RAGService{
		cfg:      cfg.withDefaults(),
		chunker:  ch,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queryEmbedder == nil {
		s.queryEmbedder = embedder
	}
	return s
}

// Open restores the persisted corpus. Any failure leaves the engine empty;
// the returned error is informational.
func (s *RAGService) Open(ctx context.Context) error {
	corpus, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		s.logger.Info("no snapshot on disk, starting empty")
		return nil
	case err != nil:
		s.logger.Warn("snapshot unusable, starting empty", zap.Error(err))
		return err
	}
	if corpus.Index.Normalized() != s.cfg.Normalize {
		err := fmt.Errorf("%w: snapshot normalized=%t, configured %t", ErrPolicyMismatch, corpus.Index.Normalized(), s.cfg.Normalize)
		s.logger.Warn("snapshot unusable, starting empty", zap.Error(err))
		return err
	}
	s.corpus.Store(corpus)
	s.logger.Info("snapshot loaded",
		zap.String("generation", corpus.Generation),
		zap.Int("chunks", len(corpus.Chunks)),
		zap.Int("dimension", corpus.Index.Dimension()),
	)
	return nil
}

// Build reads the knowledge directory and replaces the corpus. On failure the
// previous corpus keeps serving.
func (s *RAGService) Build(ctx context.Context) (domain.BuildReport, error) {
	if !s.buildMu.TryLock() {
		return domain.BuildReport{}, ErrBuildInProgress
	}
	defer s.buildMu.Unlock()
	s.building.Store(true)
	defer s.building.Store(false)
	defer s.setProgress(nil)

	start := time.Now()
	report, err := s.build(ctx)
	report.Duration = time.Since(start)

	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("build failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return report, err
	}
	s.logger.Info("build complete",
		zap.String("generation", report.Generation),
		zap.Int("files", report.Files),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", report.Skipped),
		zap.Int("dimension", report.Dimension),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *RAGService) build(ctx context.Context) (domain.BuildReport, error) {
	var report domain.BuildReport

	files, err := listKnowledge(s.cfg.KnowledgeDir, s.cfg.Extensions)
	if err != nil {
		return report, err
	}
	s.logger.Info("knowledge files found", zap.Int("count", len(files)), zap.Strings("files", files))

	var chunks []domain.Chunk
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(s.cfg.KnowledgeDir, filepath.FromSlash(rel)))
		if err != nil {
			s.logger.Warn("skip unreadable file", zap.String("source_file", rel), zap.Error(err))
			continue
		}
		report.Files++
		docChunks, err := s.chunker.Chunk(domain.Document{Path: rel, Content: string(data)})
		if err != nil {
			return report, fmt.Errorf("segment %s: %w", rel, err)
		}
		for _, c := range docChunks {
			c.ID = len(chunks)
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		return report, ErrNoEligibleChunks
	}

	s.setProgress(&Progress{Files: report.Files, ChunksTotal: len(chunks)})
	s.logger.Info("embedding started", zap.Int("chunks", len(chunks)))
	vectors, err := s.embedAll(ctx, chunks)
	if err != nil {
		return report, err
	}

	kept := make([]domain.Chunk, 0, len(chunks))
	rows := make([][]float32, 0, len(chunks))
	for i, v := range vectors {
		if v == nil {
			report.Skipped++
			continue
		}
		c := chunks[i]
		c.ID = len(kept)
		kept = append(kept, c)
		rows = append(rows, v)
	}
	if len(kept) == 0 {
		return report, fmt.Errorf("%w: all %d chunks failed to embed", ErrNoEligibleChunks, len(chunks))
	}

	idx := memory.NewIndex(s.cfg.Normalize)
	if err := idx.AddAll(rows); err != nil {
		return report, fmt.Errorf("load index: %w", err)
	}
	corpus := &domain.Corpus{
		Generation: uuid.NewString(),
		Chunks:     kept,
		Index:      idx,
		BuiltAt:    time.Now().UTC(),
	}
	if err := s.store.Save(ctx, corpus); err != nil {
		return report, fmt.Errorf("persist snapshot: %w", err)
	}
	s.corpus.Store(corpus)

	report.Generation = corpus.Generation
	report.Chunks = len(kept)
	report.Dimension = idx.Dimension()
	return report, nil
}

// embedAll embeds every chunk's tagged text. Slot i of the result belongs to
// chunks[i] and is nil when the provider failed for that chunk.
func (s *RAGService) embedAll(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	var (
		mu  sync.Mutex
		dim int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range chunks {
		c := chunks[i]
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, chunker.Tagged(c))
			if gctx.Err() == nil {
				defer s.advanceProgress(len(chunks))
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("skip chunk, embedding failed",
					zap.Int("chunk_id", c.ID),
					zap.String("source_file", c.SourceFile),
					zap.Error(err),
				)
				return nil
			}
			if len(vec) == 0 {
				s.logger.Warn("skip chunk, empty embedding",
					zap.Int("chunk_id", c.ID),
					zap.String("source_file", c.SourceFile),
				)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if dim == 0 {
				dim = len(vec)
			} else if len(vec) != dim {
				return fmt.Errorf("%w: chunk %d of %s has %d, want %d", ErrDimensionMismatch, c.ID, c.SourceFile, len(vec), dim)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *RAGService) setProgress(p *Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// advanceProgress records one settled chunk, embedded or skipped.
func (s *RAGService) advanceProgress(total int) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()

	s.mu.Lock()
	if s.progress == nil {
		s.mu.Unlock()
		return
	}
	s.progress.ChunksDone++
	done := s.progress.ChunksDone
	s.mu.Unlock()

	if s.onProgress != nil {
		s.onProgress(done, total)
	}
	if done%progressLogEvery == 0 || done == total {
		s.logger.Info("embedding progress", zap.Int("done", done), zap.Int("total", total))
	}
}

// Query returns the context block and source list for text. It never fails:
// any problem yields an empty result.
func (s *RAGService) Query(ctx context.Context, text string) domain.QueryResult {
	empty := domain.QueryResult{Sources: []string{}}
	corpus := s.corpus.Load()
	if corpus == nil || strings.TrimSpace(text) == "" {
		return empty
	}

	vec, err := s.queryEmbedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed", zap.Error(err))
		return empty
	}
	k := min(s.cfg.Candidates, corpus.Index.Len())
	hits, err := corpus.Index.Search(vec, k)
	if err != nil {
		s.logger.Warn("vector search failed", zap.String("generation", corpus.Generation), zap.Error(err))
		return empty
	}

	candidates := make([]domain.Candidate, 0, len(hits))
	for _, h := range hits {
		if h.Row < 0 || h.Row >= len(corpus.Chunks) {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Chunk:       corpus.Chunks[h.Row],
			Rank:        len(candidates),
			VectorScore: h.Score,
		})
	}
	ranked := ranking.Rank(text, candidates, *s.cfg.BonusWeight, chunker.Tagged)
	admitted, sources := ranking.Diversify(ranked, s.cfg.MaxPerSource, s.cfg.TotalResults)
	if len(admitted) == 0 {
		return empty
	}

	s.logger.Debug("query answered",
		zap.Int("candidates", len(candidates)),
		zap.Int("admitted", len(admitted)),
		zap.Strings("sources", sources),
	)
	return domain.QueryResult{Context: renderContext(admitted), Sources: sources}
}

func renderContext(admitted []domain.Candidate) string {
	parts := make([]string, len(admitted))
	for i, c := range admitted {
		parts[i] = chunker.Tagged(c.Chunk)
	}
	return contextHeader + strings.Join(parts, "\n\n") + contextFooter
}

func (s *RAGService) State() State {
	if s.building.Load() {
		return StateBuilding
	}
	if s.corpus.Load() != nil {
		return StateReady
	}
	return StateEmpty
}

func (s *RAGService) Stats() Stats {
	st := Stats{State: s.State()}
	if c := s.corpus.Load(); c != nil {
		st.Generation = c.Generation
		st.Chunks = len(c.Chunks)
		st.Dimension = c.Index.Dimension()
		st.BuiltAt = c.BuiltAt
	}
	s.mu.RLock()
	st.LastError = s.lastError
	if s.progress != nil && st.State == StateBuilding {
		p := *s.progress
		st.Progress = &p
	}
	s.mu.RUnlock()
	return st
}

// listKnowledge returns the slash-separated paths, relative to dir, of every
// regular file whose extension is in exts, sorted.
func listKnowledge(dir string, exts []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoKnowledge, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoKnowledge, dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !hasExtension(d.Name(), exts) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoKnowledge, dir)
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
