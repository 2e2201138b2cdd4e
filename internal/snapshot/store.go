// Package snapshot persists corpus generations so they survive restarts.
//
// Layout under the store directory:
//
//	CURRENT              generation id of the live snapshot
//	gen-<id>/index.lrix  codec byte + compressed vector index
//	gen-<id>/chunks.db   SQLite chunk store
//	LOCK                 advisory lock shared by every process using the dir
//
// A generation directory is complete before CURRENT points at it, so the
// index and the chunks always flip together. Writers hold LOCK exclusively
// for the whole save and prune; readers hold it shared.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"localrag/internal/domain"
	"localrag/internal/vectorstore/memory"
)

const (
	currentFile = "CURRENT"
	indexFile   = "index.lrix"
	chunksFile  = "chunks.db"
	lockFile    = "LOCK"
	genPrefix   = "gen-"

	lockRetryDelay = 20 * time.Millisecond
)

var (
	ErrNoSnapshot = errors.New("snapshot: no snapshot found")
	ErrCorrupt    = errors.New("snapshot: corrupt snapshot")
)

// Store reads and writes snapshots in a single directory.
type Store struct {
	dir         string
	compression Compression
	logger      *zap.Logger
}

var _ domain.Snapshotter = (*Store)(nil)

func NewStore(dir string, compression Compression, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, compression: compression, logger: logger}
}

func (s *Store) Dir() string { return s.dir }

// Save persists corpus as a new generation and makes it current.
func (s *Store) Save(ctx context.Context, corpus *domain.Corpus) error {
	if corpus == nil || corpus.Index == nil {
		return errors.New("snapshot: nil corpus")
	}
	if err := validGeneration(corpus.Generation); err != nil {
		return err
	}
	if len(corpus.Chunks) != corpus.Index.Len() {
		return fmt.Errorf("snapshot: %d chunks for %d index rows", len(corpus.Chunks), corpus.Index.Len())
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	name := genPrefix + corpus.Generation
	tmp, err := os.MkdirTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	err = SaveToFile(filepath.Join(tmp, indexFile), func(w io.Writer) error {
		return writeCompressed(w, s.compression, corpus.Index.Save)
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	m := manifest{
		Generation: corpus.Generation,
		Count:      len(corpus.Chunks),
		Dimension:  corpus.Index.Dimension(),
		Normalized: corpus.Index.Normalized(),
		BuiltAt:    corpus.BuiltAt,
	}
	if err := writeChunks(ctx, filepath.Join(tmp, chunksFile), m, corpus.Chunks); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	syncDir(tmp)

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish generation: %w", err)
	}
	committed = true
	syncDir(s.dir)

	err = SaveToFile(filepath.Join(s.dir, currentFile), func(w io.Writer) error {
		_, err := io.WriteString(w, corpus.Generation+"\n")
		return err
	})
	if err != nil {
		_ = os.RemoveAll(final)
		return fmt.Errorf("switch current generation: %w", err)
	}

	s.prune(corpus.Generation)
	return nil
}

// Load restores the current generation. It returns ErrNoSnapshot when nothing
// has been saved yet and an ErrCorrupt-wrapped error when the files disagree.
func (s *Store) Load(ctx context.Context) (*domain.Corpus, error) {
	if _, err := s.Current(); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	gen, err := s.Current()
	if err != nil {
		return nil, err
	}
	genDir := filepath.Join(s.dir, genPrefix+gen)
	indexPath := filepath.Join(genDir, indexFile)
	chunksPath := filepath.Join(genDir, chunksFile)
	for _, p := range []string{indexPath, chunksPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s missing", ErrNoSnapshot, filepath.Base(p))
			}
			return nil, err
		}
	}

	idx, err := loadIndex(indexPath)
	if err != nil {
		return nil, err
	}
	m, chunks, err := readChunks(ctx, chunksPath, idx.Len())
	if err != nil {
		return nil, err
	}

	switch {
	case m.Generation != gen:
		return nil, fmt.Errorf("%w: chunk store belongs to generation %s, want %s", ErrCorrupt, m.Generation, gen)
	case len(chunks) != idx.Len():
		return nil, fmt.Errorf("%w: %d chunks for %d index rows", ErrCorrupt, len(chunks), idx.Len())
	case m.Dimension != idx.Dimension():
		return nil, fmt.Errorf("%w: manifest dimension %d, index dimension %d", ErrCorrupt, m.Dimension, idx.Dimension())
	case m.Normalized != idx.Normalized():
		return nil, fmt.Errorf("%w: manifest and index disagree on normalization", ErrCorrupt)
	}
	for i, c := range chunks {
		if c.ID != i {
			return nil, fmt.Errorf("%w: chunk ids not contiguous at %d (got %d)", ErrCorrupt, i, c.ID)
		}
	}

	return &domain.Corpus{
		Generation: gen,
		Chunks:     chunks,
		Index:      idx,
		BuiltAt:    m.BuiltAt,
	}, nil
}

// Current returns the generation id CURRENT points at.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoSnapshot
		}
		return "", err
	}
	gen := strings.TrimSpace(string(data))
	if err := validGeneration(gen); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return gen, nil
}

// lock waits for the directory lock, exclusive for writers and shared for
// readers, and returns the func that releases it.
func (s *Store) lock(ctx context.Context, exclusive bool) (func(), error) {
	fl := flock.New(filepath.Join(s.dir, lockFile))
	var ok bool
	var err error
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err == nil && !ok {
		err = ctx.Err()
	}
	if err != nil {
		_ = fl.Close()
		return nil, fmt.Errorf("lock snapshot dir: %w", err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("unlock snapshot dir", zap.Error(err))
		}
		_ = fl.Close()
	}, nil
}

func loadIndex(path string) (*memory.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var idx *memory.Index
	err = readCompressed(f, func(r io.Reader) error {
		var err error
		idx, err = memory.Load(r)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: index: %w", ErrCorrupt, err)
	}
	return idx, nil
}

// prune removes every generation except keep, plus temp dirs left behind by
// crashed writers. It runs under the exclusive lock, so no temp dir belongs
// to a live save.
func (s *Store) prune(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("list snapshot dir", zap.Error(err))
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, genPrefix) || name == genPrefix+keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("prune generation", zap.String("dir", name), zap.Error(err))
			continue
		}
		s.logger.Debug("pruned generation", zap.String("dir", name))
	}
}

func validGeneration(gen string) error {
	if gen == "" {
		return errors.New("snapshot: empty generation id")
	}
	if strings.ContainsAny(gen, `/\`) || strings.Contains(gen, "..") {
		return fmt.Errorf("snapshot: invalid generation id %q", gen)
	}
	return nil
}
