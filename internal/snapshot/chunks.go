package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"localrag/internal/domain"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY,
	source_file TEXT NOT NULL,
	text        TEXT NOT NULL
);`

// manifest describes one persisted generation.
type manifest struct {
	Generation string
	Count      int
	Dimension  int
	Normalized bool
	BuiltAt    time.Time
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// writeChunks creates a fresh chunk store at path holding m and chunks.
func writeChunks(ctx context.Context, path string, m manifest, chunks []domain.Chunk) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, chunkSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"generation": m.Generation,
		"count":      strconv.Itoa(m.Count),
		"dimension":  strconv.Itoa(m.Dimension),
		"normalized": strconv.FormatBool(m.Normalized),
		"built_at":   m.BuiltAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks(id, source_file, text) VALUES(?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceFile, c.Text); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// readChunks loads the manifest and the chunks ordered by id. want is the
// number of vectors in the already loaded index; a manifest or table that
// disagrees with it is corrupt.
func readChunks(ctx context.Context, path string, want int) (manifest, []domain.Chunk, error) {
	var m manifest
	db, err := openDB(path)
	if err != nil {
		return m, nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return m, nil, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return m, nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return m, nil, err
	}
	if m, err = parseManifest(meta); err != nil {
		return m, nil, err
	}
	if m.Count != want {
		return m, nil, fmt.Errorf("%w: manifest counts %d chunks for %d index rows", ErrCorrupt, m.Count, want)
	}

	cur, err := db.QueryContext(ctx, `SELECT id, source_file, text FROM chunks ORDER BY id`)
	if err != nil {
		return m, nil, fmt.Errorf("%w: chunks: %v", ErrCorrupt, err)
	}
	defer cur.Close()
	chunks := make([]domain.Chunk, 0, want)
	for cur.Next() {
		if len(chunks) == want {
			return m, nil, fmt.Errorf("%w: more than %d chunks stored", ErrCorrupt, want)
		}
		var c domain.Chunk
		if err := cur.Scan(&c.ID, &c.SourceFile, &c.Text); err != nil {
			return m, nil, err
		}
		chunks = append(chunks, c)
	}
	if err := cur.Err(); err != nil {
		return m, nil, err
	}
	return m, chunks, nil
}

func parseManifest(meta map[string]string) (manifest, error) {
	var m manifest
	var err error
	m.Generation = meta["generation"]
	if m.Generation == "" {
		return m, fmt.Errorf("%w: missing generation", ErrCorrupt)
	}
	if m.Count, err = strconv.Atoi(meta["count"]); err != nil {
		return m, fmt.Errorf("%w: count: %v", ErrCorrupt, err)
	}
	if m.Count < 0 {
		return m, fmt.Errorf("%w: negative count %d", ErrCorrupt, m.Count)
	}
	if m.Dimension, err = strconv.Atoi(meta["dimension"]); err != nil {
		return m, fmt.Errorf("%w: dimension: %v", ErrCorrupt, err)
	}
	if m.Dimension < 0 {
		return m, fmt.Errorf("%w: negative dimension %d", ErrCorrupt, m.Dimension)
	}
	if m.Normalized, err = strconv.ParseBool(meta["normalized"]); err != nil {
		return m, fmt.Errorf("%w: normalized: %v", ErrCorrupt, err)
	}
	if m.BuiltAt, err = time.Parse(time.RFC3339Nano, meta["built_at"]); err != nil {
		return m, fmt.Errorf("%w: built_at: %v", ErrCorrupt, err)
	}
	return m, nil
}
