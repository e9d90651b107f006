package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoIndex is returned by IndexCache.Load when nothing has been saved.
var ErrNoIndex = errors.New("no cached index")

// IndexCache persists a single Index in SQLite so a restart can skip
// re-embedding an unchanged corpus. The index_meta and index_chunks tables
// must already exist (created via migrations).
type IndexCache struct {
	db *sql.DB
}

// NewIndexCache wraps an existing *sql.DB for index persistence.
func NewIndexCache(db *sql.DB) *IndexCache {
	return &IndexCache{db: db}
}

// Save replaces the cached index with idx.
func (c *IndexCache) Save(ctx context.Context, idx *Index) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM index_chunks`); err != nil {
		return fmt.Errorf("clearing index chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("clearing index meta: %w", err)
	}

	h := idx.Header
	_, err = tx.ExecContext(ctx, `
		INSERT INTO index_meta (id, model, dimensions, corpus_hash, built_at, chunk_count)
		VALUES (1, ?, ?, ?, ?, ?)`,
		h.Model, h.Dimensions, h.CorpusHash, h.BuiltAt.UTC().Format(time.RFC3339Nano), len(idx.Chunks))
	if err != nil {
		return fmt.Errorf("inserting index meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO index_chunks (position, text_chunk, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range idx.Chunks {
		if _, err := stmt.ExecContext(ctx, i, text, encodeFloat32s(idx.Vectors[i])); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Load returns the cached index, or ErrNoIndex if none was saved.
func (c *IndexCache) Load(ctx context.Context) (*Index, error) {
	var h Header
	var builtAt string
	err := c.db.QueryRowContext(ctx, `
		SELECT model, dimensions, corpus_hash, built_at, chunk_count
		FROM index_meta WHERE id = 1`).Scan(&h.Model, &h.Dimensions, &h.CorpusHash, &builtAt, &h.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("querying index meta: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, builtAt)
	if err != nil {
		return nil, fmt.Errorf("parsing built_at: %w", err)
	}
	h.BuiltAt = t

	rows, err := c.db.QueryContext(ctx, `SELECT position, text_chunk, embedding FROM index_chunks ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying index chunks: %w", err)
	}
	defer rows.Close()

	idx := &Index{Header: h}
	for rows.Next() {
		var pos int
		var text string
		var blob []byte
		if err := rows.Scan(&pos, &text, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if pos != len(idx.Chunks) {
			return nil, fmt.Errorf("%w: chunk position %d out of sequence", ErrCorruptIndex, pos)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", pos, err)
		}
		if len(vec) != h.Dimensions {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, want %d", ErrCorruptIndex, pos, len(vec), h.Dimensions)
		}
		idx.Chunks = append(idx.Chunks, text)
		idx.Vectors = append(idx.Vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	if len(idx.Chunks) != h.Count {
		return nil, fmt.Errorf("%w: %d chunks stored, meta says %d", ErrCorruptIndex, len(idx.Chunks), h.Count)
	}
	return idx, nil
}

// Clear removes the cached index.
func (c *IndexCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM index_chunks`); err != nil {
		return fmt.Errorf("clearing index chunks: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("clearing index meta: %w", err)
	}
	return nil
}
