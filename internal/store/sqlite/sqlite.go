// Package sqlite implements a SQLite-backed store.Store using database/sql.
// Chunks and metadata live in two small tables with JSON-encoded payloads;
// each statement runs in its own implicit transaction, which matches the
// per-chunk atomicity the pipeline contract asks for.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// SQLite driver; replace with your preferred driver if desired.
	_ "modernc.org/sqlite" // alternative: github.com/mattn/go-sqlite3

	"datastudio/internal/store"
	"datastudio/pkg/records"
)

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.Path)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	project_id  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	rows        TEXT NOT NULL,
	PRIMARY KEY (project_id, source_id, chunk_index)
);
CREATE TABLE IF NOT EXISTS metadata (
	project_id TEXT PRIMARY KEY,
	record     TEXT NOT NULL
);
`

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at path (passed straight to database/sql, so
// "file:studio.db?cache=shared" style DSNs work too) and ensures the schema
// exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Fail fast on invalid paths.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetChunk returns the rows stored for the chunk, or an empty slice when the
// chunk does not exist.
func (s *Store) GetChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) ([]records.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT rows FROM chunks WHERE project_id = ? AND source_id = ? AND chunk_index = ?`,
		projectID, sourceID, chunkIndex,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return []records.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}

	var rows []records.Record
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, fmt.Errorf("sqlite: decode chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return rows, nil
}

// SaveChunk upserts the chunk payload.
func (s *Store) SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("sqlite: marshal chunk: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (project_id, source_id, chunk_index, rows) VALUES (?, ?, ?, ?)
		 ON CONFLICT (project_id, source_id, chunk_index) DO UPDATE SET rows = excluded.rows`,
		projectID, sourceID, chunkIndex, string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteChunk removes a single chunk. Deleting an absent chunk is not an error.
func (s *Store) DeleteChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE project_id = ? AND source_id = ? AND chunk_index = ?`,
		projectID, sourceID, chunkIndex,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteSourceChunks removes every chunk belonging to the source.
func (s *Store) DeleteSourceChunks(ctx context.Context, projectID, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE project_id = ? AND source_id = ?`,
		projectID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete chunks %s/%s: %w", projectID, sourceID, err)
	}
	return nil
}

// GetMetadata loads the project metadata record.
func (s *Store) GetMetadata(ctx context.Context, projectID string) (*store.ProjectMetadata, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM metadata WHERE project_id = ?`, projectID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get metadata %s: %w", projectID, err)
	}

	var meta store.ProjectMetadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return nil, fmt.Errorf("sqlite: decode metadata %s: %w", projectID, err)
	}
	return &meta, nil
}

// SaveMetadata upserts the project metadata record.
func (s *Store) SaveMetadata(ctx context.Context, projectID string, meta *store.ProjectMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metadata (project_id, record) VALUES (?, ?)
		 ON CONFLICT (project_id) DO UPDATE SET record = excluded.record`,
		projectID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save metadata %s: %w", projectID, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
