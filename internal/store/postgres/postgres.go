// Package postgres implements a Postgres-backed store.Store using pgx v5.
// Chunks and metadata are JSONB rows; upserts use ON CONFLICT so chunk writes
// stay idempotent under re-runs of a failed build.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datastudio/internal/store"
	"datastudio/pkg/records"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS studio_chunks (
	project_id  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	rows        JSONB NOT NULL,
	PRIMARY KEY (project_id, source_id, chunk_index)
);
CREATE TABLE IF NOT EXISTS studio_metadata (
	project_id TEXT PRIMARY KEY,
	record     JSONB NOT NULL
);
`

// Store is a Postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pgx pool with the given DSN and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// GetChunk returns the rows stored for the chunk, or an empty slice when the
// chunk does not exist.
func (s *Store) GetChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) ([]records.Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT rows FROM studio_chunks WHERE project_id = $1 AND source_id = $2 AND chunk_index = $3`,
		projectID, sourceID, chunkIndex,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return []records.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}

	var rows []records.Record
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("postgres: decode chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return rows, nil
}

// SaveChunk upserts the chunk payload.
func (s *Store) SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("postgres: marshal chunk: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO studio_chunks (project_id, source_id, chunk_index, rows) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, source_id, chunk_index) DO UPDATE SET rows = EXCLUDED.rows`,
		projectID, sourceID, chunkIndex, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteChunk removes a single chunk. Deleting an absent chunk is not an error.
func (s *Store) DeleteChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM studio_chunks WHERE project_id = $1 AND source_id = $2 AND chunk_index = $3`,
		projectID, sourceID, chunkIndex,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteSourceChunks removes every chunk belonging to the source.
func (s *Store) DeleteSourceChunks(ctx context.Context, projectID, sourceID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM studio_chunks WHERE project_id = $1 AND source_id = $2`,
		projectID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete chunks %s/%s: %w", projectID, sourceID, err)
	}
	return nil
}

// GetMetadata loads the project metadata record.
func (s *Store) GetMetadata(ctx context.Context, projectID string) (*store.ProjectMetadata, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM studio_metadata WHERE project_id = $1`, projectID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get metadata %s: %w", projectID, err)
	}

	var meta store.ProjectMetadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, fmt.Errorf("postgres: decode metadata %s: %w", projectID, err)
	}
	return &meta, nil
}

// SaveMetadata upserts the project metadata record.
func (s *Store) SaveMetadata(ctx context.Context, projectID string, meta *store.ProjectMetadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO studio_metadata (project_id, record) VALUES ($1, $2)
		 ON CONFLICT (project_id) DO UPDATE SET record = EXCLUDED.record`,
		projectID, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save metadata %s: %w", projectID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
