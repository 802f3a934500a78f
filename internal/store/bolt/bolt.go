// Package bolt implements a bbolt-backed chunk store. It is the default
// backend: a single file database, no server, with per-bucket organization --
// one bucket for project metadata and one for row chunks.
//
// Chunk keys are "projectID/sourceID/chunkIndex" with the index zero-padded so
// that a bucket cursor walks chunks of a source in order. Rows are stored as
// JSON; bbolt gives us single-write-transaction atomicity per chunk, which is
// exactly the per-chunk atomicity the pipeline contract asks for (no
// transaction spans multiple chunks).
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"datastudio/internal/store"
	"datastudio/pkg/records"
)

var (
	bucketMeta   = []byte("metadata")
	bucketChunks = []byte("chunks")
)

func init() {
	store.Register("bolt", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(cfg.Path)
	})
}

// Store is a bbolt-backed implementation of store.Store.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file at path and ensures the buckets
// exist.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt: path must not be empty")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func chunkKey(projectID, sourceID string, chunkIndex int) []byte {
	// Zero-padded index keeps cursor order == chunk order.
	return []byte(fmt.Sprintf("%s/%s/%08d", projectID, sourceID, chunkIndex))
}

func chunkPrefix(projectID, sourceID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", projectID, sourceID))
}

// GetChunk returns the rows stored at (projectID, sourceID, chunkIndex), or an
// empty slice when the chunk does not exist.
func (s *Store) GetChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) ([]records.Record, error) {
	var rows []records.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get(chunkKey(projectID, sourceID, chunkIndex))
		if data == nil {
			rows = []records.Record{}
			return nil
		}
		return json.Unmarshal(data, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: get chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return rows, nil
}

// SaveChunk writes rows at (projectID, sourceID, chunkIndex), replacing any
// previous contents.
func (s *Store) SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("bolt: marshal chunk: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(chunkKey(projectID, sourceID, chunkIndex), data)
	})
	if err != nil {
		return fmt.Errorf("bolt: save chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteChunk removes a single chunk. Deleting an absent chunk is not an error.
func (s *Store) DeleteChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(projectID, sourceID, chunkIndex))
	})
	if err != nil {
		return fmt.Errorf("bolt: delete chunk %s/%s/%d: %w", projectID, sourceID, chunkIndex, err)
	}
	return nil
}

// DeleteSourceChunks removes every chunk belonging to the source.
func (s *Store) DeleteSourceChunks(ctx context.Context, projectID, sourceID string) error {
	prefix := chunkPrefix(projectID, sourceID)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: delete chunks %s/%s: %w", projectID, sourceID, err)
	}
	return nil
}

// GetMetadata loads the project metadata record.
func (s *Store) GetMetadata(ctx context.Context, projectID string) (*store.ProjectMetadata, error) {
	var meta store.ProjectMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(projectID))
		if data == nil {
			return fmt.Errorf("%w: %s", store.ErrProjectNotFound, projectID)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveMetadata stores the project metadata record.
func (s *Store) SaveMetadata(ctx context.Context, projectID string, meta *store.ProjectMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("bolt: marshal metadata: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(projectID), data)
	})
	if err != nil {
		return fmt.Errorf("bolt: save metadata %s: %w", projectID, err)
	}
	return nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
