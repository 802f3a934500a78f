// Package store contains the storage-agnostic chunk-store contract and
// utilities shared by every backend.
//
// Rows are persisted in fixed-capacity chunks keyed by (sourceID, chunkIndex).
// Every chunk except the last for a source holds exactly ChunkSize rows; the
// last holds the remainder. A global row index i lives at chunk i/ChunkSize,
// offset i%ChunkSize. The pipeline restores this invariant after every
// mutating operation.
//
// Concrete backends register themselves with the factory via Register (in an
// init function) and are selected by config kind, so the rest of the
// application depends only on the Store interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"datastudio/pkg/records"
)

// ChunkSize is the fixed chunk capacity in rows.
const ChunkSize = 1000

var (
	// ErrProjectNotFound is returned when a project has no metadata record.
	ErrProjectNotFound = errors.New("store: project not found")
	// ErrSourceNotFound is returned when a source id is absent from a
	// project's metadata.
	ErrSourceNotFound = errors.New("store: source not found")
)

// ColumnConfig describes one column of a data source. Cleaning operations may
// retype a column (e.g. mark it date or tag_array after a transform) but
// columns are never deleted implicitly.
type ColumnConfig struct {
	Key     string `json:"key"`
	Type    string `json:"type"` // string|number|date|tag_array|sentiment|channel
	Visible bool   `json:"visible"`
	Label   string `json:"label"`
}

// SourceRecord describes a data source owned by a project.
//
// RowCount and ChunkCount are a cache of derived chunk-store state and may
// legitimately be stale or zero for records created by an older schema
// version; the StatsResolver self-heals that by probing chunk existence.
type SourceRecord struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Kind       string           `json:"kind"` // ingestion|prepared
	RowCount   int              `json:"rowCount"`
	ChunkCount int              `json:"chunkCount"`
	Columns    []ColumnConfig   `json:"columns"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`

	// Rows carries legacy inline rows from the pre-chunking schema. New
	// records never populate it; the stats resolver still honors it.
	Rows []records.Record `json:"rows,omitempty"`
}

// ProjectMetadata is the per-project metadata record.
type ProjectMetadata struct {
	DataSources    []SourceRecord `json:"dataSources"`
	ActiveSourceID string         `json:"activeDataSourceId,omitempty"`
	LastModified   time.Time      `json:"lastModified"`
}

// Source returns the source record with the given id, or ErrSourceNotFound.
func (m *ProjectMetadata) Source(id string) (*SourceRecord, error) {
	for i := range m.DataSources {
		if m.DataSources[i].ID == id {
			return &m.DataSources[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
}

// Store is the chunk-store contract consumed by the pipeline.
//
// GetChunk returns an empty slice (not an error) for an absent chunk; the
// stats resolver relies on that to probe chunk existence. Each chunk write is
// atomic on its own, but no transaction spans multiple chunk writes.
type Store interface {
	GetChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) ([]records.Record, error)
	SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error
	DeleteChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) error
	DeleteSourceChunks(ctx context.Context, projectID, sourceID string) error

	GetMetadata(ctx context.Context, projectID string) (*ProjectMetadata, error)
	SaveMetadata(ctx context.Context, projectID string, meta *ProjectMetadata) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind string // "bolt", "sqlite", "postgres", "memory"
	Path string // file path for bolt/sqlite
	DSN  string // connection string for postgres
}

// Factory constructs a Store from a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under the given kind. It is intended to
// be called from backend init functions and panics on duplicate registration,
// mirroring database/sql driver registration semantics.
func Register(kind string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("store: Register called twice for kind %q", kind))
	}
	factories[kind] = f
}

// Open constructs the backend selected by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.Kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown kind %q (known: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ChunkCountFor returns the number of chunks needed to hold rowCount rows.
func ChunkCountFor(rowCount int) int {
	if rowCount <= 0 {
		return 0
	}
	return (rowCount + ChunkSize - 1) / ChunkSize
}
