package store

import (
	"context"
	"fmt"
	"sync"

	"datastudio/pkg/records"
)

func init() {
	Register("memory", func(ctx context.Context, cfg Config) (Store, error) {
		return NewMemory(), nil
	})
}

// Memory is an in-process Store used by tests and throwaway sessions. It
// mimics the persistent backends' contract exactly: absent chunks read as
// empty, metadata is deep-copied on the way in and out so callers cannot
// mutate stored state through aliases.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string][]records.Record // key: projectID/sourceID/chunkIndex
	meta   map[string]*ProjectMetadata
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chunks: map[string][]records.Record{},
		meta:   map[string]*ProjectMetadata{},
	}
}

func chunkKey(projectID, sourceID string, chunkIndex int) string {
	return fmt.Sprintf("%s/%s/%d", projectID, sourceID, chunkIndex)
}

// GetChunk returns the stored rows, or an empty slice when absent.
func (m *Memory) GetChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) ([]records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.chunks[chunkKey(projectID, sourceID, chunkIndex)]
	out := make([]records.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// SaveChunk stores a copy of rows under the chunk key.
func (m *Memory) SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error {
	cp := make([]records.Record, len(rows))
	for i, r := range rows {
		cp[i] = r.Clone()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunkKey(projectID, sourceID, chunkIndex)] = cp
	return nil
}

// DeleteChunk removes a single chunk.
func (m *Memory) DeleteChunk(ctx context.Context, projectID, sourceID string, chunkIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, chunkKey(projectID, sourceID, chunkIndex))
	return nil
}

// DeleteSourceChunks removes every chunk belonging to the source.
func (m *Memory) DeleteSourceChunks(ctx context.Context, projectID, sourceID string) error {
	prefix := projectID + "/" + sourceID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.chunks {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(m.chunks, k)
		}
	}
	return nil
}

// GetMetadata returns a copy of the project metadata or ErrProjectNotFound.
func (m *Memory) GetMetadata(ctx context.Context, projectID string) (*ProjectMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return copyMetadata(meta), nil
}

// SaveMetadata stores a copy of meta for the project.
func (m *Memory) SaveMetadata(ctx context.Context, projectID string, meta *ProjectMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[projectID] = copyMetadata(meta)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func copyMetadata(meta *ProjectMetadata) *ProjectMetadata {
	out := &ProjectMetadata{
		ActiveSourceID: meta.ActiveSourceID,
		LastModified:   meta.LastModified,
		DataSources:    make([]SourceRecord, len(meta.DataSources)),
	}
	for i, src := range meta.DataSources {
		cp := src
		cp.Columns = append([]ColumnConfig(nil), src.Columns...)
		if src.Rows != nil {
			cp.Rows = make([]records.Record, len(src.Rows))
			for j, r := range src.Rows {
				cp.Rows[j] = r.Clone()
			}
		}
		out.DataSources[i] = cp
	}
	return out
}
