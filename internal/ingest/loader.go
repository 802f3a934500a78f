package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"datastudio/internal/analyze"
	"datastudio/internal/metrics"
	"datastudio/internal/store"
	"datastudio/pkg/records"
)

const sampleRows = 200

// sink buckets incoming rows into fixed-size chunks under a fresh source id
// and retains a head sample for column profiling.
type sink struct {
	store     store.Store
	projectID string
	sourceID  string
	keys      []string

	buf    []records.Record
	next   int
	total  int
	sample []records.Record
}

func newSink(st store.Store, projectID string, keys []string) *sink {
	return &sink{store: st, projectID: projectID, sourceID: uuid.NewString(), keys: keys}
}

// addCells converts one raw row into a record. Empty cells become nil so
// blank-aware filters and profiling see them as missing rather than "".
func (s *sink) addCells(ctx context.Context, cells []string) error {
	row := make(records.Record, len(s.keys))
	for i, key := range s.keys {
		if i < len(cells) && cells[i] != "" {
			row[key] = cells[i]
		} else {
			row[key] = nil
		}
	}
	if len(s.sample) < sampleRows {
		s.sample = append(s.sample, row)
	}
	s.buf = append(s.buf, row)
	s.total++
	if len(s.buf) >= store.ChunkSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *sink) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.store.SaveChunk(ctx, s.projectID, s.sourceID, s.next, s.buf); err != nil {
		return err
	}
	s.next++
	s.buf = s.buf[:0]
	return nil
}

// finish flushes the tail, profiles the sample, and registers the new source
// in the project metadata.
func (s *sink) finish(ctx context.Context, name, kind string) (*store.SourceRecord, error) {
	if err := s.flush(ctx); err != nil {
		return nil, err
	}

	columns := make([]store.ColumnConfig, 0, len(s.keys))
	for _, key := range s.keys {
		profile := analyze.Column(s.sample, key)
		columns = append(columns, store.ColumnConfig{
			Key:     key,
			Type:    analyze.GuessColumnType(profile),
			Visible: true,
			Label:   key,
		})
	}

	now := time.Now().UTC()
	record := store.SourceRecord{
		ID:         s.sourceID,
		Name:       name,
		Kind:       kind,
		RowCount:   s.total,
		ChunkCount: store.ChunkCountFor(s.total),
		Columns:    columns,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	meta, err := s.store.GetMetadata(ctx, s.projectID)
	if errors.Is(err, store.ErrProjectNotFound) {
		meta = &store.ProjectMetadata{}
	} else if err != nil {
		return nil, err
	}
	meta.DataSources = append(meta.DataSources, record)
	if meta.ActiveSourceID == "" {
		meta.ActiveSourceID = record.ID
	}
	meta.LastModified = now
	if err := s.store.SaveMetadata(ctx, s.projectID, meta); err != nil {
		return nil, err
	}

	metrics.RecordRows("ingest", kind, int64(s.total))
	metrics.RecordChunks("ingest", int64(record.ChunkCount))
	log.Printf("ingest: loaded source=%s name=%q kind=%s rows=%d chunks=%d cols=%d",
		record.ID, name, kind, record.RowCount, record.ChunkCount, len(columns))
	return &record, nil
}
