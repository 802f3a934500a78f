package pipeline

import (
	"context"
	"fmt"
	"time"

	"datastudio/internal/metrics"
	"datastudio/internal/rules"
	"datastudio/internal/store"
)

// Build materializes a brand-new derived source from one or more sources and
// their rules.
//
// The metadata record is written up front with the final row/chunk counts:
// column transforms never change the row count, so the totals are known before
// any chunk is transformed. A single source keeps its chunk indices (input
// chunk i maps to output chunk i); a multi-source merge re-buckets rows into
// freshly numbered sequential chunks, because input chunk boundaries from
// different sources do not align.
func (e *Engine) Build(ctx context.Context, projectID, name string, sources []SourceRules) (rec *store.SourceRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("build", err, time.Since(start)) }()

	if len(sources) == 0 {
		return nil, fmt.Errorf("pipeline: build requires at least one source")
	}

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return nil, err
	}

	srcStats := make([]store.SourceStats, len(sources))
	total := 0
	for i, sr := range sources {
		src, err := meta.Source(sr.SourceID)
		if err != nil {
			return nil, err
		}
		st, err := e.stats.Resolve(ctx, projectID, meta, src)
		if err != nil {
			return nil, err
		}
		srcStats[i] = st
		total += st.RowCount
	}

	now := time.Now().UTC()
	record := store.SourceRecord{
		ID:         newSourceID(),
		Name:       name,
		Kind:       "prepared",
		RowCount:   total,
		ChunkCount: store.ChunkCountFor(total),
		Columns:    columnsForRules(sources),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	meta.DataSources = append(meta.DataSources, record)
	meta.LastModified = now
	if err := e.store.SaveMetadata(ctx, projectID, meta); err != nil {
		return nil, err
	}

	if len(sources) == 1 {
		// Single source: transformed chunks land at the same index as
		// their input chunk.
		sr := sources[0]
		for c := 0; c < srcStats[0].ChunkCount; c++ {
			chunk, err := e.store.GetChunk(ctx, projectID, sr.SourceID, c)
			if err != nil {
				return nil, err
			}
			out := rules.ApplyTransformation(chunk, sr.Rules)
			if err := e.store.SaveChunk(ctx, projectID, record.ID, c, out); err != nil {
				return nil, err
			}
			metrics.RecordRows("build", "written", int64(len(out)))
			metrics.RecordChunks("build", 1)
		}
		opLog("build", projectID, record.ID, record.RowCount, record.ChunkCount)
		return &record, nil
	}

	// Multi-source merge: re-bucket at chunk-size boundaries.
	w := &chunkWriter{store: e.store, projectID: projectID, sourceID: record.ID}
	for i, sr := range sources {
		for c := 0; c < srcStats[i].ChunkCount; c++ {
			chunk, err := e.store.GetChunk(ctx, projectID, sr.SourceID, c)
			if err != nil {
				return nil, err
			}
			for _, row := range rules.ApplyTransformation(chunk, sr.Rules) {
				if err := w.add(ctx, row); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := w.flush(ctx); err != nil {
		return nil, err
	}
	metrics.RecordRows("build", "written", int64(w.written))
	metrics.RecordChunks("build", int64(w.chunks))
	opLog("build", projectID, record.ID, record.RowCount, record.ChunkCount)
	return &record, nil
}

// MergeMode selects how BuildInto combines incoming rows with the target.
type MergeMode string

const (
	// MergeAppend adds incoming rows after the target's existing rows.
	MergeAppend MergeMode = "append"
	// MergeReplace discards the target's chunks and rewrites from zero.
	MergeReplace MergeMode = "replace"
)

// BuildInto streams transformed rows into an existing target source.
//
// Replace mode deletes every existing chunk first and rewrites chunk indices
// from zero. Append mode resumes at the target's tail: when the tail chunk is
// not full its rows are preloaded into the write buffer so the chunk-size
// invariant survives the append. Column lists merge with existing columns
// taking precedence over same-key incoming ones.
func (e *Engine) BuildInto(ctx context.Context, projectID, targetID string, sources []SourceRules, mode MergeMode) (rec *store.SourceRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("build_into", err, time.Since(start)) }()

	if mode != MergeAppend && mode != MergeReplace {
		return nil, fmt.Errorf("pipeline: unknown merge mode %q", mode)
	}

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return nil, err
	}
	target, err := meta.Source(targetID)
	if err != nil {
		return nil, err
	}

	w := &chunkWriter{store: e.store, projectID: projectID, sourceID: targetID}
	baseRows := 0

	switch mode {
	case MergeReplace:
		if err := e.store.DeleteSourceChunks(ctx, projectID, targetID); err != nil {
			return nil, err
		}
	case MergeAppend:
		st, err := e.stats.Resolve(ctx, projectID, meta, target)
		if err != nil {
			return nil, err
		}
		baseRows = st.RowCount
		if st.ChunkCount > 0 {
			tail := st.ChunkCount - 1
			tailRows, err := e.store.GetChunk(ctx, projectID, targetID, tail)
			if err != nil {
				return nil, err
			}
			if len(tailRows) < store.ChunkSize {
				// Partial tail: reload it into the buffer and
				// overwrite it on the first flush.
				w.buf = append(w.buf, tailRows...)
				w.next = tail
			} else {
				w.next = st.ChunkCount
			}
		}
	}

	for _, sr := range sources {
		src, err := meta.Source(sr.SourceID)
		if err != nil {
			return nil, err
		}
		st, err := e.stats.Resolve(ctx, projectID, meta, src)
		if err != nil {
			return nil, err
		}
		for c := 0; c < st.ChunkCount; c++ {
			chunk, err := e.store.GetChunk(ctx, projectID, sr.SourceID, c)
			if err != nil {
				return nil, err
			}
			for _, row := range rules.ApplyTransformation(chunk, sr.Rules) {
				if err := w.add(ctx, row); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := w.flush(ctx); err != nil {
		return nil, err
	}

	// w.added counts only incoming rows; preloaded tail rows were
	// re-written in place, not added.
	target.RowCount = baseRows + w.added
	if mode == MergeReplace {
		target.RowCount = w.added
	}
	target.ChunkCount = store.ChunkCountFor(target.RowCount)
	metrics.RecordRows("build_into", "written", int64(w.added))
	target.Columns = mergeColumnsPreferExisting(target.Columns, columnsForRules(sources))
	touch(meta, target)
	if err := e.store.SaveMetadata(ctx, projectID, meta); err != nil {
		return nil, err
	}

	metrics.RecordChunks("build_into", int64(w.chunks))
	opLog("build_into", projectID, targetID, target.RowCount, target.ChunkCount)
	out := *target
	return &out, nil
}

// Clone copies every chunk and the column list of a source verbatim under a
// new id. Rules are not reapplied.
func (e *Engine) Clone(ctx context.Context, projectID, sourceID, newName string) (rec *store.SourceRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("clone", err, time.Since(start)) }()

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return nil, err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return nil, err
	}
	st, err := e.stats.Resolve(ctx, projectID, meta, src)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := store.SourceRecord{
		ID:         newSourceID(),
		Name:       newName,
		Kind:       src.Kind,
		RowCount:   st.RowCount,
		ChunkCount: st.ChunkCount,
		Columns:    append([]store.ColumnConfig(nil), src.Columns...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	meta.DataSources = append(meta.DataSources, record)
	meta.LastModified = now
	if err := e.store.SaveMetadata(ctx, projectID, meta); err != nil {
		return nil, err
	}

	for c := 0; c < st.ChunkCount; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, sourceID, c)
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveChunk(ctx, projectID, record.ID, c, chunk); err != nil {
			return nil, err
		}
	}
	opLog("clone", projectID, record.ID, record.RowCount, record.ChunkCount)
	return &record, nil
}
