// Package pipeline drives the chunk-streaming data-preparation operations:
// preview, build, merge-into-target, cleaning edits, and source cloning.
//
// Every operation is one-shot request/response. Chunks for one operation are
// processed strictly sequentially, which preserves chunk-index ordering and
// bounds peak memory to the in-flight chunk plus the accumulating output
// buffer. Operations on different sources may interleave freely; the engine
// assumes at most one writer per source at a time and implements no internal
// locking (callers serialize mutating operations per source).
//
// Failure semantics: the first error aborts the remaining work of an
// operation. Chunks already written stay written; there is no rollback across
// chunk writes, so a failed multi-chunk build can leave a partially-written
// source behind. Retries re-run the whole build from scratch.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"datastudio/internal/metrics"
	"datastudio/internal/rules"
	"datastudio/internal/store"
	"datastudio/pkg/records"
)

// Engine executes pipeline operations against a chunk store.
type Engine struct {
	store store.Store
	stats *store.StatsResolver
}

// New returns an Engine backed by st.
func New(st store.Store) *Engine {
	return &Engine{store: st, stats: store.NewStatsResolver(st)}
}

// SourceRules pairs a source with the transformation rules to apply to it.
type SourceRules struct {
	SourceID string       `json:"sourceId"`
	Rules    []rules.Rule `json:"rules"`
}

// PreviewResult is the response payload of Preview.
type PreviewResult struct {
	Rows    []records.Record `json:"rows"`
	Columns []string         `json:"columns"`
}

const defaultPreviewLimit = 100

// Preview streams chunks through the rules and accumulates up to limit
// transformed rows. Multiple sources are concatenated in request order; the
// column list merges each source's rule targets by first-seen key.
func (e *Engine) Preview(ctx context.Context, projectID string, sources []SourceRules, limit int) (result *PreviewResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("preview", err, time.Since(start)) }()

	if limit <= 0 {
		limit = defaultPreviewLimit
	}

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return nil, err
	}

	out := &PreviewResult{Rows: []records.Record{}}

	// The column list covers every requested source, even ones the row
	// limit never reaches.
	seenCols := map[string]bool{}
	for _, sr := range sources {
		for _, col := range rules.TargetColumns(sr.Rules) {
			if !seenCols[col] {
				seenCols[col] = true
				out.Columns = append(out.Columns, col)
			}
		}
	}

	for _, sr := range sources {
		if len(out.Rows) >= limit {
			break
		}
		src, err := meta.Source(sr.SourceID)
		if err != nil {
			return nil, err
		}

		st, err := e.stats.Resolve(ctx, projectID, meta, src)
		if err != nil {
			return nil, err
		}
		for c := 0; c < st.ChunkCount && len(out.Rows) < limit; c++ {
			chunk, err := e.store.GetChunk(ctx, projectID, sr.SourceID, c)
			if err != nil {
				return nil, err
			}
			for _, row := range rules.ApplyTransformation(chunk, sr.Rules) {
				out.Rows = append(out.Rows, row)
				if len(out.Rows) >= limit {
					break
				}
			}
		}
	}
	return out, nil
}

// SampleRows returns up to maxRows rows from the head of the source, for
// column analysis and unique-value enumeration.
func (e *Engine) SampleRows(ctx context.Context, projectID, sourceID string, maxRows int) ([]records.Record, error) {
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

	var out []records.Record
	for c := 0; c < st.ChunkCount && len(out) < maxRows; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, sourceID, c)
		if err != nil {
			return nil, err
		}
		for _, row := range chunk {
			out = append(out, row)
			if len(out) >= maxRows {
				break
			}
		}
	}
	return out, nil
}

// columnsForRules derives the column configs of a built source from the rule
// set. The config type follows the rule method: counts are numbers, date
// extraction yields dates, boolean methods stay strings for display.
func columnsForRules(ruleSets []SourceRules) []store.ColumnConfig {
	var out []store.ColumnConfig
	seen := map[string]bool{}
	for _, sr := range ruleSets {
		for _, r := range sr.Rules {
			if seen[r.TargetName] {
				continue
			}
			seen[r.TargetName] = true
			out = append(out, store.ColumnConfig{
				Key:     r.TargetName,
				Type:    columnTypeForMethod(r.Method),
				Visible: true,
				Label:   r.TargetName,
			})
		}
	}
	return out
}

func columnTypeForMethod(method string) string {
	switch method {
	case rules.MethodArrayCount:
		return "number"
	case rules.MethodDateExtract:
		return "date"
	default:
		return "string"
	}
}

// mergeColumnsPreferExisting merges incoming column configs into existing
// ones. Existing entries win on key collisions; new keys are appended in
// incoming order.
func mergeColumnsPreferExisting(existing, incoming []store.ColumnConfig) []store.ColumnConfig {
	out := append([]store.ColumnConfig(nil), existing...)
	have := map[string]bool{}
	for _, c := range existing {
		have[c.Key] = true
	}
	for _, c := range incoming {
		if !have[c.Key] {
			have[c.Key] = true
			out = append(out, c)
		}
	}
	return out
}

// chunkWriter accumulates rows and flushes full chunks to consecutive chunk
// indices, preserving the fixed-capacity invariant.
type chunkWriter struct {
	store     store.Store
	projectID string
	sourceID  string

	buf     []records.Record
	next    int // next chunk index to write
	added   int // rows accepted via add (excludes preloaded tail rows)
	written int // rows flushed so far
	chunks  int // chunks flushed so far
}

func (w *chunkWriter) add(ctx context.Context, row records.Record) error {
	w.buf = append(w.buf, row)
	w.added++
	if len(w.buf) >= store.ChunkSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *chunkWriter) flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.store.SaveChunk(ctx, w.projectID, w.sourceID, w.next, w.buf); err != nil {
		return err
	}
	w.written += len(w.buf)
	w.chunks++
	w.next++
	w.buf = w.buf[:0]
	return nil
}

// touch refreshes the version stamps after a mutation so stats caches keyed
// by UpdatedAt/LastModified invalidate.
func touch(meta *store.ProjectMetadata, src *store.SourceRecord) {
	now := time.Now().UTC()
	if src != nil {
		src.UpdatedAt = now
	}
	meta.LastModified = now
}

func newSourceID() string { return uuid.NewString() }

func opLog(op, projectID, sourceID string, rowCount, chunkCount int) {
	log.Printf("pipeline: %s project=%s source=%s rows=%d chunks=%d", op, projectID, sourceID, rowCount, chunkCount)
}
