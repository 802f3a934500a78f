package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"datastudio/internal/metrics"
	"datastudio/internal/rowvalue"
	"datastudio/internal/store"
	"datastudio/pkg/records"
)

// BlankToken is the filter value that matches empty cells (nil or "").
const BlankToken = "(Blank)"

// rewriteChunks streams every chunk of a source through fn and saves only the
// chunks whose content actually changed, detected by fingerprint comparison.
// fn mutates rows in place. Returns the number of chunks rewritten.
func (e *Engine) rewriteChunks(ctx context.Context, projectID string, meta *store.ProjectMetadata, src *store.SourceRecord, fn func(records.Record)) (int, error) {
	st, err := e.stats.Resolve(ctx, projectID, meta, src)
	if err != nil {
		return 0, err
	}

	changed := 0
	for c := 0; c < st.ChunkCount; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, src.ID, c)
		if err != nil {
			return changed, err
		}
		before := chunkFingerprint(chunk)
		for _, row := range chunk {
			fn(row)
		}
		if chunkFingerprint(chunk) == before {
			continue
		}
		if err := e.store.SaveChunk(ctx, projectID, src.ID, c, chunk); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// finishEdit updates version stamps and persists metadata after a cleaning
// edit touched at least one chunk. No-op edits skip the metadata write so the
// stats cache stays warm.
func (e *Engine) finishEdit(ctx context.Context, op, projectID string, meta *store.ProjectMetadata, src *store.SourceRecord, changed int) error {
	if changed == 0 {
		opLog(op, projectID, src.ID, src.RowCount, 0)
		return nil
	}
	touch(meta, src)
	if err := e.store.SaveMetadata(ctx, projectID, meta); err != nil {
		return err
	}
	metrics.RecordChunks(op, int64(changed))
	opLog(op, projectID, src.ID, src.RowCount, changed)
	return nil
}

// setColumnType records the display type of a column after an edit changed
// its content shape. Unknown columns are appended so derived columns created
// by an edit still surface in the grid.
func setColumnType(src *store.SourceRecord, key, typ string) {
	for i := range src.Columns {
		if src.Columns[i].Key == key {
			src.Columns[i].Type = typ
			return
		}
	}
	src.Columns = append(src.Columns, store.ColumnConfig{Key: key, Type: typ, Visible: true, Label: key})
}

// FindReplace substitutes every occurrence of find with replace in the string
// cells of one column. Non-string cells are left untouched.
func (e *Engine) FindReplace(ctx context.Context, projectID, sourceID, column, find, replace string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("find_replace", err, time.Since(start)) }()

	if find == "" {
		return fmt.Errorf("pipeline: find text must not be empty")
	}
	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return err
	}

	changed, err := e.rewriteChunks(ctx, projectID, meta, src, func(row records.Record) {
		if s, ok := row[column].(string); ok && strings.Contains(s, find) {
			row[column] = strings.ReplaceAll(s, find, replace)
		}
	})
	if err != nil {
		return err
	}
	return e.finishEdit(ctx, "find_replace", projectID, meta, src, changed)
}

// NormalizeDates rewrites every parseable date in a column to ISO form
// (2006-01-02). Cells the heuristic parser cannot interpret keep their
// original value. The column type is marked date on success.
func (e *Engine) NormalizeDates(ctx context.Context, projectID, sourceID, column string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("normalize_dates", err, time.Since(start)) }()

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return err
	}

	changed, err := e.rewriteChunks(ctx, projectID, meta, src, func(row records.Record) {
		if t, ok := rowvalue.ParseSmartDate(row[column]); ok {
			row[column] = t.Format("2006-01-02")
		}
	})
	if err != nil {
		return err
	}
	setColumnType(src, column, "date")
	if changed == 0 {
		// Type change alone still needs persisting.
		touch(meta, src)
		return e.store.SaveMetadata(ctx, projectID, meta)
	}
	return e.finishEdit(ctx, "normalize_dates", projectID, meta, src, changed)
}

// Explode parses each cell of a column as a delimited token list and stores
// the canonical JSON array form. The column type becomes tag_array so the
// grid renders token chips instead of raw text.
func (e *Engine) Explode(ctx context.Context, projectID, sourceID, column string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("explode", err, time.Since(start)) }()

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return err
	}

	changed, err := e.rewriteChunks(ctx, projectID, meta, src, func(row records.Record) {
		tokens := rowvalue.ParseArray(row[column])
		if len(tokens) == 0 {
			return
		}
		encoded, err := json.Marshal(tokens)
		if err != nil {
			return
		}
		row[column] = string(encoded)
	})
	if err != nil {
		return err
	}
	setColumnType(src, column, "tag_array")
	if changed == 0 {
		touch(meta, src)
		return e.store.SaveMetadata(ctx, projectID, meta)
	}
	return e.finishEdit(ctx, "explode", projectID, meta, src, changed)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldText strips diacritic marks and collapses runs of whitespace to one
// space.
func foldText(s string) string {
	if folded, _, err := transform.String(foldTransformer, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeText folds the string cells of a column: diacritics removed,
// interior whitespace collapsed, leading and trailing space trimmed.
func (e *Engine) NormalizeText(ctx context.Context, projectID, sourceID, column string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("normalize_text", err, time.Since(start)) }()

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return err
	}

	changed, err := e.rewriteChunks(ctx, projectID, meta, src, func(row records.Record) {
		if s, ok := row[column].(string); ok {
			row[column] = foldText(s)
		}
	})
	if err != nil {
		return err
	}
	return e.finishEdit(ctx, "normalize_text", projectID, meta, src, changed)
}

// DeleteRow removes the row at a global index and restreams every following
// row one position earlier, preserving the chunk-size invariant. Writes trail
// reads by at least one chunk index, so the restream is safe in place. Stale
// tail chunks beyond the new chunk count are deleted.
func (e *Engine) DeleteRow(ctx context.Context, projectID, sourceID string, rowIndex int) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOp("delete_row", err, time.Since(start)) }()

	meta, err := e.store.GetMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	src, err := meta.Source(sourceID)
	if err != nil {
		return err
	}
	st, err := e.stats.Resolve(ctx, projectID, meta, src)
	if err != nil {
		return err
	}
	if rowIndex < 0 || rowIndex >= st.RowCount {
		return fmt.Errorf("pipeline: row index %d out of range (%d rows)", rowIndex, st.RowCount)
	}

	// Chunks before the one holding the deleted row are untouched; the
	// restream starts there and rewrites everything after it.
	firstChunk := rowIndex / store.ChunkSize
	w := &chunkWriter{store: e.store, projectID: projectID, sourceID: sourceID, next: firstChunk}
	global := firstChunk * store.ChunkSize
	for c := firstChunk; c < st.ChunkCount; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, sourceID, c)
		if err != nil {
			return err
		}
		for _, row := range chunk {
			if global != rowIndex {
				if err := w.add(ctx, row); err != nil {
					return err
				}
			}
			global++
		}
	}
	if err := w.flush(ctx); err != nil {
		return err
	}

	newRows := st.RowCount - 1
	newChunks := store.ChunkCountFor(newRows)
	for c := newChunks; c < st.ChunkCount; c++ {
		if err := e.store.DeleteChunk(ctx, projectID, sourceID, c); err != nil {
			return err
		}
	}

	src.RowCount = newRows
	src.ChunkCount = newChunks
	touch(meta, src)
	if err := e.store.SaveMetadata(ctx, projectID, meta); err != nil {
		return err
	}
	metrics.RecordRows("delete_row", "deleted", 1)
	opLog("delete_row", projectID, sourceID, newRows, newChunks)
	return nil
}

// IndexedRow carries a row together with its global index, so grid edits can
// address the row later.
type IndexedRow struct {
	Index int            `json:"index"`
	Row   records.Record `json:"row"`
}

// CleanPage is one page of filtered rows plus the total match count across
// the whole source.
type CleanPage struct {
	Rows  []IndexedRow `json:"rows"`
	Total int          `json:"total"`
}

// matchRow reports whether a row passes the column filters and the free-text
// search. Filters compare stringified cell values exactly; the BlankToken
// filter matches nil and empty-string cells. Search is a case-insensitive
// substring test against every cell.
func matchRow(row records.Record, search string, filters map[string]string) bool {
	for col, want := range filters {
		got := row[col]
		if want == BlankToken {
			if got == nil || got == "" {
				continue
			}
			return false
		}
		if records.Stringify(got) != want {
			return false
		}
	}
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, v := range row {
		if strings.Contains(strings.ToLower(records.Stringify(v)), needle) {
			return true
		}
	}
	return false
}

// CleanPreview scans the source head-first and returns up to limit matching
// rows with their global indices.
func (e *Engine) CleanPreview(ctx context.Context, projectID, sourceID, search string, filters map[string]string, limit int) ([]IndexedRow, error) {
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	page, err := e.cleanScan(ctx, projectID, sourceID, search, filters, 0, limit, true)
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// CleanQueryPage returns the page of matches at [offset, offset+pageSize) in
// match order, plus the total match count. With no search and no filters the
// page maps directly onto chunk offsets and only the covering chunks are
// read.
func (e *Engine) CleanQueryPage(ctx context.Context, projectID, sourceID, search string, filters map[string]string, offset, pageSize int) (*CleanPage, error) {
	if pageSize <= 0 {
		pageSize = defaultPreviewLimit
	}
	if offset < 0 {
		offset = 0
	}

	if search == "" && len(filters) == 0 {
		return e.cleanFastPage(ctx, projectID, sourceID, offset, pageSize)
	}
	return e.cleanScan(ctx, projectID, sourceID, search, filters, offset, pageSize, false)
}

// cleanFastPage serves an unfiltered page by reading only the chunks that
// cover the requested window.
func (e *Engine) cleanFastPage(ctx context.Context, projectID, sourceID string, offset, pageSize int) (*CleanPage, error) {
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

	page := &CleanPage{Rows: []IndexedRow{}, Total: st.RowCount}
	if offset >= st.RowCount {
		return page, nil
	}
	end := offset + pageSize
	if end > st.RowCount {
		end = st.RowCount
	}
	for c := offset / store.ChunkSize; c <= (end-1)/store.ChunkSize && c < st.ChunkCount; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, sourceID, c)
		if err != nil {
			return nil, err
		}
		base := c * store.ChunkSize
		for i, row := range chunk {
			global := base + i
			if global >= offset && global < end {
				page.Rows = append(page.Rows, IndexedRow{Index: global, Row: row})
			}
		}
	}
	return page, nil
}

// cleanScan walks every chunk, counting matches and collecting the ones whose
// match ordinal falls in [offset, offset+pageSize). When stopEarly is set the
// scan aborts as soon as the window is full and Total only covers the rows
// seen so far.
func (e *Engine) cleanScan(ctx context.Context, projectID, sourceID, search string, filters map[string]string, offset, pageSize int, stopEarly bool) (*CleanPage, error) {
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

	page := &CleanPage{Rows: []IndexedRow{}}
	for c := 0; c < st.ChunkCount; c++ {
		chunk, err := e.store.GetChunk(ctx, projectID, sourceID, c)
		if err != nil {
			return nil, err
		}
		base := c * store.ChunkSize
		for i, row := range chunk {
			if !matchRow(row, search, filters) {
				continue
			}
			if page.Total >= offset && len(page.Rows) < pageSize {
				page.Rows = append(page.Rows, IndexedRow{Index: base + i, Row: row})
			}
			page.Total++
			if stopEarly && len(page.Rows) >= pageSize {
				return page, nil
			}
		}
	}
	return page, nil
}
