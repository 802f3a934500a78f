package pipeline

import (
	"context"
	"testing"
	"time"

	"datastudio/internal/store"
	"datastudio/pkg/records"
)

// writeCountingStore counts SaveChunk calls passing through to the inner
// store.
type writeCountingStore struct {
	store.Store
	saves int
}

func (w *writeCountingStore) SaveChunk(ctx context.Context, projectID, sourceID string, chunkIndex int, rows []records.Record) error {
	w.saves++
	return w.Store.SaveChunk(ctx, projectID, sourceID, chunkIndex, rows)
}

func TestFindReplace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 10)
	e := New(mem)

	if err := e.FindReplace(ctx, "p", "s", "tag", "t1", "ONE"); err != nil {
		t.Fatalf("FindReplace: %v", err)
	}
	chunk, _ := mem.GetChunk(ctx, "p", "s", 0)
	if chunk[1]["tag"] != "ONE" {
		t.Fatalf("row 1 tag=%v; want ONE", chunk[1]["tag"])
	}
	if chunk[0]["tag"] != "t0" {
		t.Fatalf("row 0 tag=%v; want t0 untouched", chunk[0]["tag"])
	}

	if err := e.FindReplace(ctx, "p", "s", "tag", "", "x"); err == nil {
		t.Fatalf("empty find text accepted")
	}
}

/*
TestFindReplaceSkipsUntouchedChunks verifies the fingerprint optimization:
chunks whose content the edit did not change are not rewritten.
*/
func TestFindReplaceSkipsUntouchedChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 2500)
	// Plant the needle in the last chunk only.
	chunk, _ := mem.GetChunk(ctx, "p", "s", 2)
	chunk[10]["tag"] = "needle"
	if err := mem.SaveChunk(ctx, "p", "s", 2, chunk); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	cs := &writeCountingStore{Store: mem}
	e := New(cs)
	if err := e.FindReplace(ctx, "p", "s", "tag", "needle", "found"); err != nil {
		t.Fatalf("FindReplace: %v", err)
	}
	if cs.saves != 1 {
		t.Fatalf("saves=%d; want 1 (only the changed chunk)", cs.saves)
	}
	got, _ := mem.GetChunk(ctx, "p", "s", 2)
	if got[10]["tag"] != "found" {
		t.Fatalf("needle not replaced: %v", got[10]["tag"])
	}
}

func TestNormalizeDates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	rows := []records.Record{
		{"when": "5/3/24"},
		{"when": "2024-12-01"},
		{"when": "not a date"},
		{"when": nil},
	}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	saveMeta(t, mem, "p", "s", len(rows), []store.ColumnConfig{{Key: "when", Type: "string", Visible: true, Label: "when"}})
	e := New(mem)

	if err := e.NormalizeDates(ctx, "p", "s", "when"); err != nil {
		t.Fatalf("NormalizeDates: %v", err)
	}
	got, _ := mem.GetChunk(ctx, "p", "s", 0)
	if got[0]["when"] != "2024-03-05" || got[1]["when"] != "2024-12-01" {
		t.Fatalf("normalized=%v %v", got[0]["when"], got[1]["when"])
	}
	// Unparseable and empty cells keep their values.
	if got[2]["when"] != "not a date" || got[3]["when"] != nil {
		t.Fatalf("unparseable cells changed: %v %v", got[2]["when"], got[3]["when"])
	}

	meta, _ := mem.GetMetadata(ctx, "p")
	src, _ := meta.Source("s")
	if src.Columns[0].Type != "date" {
		t.Fatalf("column type=%q; want date", src.Columns[0].Type)
	}
}

func TestExplode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	rows := []records.Record{
		{"tags": "a, b"},
		{"tags": "solo"},
		{"tags": nil},
	}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	saveMeta(t, mem, "p", "s", len(rows), []store.ColumnConfig{{Key: "tags", Type: "string", Visible: true, Label: "tags"}})
	e := New(mem)

	if err := e.Explode(ctx, "p", "s", "tags"); err != nil {
		t.Fatalf("Explode: %v", err)
	}
	got, _ := mem.GetChunk(ctx, "p", "s", 0)
	if got[0]["tags"] != `["a","b"]` {
		t.Fatalf("exploded=%v", got[0]["tags"])
	}
	if got[1]["tags"] != `["solo"]` {
		t.Fatalf("scalar explode=%v", got[1]["tags"])
	}
	if got[2]["tags"] != nil {
		t.Fatalf("empty cell changed: %v", got[2]["tags"])
	}

	meta, _ := mem.GetMetadata(ctx, "p")
	src, _ := meta.Source("s")
	if src.Columns[0].Type != "tag_array" {
		t.Fatalf("column type=%q; want tag_array", src.Columns[0].Type)
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	rows := []records.Record{
		{"name": "  Crème   Brûlée  "},
		{"name": "plain"},
		{"name": 42},
	}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	saveMeta(t, mem, "p", "s", len(rows), nil)
	e := New(mem)

	if err := e.NormalizeText(ctx, "p", "s", "name"); err != nil {
		t.Fatalf("NormalizeText: %v", err)
	}
	got, _ := mem.GetChunk(ctx, "p", "s", 0)
	if got[0]["name"] != "Creme Brulee" {
		t.Fatalf("folded=%q; want %q", got[0]["name"], "Creme Brulee")
	}
	// Non-string cells are untouched.
	if got[2]["name"] != 42 {
		t.Fatalf("non-string cell changed: %v", got[2]["name"])
	}
}

/*
TestDeleteRow verifies the restream: rows after the deleted index shift one
position earlier across chunk boundaries, counts update, and a tail chunk
emptied by the shift is removed.
*/
func TestDeleteRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 1500)
	e := New(mem)

	if err := e.DeleteRow(ctx, "p", "s", 0); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}

	meta, _ := mem.GetMetadata(ctx, "p")
	src, _ := meta.Source("s")
	if src.RowCount != 1499 || src.ChunkCount != 2 {
		t.Fatalf("counts=%d/%d; want 1499/2", src.RowCount, src.ChunkCount)
	}

	chunk0, _ := mem.GetChunk(ctx, "p", "s", 0)
	if len(chunk0) != 1000 || chunk0[0]["v"] != "1" || chunk0[999]["v"] != "1000" {
		t.Fatalf("chunk 0: len=%d first=%v last=%v", len(chunk0), chunk0[0]["v"], chunk0[len(chunk0)-1]["v"])
	}
	chunk1, _ := mem.GetChunk(ctx, "p", "s", 1)
	if len(chunk1) != 499 || chunk1[0]["v"] != "1001" {
		t.Fatalf("chunk 1: len=%d first=%v", len(chunk1), chunk1[0]["v"])
	}

	if err := e.DeleteRow(ctx, "p", "s", 5000); err == nil {
		t.Fatalf("out-of-range index accepted")
	}
}

func TestDeleteRowDropsEmptiedTailChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 1001)
	e := New(mem)

	if err := e.DeleteRow(ctx, "p", "s", 1000); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	meta, _ := mem.GetMetadata(ctx, "p")
	src, _ := meta.Source("s")
	if src.RowCount != 1000 || src.ChunkCount != 1 {
		t.Fatalf("counts=%d/%d; want 1000/1", src.RowCount, src.ChunkCount)
	}
	if stale, _ := mem.GetChunk(ctx, "p", "s", 1); len(stale) != 0 {
		t.Fatalf("emptied tail chunk survived: %d rows", len(stale))
	}
}

func TestCleanQueryPageFastPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 2500)
	cs := &writeCountingStore{Store: mem}
	e := New(cs)

	page, err := e.CleanQueryPage(ctx, "p", "s", "", nil, 990, 20)
	if err != nil {
		t.Fatalf("CleanQueryPage: %v", err)
	}
	if page.Total != 2500 {
		t.Fatalf("Total=%d; want 2500", page.Total)
	}
	if len(page.Rows) != 20 || page.Rows[0].Index != 990 || page.Rows[19].Index != 1009 {
		t.Fatalf("window=%d rows, first=%d", len(page.Rows), page.Rows[0].Index)
	}
	if page.Rows[0].Row["v"] != "990" {
		t.Fatalf("row 990=%v", page.Rows[0].Row)
	}

	// Past-the-end offsets return an empty page, not an error.
	empty, err := e.CleanQueryPage(ctx, "p", "s", "", nil, 9999, 20)
	if err != nil {
		t.Fatalf("CleanQueryPage(past end): %v", err)
	}
	if len(empty.Rows) != 0 || empty.Total != 2500 {
		t.Fatalf("past-end page=%+v", empty)
	}
}

/*
TestCleanQueryPageFiltered verifies the full-scan path: the page window is
selected by match ordinal, Total counts every match in the source, and the
blank filter token matches nil cells.
*/
func TestCleanQueryPageFiltered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 90) // tag cycles t0,t1,t2 -> 30 rows each
	e := New(mem)

	page, err := e.CleanQueryPage(ctx, "p", "s", "", map[string]string{"tag": "t1"}, 10, 5)
	if err != nil {
		t.Fatalf("CleanQueryPage: %v", err)
	}
	if page.Total != 30 {
		t.Fatalf("Total=%d; want 30", page.Total)
	}
	if len(page.Rows) != 5 {
		t.Fatalf("len(Rows)=%d; want 5", len(page.Rows))
	}
	// Match ordinal 10 of tag=t1 is global row 31.
	if page.Rows[0].Index != 31 {
		t.Fatalf("first match index=%d; want 31", page.Rows[0].Index)
	}
}

func TestCleanQueryPageSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	rows := []records.Record{
		{"name": "Apple pie", "cat": "dessert"},
		{"name": "Steak", "cat": "main"},
		{"name": "apple juice", "cat": "drink"},
		{"name": nil, "cat": "misc"},
	}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	saveMeta(t, mem, "p", "s", len(rows), nil)
	e := New(mem)

	page, err := e.CleanQueryPage(ctx, "p", "s", "APPLE", nil, 0, 10)
	if err != nil {
		t.Fatalf("CleanQueryPage: %v", err)
	}
	if page.Total != 2 || len(page.Rows) != 2 {
		t.Fatalf("search page=%+v", page)
	}
	if page.Rows[0].Index != 0 || page.Rows[1].Index != 2 {
		t.Fatalf("match indices=%d,%d; want 0,2", page.Rows[0].Index, page.Rows[1].Index)
	}

	blank, err := e.CleanQueryPage(ctx, "p", "s", "", map[string]string{"name": BlankToken}, 0, 10)
	if err != nil {
		t.Fatalf("CleanQueryPage(blank): %v", err)
	}
	if blank.Total != 1 || blank.Rows[0].Index != 3 {
		t.Fatalf("blank filter page=%+v", blank)
	}
}

func TestCleanPreviewStopsEarly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "s", 2500)
	e := New(mem)

	got, err := e.CleanPreview(ctx, "p", "s", "", map[string]string{"tag": "t0"}, 4)
	if err != nil {
		t.Fatalf("CleanPreview: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len=%d; want 4", len(got))
	}
	// tag cycles every 3 rows; the first four t0 rows are 0,3,6,9.
	if got[3].Index != 9 {
		t.Fatalf("fourth match index=%d; want 9", got[3].Index)
	}
}

// saveMeta registers a minimal source record for hand-seeded chunks.
func saveMeta(t *testing.T, mem *store.Memory, projectID, sourceID string, rowCount int, cols []store.ColumnConfig) {
	t.Helper()
	ctx := context.Background()
	meta, err := mem.GetMetadata(ctx, projectID)
	if err != nil {
		meta = &store.ProjectMetadata{}
	}
	now := time.Now().UTC()
	meta.DataSources = append(meta.DataSources, store.SourceRecord{
		ID:         sourceID,
		Name:       sourceID,
		Kind:       "ingestion",
		RowCount:   rowCount,
		ChunkCount: store.ChunkCountFor(rowCount),
		Columns:    cols,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	meta.LastModified = now
	if err := mem.SaveMetadata(ctx, projectID, meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
}
