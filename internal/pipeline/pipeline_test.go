package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"datastudio/internal/rules"
	"datastudio/internal/store"
	"datastudio/pkg/records"
)

// seedSource registers a source with n rows in the project metadata and
// writes its chunks. Row i carries {"v": "<i>", "tag": "t<i%3>"}.
func seedSource(t *testing.T, mem *store.Memory, projectID, sourceID string, n int) {
	t.Helper()
	ctx := context.Background()

	for c := 0; c*store.ChunkSize < n; c++ {
		size := n - c*store.ChunkSize
		if size > store.ChunkSize {
			size = store.ChunkSize
		}
		chunk := make([]records.Record, size)
		for i := range chunk {
			g := c*store.ChunkSize + i
			chunk[i] = records.Record{"v": fmt.Sprintf("%d", g), "tag": fmt.Sprintf("t%d", g%3)}
		}
		if err := mem.SaveChunk(ctx, projectID, sourceID, c, chunk); err != nil {
			t.Fatalf("SaveChunk: %v", err)
		}
	}

	meta, err := mem.GetMetadata(ctx, projectID)
	if err != nil {
		meta = &store.ProjectMetadata{}
	}
	now := time.Now().UTC()
	meta.DataSources = append(meta.DataSources, store.SourceRecord{
		ID:         sourceID,
		Name:       sourceID,
		Kind:       "ingestion",
		RowCount:   n,
		ChunkCount: store.ChunkCountFor(n),
		Columns: []store.ColumnConfig{
			{Key: "v", Type: "string", Visible: true, Label: "v"},
			{Key: "tag", Type: "string", Visible: true, Label: "tag"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	meta.LastModified = now
	if err := mem.SaveMetadata(ctx, projectID, meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
}

func copyRules(targets ...string) []rules.Rule {
	out := make([]rules.Rule, len(targets))
	for i, name := range targets {
		out[i] = rules.Rule{TargetName: name, SourceKey: name, Method: rules.MethodCopy}
	}
	return out
}

func TestPreview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "a", 1500)
	seedSource(t, mem, "p", "b", 10)
	e := New(mem)

	got, err := e.Preview(ctx, "p", []SourceRules{
		{SourceID: "a", Rules: copyRules("v")},
		{SourceID: "b", Rules: copyRules("v", "tag")},
	}, 30)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(got.Rows) != 30 {
		t.Fatalf("len(Rows)=%d; want 30", len(got.Rows))
	}
	// Column lists from every requested source merge even when the row
	// limit is satisfied by the first source alone.
	if len(got.Columns) != 2 || got.Columns[0] != "v" || got.Columns[1] != "tag" {
		t.Fatalf("Columns=%v; want [v tag]", got.Columns)
	}
	if got.Rows[0]["v"] != "0" {
		t.Fatalf("Rows[0]=%v", got.Rows[0])
	}
}

func TestPreviewDefaultLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "a", 500)
	e := New(mem)

	got, err := e.Preview(ctx, "p", []SourceRules{{SourceID: "a", Rules: copyRules("v")}}, 0)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(got.Rows) != 100 {
		t.Fatalf("len(Rows)=%d; want default 100", len(got.Rows))
	}
}

/*
TestBuildMergesSources verifies that a multi-source build concatenates the
transformed rows in request order and re-buckets them into full chunks, and
that the new source record lands in the metadata with correct counts.
*/
func TestBuildMergesSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "a", 1500)
	seedSource(t, mem, "p", "b", 700)
	e := New(mem)

	rec, err := e.Build(ctx, "p", "merged", []SourceRules{
		{SourceID: "a", Rules: copyRules("v")},
		{SourceID: "b", Rules: copyRules("v")},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rec.RowCount != 2200 || rec.ChunkCount != 3 {
		t.Fatalf("rec counts=%d/%d; want 2200/3", rec.RowCount, rec.ChunkCount)
	}

	wantLens := []int{1000, 1000, 200}
	for c, want := range wantLens {
		chunk, err := mem.GetChunk(ctx, "p", rec.ID, c)
		if err != nil {
			t.Fatalf("GetChunk(%d): %v", c, err)
		}
		if len(chunk) != want {
			t.Fatalf("chunk %d has %d rows; want %d", c, len(chunk), want)
		}
	}

	// Source b's first row follows source a's last row.
	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 1)
	if chunk[500]["v"] != "0" {
		t.Fatalf("row 1500=%v; want v=0 (first row of b)", chunk[500])
	}

	meta, err := mem.GetMetadata(ctx, "p")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	saved, err := meta.Source(rec.ID)
	if err != nil {
		t.Fatalf("built source missing from metadata: %v", err)
	}
	if saved.Kind != "prepared" || saved.RowCount != 2200 {
		t.Fatalf("saved record=%+v", saved)
	}
}

func TestBuildSingleSourceKeepsChunkIndices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "a", 1300)
	e := New(mem)

	rec, err := e.Build(ctx, "p", "derived", []SourceRules{
		{SourceID: "a", Rules: []rules.Rule{{TargetName: "n", SourceKey: "tag", Method: rules.MethodArrayCount}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rec.RowCount != 1300 || rec.ChunkCount != 2 {
		t.Fatalf("rec counts=%d/%d; want 1300/2", rec.RowCount, rec.ChunkCount)
	}
	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 1)
	if len(chunk) != 300 {
		t.Fatalf("chunk 1 has %d rows; want 300", len(chunk))
	}
	if _, has := chunk[0]["tag"]; has {
		t.Fatalf("source column leaked into derived rows: %v", chunk[0])
	}
	if chunk[0]["n"] != 1 {
		t.Fatalf("derived value=%v; want 1", chunk[0]["n"])
	}
	if rec.Columns[0].Key != "n" || rec.Columns[0].Type != "number" {
		t.Fatalf("columns=%v", rec.Columns)
	}
}

/*
TestBuildIntoAppend verifies the partial-tail handling: appending to a target
whose last chunk is not full tops that chunk up to capacity before opening new
chunks, and the row accounting counts only the incoming rows.
*/
func TestBuildIntoAppend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "target", 1200)
	seedSource(t, mem, "p", "extra", 900)
	e := New(mem)

	rec, err := e.BuildInto(ctx, "p", "target", []SourceRules{
		{SourceID: "extra", Rules: copyRules("v")},
	}, MergeAppend)
	if err != nil {
		t.Fatalf("BuildInto: %v", err)
	}
	if rec.RowCount != 2100 || rec.ChunkCount != 3 {
		t.Fatalf("counts=%d/%d; want 2100/3", rec.RowCount, rec.ChunkCount)
	}

	wantLens := []int{1000, 1000, 100}
	for c, want := range wantLens {
		chunk, _ := mem.GetChunk(ctx, "p", "target", c)
		if len(chunk) != want {
			t.Fatalf("chunk %d has %d rows; want %d", c, len(chunk), want)
		}
	}
	// Row 1200 is the first appended row.
	chunk, _ := mem.GetChunk(ctx, "p", "target", 1)
	if chunk[200]["v"] != "0" {
		t.Fatalf("row 1200=%v; want v=0", chunk[200])
	}
	// The preserved tail rows survived the rewrite.
	if chunk[0]["v"] != "1000" {
		t.Fatalf("row 1000=%v; want v=1000", chunk[0])
	}
}

func TestBuildIntoReplace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "target", 1500)
	seedSource(t, mem, "p", "fresh", 300)
	e := New(mem)

	rec, err := e.BuildInto(ctx, "p", "target", []SourceRules{
		{SourceID: "fresh", Rules: copyRules("v")},
	}, MergeReplace)
	if err != nil {
		t.Fatalf("BuildInto: %v", err)
	}
	if rec.RowCount != 300 || rec.ChunkCount != 1 {
		t.Fatalf("counts=%d/%d; want 300/1", rec.RowCount, rec.ChunkCount)
	}
	if stale, _ := mem.GetChunk(ctx, "p", "target", 1); len(stale) != 0 {
		t.Fatalf("stale chunk survived replace: %d rows", len(stale))
	}
}

func TestBuildIntoRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "target", 10)
	e := New(mem)

	if _, err := e.BuildInto(context.Background(), "p", "target", nil, MergeMode("upsert")); err == nil {
		t.Fatalf("unknown merge mode accepted")
	}
}

func TestClone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "orig", 1100)
	e := New(mem)

	rec, err := e.Clone(ctx, "p", "orig", "copy of orig")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if rec.ID == "orig" {
		t.Fatalf("clone reused the source id")
	}
	if rec.RowCount != 1100 || rec.ChunkCount != 2 || rec.Name != "copy of orig" {
		t.Fatalf("rec=%+v", rec)
	}

	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 1)
	if len(chunk) != 100 || chunk[0]["v"] != "1000" {
		t.Fatalf("cloned chunk 1=%d rows, first=%v", len(chunk), chunk[0])
	}
}

func TestSourceNotFound(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	seedSource(t, mem, "p", "a", 5)
	e := New(mem)

	if _, err := e.Preview(context.Background(), "p", []SourceRules{{SourceID: "ghost"}}, 10); err == nil {
		t.Fatalf("preview of unknown source did not fail")
	}
}
