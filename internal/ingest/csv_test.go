package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"datastudio/internal/store"
)

func TestIngestCSV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	input := "Name,Signup Date,Tags\n" +
		"alice,2024-01-15,\"red, blue\"\n" +
		"bob,2024-02-20,green\n" +
		"carol,,\n"

	mem := store.NewMemory()
	rec, err := IngestCSV(ctx, mem, "p", "people.csv", strings.NewReader(input), CSVOptions{})
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if rec.RowCount != 3 || rec.ChunkCount != 1 || rec.Kind != "ingestion" {
		t.Fatalf("rec=%+v", rec)
	}

	wantCols := map[string]string{"name": "string", "signup_date": "date", "tags": "tag_array"}
	if len(rec.Columns) != 3 {
		t.Fatalf("columns=%v", rec.Columns)
	}
	for _, col := range rec.Columns {
		if wantCols[col.Key] != col.Type {
			t.Fatalf("column %s type=%q; want %q", col.Key, col.Type, wantCols[col.Key])
		}
	}

	chunk, err := mem.GetChunk(ctx, "p", rec.ID, 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if chunk[0]["name"] != "alice" || chunk[0]["tags"] != "red, blue" {
		t.Fatalf("row 0=%v", chunk[0])
	}
	// Empty cells land as nil, not "".
	if chunk[2]["signup_date"] != nil || chunk[2]["tags"] != nil {
		t.Fatalf("empty cells=%v", chunk[2])
	}

	meta, err := mem.GetMetadata(ctx, "p")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.ActiveSourceID != rec.ID {
		t.Fatalf("first ingested source not active: %q", meta.ActiveSourceID)
	}
}

/*
TestIngestCSVChunking verifies that a source longer than one chunk splits at
the fixed capacity with a partial tail.
*/
func TestIngestCSVChunking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("id\n")
	total := store.ChunkSize + 7
	for i := 0; i < total; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}

	mem := store.NewMemory()
	rec, err := IngestCSV(ctx, mem, "p", "big.csv", strings.NewReader(b.String()), CSVOptions{})
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if rec.RowCount != total || rec.ChunkCount != 2 {
		t.Fatalf("counts=%d/%d; want %d/2", rec.RowCount, rec.ChunkCount, total)
	}

	first, _ := mem.GetChunk(ctx, "p", rec.ID, 0)
	tail, _ := mem.GetChunk(ctx, "p", rec.ID, 1)
	if len(first) != store.ChunkSize || len(tail) != 7 {
		t.Fatalf("chunk lens=%d/%d; want %d/7", len(first), len(tail), store.ChunkSize)
	}
	if tail[0]["id"] != fmt.Sprintf("%d", store.ChunkSize) {
		t.Fatalf("tail[0]=%v", tail[0])
	}
}

func TestIngestCSVRaggedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	input := "a,b\n1\n2,3,extra\n"
	mem := store.NewMemory()
	rec, err := IngestCSV(ctx, mem, "p", "ragged.csv", strings.NewReader(input), CSVOptions{})
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 0)
	// Short rows pad with nil; surplus cells beyond the header are dropped.
	if chunk[0]["a"] != "1" || chunk[0]["b"] != nil {
		t.Fatalf("short row=%v", chunk[0])
	}
	if chunk[1]["a"] != "2" || chunk[1]["b"] != "3" {
		t.Fatalf("long row=%v", chunk[1])
	}
	if len(chunk[1]) != 2 {
		t.Fatalf("long row has %d keys; want 2", len(chunk[1]))
	}
}

func TestIngestCSVNoHeader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	input := "x,y\nz,w\n"
	mem := store.NewMemory()
	rec, err := IngestCSV(ctx, mem, "p", "raw.csv", strings.NewReader(input), CSVOptions{NoHeader: true})
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if rec.RowCount != 2 {
		t.Fatalf("RowCount=%d; want 2", rec.RowCount)
	}
	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 0)
	if chunk[0]["col_1"] != "x" || chunk[1]["col_2"] != "w" {
		t.Fatalf("rows=%v", chunk)
	}
}

func TestIngestCSVTabDelimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	input := "a\tb\n1\t2\n"
	mem := store.NewMemory()
	rec, err := IngestCSV(ctx, mem, "p", "data.tsv", strings.NewReader(input), CSVOptions{Comma: '\t'})
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	chunk, _ := mem.GetChunk(ctx, "p", rec.ID, 0)
	if chunk[0]["a"] != "1" || chunk[0]["b"] != "2" {
		t.Fatalf("row=%v", chunk[0])
	}
}

func TestIngestCSVEmpty(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	if _, err := IngestCSV(context.Background(), mem, "p", "empty.csv", strings.NewReader(""), CSVOptions{}); err == nil {
		t.Fatalf("empty input accepted")
	}
}
