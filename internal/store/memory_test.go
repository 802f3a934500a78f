package store

import (
	"context"
	"errors"
	"testing"

	"datastudio/pkg/records"
)

func TestMemoryChunkRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	rows := []records.Record{{"a": "1"}, {"a": "2"}}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	got, err := mem.GetChunk(ctx, "p", "s", 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if len(got) != 2 || got[0]["a"] != "1" {
		t.Fatalf("GetChunk=%v", got)
	}

	// Absent chunks come back empty, not as errors.
	missing, err := mem.GetChunk(ctx, "p", "s", 99)
	if err != nil {
		t.Fatalf("GetChunk(absent): %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("absent chunk not empty: %v", missing)
	}
}

/*
TestMemoryIsolation verifies that stored chunks are insulated from caller
mutations in both directions, matching the serialization boundary of the
persistent backends.
*/
func TestMemoryIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	rows := []records.Record{{"a": "1"}}
	if err := mem.SaveChunk(ctx, "p", "s", 0, rows); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	rows[0]["a"] = "mutated-after-save"

	got, _ := mem.GetChunk(ctx, "p", "s", 0)
	if got[0]["a"] != "1" {
		t.Fatalf("store saw caller mutation: %v", got[0])
	}
	got[0]["a"] = "mutated-after-get"

	again, _ := mem.GetChunk(ctx, "p", "s", 0)
	if again[0]["a"] != "1" {
		t.Fatalf("store saw reader mutation: %v", again[0])
	}
}

func TestMemoryDeleteSourceChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	for c := 0; c < 3; c++ {
		if err := mem.SaveChunk(ctx, "p", "victim", c, []records.Record{{"c": c}}); err != nil {
			t.Fatalf("SaveChunk: %v", err)
		}
	}
	if err := mem.SaveChunk(ctx, "p", "keeper", 0, []records.Record{{"k": true}}); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	if err := mem.DeleteSourceChunks(ctx, "p", "victim"); err != nil {
		t.Fatalf("DeleteSourceChunks: %v", err)
	}
	for c := 0; c < 3; c++ {
		if got, _ := mem.GetChunk(ctx, "p", "victim", c); len(got) != 0 {
			t.Fatalf("chunk %d survived delete: %v", c, got)
		}
	}
	if got, _ := mem.GetChunk(ctx, "p", "keeper", 0); len(got) != 1 {
		t.Fatalf("unrelated source lost chunks: %v", got)
	}
}

func TestMemoryMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := NewMemory()

	if _, err := mem.GetMetadata(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("GetMetadata(absent)=%v; want ErrProjectNotFound", err)
	}

	meta := &ProjectMetadata{DataSources: []SourceRecord{{ID: "s", Name: "one"}}}
	if err := mem.SaveMetadata(ctx, "p", meta); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	got, err := mem.GetMetadata(ctx, "p")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if len(got.DataSources) != 1 || got.DataSources[0].Name != "one" {
		t.Fatalf("GetMetadata=%+v", got)
	}

	if _, err := got.Source("s"); err != nil {
		t.Fatalf("Source: %v", err)
	}
	if _, err := got.Source("missing"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Source(missing)=%v; want ErrSourceNotFound", err)
	}
}
