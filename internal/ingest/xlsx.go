package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"datastudio/internal/store"
)

// IngestXLSX streams the first worksheet of a spreadsheet into a new chunked
// source. The row iterator never materializes the whole sheet, so large
// workbooks load within the same memory bounds as CSV.
func IngestXLSX(ctx context.Context, st store.Store, projectID, name string, r io.Reader) (*store.SourceRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("ingest: spreadsheet %q has no sheets", name)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("ingest: open sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("ingest: sheet %q is empty", sheets[0])
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("ingest: read sheet header: %w", err)
	}
	s := newSink(st, projectID, HeaderKeys(header))

	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("ingest: read sheet row %d: %w", s.total+2, err)
		}
		if err := s.addCells(ctx, cells); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("ingest: iterate sheet: %w", err)
	}
	return s.finish(ctx, name, "ingestion")
}
