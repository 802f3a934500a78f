package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"datastudio/internal/store"
)

// CSVOptions tunes the CSV reader. The zero value reads standard
// comma-separated input with a header row.
type CSVOptions struct {
	// Comma overrides the field delimiter. Zero means ','.
	Comma rune
	// NoHeader treats the first line as data; columns are named col_1..n.
	NoHeader bool
}

// IngestCSV streams delimited text into a new chunked source. The reader runs
// in a lenient mode (lazy quotes, variable field count) so real-world exports
// with ragged rows still load; short rows pad with nil and long rows drop the
// extras.
func IngestCSV(ctx context.Context, st store.Store, projectID, name string, r io.Reader, opts CSVOptions) (*store.SourceRecord, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("ingest: csv input %q is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv header: %w", err)
	}

	var keys []string
	var s *sink
	if opts.NoHeader {
		keys = make([]string, len(first))
		for i := range keys {
			keys[i] = fmt.Sprintf("col_%d", i+1)
		}
		s = newSink(st, projectID, keys)
		if err := s.addCells(ctx, first); err != nil {
			return nil, err
		}
	} else {
		keys = HeaderKeys(first)
		s = newSink(st, projectID, keys)
	}

	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read csv row %d: %w", s.total+1, err)
		}
		if err := s.addCells(ctx, cells); err != nil {
			return nil, err
		}
	}
	return s.finish(ctx, name, "ingestion")
}
