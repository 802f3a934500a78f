package store

import (
	"context"
	"fmt"
	"sync"
)

// SourceStats is the resolved row/chunk accounting for one source.
type SourceStats struct {
	RowCount   int
	ChunkCount int
}

// StatsResolver resolves a source's row and chunk counts, tolerating stale or
// missing metadata.
//
// Trust tiers, in priority order:
//
//  1. explicit RowCount on the metadata record, when non-zero;
//  2. legacy inline Rows carried by pre-chunking records;
//  3. probing: fetch chunk 0, double an upper bound until an empty chunk is
//     found, then binary-search for the last non-empty chunk.
//
// Probe results are cached keyed by a version stamp (source UpdatedAt, falling
// back to metadata LastModified) so stable sources are probed once.
type StatsResolver struct {
	store Store

	// cache is keyed by projectID/sourceID/stamp. Concurrent operations on
	// different sources share the resolver, hence the locked cache.
	cache syncStatsCache
}

// NewStatsResolver returns a resolver backed by s.
func NewStatsResolver(s Store) *StatsResolver {
	return &StatsResolver{store: s}
}

// Resolve returns the stats for src within the given project metadata.
func (r *StatsResolver) Resolve(ctx context.Context, projectID string, meta *ProjectMetadata, src *SourceRecord) (SourceStats, error) {
	// Tier 1: explicit counts.
	if src.RowCount > 0 {
		chunks := src.ChunkCount
		if chunks == 0 {
			chunks = ChunkCountFor(src.RowCount)
		}
		return SourceStats{RowCount: src.RowCount, ChunkCount: chunks}, nil
	}

	// Tier 2: legacy inline rows.
	if len(src.Rows) > 0 {
		n := len(src.Rows)
		return SourceStats{RowCount: n, ChunkCount: ChunkCountFor(n)}, nil
	}

	// Tier 3: probe, with a version-stamped cache in front.
	stamp := src.UpdatedAt
	if stamp.IsZero() {
		stamp = meta.LastModified
	}
	key := fmt.Sprintf("%s/%s/%d", projectID, src.ID, stamp.UnixNano())
	if st, ok := r.cache.get(key); ok {
		return st, nil
	}

	st, err := r.probe(ctx, projectID, src.ID)
	if err != nil {
		return SourceStats{}, err
	}
	r.cache.put(key, st)
	return st, nil
}

// probe infers counts from chunk existence alone.
func (r *StatsResolver) probe(ctx context.Context, projectID, sourceID string) (SourceStats, error) {
	first, err := r.store.GetChunk(ctx, projectID, sourceID, 0)
	if err != nil {
		return SourceStats{}, fmt.Errorf("store: probe chunk 0: %w", err)
	}
	if len(first) == 0 {
		// Never-populated source.
		return SourceStats{}, nil
	}
	if len(first) < ChunkSize {
		return SourceStats{RowCount: len(first), ChunkCount: 1}, nil
	}

	// Double until an empty chunk bounds the search.
	high := 1
	for {
		rows, err := r.store.GetChunk(ctx, projectID, sourceID, high)
		if err != nil {
			return SourceStats{}, fmt.Errorf("store: probe chunk %d: %w", high, err)
		}
		if len(rows) == 0 {
			break
		}
		high *= 2
	}

	// Binary search in [high/2, high-1] for the last non-empty chunk.
	lo, hi := high/2, high-1
	last, lastLen := high/2, 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		rows, err := r.store.GetChunk(ctx, projectID, sourceID, mid)
		if err != nil {
			return SourceStats{}, fmt.Errorf("store: probe chunk %d: %w", mid, err)
		}
		if len(rows) > 0 {
			last, lastLen = mid, len(rows)
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	// The search always probes high/2, which the doubling loop confirmed
	// non-empty, so lastLen is set by the time we get here.
	return SourceStats{
		RowCount:   last*ChunkSize + lastLen,
		ChunkCount: last + 1,
	}, nil
}

// syncStatsCache is a tiny concurrency-safe stats cache.
type syncStatsCache struct {
	mu sync.Mutex
	m  map[string]SourceStats
}

func (c *syncStatsCache) get(key string) (SourceStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.m[key]
	return st, ok
}

func (c *syncStatsCache) put(key string, st SourceStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]SourceStats{}
	}
	c.m[key] = st
}
