package pipeline

import (
	"encoding/json"

	"github.com/zeebo/xxh3"

	"datastudio/pkg/records"
)

// chunkFingerprint hashes a chunk's canonical JSON form. encoding/json sorts
// map keys, so the fingerprint is stable across row map iteration order. The
// clean operations compare fingerprints before and after a rewrite and skip
// SaveChunk for untouched chunks.
func chunkFingerprint(rows []records.Record) uint64 {
	data, err := json.Marshal(rows)
	if err != nil {
		// Rows came from JSON storage; marshal cannot realistically
		// fail. A zero fingerprint just forces a save.
		return 0
	}
	return xxh3.Hash(data)
}
