package cache

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// GetEmbedding retrieves a cached vector for the given content and model.
// Returns (nil, nil) on cache miss.
func (s *Store) GetEmbedding(contentHash, model string) ([]float32, error) {
	row := s.db.QueryRow(
		`SELECT vector FROM embeddings WHERE content_hash = ? AND model = ?`,
		contentHash, model,
	)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}

	s.touch("embeddings", contentHash, model)

	return blobToVector(blob)
}

// PutEmbedding stores a vector for the given content and model, then evicts
// if the table is over the size limit.
func (s *Store) PutEmbedding(contentHash, model string, vector []float32) error {
	blob := vectorToBlob(vector)
	now := time.Now().UnixNano()

	_, err := s.db.Exec(
		`INSERT INTO embeddings(content_hash, model, vector, created_at, accessed_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash, model) DO UPDATE SET vector=excluded.vector, accessed_at=excluded.accessed_at`,
		contentHash, model, blob, now, now,
	)
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}

	return s.evictTable("embeddings", "LENGTH(vector)")
}

// vectorToBlob encodes []float32 as little-endian bytes.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToVector decodes little-endian bytes to []float32.
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
