package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hoardlabs/hoard/internal/models"
)

// EncodeVector packs a float32 vector as little-endian bytes, the storage
// format the embedding length CHECK expects.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a stored embedding blob.
func DecodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// PutEmbedding stores a memory's vector, replacing any previous one. The
// guard on memories keeps a vector from landing on a pruned row: the insert
// fails on the foreign key if the memory vanished between compute and store.
func PutEmbedding(tx *sql.Tx, memoryID string, vec []float32, model string) error {
	blob := EncodeVector(vec)
	_, err := tx.Exec(`
		INSERT INTO memory_embeddings (memory_id, embedding, dimensions, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			model = excluded.model,
			created_at = excluded.created_at
	`, memoryID, blob, len(vec), model, nowMillis())
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns a memory's stored vector, or nil when absent.
func GetEmbedding(q Querier, memoryID string) (*models.MemoryEmbedding, error) {
	var e models.MemoryEmbedding
	err := q.QueryRow(`
		SELECT memory_id, embedding, dimensions, model, created_at
		FROM memory_embeddings WHERE memory_id = ?
	`, memoryID).Scan(&e.MemoryID, &e.Embedding, &e.Dimensions, &e.Model, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return &e, nil
}

// CachedVector looks up a previously computed vector by content hash.
// Returns nil on a miss or a model mismatch.
func CachedVector(q Querier, contentHash, model string) ([]float32, error) {
	var blob []byte
	err := q.QueryRow(`
		SELECT embedding FROM embedding_cache
		WHERE content_hash = ? AND model = ?
	`, contentHash, model).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cached vector: %w", err)
	}
	return DecodeVector(blob), nil
}

// PutCachedVector remembers a computed vector under its content hash, so
// identical content never hits the embedding backend twice.
func PutCachedVector(tx *sql.Tx, contentHash string, vec []float32, model string) error {
	_, err := tx.Exec(`
		INSERT INTO embedding_cache (content_hash, embedding, dimensions, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			model = excluded.model
	`, contentHash, EncodeVector(vec), len(vec), model, nowMillis())
	if err != nil {
		return fmt.Errorf("put cached vector: %w", err)
	}
	return nil
}

// LiveEmbeddings streams (memory id, vector) pairs for all live memories,
// excluding one id. Used by the duplicate detector.
func LiveEmbeddings(q Querier, excludeID string, now int64) (map[string][]float32, error) {
	rows, err := q.Query(`
		SELECT e.memory_id, e.embedding
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE e.memory_id != ? AND `+liveCond+`
	`, excludeID, now)
	if err != nil {
		return nil, fmt.Errorf("query live embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out[id] = DecodeVector(blob)
	}
	return out, rows.Err()
}
