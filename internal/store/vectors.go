package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// VectorRecord is the persisted dense embedding of a memory.
type VectorRecord struct {
	MemoryID   string
	Embedding  []float64
	Model      string
	Dimensions int
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

func saveVectorTx(ctx context.Context, tx *sql.Tx, memoryID string, embedding []float64, model string) error {
	blob := encodeEmbedding(embedding)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model,
			dimensions = excluded.dimensions, created_at = excluded.created_at
	`, memoryID, blob, model, len(embedding), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

func getVectorTx(ctx context.Context, tx *sql.Tx, memoryID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte
	err := tx.QueryRowContext(ctx, `
		SELECT memory_id, embedding, model, dimensions FROM memory_vectors WHERE memory_id = ?
	`, memoryID).Scan(&v.MemoryID, &blob, &v.Model, &v.Dimensions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// indexedMemory is a live memory paired with its stored embedding.
type indexedMemory struct {
	Memory Memory
	Vector VectorRecord
}

// liveIndexed returns every live memory that has a stored embedding.
func (db *DB) liveIndexed(ctx context.Context) ([]indexedMemory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+`, v.embedding, v.model, v.dimensions
		FROM memories m JOIN memory_vectors v ON v.memory_id = m.id
		WHERE m.archived_at IS NULL
		ORDER BY m.seq`)
	if err != nil {
		return nil, fmt.Errorf("live vectors: %w", err)
	}
	defer rows.Close()

	var out []indexedMemory
	for rows.Next() {
		var im indexedMemory
		var pinned int
		var teamID sql.NullString
		var created, updated, accessed int64
		var archived sql.NullInt64
		var blob []byte
		m := &im.Memory
		err := rows.Scan(&m.ID, &m.Content, &m.Gate, &m.Person, &m.Project, &m.Sensitivity, &m.Visibility,
			&pinned, &m.Confidence, &m.OwnerID, &teamID, &m.CreatedBy,
			&created, &updated, &accessed, &m.DecayScore, &archived,
			&blob, &im.Vector.Model, &im.Vector.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		m.Pinned = pinned == 1
		m.TeamID = teamID.String
		m.CreatedAt = fromMillis(created)
		m.UpdatedAt = fromMillis(updated)
		m.LastAccessed = fromMillis(accessed)
		im.Vector.MemoryID = m.ID
		im.Vector.Embedding = decodeEmbedding(blob)
		out = append(out, im)
	}
	return out, rows.Err()
}
