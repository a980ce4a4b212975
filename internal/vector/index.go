// Package vector holds the dense nearest-neighbor index over memory embeddings.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "memories"

// Hit is a single nearest-neighbor result.
type Hit struct {
	ID         string
	Similarity float64
	Metadata   map[string]string
}

// Index wraps a chromem collection. Documents carry their scoping fields
// (owner_id, team_id, visibility) as metadata so queries are filtered
// inside the index, never after the fact.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection

	mu  sync.RWMutex
	ids map[string]struct{}
}

// New creates an in-memory index. SQLite remains the system of record;
// the index is rebuilt from stored embeddings on startup.
func New() (*Index, error) {
	return newIndex(chromem.NewDB())
}

func newIndex(db *chromem.DB) (*Index, error) {
	// Embeddings are always computed by the caller.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("vector: embeddings must be precomputed")
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, col: col, ids: make(map[string]struct{})}, nil
}

// Upsert adds or replaces the document for id.
func (ix *Index) Upsert(ctx context.Context, id string, embedding []float32, meta map[string]string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Same ID overwrites the previous document.
	err := ix.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: embedding,
		Metadata:  meta,
		Content:   id,
	})
	if err != nil {
		return fmt.Errorf("add vector %s: %w", id, err)
	}
	ix.ids[id] = struct{}{}
	return nil
}

// Delete removes the document for id. Deleting an absent id is a no-op.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.ids[id]; !ok {
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete vector %s: %w", id, err)
	}
	delete(ix.ids, id)
	return nil
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.ids[id]
	return ok
}

// IDs returns every indexed id.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.ids))
	for id := range ix.ids {
		out = append(out, id)
	}
	return out
}

// Count returns the number of indexed documents.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// Query returns up to limit nearest neighbors among documents whose
// metadata matches every key in where.
func (ix *Index) Query(ctx context.Context, embedding []float32, limit int, where map[string]string) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := ix.col.Count()
	if n == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	results, err := ix.col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity), Metadata: r.Metadata})
	}
	return hits, nil
}
