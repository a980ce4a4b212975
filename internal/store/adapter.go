package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/mnemos/internal/embed"
	"github.com/lazypower/mnemos/internal/vector"
)

// Adapter is the single mutator of persisted memory state. Every write to a
// memory row updates the full-text, sparse and dense indexes in the same
// critical section, so a search never sees content the indexes disagree on.
type Adapter struct {
	DB       *DB
	Vectors  *vector.Index
	Embedder embed.Embedder

	locks [64]sync.Mutex
}

// NewAdapter couples the relational store, dense index and embedder.
func NewAdapter(db *DB, vectors *vector.Index, embedder embed.Embedder) *Adapter {
	return &Adapter{DB: db, Vectors: vectors, Embedder: embedder}
}

// lock serializes writes to one memory id.
func (a *Adapter) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &a.locks[h.Sum32()%uint32(len(a.locks))]
	mu.Lock()
	return mu.Unlock
}

func denseMeta(m *Memory) map[string]string {
	meta := map[string]string{
		"owner_id":   m.OwnerID,
		"visibility": string(m.Visibility),
	}
	if m.TeamID != "" {
		meta["team_id"] = m.TeamID
	}
	return meta
}

func (a *Adapter) upsertDense(ctx context.Context, m *Memory, vec []float64) error {
	if embed.IsZero(vec) {
		return a.Vectors.Delete(ctx, m.ID)
	}
	return a.Vectors.Upsert(ctx, m.ID, embed.Float32(vec), denseMeta(m))
}

// CreateMemory validates, embeds and stores m, filling in id and timestamps.
func (a *Adapter) CreateMemory(ctx context.Context, m *Memory) error {
	now := time.Now()
	if m.ID == "" {
		m.ID = "mem_" + uuid.NewString()
	}
	if m.CreatedBy == "" {
		m.CreatedBy = m.OwnerID
	}
	m.CreatedAt, m.UpdatedAt, m.LastAccessed = now, now, now
	m.DecayScore = 1.0
	m.ArchivedAt = nil
	if err := m.Validate(); err != nil {
		return err
	}

	vec, err := a.Embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	terms := embed.Terms(m.Content)

	unlock := a.lock(m.ID)
	defer unlock()

	indexed := false
	err = a.DB.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertMemory(ctx, tx, m, termCount(terms)); err != nil {
			return err
		}
		if err := writeTermsTx(ctx, tx, m.ID, terms); err != nil {
			return err
		}
		if err := saveVectorTx(ctx, tx, m.ID, vec, a.Embedder.Model()); err != nil {
			return err
		}
		if err := a.upsertDense(ctx, m, vec); err != nil {
			return fmt.Errorf("index memory: %w", err)
		}
		indexed = true
		return nil
	})
	if err != nil {
		if indexed {
			a.Vectors.Delete(ctx, m.ID)
		}
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns the memory if scope may read it. A missing id is
// ErrNotFound; an existing but invisible one is ErrAccessDenied.
func (a *Adapter) GetMemory(ctx context.Context, scope Scope, id string) (*Memory, error) {
	m, err := a.DB.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	if !m.VisibleTo(scope) {
		return nil, ErrAccessDenied
	}
	return m, nil
}

// UpdateMemoryContent replaces content and sensitivity and re-indexes every index.
// Concurrent updates to one id are serialized; the last writer wins.
func (a *Adapter) UpdateMemoryContent(ctx context.Context, id, content string, sensitivity Sensitivity) (*Memory, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalid)
	}
	if !sensitivity.Valid() {
		return nil, fmt.Errorf("%w: sensitivity %q", ErrInvalid, sensitivity)
	}
	vec, err := a.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	terms := embed.Terms(content)

	unlock := a.lock(id)
	defer unlock()

	var m *Memory
	var prev *VectorRecord
	indexed := false
	err = a.DB.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = getMemoryTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotFound
		}
		if m.ArchivedAt != nil {
			return ErrArchived
		}
		if prev, err = getVectorTx(ctx, tx, id); err != nil {
			return err
		}
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET content = ?, sensitivity = ?, term_count = ?, updated_at = ? WHERE id = ?
		`, content, sensitivity, termCount(terms), toMillis(now), id); err != nil {
			return fmt.Errorf("update memory: %w", err)
		}
		if err := writeTermsTx(ctx, tx, id, terms); err != nil {
			return err
		}
		if err := saveVectorTx(ctx, tx, id, vec, a.Embedder.Model()); err != nil {
			return err
		}
		if err := a.upsertDense(ctx, m, vec); err != nil {
			return fmt.Errorf("index memory: %w", err)
		}
		indexed = true
		m.Content, m.Sensitivity, m.UpdatedAt = content, sensitivity, now
		return nil
	})
	if err != nil {
		if indexed {
			if prev != nil {
				a.upsertDense(ctx, m, prev.Embedding)
			} else {
				a.Vectors.Delete(ctx, id)
			}
		}
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}
	return m, nil
}

// DeleteMemory removes a memory, its index entries and its edges.
func (a *Adapter) DeleteMemory(ctx context.Context, id string) error {
	unlock := a.lock(id)
	defer unlock()

	err := a.DB.inTx(ctx, func(tx *sql.Tx) error {
		m, err := getMemoryTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotFound
		}
		if err := deleteEdgesTx(ctx, tx, id); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM sparse_terms WHERE memory_id = ?`,
			`DELETE FROM memory_vectors WHERE memory_id = ?`,
			`DELETE FROM memories WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("delete memory: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if err := a.Vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexDesync, err)
	}
	return nil
}

// ArchiveMemory marks a non-pinned memory archived and drops it from the
// dense index. Edges are kept. Returns false if nothing changed.
func (a *Adapter) ArchiveMemory(ctx context.Context, id string, at time.Time) (bool, error) {
	unlock := a.lock(id)
	defer unlock()

	res, err := a.DB.ExecContext(ctx, `
		UPDATE memories SET archived_at = ? WHERE id = ? AND archived_at IS NULL AND pinned = 0
	`, toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("archive memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if err := a.Vectors.Delete(ctx, id); err != nil {
		return true, fmt.Errorf("%w: %v", ErrIndexDesync, err)
	}
	return true, nil
}

// SetPinned pins or unpins a memory. Pinning also resets its decay score.
func (a *Adapter) SetPinned(ctx context.Context, id string, pinned bool) error {
	unlock := a.lock(id)
	defer unlock()

	query := `UPDATE memories SET pinned = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`
	if pinned {
		query = `UPDATE memories SET pinned = ?, updated_at = ?, decay_score = 1.0 WHERE id = ? AND archived_at IS NULL`
	}
	res, err := a.DB.ExecContext(ctx, query, boolInt(pinned), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DenseSearch embeds query and returns the nearest visible memories.
func (a *Adapter) DenseSearch(ctx context.Context, scope Scope, query string, limit int) ([]Hit, error) {
	vec, err := a.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embed.IsZero(vec) {
		return nil, nil
	}
	q := embed.Float32(vec)

	wheres := []map[string]string{{"owner_id": scope.OwnerID, "visibility": string(VisibilityPrivate)}}
	if scope.TeamID != "" {
		wheres = append(wheres, map[string]string{"team_id": scope.TeamID, "visibility": string(VisibilityTeam)})
	}

	var hits []Hit
	for _, where := range wheres {
		found, err := a.Vectors.Query(ctx, q, limit, where)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			hits = append(hits, Hit{ID: h.ID, Score: h.Similarity})
		}
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SparseSearch runs the BM25 sparse index.
func (a *Adapter) SparseSearch(ctx context.Context, scope Scope, query string, limit int) ([]Hit, error) {
	return a.DB.sparseSearch(ctx, scope, query, limit)
}

// TextSearch runs the FTS5 keyword index.
func (a *Adapter) TextSearch(ctx context.Context, scope Scope, query string, limit int) ([]Hit, error) {
	return a.DB.textSearch(ctx, scope, query, limit)
}

// Hydrate loads the live memories visible to scope for ids, keyed by id.
// Ids that exist but are archived or out of scope are dropped. An id the
// metadata store lacks while the dense index still holds it is ErrIndexDesync.
func (a *Adapter) Hydrate(ctx context.Context, scope Scope, ids []string) (map[string]Memory, error) {
	if len(ids) == 0 {
		return map[string]Memory{}, nil
	}
	marks, args := placeholders(ids)
	clause, scopeArgs := scopeClause(scope)
	rows, err := a.DB.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories m
		WHERE m.id IN (`+marks+`) AND m.archived_at IS NULL AND `+clause,
		append(args, scopeArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Memory, len(mems))
	for _, m := range mems {
		out[m.ID] = m
	}

	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if err := a.checkIndexed(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// checkIndexed verifies that an id missing from a hydrate is not a dense orphan.
func (a *Adapter) checkIndexed(ctx context.Context, id string) error {
	unlock := a.lock(id)
	defer unlock()

	m, err := a.DB.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if m == nil && a.Vectors.Contains(id) {
		log.Printf("store: dense index holds %s but metadata does not", id)
		return fmt.Errorf("%w: %s", ErrIndexDesync, id)
	}
	return nil
}

// Neighbors returns one-hop graph neighbors of ids visible to scope.
func (a *Adapter) Neighbors(ctx context.Context, scope Scope, ids []string) ([]Neighbor, error) {
	return a.DB.Neighbors(ctx, scope, ids)
}

// Reindex rebuilds the dense index from stored embeddings, re-embedding
// rows whose stored vector came from a different model.
func (a *Adapter) Reindex(ctx context.Context) (int, error) {
	live, err := a.DB.liveIndexed(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range live {
		im := &live[i]
		vec := im.Vector.Embedding
		if im.Vector.Model != a.Embedder.Model() {
			if vec, err = a.reembed(ctx, im.Memory.ID); err != nil {
				log.Printf("store: reindex %s: %v", im.Memory.ID, err)
				continue
			}
			if vec == nil {
				continue
			}
		} else {
			unlock := a.lock(im.Memory.ID)
			err = a.upsertDense(ctx, &im.Memory, vec)
			unlock()
			if err != nil {
				return n, fmt.Errorf("reindex %s: %w", im.Memory.ID, err)
			}
		}
		n++
	}
	return n, nil
}

// reembed recomputes and stores the embedding of one memory.
func (a *Adapter) reembed(ctx context.Context, id string) ([]float64, error) {
	unlock := a.lock(id)
	defer unlock()

	m, err := a.DB.GetMemory(ctx, id)
	if err != nil || m == nil || m.ArchivedAt != nil {
		return nil, err
	}
	vec, err := a.Embedder.Embed(ctx, m.Content)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	err = a.DB.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveVectorTx(ctx, tx, id, vec, a.Embedder.Model()); err != nil {
			return err
		}
		return a.upsertDense(ctx, m, vec)
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Reconcile removes dense entries with no live memory and re-adds live
// memories missing from the dense index. Returns (removed, added).
func (a *Adapter) Reconcile(ctx context.Context) (int, int, error) {
	removed := 0
	for _, id := range a.Vectors.IDs() {
		unlock := a.lock(id)
		m, err := a.DB.GetMemory(ctx, id)
		if err == nil && (m == nil || m.ArchivedAt != nil) {
			err = a.Vectors.Delete(ctx, id)
			if err == nil {
				removed++
			}
		}
		unlock()
		if err != nil {
			return removed, 0, fmt.Errorf("reconcile %s: %w", id, err)
		}
	}

	live, err := a.DB.liveIndexed(ctx)
	if err != nil {
		return removed, 0, err
	}
	added := 0
	for i := range live {
		im := &live[i]
		if a.Vectors.Contains(im.Memory.ID) || embed.IsZero(im.Vector.Embedding) {
			continue
		}
		if _, err := a.reembed(ctx, im.Memory.ID); err != nil {
			return removed, added, fmt.Errorf("reconcile %s: %w", im.Memory.ID, err)
		}
		added++
	}
	if removed > 0 || added > 0 {
		log.Printf("store: reconcile removed %d orphaned and added %d missing vectors", removed, added)
	}
	return removed, added, nil
}

// SimilarTo returns visible live memories most similar to content, excluding excludeID.
func (a *Adapter) SimilarTo(ctx context.Context, scope Scope, content, excludeID string, limit int) ([]Hit, error) {
	hits, err := a.DenseSearch(ctx, scope, content, limit+1)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.ID != excludeID {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateEdge links two live memories.
func (a *Adapter) CreateEdge(ctx context.Context, e *Edge) error {
	return a.DB.CreateEdge(ctx, e)
}
