package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateEdge links two memories. Both endpoints must exist and be live.
// Creating an edge that already exists is a no-op.
func (db *DB) CreateEdge(ctx context.Context, e *Edge) error {
	if e.Kind != EdgeContradicts && e.Kind != EdgeFollows {
		return fmt.Errorf("%w: edge kind %q", ErrInvalid, e.Kind)
	}
	if e.SourceID == e.TargetID {
		return fmt.Errorf("%w: self edge", ErrInvalid)
	}
	if e.ID == "" {
		e.ID = "edge_" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Confidence == 0 {
		e.Confidence = 1.0
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{e.SourceID, e.TargetID} {
			m, err := getMemoryTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("edge endpoint %s: %w", id, ErrNotFound)
			}
			if m.ArchivedAt != nil {
				return fmt.Errorf("edge endpoint %s: %w", id, ErrArchived)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edges (id, source_id, target_id, kind, confidence, owner_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id, kind) DO NOTHING
		`, e.ID, e.SourceID, e.TargetID, e.Kind, e.Confidence, e.OwnerID, toMillis(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		return nil
	})
}

// EdgesFor returns every edge touching id, including edges to archived memories.
func (db *DB) EdgesFor(ctx context.Context, id string) ([]Edge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, source_id, target_id, kind, confidence, owner_id, created_at
		FROM edges WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id`, id, id)
	if err != nil {
		return nil, fmt.Errorf("edges for %s: %w", id, err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var created int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Kind, &e.Confidence, &e.OwnerID, &created); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Neighbor is a memory reached by one hop from a matched memory.
type Neighbor struct {
	OriginID   string
	Kind       EdgeKind
	Confidence float64
	Memory     Memory
}

// Neighbors returns live, visible memories one hop away from ids.
// FOLLOWS is walked source to target; CONTRADICTS both ways.
func (db *DB) Neighbors(ctx context.Context, scope Scope, ids []string) ([]Neighbor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	marks, idArgs := placeholders(ids)
	clause, scopeArgs := scopeClause(scope)

	query := `
		SELECT e.source_id, e.kind, e.confidence, ` + memoryColumns + `
		FROM edges e JOIN memories m ON m.id = e.target_id
		WHERE e.source_id IN (` + marks + `) AND m.archived_at IS NULL AND ` + clause + `
		UNION ALL
		SELECT e.target_id, e.kind, e.confidence, ` + memoryColumns + `
		FROM edges e JOIN memories m ON m.id = e.source_id
		WHERE e.kind = 'CONTRADICTS' AND e.target_id IN (` + marks + `) AND m.archived_at IS NULL AND ` + clause

	var args []any
	args = append(args, idArgs...)
	args = append(args, scopeArgs...)
	args = append(args, idArgs...)
	args = append(args, scopeArgs...)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var pinned int
		var teamID sql.NullString
		var created, updated, accessed int64
		var archived sql.NullInt64
		m := &n.Memory
		err := rows.Scan(&n.OriginID, &n.Kind, &n.Confidence,
			&m.ID, &m.Content, &m.Gate, &m.Person, &m.Project, &m.Sensitivity, &m.Visibility,
			&pinned, &m.Confidence, &m.OwnerID, &teamID, &m.CreatedBy,
			&created, &updated, &accessed, &m.DecayScore, &archived)
		if err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		m.Pinned = pinned == 1
		m.TeamID = teamID.String
		m.CreatedAt = fromMillis(created)
		m.UpdatedAt = fromMillis(updated)
		m.LastAccessed = fromMillis(accessed)
		out = append(out, n)
	}
	return out, rows.Err()
}

func deleteEdgesTx(ctx context.Context, tx *sql.Tx, memoryID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, memoryID, memoryID); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}
	return nil
}
