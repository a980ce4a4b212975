package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const memoryColumns = `m.id, m.content, m.gate, m.person, m.project, m.sensitivity, m.visibility,
	m.pinned, m.confidence, m.owner_id, m.team_id, m.created_by,
	m.created_at, m.updated_at, m.last_accessed, m.decay_score, m.archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var m Memory
	var pinned int
	var teamID sql.NullString
	var created, updated, accessed int64
	var archived sql.NullInt64

	err := r.Scan(&m.ID, &m.Content, &m.Gate, &m.Person, &m.Project, &m.Sensitivity, &m.Visibility,
		&pinned, &m.Confidence, &m.OwnerID, &teamID, &m.CreatedBy,
		&created, &updated, &accessed, &m.DecayScore, &archived)
	if err != nil {
		return nil, err
	}
	m.Pinned = pinned == 1
	m.TeamID = teamID.String
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	m.LastAccessed = fromMillis(accessed)
	if archived.Valid {
		t := fromMillis(archived.Int64)
		m.ArchivedAt = &t
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	defer rows.Close()
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// scopeClause restricts the memories alias m to rows visible to s.
func scopeClause(s Scope) (string, []any) {
	if s.TeamID == "" {
		return "(m.owner_id = ? AND m.visibility = 'private')", []any{s.OwnerID}
	}
	return "((m.owner_id = ? AND m.visibility = 'private') OR (m.team_id = ? AND m.visibility = 'team'))",
		[]any{s.OwnerID, s.TeamID}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertMemory(ctx context.Context, tx *sql.Tx, m *Memory, termCount int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, content, gate, person, project, sensitivity, visibility,
			pinned, confidence, owner_id, team_id, created_by, term_count,
			created_at, updated_at, last_accessed, decay_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Content, m.Gate, m.Person, m.Project, m.Sensitivity, m.Visibility,
		boolInt(m.Pinned), m.Confidence, m.OwnerID, nullIfEmpty(m.TeamID), m.CreatedBy, termCount,
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt), toMillis(m.LastAccessed), m.DecayScore)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func getMemoryTx(ctx context.Context, tx *sql.Tx, id string) (*Memory, error) {
	m, err := scanMemory(tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMemory returns a memory by id regardless of scope, or nil if not found.
func (db *DB) GetMemory(ctx context.Context, id string) (*Memory, error) {
	m, err := scanMemory(db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	Gate            Gate
	Person          string
	Project         string
	Since           time.Time
	IncludeArchived bool
	Limit           int
}

// ListMemories returns memories visible to scope, newest first.
func (db *DB) ListMemories(ctx context.Context, scope Scope, f MemoryFilter) ([]Memory, error) {
	clause, args := scopeClause(scope)
	where := []string{clause}
	if !f.IncludeArchived {
		where = append(where, "m.archived_at IS NULL")
	}
	if f.Gate != "" {
		where = append(where, "m.gate = ?")
		args = append(args, f.Gate)
	}
	if f.Person != "" {
		where = append(where, "m.person = ?")
		args = append(args, f.Person)
	}
	if f.Project != "" {
		where = append(where, "m.project = ?")
		args = append(args, f.Project)
	}
	if !f.Since.IsZero() {
		where = append(where, "m.created_at >= ?")
		args = append(args, toMillis(f.Since))
	}
	query := `SELECT ` + memoryColumns + ` FROM memories m WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY m.created_at DESC, m.id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return scanMemories(rows)
}

// OwnedMemories returns every live memory owned by owner, whatever its visibility.
func (db *DB) OwnedMemories(ctx context.Context, owner string) ([]Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories m
		WHERE m.owner_id = ? AND m.archived_at IS NULL
		ORDER BY m.created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("owned memories: %w", err)
	}
	return scanMemories(rows)
}

// Owners returns every owner id with at least one live memory or journal entry.
func (db *DB) Owners(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT owner_id FROM memories WHERE archived_at IS NULL
		UNION
		SELECT owner_id FROM journal
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TouchMemories resets last_accessed and the decay curve for ids.
func (db *DB) TouchMemories(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := placeholders(ids)
	args = append([]any{toMillis(now)}, args...)
	_, err := db.ExecContext(ctx, `
		UPDATE memories SET last_accessed = ?, decay_score = 1.0
		WHERE archived_at IS NULL AND id IN (`+marks+`)`, args...)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// SetDecayScores writes a batch of recomputed decay scores.
func (db *DB) SetDecayScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	return db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET decay_score = ? WHERE id = ? AND archived_at IS NULL`)
		if err != nil {
			return fmt.Errorf("prepare decay update: %w", err)
		}
		defer stmt.Close()
		for id, score := range scores {
			if _, err := stmt.ExecContext(ctx, score, id); err != nil {
				return fmt.Errorf("update decay %s: %w", id, err)
			}
		}
		return nil
	})
}

// SetConfidence overwrites a memory's confidence.
func (db *DB) SetConfidence(ctx context.Context, id string, confidence float64) error {
	_, err := db.ExecContext(ctx, `UPDATE memories SET confidence = ?, updated_at = ? WHERE id = ?`,
		confidence, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set confidence: %w", err)
	}
	return nil
}

// CountLive returns the number of non-archived memories visible to scope.
func (db *DB) CountLive(ctx context.Context, scope Scope) (int, error) {
	clause, args := scopeClause(scope)
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories m WHERE m.archived_at IS NULL AND `+clause, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}
