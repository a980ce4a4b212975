package store

import (
	"context"
	"fmt"
)

// ListBySensitivity returns an owner's live memories at any of levels,
// most restrictive first, then newest.
func (db *DB) ListBySensitivity(ctx context.Context, owner string, levels []Sensitivity, limit, offset int) ([]Memory, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	args := []any{owner}
	marks := ""
	for i, l := range levels {
		if !l.Valid() {
			return nil, fmt.Errorf("%w: sensitivity %q", ErrInvalid, l)
		}
		if i > 0 {
			marks += ", "
		}
		marks += "?"
		args = append(args, l)
	}
	query := `SELECT ` + memoryColumns + ` FROM memories m
		WHERE m.owner_id = ? AND m.archived_at IS NULL AND m.sensitivity IN (` + marks + `)
		ORDER BY CASE m.sensitivity WHEN 'critical' THEN 0 WHEN 'sensitive' THEN 1 ELSE 2 END,
			m.created_at DESC, m.id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(offset, 0))
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by sensitivity: %w", err)
	}
	return scanMemories(rows)
}

// CountBy groups an owner's live memories by col, which must be
// "sensitivity" or "gate".
func (db *DB) CountBy(ctx context.Context, owner, col string) (map[string]int, error) {
	if col != "sensitivity" && col != "gate" {
		return nil, fmt.Errorf("%w: count by %q", ErrInvalid, col)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+col+`, COUNT(*) FROM memories
		WHERE owner_id = ? AND archived_at IS NULL GROUP BY `+col, owner)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", col, err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[k] = n
	}
	return out, rows.Err()
}

// SetSensitivity relabels a live memory.
func (db *DB) SetSensitivity(ctx context.Context, id string, s Sensitivity) error {
	if !s.Valid() {
		return fmt.Errorf("%w: sensitivity %q", ErrInvalid, s)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE memories SET sensitivity = ? WHERE id = ? AND archived_at IS NULL`, s, id)
	if err != nil {
		return fmt.Errorf("set sensitivity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasIdentity reports whether any identity card exists for owner.
func (db *DB) HasIdentity(ctx context.Context, owner string) (bool, error) {
	var ok bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM identity_cards WHERE owner_id = ?)`, owner).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has identity: %w", err)
	}
	return ok, nil
}

// OwnerIdentityCards returns every card version an owner has, oldest first.
func (db *DB) OwnerIdentityCards(ctx context.Context, owner string) ([]IdentityCard, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, owner_id, person, project, summary, source_ids, generated_at
		FROM identity_cards WHERE owner_id = ? ORDER BY seq`, owner)
	if err != nil {
		return nil, fmt.Errorf("owner identity cards: %w", err)
	}
	return scanCards(rows)
}
