package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddRule stores a standing instruction.
func (db *DB) AddRule(ctx context.Context, r *Rule) error {
	if r.Text == "" || r.OwnerID == "" {
		return fmt.Errorf("%w: rule needs text and owner", ErrInvalid)
	}
	if r.Scope != RuleScopeUser && r.Scope != RuleScopeTeam {
		return fmt.Errorf("%w: rule scope %q", ErrInvalid, r.Scope)
	}
	if r.ID == "" {
		r.ID = "rule_" + uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO rules (id, scope, owner_id, text, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Scope, r.OwnerID, r.Text, r.CreatedBy, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	return nil
}

// GetRule returns a rule by id, or nil.
func (db *DB) GetRule(ctx context.Context, id string) (*Rule, error) {
	var r Rule
	var created int64
	err := db.QueryRowContext(ctx, `
		SELECT id, scope, owner_id, text, created_by, created_at FROM rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.Scope, &r.OwnerID, &r.Text, &r.CreatedBy, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

// ListRules returns the user's own rules plus the rules of teamID when set.
func (db *DB) ListRules(ctx context.Context, scope Scope) ([]Rule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, scope, owner_id, text, created_by, created_at FROM rules
		WHERE (scope = 'user' AND owner_id = ?) OR (scope = 'team' AND owner_id = ? AND ? != '')
		ORDER BY created_at, id`, scope.OwnerID, scope.TeamID, scope.TeamID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var created int64
		if err := rows.Scan(&r.ID, &r.Scope, &r.OwnerID, &r.Text, &r.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule.
func (db *DB) DeleteRule(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's text.
func (db *DB) UpdateRule(ctx context.Context, id, text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty rule text", ErrInvalid)
	}
	res, err := db.ExecContext(ctx, `UPDATE rules SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
