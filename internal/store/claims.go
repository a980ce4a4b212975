package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveClaim inserts or updates a claim record.
func (d *Directory) SaveClaim(ctx context.Context, c *ClaimRecord) error {
	manifest, _ := json.Marshal(c.Manifest)
	completed, _ := json.Marshal(c.Completed)
	moved, _ := json.Marshal(c.Moved)
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO claims (id, from_owner, to_owner, manifest, completed, moved, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET completed = excluded.completed, moved = excluded.moved,
			status = excluded.status, error = excluded.error, updated_at = excluded.updated_at
	`, c.ID, c.From, c.To, string(manifest), string(completed), string(moved), c.Status, c.Error,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save claim: %w", err)
	}
	return nil
}

// LatestClaim returns the most recent claim from one owner to another, or nil.
func (d *Directory) LatestClaim(ctx context.Context, from, to string) (*ClaimRecord, error) {
	var c ClaimRecord
	var manifest, completed, moved string
	var created, updated int64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, from_owner, to_owner, manifest, completed, moved, status, error, created_at, updated_at
		FROM claims WHERE from_owner = ? AND to_owner = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, from, to,
	).Scan(&c.ID, &c.From, &c.To, &manifest, &completed, &moved, &c.Status, &c.Error, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest claim: %w", err)
	}
	if err := decodeClaimLists(&c, manifest, completed, moved); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func decodeClaimLists(c *ClaimRecord, manifest, completed, moved string) error {
	if err := json.Unmarshal([]byte(manifest), &c.Manifest); err != nil {
		return fmt.Errorf("decode claim manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &c.Completed); err != nil {
		return fmt.Errorf("decode claim progress: %w", err)
	}
	if err := json.Unmarshal([]byte(moved), &c.Moved); err != nil {
		return fmt.Errorf("decode claim counts: %w", err)
	}
	return nil
}
