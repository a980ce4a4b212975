package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveIdentityCard appends a new card version for its scope. Earlier
// versions are kept as history and never modified.
func (db *DB) SaveIdentityCard(ctx context.Context, c *IdentityCard) error {
	if c.OwnerID == "" || c.Summary == "" {
		return fmt.Errorf("%w: identity card needs owner and summary", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = "idc_" + uuid.NewString()
	}
	if c.GeneratedAt.IsZero() {
		c.GeneratedAt = time.Now()
	}
	sources, err := json.Marshal(c.SourceIDs)
	if err != nil {
		return fmt.Errorf("marshal source ids: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO identity_cards (id, owner_id, person, project, summary, source_ids, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.Person, c.Project, c.Summary, string(sources), toMillis(c.GeneratedAt))
	if err != nil {
		return fmt.Errorf("save identity card: %w", err)
	}
	return nil
}

func scanCards(rows *sql.Rows) ([]IdentityCard, error) {
	defer rows.Close()
	var out []IdentityCard
	for rows.Next() {
		var c IdentityCard
		var sources string
		var generated int64
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Person, &c.Project, &c.Summary, &sources, &generated); err != nil {
			return nil, fmt.Errorf("scan identity card: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &c.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source ids: %w", err)
		}
		c.GeneratedAt = fromMillis(generated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CurrentIdentityCard returns the latest card for the exact scope, or nil.
func (db *DB) CurrentIdentityCard(ctx context.Context, owner, person, project string) (*IdentityCard, error) {
	cards, err := db.IdentityHistory(ctx, owner, person, project, 1)
	if err != nil || len(cards) == 0 {
		return nil, err
	}
	return &cards[0], nil
}

// IdentityHistory returns card versions for a scope, newest first.
func (db *DB) IdentityHistory(ctx context.Context, owner, person, project string, limit int) ([]IdentityCard, error) {
	query := `
		SELECT id, owner_id, person, project, summary, source_ids, generated_at
		FROM identity_cards WHERE owner_id = ? AND person = ? AND project = ?
		ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.QueryContext(ctx, query, owner, person, project)
	if err != nil {
		return nil, fmt.Errorf("identity history: %w", err)
	}
	return scanCards(rows)
}
