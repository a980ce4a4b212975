package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetOnboarding returns the onboarding state for owner, or nil if none.
func (db *DB) GetOnboarding(ctx context.Context, owner string) (*Onboarding, error) {
	var o Onboarding
	var updated int64
	err := db.QueryRowContext(ctx, `
		SELECT owner_id, step, person, project, style, updated_at FROM onboarding WHERE owner_id = ?`, owner,
	).Scan(&o.OwnerID, &o.Step, &o.Person, &o.Project, &o.Style, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get onboarding: %w", err)
	}
	o.UpdatedAt = fromMillis(updated)
	return &o, nil
}

// SetOnboarding creates or replaces the onboarding state.
func (db *DB) SetOnboarding(ctx context.Context, o *Onboarding) error {
	if o.OwnerID == "" {
		return fmt.Errorf("%w: onboarding needs an owner", ErrInvalid)
	}
	o.UpdatedAt = time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO onboarding (owner_id, step, person, project, style, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET step = excluded.step, person = excluded.person,
			project = excluded.project, style = excluded.style, updated_at = excluded.updated_at
	`, o.OwnerID, o.Step, o.Person, o.Project, o.Style, toMillis(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("set onboarding: %w", err)
	}
	return nil
}
