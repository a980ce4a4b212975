package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Directory is the SQLite-backed team directory and claim ledger. A Postgres
// implementation of the same surface lives in internal/directory.
type Directory struct {
	db *DB
}

// NewDirectory returns a directory over db.
func NewDirectory(db *DB) *Directory {
	return &Directory{db: db}
}

// CreateTeam inserts a team and makes its creator the owner.
func (d *Directory) CreateTeam(ctx context.Context, t *Team) error {
	if t.Name == "" || t.CreatedBy == "" {
		return fmt.Errorf("%w: team needs name and creator", ErrInvalid)
	}
	if t.ID == "" {
		t.ID = "team_" + uuid.NewString()
	}
	t.CreatedAt = time.Now()
	return d.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, created_by, created_at) VALUES (?, ?, ?, ?)
		`, t.ID, t.Name, t.CreatedBy, toMillis(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, role, joined_at) VALUES (?, ?, 'owner', ?)
		`, t.ID, t.CreatedBy, toMillis(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert team owner: %w", err)
		}
		return nil
	})
}

// GetTeam returns a team by id, or nil.
func (d *Directory) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	var created int64
	err := d.db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

// DeleteTeam removes a team and its memberships. It reports whether the
// team existed.
func (d *Directory) DeleteTeam(ctx context.Context, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete team: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddMember adds or re-roles a member.
func (d *Directory) AddMember(ctx context.Context, teamID, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalid, role)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(team_id, user_id) DO UPDATE SET role = excluded.role
	`, teamID, userID, role, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember drops a membership.
func (d *Directory) RemoveMember(ctx context.Context, teamID, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// MemberRole returns the user's role in the team, or "" if not a member.
func (d *Directory) MemberRole(ctx context.Context, teamID, userID string) (Role, error) {
	var role Role
	err := d.db.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("member role: %w", err)
	}
	return role, nil
}

// TeamsFor lists the teams a user belongs to.
func (d *Directory) TeamsFor(ctx context.Context, userID string) ([]Team, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.created_by, t.created_at
		FROM teams t JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = ? ORDER BY t.created_at, t.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("teams for user: %w", err)
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		var t Team
		var created int64
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Members lists a team's members.
func (d *Directory) Members(ctx context.Context, teamID string) ([]Member, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT team_id, user_id, role, joined_at FROM team_members
		WHERE team_id = ? ORDER BY joined_at, user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var joined int64
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Role, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.JoinedAt = fromMillis(joined)
		out = append(out, m)
	}
	return out, rows.Err()
}
