// Package directory keeps the team directory and claim ledger in Postgres,
// for deployments where several mnemos servers share one set of teams.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/tenant"
)

// Querier is the subset of *pgxpool.Pool the directory uses. pgxmock pools
// satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a tenant.Backend over a Postgres database.
type Postgres struct {
	db Querier
}

var _ tenant.Backend = (*Postgres)(nil)

// New returns a directory over db.
func New(db Querier) *Postgres {
	return &Postgres{db: db}
}

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string) (*Postgres, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("directory: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("directory: ping: %w", err)
	}
	p := New(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool.Close, nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("directory: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("directory: commit: %w", err)
	}
	return nil
}

// CreateTeam inserts a team and makes its creator the owner.
func (p *Postgres) CreateTeam(ctx context.Context, t *store.Team) error {
	if t.Name == "" || t.CreatedBy == "" {
		return fmt.Errorf("%w: team needs name and creator", store.ErrInvalid)
	}
	if t.ID == "" {
		t.ID = "team_" + uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO mnemos_teams (id, name, created_by, created_at) VALUES ($1, $2, $3, $4)`,
			t.ID, t.Name, t.CreatedBy, t.CreatedAt); err != nil {
			return fmt.Errorf("directory: insert team: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO mnemos_team_members (team_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			t.ID, t.CreatedBy, string(store.RoleOwner), t.CreatedAt); err != nil {
			return fmt.Errorf("directory: insert team owner: %w", err)
		}
		return nil
	})
}

// GetTeam returns a team by id, or nil.
func (p *Postgres) GetTeam(ctx context.Context, id string) (*store.Team, error) {
	var t store.Team
	err := p.db.QueryRow(ctx, `SELECT id, name, created_by, created_at FROM mnemos_teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get team: %w", err)
	}
	return &t, nil
}

// DeleteTeam removes a team; memberships cascade.
func (p *Postgres) DeleteTeam(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM mnemos_teams WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("directory: delete team: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddMember adds or re-roles a member.
func (p *Postgres) AddMember(ctx context.Context, teamID, userID string, role store.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", store.ErrInvalid, role)
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO mnemos_team_members (team_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		teamID, userID, string(role))
	if err != nil {
		return fmt.Errorf("directory: add member: %w", err)
	}
	return nil
}

// RemoveMember drops a membership.
func (p *Postgres) RemoveMember(ctx context.Context, teamID, userID string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM mnemos_team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID); err != nil {
		return fmt.Errorf("directory: remove member: %w", err)
	}
	return nil
}

// MemberRole returns the user's role in the team, or "" if not a member.
func (p *Postgres) MemberRole(ctx context.Context, teamID, userID string) (store.Role, error) {
	var role string
	err := p.db.QueryRow(ctx, `SELECT role FROM mnemos_team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("directory: member role: %w", err)
	}
	return store.Role(role), nil
}

// TeamsFor lists the teams a user belongs to.
func (p *Postgres) TeamsFor(ctx context.Context, userID string) ([]store.Team, error) {
	rows, err := p.db.Query(ctx, `
		SELECT t.id, t.name, t.created_by, t.created_at
		FROM mnemos_teams t JOIN mnemos_team_members m ON m.team_id = t.id
		WHERE m.user_id = $1 ORDER BY t.created_at, t.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: teams for user: %w", err)
	}
	defer rows.Close()

	var out []store.Team
	for rows.Next() {
		var t store.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Members lists a team's members.
func (p *Postgres) Members(ctx context.Context, teamID string) ([]store.Member, error) {
	rows, err := p.db.Query(ctx, `
		SELECT team_id, user_id, role, joined_at FROM mnemos_team_members
		WHERE team_id = $1 ORDER BY joined_at, user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("directory: list members: %w", err)
	}
	defer rows.Close()

	var out []store.Member
	for rows.Next() {
		var m store.Member
		var role string
		if err := rows.Scan(&m.TeamID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("directory: scan member: %w", err)
		}
		m.Role = store.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveClaim inserts or updates a claim record.
func (p *Postgres) SaveClaim(ctx context.Context, c *store.ClaimRecord) error {
	manifest, err := json.Marshal(c.Manifest)
	if err != nil {
		return fmt.Errorf("directory: encode manifest: %w", err)
	}
	completed, err := json.Marshal(c.Completed)
	if err != nil {
		return fmt.Errorf("directory: encode progress: %w", err)
	}
	moved, err := json.Marshal(c.Moved)
	if err != nil {
		return fmt.Errorf("directory: encode counts: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO mnemos_claims (id, from_owner, to_owner, manifest, completed, moved, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET completed = EXCLUDED.completed, moved = EXCLUDED.moved,
			status = EXCLUDED.status, error = EXCLUDED.error, updated_at = EXCLUDED.updated_at`,
		c.ID, c.From, c.To, manifest, completed, moved, string(c.Status), c.Error, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("directory: save claim: %w", err)
	}
	return nil
}

// LatestClaim returns the most recent claim from one owner to another, or nil.
func (p *Postgres) LatestClaim(ctx context.Context, from, to string) (*store.ClaimRecord, error) {
	var c store.ClaimRecord
	var manifest, completed, moved []byte
	var status string
	err := p.db.QueryRow(ctx, `
		SELECT id, from_owner, to_owner, manifest, completed, moved, status, error, created_at, updated_at
		FROM mnemos_claims WHERE from_owner = $1 AND to_owner = $2
		ORDER BY seq DESC LIMIT 1`, from, to,
	).Scan(&c.ID, &c.From, &c.To, &manifest, &completed, &moved, &status, &c.Error, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: latest claim: %w", err)
	}
	c.Status = store.ClaimStatus(status)
	if err := json.Unmarshal(manifest, &c.Manifest); err != nil {
		return nil, fmt.Errorf("directory: decode manifest: %w", err)
	}
	if err := json.Unmarshal(completed, &c.Completed); err != nil {
		return nil, fmt.Errorf("directory: decode progress: %w", err)
	}
	if err := json.Unmarshal(moved, &c.Moved); err != nil {
		return nil, fmt.Errorf("directory: decode counts: %w", err)
	}
	return &c, nil
}

// Classes returns the entity classes kept in Postgres.
func (p *Postgres) Classes() []store.EntityClass {
	return []store.EntityClass{store.ClassTeamMemberships}
}

// ReassignOwner moves memberships and team authorship. Where the new owner
// already belongs to a team, they keep the higher of the two roles.
func (p *Postgres) ReassignOwner(ctx context.Context, class store.EntityClass, from, to string) (int64, error) {
	if class != store.ClassTeamMemberships {
		return 0, fmt.Errorf("%w: directory does not own class %q", store.ErrInvalid, class)
	}
	var moved int64
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE mnemos_team_members SET user_id = $1
			WHERE user_id = $2 AND team_id NOT IN (SELECT team_id FROM mnemos_team_members WHERE user_id = $1)`, to, from)
		if err != nil {
			return fmt.Errorf("directory: move memberships: %w", err)
		}
		moved = tag.RowsAffected()
		if _, err := tx.Exec(ctx, `
			UPDATE mnemos_team_members
			SET role = (SELECT f.role FROM mnemos_team_members f WHERE f.user_id = $1 AND f.team_id = mnemos_team_members.team_id)
			WHERE user_id = $2 AND team_id IN (
				SELECT f.team_id FROM mnemos_team_members f
				WHERE f.user_id = $1 AND `+store.RoleRankSQL("f.role")+` > `+store.RoleRankSQL("mnemos_team_members.role")+`)`,
			from, to); err != nil {
			return fmt.Errorf("directory: merge member roles: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM mnemos_team_members WHERE user_id = $1`, from); err != nil {
			return fmt.Errorf("directory: drop duplicate memberships: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE mnemos_teams SET created_by = $1 WHERE created_by = $2`, to, from); err != nil {
			return fmt.Errorf("directory: move team authorship: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// CountOwned counts memberships and authored teams still held by owner.
func (p *Postgres) CountOwned(ctx context.Context, class store.EntityClass, owner string) (int64, error) {
	if class != store.ClassTeamMemberships {
		return 0, fmt.Errorf("%w: directory does not own class %q", store.ErrInvalid, class)
	}
	var n int64
	err := p.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM mnemos_team_members WHERE user_id = $1) +
		       (SELECT COUNT(*) FROM mnemos_teams WHERE created_by = $1)`, owner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("directory: count %s: %w", class, err)
	}
	return n, nil
}
