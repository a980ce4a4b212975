package directory

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mnemos_teams (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    created_by  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS mnemos_team_members (
    team_id     TEXT NOT NULL REFERENCES mnemos_teams(id) ON DELETE CASCADE,
    user_id     TEXT NOT NULL,
    role        TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
    joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (team_id, user_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_mnemos_team_members_user ON mnemos_team_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS mnemos_claims (
    id          TEXT PRIMARY KEY,
    seq         BIGSERIAL NOT NULL,
    from_owner  TEXT NOT NULL,
    to_owner    TEXT NOT NULL,
    manifest    JSONB NOT NULL,
    completed   JSONB NOT NULL,
    moved       JSONB NOT NULL,
    status      TEXT NOT NULL CHECK (status IN ('pending', 'partial', 'complete')),
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_mnemos_claims_pair ON mnemos_claims (from_owner, to_owner, seq DESC)`,
}

// EnsureSchema creates the directory tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("directory: schema step %d: %w", i+1, err)
		}
	}
	return nil
}
