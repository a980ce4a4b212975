package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: primary metadata table",
		SQL: `
CREATE TABLE memories (
    seq            INTEGER PRIMARY KEY,
    id             TEXT NOT NULL UNIQUE,
    content        TEXT NOT NULL,
    gate           TEXT NOT NULL CHECK (gate IN ('behavioral', 'relational', 'epistemic', 'promissory', 'correction')),
    person         TEXT NOT NULL DEFAULT '',
    project        TEXT NOT NULL DEFAULT '',
    sensitivity    TEXT NOT NULL CHECK (sensitivity IN ('safe', 'sensitive', 'critical')),
    visibility     TEXT NOT NULL CHECK (visibility IN ('private', 'team')),
    pinned         INTEGER NOT NULL DEFAULT 0,
    confidence     REAL NOT NULL DEFAULT 0.9,
    owner_id       TEXT NOT NULL,
    team_id        TEXT,
    created_by     TEXT NOT NULL,
    term_count     INTEGER NOT NULL DEFAULT 0,

    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    last_accessed  INTEGER NOT NULL,
    decay_score    REAL NOT NULL DEFAULT 1.0,
    archived_at    INTEGER,

    CHECK (visibility = 'private' OR team_id IS NOT NULL)
);

CREATE INDEX idx_memories_owner    ON memories(owner_id, archived_at);
CREATE INDEX idx_memories_team     ON memories(team_id, visibility);
CREATE INDEX idx_memories_accessed ON memories(last_accessed DESC);
`,
	},
	{
		Version:     2,
		Description: "memories_fts: full-text index kept in sync by triggers",
		SQL: `
CREATE VIRTUAL TABLE memories_fts USING fts5(
    content, person, project,
    content='memories', content_rowid='seq',
    tokenize='porter unicode61'
);

CREATE TRIGGER memories_fts_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, content, person, project)
    VALUES (new.seq, new.content, new.person, new.project);
END;

CREATE TRIGGER memories_fts_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, person, project)
    VALUES ('delete', old.seq, old.content, old.person, old.project);
END;

CREATE TRIGGER memories_fts_au AFTER UPDATE OF content, person, project ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, content, person, project)
    VALUES ('delete', old.seq, old.content, old.person, old.project);
    INSERT INTO memories_fts(rowid, content, person, project)
    VALUES (new.seq, new.content, new.person, new.project);
END;
`,
	},
	{
		Version:     3,
		Description: "memory_vectors + sparse_terms: dense and sparse embeddings",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE TABLE sparse_terms (
    memory_id  TEXT NOT NULL,
    term       TEXT NOT NULL,
    tf         INTEGER NOT NULL,
    PRIMARY KEY (memory_id, term),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_sparse_term ON sparse_terms(term);
`,
	},
	{
		Version:     4,
		Description: "edges: typed links between memories",
		SQL: `
CREATE TABLE edges (
    id          TEXT PRIMARY KEY,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    kind        TEXT NOT NULL CHECK (kind IN ('CONTRADICTS', 'FOLLOWS')),
    confidence  REAL NOT NULL DEFAULT 1.0,
    owner_id    TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    UNIQUE (source_id, target_id, kind)
);

CREATE INDEX idx_edges_source ON edges(source_id);
CREATE INDEX idx_edges_target ON edges(target_id);
CREATE INDEX idx_edges_owner  ON edges(owner_id);
`,
	},
	{
		Version:     5,
		Description: "journal: session checkpoints, tool observations and weekly digests",
		SQL: `
CREATE TABLE journal (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    session_id        TEXT NOT NULL DEFAULT '',
    kind              TEXT NOT NULL CHECK (kind IN ('entry', 'checkpoint', 'observation', 'digest')),
    content           TEXT NOT NULL,
    created_at        INTEGER NOT NULL,
    week_key          TEXT NOT NULL DEFAULT '',
    consolidated_into TEXT
);

CREATE INDEX idx_journal_owner   ON journal(owner_id, created_at DESC);
CREATE UNIQUE INDEX idx_journal_digest ON journal(owner_id, week_key) WHERE kind = 'digest';
`,
	},
	{
		Version:     6,
		Description: "identity_cards: append-only synthesized summaries",
		SQL: `
CREATE TABLE identity_cards (
    seq          INTEGER PRIMARY KEY,
    id           TEXT NOT NULL UNIQUE,
    owner_id     TEXT NOT NULL,
    person       TEXT NOT NULL DEFAULT '',
    project      TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL,
    source_ids   TEXT NOT NULL,
    generated_at INTEGER NOT NULL
);

CREATE INDEX idx_identity_scope ON identity_cards(owner_id, person, project, seq DESC);
`,
	},
	{
		Version:     7,
		Description: "rules + onboarding",
		SQL: `
CREATE TABLE rules (
    id          TEXT PRIMARY KEY,
    scope       TEXT NOT NULL CHECK (scope IN ('user', 'team')),
    owner_id    TEXT NOT NULL,
    text        TEXT NOT NULL,
    created_by  TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_rules_owner ON rules(owner_id);

CREATE TABLE onboarding (
    owner_id    TEXT PRIMARY KEY,
    step        INTEGER NOT NULL DEFAULT 0,
    person      TEXT NOT NULL DEFAULT '',
    project     TEXT NOT NULL DEFAULT '',
    style       TEXT NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL
);
`,
	},
	{
		Version:     8,
		Description: "teams + team_members",
		SQL: `
CREATE TABLE teams (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    created_by  TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE TABLE team_members (
    team_id     TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    role        TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
    joined_at   INTEGER NOT NULL,
    PRIMARY KEY (team_id, user_id),
    FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
);

CREATE INDEX idx_team_members_user ON team_members(user_id);
`,
	},
	{
		Version:     9,
		Description: "claims: ownership migration ledger",
		SQL: `
CREATE TABLE claims (
    id          TEXT PRIMARY KEY,
    from_owner  TEXT NOT NULL,
    to_owner    TEXT NOT NULL,
    manifest    TEXT NOT NULL,
    completed   TEXT NOT NULL,
    moved       TEXT NOT NULL,
    status      TEXT NOT NULL CHECK (status IN ('pending', 'partial', 'complete')),
    error       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX idx_claims_pair ON claims(from_owner, to_owner, created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
