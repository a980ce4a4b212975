package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WeekKey returns the ISO year-week of t, e.g. "2026-W07".
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

const journalColumns = `id, owner_id, session_id, kind, content, created_at, week_key, consolidated_into`

func scanJournal(rows *sql.Rows) ([]JournalEntry, error) {
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var j JournalEntry
		var created int64
		var into sql.NullString
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.SessionID, &j.Kind, &j.Content, &created, &j.WeekKey, &into); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		j.CreatedAt = fromMillis(created)
		j.ConsolidatedInto = into.String
		out = append(out, j)
	}
	return out, rows.Err()
}

// AddJournal appends a journal entry.
func (db *DB) AddJournal(ctx context.Context, j *JournalEntry) error {
	if j.OwnerID == "" || j.Content == "" {
		return fmt.Errorf("%w: journal entry needs owner and content", ErrInvalid)
	}
	if j.Kind == "" {
		j.Kind = JournalEntryKind
	}
	if j.Kind == JournalDigest {
		return fmt.Errorf("%w: digests are created by consolidation", ErrInvalid)
	}
	if j.ID == "" {
		j.ID = "jrn_" + uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO journal (id, owner_id, session_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, j.ID, j.OwnerID, j.SessionID, j.Kind, j.Content, toMillis(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("add journal: %w", err)
	}
	return nil
}

// ListJournal returns an owner's journal, newest first. Entries folded
// into a digest are hidden unless includeConsolidated is set.
func (db *DB) ListJournal(ctx context.Context, owner string, includeConsolidated bool, limit int) ([]JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal WHERE owner_id = ?`
	if !includeConsolidated {
		query += ` AND consolidated_into IS NULL`
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return scanJournal(rows)
}

// StaleJournal returns unconsolidated, non-digest entries for owner created before cutoff, oldest first.
func (db *DB) StaleJournal(ctx context.Context, owner string, cutoff time.Time) ([]JournalEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+journalColumns+` FROM journal
		WHERE owner_id = ? AND kind != 'digest' AND consolidated_into IS NULL AND created_at < ?
		ORDER BY created_at, id`, owner, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("stale journal: %w", err)
	}
	return scanJournal(rows)
}

// DigestFor returns the digest for owner+week, or nil.
func (db *DB) DigestFor(ctx context.Context, owner, week string) (*JournalEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+journalColumns+` FROM journal
		WHERE owner_id = ? AND week_key = ? AND kind = 'digest'`, owner, week)
	if err != nil {
		return nil, fmt.Errorf("digest for %s: %w", week, err)
	}
	entries, err := scanJournal(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// FoldIntoDigest marks entries as consolidated into an existing digest.
func (db *DB) FoldIntoDigest(ctx context.Context, digestID string, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	marks, args := placeholders(entryIDs)
	res, err := db.ExecContext(ctx, `
		UPDATE journal SET consolidated_into = ?
		WHERE consolidated_into IS NULL AND kind != 'digest' AND id IN (`+marks+`)`,
		append([]any{digestID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("fold into digest: %w", err)
	}
	return res.RowsAffected()
}

// CreateDigest inserts a digest for owner+week and folds entryIDs into it atomically.
// If a digest for that week already exists the insert is skipped and entries are
// folded into the existing one; the returned entry is whichever digest won.
func (db *DB) CreateDigest(ctx context.Context, owner, week, content string, entryIDs []string) (*JournalEntry, bool, error) {
	d := &JournalEntry{
		ID:        "jrn_" + uuid.NewString(),
		OwnerID:   owner,
		Kind:      JournalDigest,
		Content:   content,
		CreatedAt: time.Now(),
		WeekKey:   week,
	}
	created := false
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO journal (id, owner_id, session_id, kind, content, created_at, week_key)
			VALUES (?, ?, '', 'digest', ?, ?, ?)
		`, d.ID, owner, content, toMillis(d.CreatedAt), week)
		if err != nil {
			return fmt.Errorf("insert digest: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = true
		} else {
			if err := tx.QueryRowContext(ctx, `
				SELECT id, content, created_at FROM journal
				WHERE owner_id = ? AND week_key = ? AND kind = 'digest'`, owner, week,
			).Scan(&d.ID, &d.Content, new(int64)); err != nil {
				return fmt.Errorf("load existing digest: %w", err)
			}
		}
		if len(entryIDs) == 0 {
			return nil
		}
		marks, args := placeholders(entryIDs)
		if _, err := tx.ExecContext(ctx, `
			UPDATE journal SET consolidated_into = ?
			WHERE consolidated_into IS NULL AND kind != 'digest' AND id IN (`+marks+`)`,
			append([]any{d.ID}, args...)...); err != nil {
			return fmt.Errorf("mark consolidated: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return d, created, nil
}

// CountDigests returns the number of digests for owner+week.
func (db *DB) CountDigests(ctx context.Context, owner, week string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM journal WHERE owner_id = ? AND week_key = ? AND kind = 'digest'`,
		owner, week).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count digests: %w", err)
	}
	return n, nil
}
