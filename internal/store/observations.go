package store

import (
	"context"
	"fmt"
)

// maxObservationChars caps a stored observation. The full tool output is
// never kept; only its compressed form.
const maxObservationChars = 4000

// AddObservation records a compressed tool output in the owner's journal.
func (db *DB) AddObservation(ctx context.Context, owner, sessionID, toolName, summary string) (*JournalEntry, error) {
	if toolName == "" {
		return nil, fmt.Errorf("%w: observation needs a tool name", ErrInvalid)
	}
	if r := []rune(summary); len(r) > maxObservationChars {
		summary = string(r[:maxObservationChars])
	}
	j := &JournalEntry{
		OwnerID:   owner,
		SessionID: sessionID,
		Kind:      JournalObservation,
		Content:   "[" + toolName + "] " + summary,
	}
	if err := db.AddJournal(ctx, j); err != nil {
		return nil, fmt.Errorf("add observation: %w", err)
	}
	return j, nil
}

// ListObservations returns an owner's observations, newest first. An empty
// sessionID lists every session.
func (db *DB) ListObservations(ctx context.Context, owner, sessionID string, limit int) ([]JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal WHERE owner_id = ? AND kind = 'observation'`
	args := []any{owner}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return scanJournal(rows)
}
