package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EntityClass names a table (or slice of one) whose rows carry an owner id.
type EntityClass string

const (
	ClassMemories         EntityClass = "memories"
	ClassArchivedMemories EntityClass = "archived_memories"
	ClassEdges            EntityClass = "edges"
	ClassJournal          EntityClass = "journal"
	ClassIdentityCards    EntityClass = "identity_cards"
	ClassOnboarding       EntityClass = "onboarding"
	ClassRules            EntityClass = "rules"
	ClassTeamMemberships  EntityClass = "team_memberships"
)

// Manifest is the canonical list of owner-bearing entity classes, in claim
// order. Any new table with an owner column must be added here and handled
// by exactly one mover (Adapter or a team directory).
var Manifest = []EntityClass{
	ClassMemories,
	ClassArchivedMemories,
	ClassEdges,
	ClassJournal,
	ClassIdentityCards,
	ClassOnboarding,
	ClassRules,
	ClassTeamMemberships,
}

// Classes returns the entity classes the Adapter migrates.
func (a *Adapter) Classes() []EntityClass {
	return []EntityClass{
		ClassMemories, ClassArchivedMemories, ClassEdges, ClassJournal,
		ClassIdentityCards, ClassOnboarding, ClassRules,
	}
}

// ReassignOwner moves every row of class owned by from to to. It is
// idempotent: rows already moved are not touched again.
func (a *Adapter) ReassignOwner(ctx context.Context, class EntityClass, from, to string) (int64, error) {
	if class == ClassMemories {
		return a.reassignLiveMemories(ctx, from, to)
	}

	var n int64
	err := a.DB.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		switch class {
		case ClassArchivedMemories:
			n, err = execCount(ctx, tx, `
				UPDATE memories SET owner_id = ?, created_by = CASE WHEN created_by = ? THEN ? ELSE created_by END
				WHERE owner_id = ? AND archived_at IS NOT NULL`, to, from, to, from)
		case ClassEdges:
			n, err = execCount(ctx, tx, `UPDATE edges SET owner_id = ? WHERE owner_id = ?`, to, from)
		case ClassJournal:
			n, err = reassignJournalTx(ctx, tx, from, to)
		case ClassIdentityCards:
			n, err = execCount(ctx, tx, `UPDATE identity_cards SET owner_id = ? WHERE owner_id = ?`, to, from)
		case ClassOnboarding:
			n, err = reassignOnboardingTx(ctx, tx, from, to)
		case ClassRules:
			n, err = execCount(ctx, tx, `UPDATE rules SET owner_id = ? WHERE scope = 'user' AND owner_id = ?`, to, from)
			if err == nil {
				_, err = tx.ExecContext(ctx, `UPDATE rules SET created_by = ? WHERE created_by = ?`, to, from)
			}
		default:
			return fmt.Errorf("%w: adapter does not own class %q", ErrInvalid, class)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reassign %s: %w", class, err)
	}
	return n, nil
}

// reassignLiveMemories moves live memories one row at a time so each row's
// dense metadata changes under the same lock as the row itself.
func (a *Adapter) reassignLiveMemories(ctx context.Context, from, to string) (int64, error) {
	mems, err := a.DB.OwnedMemories(ctx, from)
	if err != nil {
		return 0, err
	}
	var moved int64
	for i := range mems {
		ok, err := a.reassignMemory(ctx, mems[i].ID, from, to)
		if err != nil {
			return moved, fmt.Errorf("reassign memory %s: %w", mems[i].ID, err)
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

func (a *Adapter) reassignMemory(ctx context.Context, id, from, to string) (bool, error) {
	unlock := a.lock(id)
	defer unlock()

	moved := false
	err := a.DB.inTx(ctx, func(tx *sql.Tx) error {
		m, err := getMemoryTx(ctx, tx, id)
		if err != nil || m == nil || m.OwnerID != from || m.ArchivedAt != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET owner_id = ?, created_by = CASE WHEN created_by = ? THEN ? ELSE created_by END
			WHERE id = ?`, to, from, to, id); err != nil {
			return fmt.Errorf("update owner: %w", err)
		}
		m.OwnerID = to
		if a.Vectors.Contains(id) {
			v, err := getVectorTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if v != nil {
				if err := a.upsertDense(ctx, m, v.Embedding); err != nil {
					return fmt.Errorf("re-own vector: %w", err)
				}
			}
		}
		moved = true
		return nil
	})
	return moved, err
}

// reassignJournalTx moves journal entries. A digest for a week the new owner
// already has a digest for is folded into that digest instead of duplicating it.
func reassignJournalTx(ctx context.Context, tx *sql.Tx, from, to string) (int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT f.id, t.id FROM journal f JOIN journal t
		ON t.owner_id = ? AND t.kind = 'digest' AND t.week_key = f.week_key
		WHERE f.owner_id = ? AND f.kind = 'digest'`, to, from)
	if err != nil {
		return 0, fmt.Errorf("find clashing digests: %w", err)
	}
	clashes := make(map[string]string)
	for rows.Next() {
		var fromID, toID string
		if err := rows.Scan(&fromID, &toID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan digest: %w", err)
		}
		clashes[fromID] = toID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for fromID, toID := range clashes {
		if _, err := tx.ExecContext(ctx, `UPDATE journal SET consolidated_into = ? WHERE consolidated_into = ?`, toID, fromID); err != nil {
			return 0, fmt.Errorf("repoint digest entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE journal SET kind = 'entry', week_key = '', consolidated_into = ? WHERE id = ?`, toID, fromID); err != nil {
			return 0, fmt.Errorf("fold digest: %w", err)
		}
	}
	return execCount(ctx, tx, `UPDATE journal SET owner_id = ? WHERE owner_id = ?`, to, from)
}

func reassignOnboardingTx(ctx context.Context, tx *sql.Tx, from, to string) (int64, error) {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM onboarding WHERE owner_id = ?`, to).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check onboarding: %w", err)
	}
	if exists > 0 {
		// The authenticated owner's own progress wins.
		return execCount(ctx, tx, `DELETE FROM onboarding WHERE owner_id = ?`, from)
	}
	return execCount(ctx, tx, `UPDATE onboarding SET owner_id = ? WHERE owner_id = ?`, to, from)
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountOwned returns how many rows of class still belong to owner.
func (a *Adapter) CountOwned(ctx context.Context, class EntityClass, owner string) (int64, error) {
	var query string
	args := []any{owner}
	switch class {
	case ClassMemories:
		query = `SELECT COUNT(*) FROM memories WHERE owner_id = ? AND archived_at IS NULL`
	case ClassArchivedMemories:
		query = `SELECT COUNT(*) FROM memories WHERE owner_id = ? AND archived_at IS NOT NULL`
	case ClassEdges:
		query = `SELECT COUNT(*) FROM edges WHERE owner_id = ?`
	case ClassJournal:
		query = `SELECT COUNT(*) FROM journal WHERE owner_id = ?`
	case ClassIdentityCards:
		query = `SELECT COUNT(*) FROM identity_cards WHERE owner_id = ?`
	case ClassOnboarding:
		query = `SELECT COUNT(*) FROM onboarding WHERE owner_id = ?`
	case ClassRules:
		query = `SELECT COUNT(*) FROM rules WHERE (scope = 'user' AND owner_id = ?) OR created_by = ?`
		args = append(args, owner)
	default:
		return 0, fmt.Errorf("%w: adapter does not own class %q", ErrInvalid, class)
	}
	var n int64
	if err := a.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", class, err)
	}
	return n, nil
}

// Classes returns the entity classes the directory migrates.
func (d *Directory) Classes() []EntityClass {
	return []EntityClass{ClassTeamMemberships}
}

// ReassignOwner moves team memberships and team authorship. Where the new
// owner is already a member of a team, they keep the higher of the two roles.
func (d *Directory) ReassignOwner(ctx context.Context, class EntityClass, from, to string) (int64, error) {
	if class != ClassTeamMemberships {
		return 0, fmt.Errorf("%w: directory does not own class %q", ErrInvalid, class)
	}
	var n int64
	err := d.db.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = execCount(ctx, tx, `
			UPDATE team_members SET user_id = ?
			WHERE user_id = ? AND team_id NOT IN (SELECT team_id FROM team_members WHERE user_id = ?)`, to, from, to)
		if err != nil {
			return fmt.Errorf("move memberships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE team_members
			SET role = (SELECT f.role FROM team_members f WHERE f.user_id = ? AND f.team_id = team_members.team_id)
			WHERE user_id = ? AND team_id IN (
				SELECT f.team_id FROM team_members f
				WHERE f.user_id = ? AND `+RoleRankSQL("f.role")+` > `+RoleRankSQL("team_members.role")+`)`,
			from, to, from); err != nil {
			return fmt.Errorf("merge member roles: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE user_id = ?`, from); err != nil {
			return fmt.Errorf("drop duplicate memberships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE teams SET created_by = ? WHERE created_by = ?`, to, from); err != nil {
			return fmt.Errorf("move team authorship: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reassign %s: %w", class, err)
	}
	return n, nil
}

// CountOwned counts memberships and authored teams still held by owner.
func (d *Directory) CountOwned(ctx context.Context, class EntityClass, owner string) (int64, error) {
	if class != ClassTeamMemberships {
		return 0, fmt.Errorf("%w: directory does not own class %q", ErrInvalid, class)
	}
	var n int64
	err := d.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM team_members WHERE user_id = ?) +
		       (SELECT COUNT(*) FROM teams WHERE created_by = ?)`, owner, owner).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", class, err)
	}
	return n, nil
}
