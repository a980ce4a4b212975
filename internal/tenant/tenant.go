// Package tenant moves data between owners and enforces team roles.
//
// A claim re-owns every entity class in store.Manifest from one owner to
// another. Classes live in stores that share no transaction, so a claim is a
// saga: one idempotent step per class, progress recorded in a ClaimRecord
// after every step, and a retry resumes at the first incomplete class.
package tenant

import (
	"context"
	"errors"

	"github.com/lazypower/mnemos/internal/store"
)

var (
	ErrClaimInFlight = errors.New("claim already in flight for owner")
	ErrNotMember     = errors.New("not a member of this team")
	ErrForbidden     = errors.New("forbidden")
)

// Mover re-owns the entity classes it holds. ReassignOwner must be
// idempotent: rows already moved are left alone.
type Mover interface {
	Classes() []store.EntityClass
	ReassignOwner(ctx context.Context, class store.EntityClass, from, to string) (int64, error)
	CountOwned(ctx context.Context, class store.EntityClass, owner string) (int64, error)
}

// Ledger persists claim records.
type Ledger interface {
	SaveClaim(ctx context.Context, c *store.ClaimRecord) error
	LatestClaim(ctx context.Context, from, to string) (*store.ClaimRecord, error)
}

// Directory is a team directory. store.Directory (SQLite) and
// directory.Postgres both implement it along with Ledger and Mover.
type Directory interface {
	CreateTeam(ctx context.Context, t *store.Team) error
	GetTeam(ctx context.Context, id string) (*store.Team, error)
	DeleteTeam(ctx context.Context, id string) (bool, error)
	AddMember(ctx context.Context, teamID, userID string, role store.Role) error
	RemoveMember(ctx context.Context, teamID, userID string) error
	MemberRole(ctx context.Context, teamID, userID string) (store.Role, error)
	TeamsFor(ctx context.Context, userID string) ([]store.Team, error)
	Members(ctx context.Context, teamID string) ([]store.Member, error)
}

// Backend is a directory that also keeps the claim ledger and moves
// memberships.
type Backend interface {
	Directory
	Ledger
	Mover
}

var _ Backend = (*store.Directory)(nil)
