package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/lazypower/mnemos/internal/store"
)

// Teams applies role rules on top of a Directory.
type Teams struct {
	dir Directory
}

// NewTeams returns a team service over dir.
func NewTeams(dir Directory) *Teams {
	return &Teams{dir: dir}
}

// MemberRole returns the user's role, or "" when not a member.
func (t *Teams) MemberRole(ctx context.Context, teamID, userID string) (store.Role, error) {
	return t.dir.MemberRole(ctx, teamID, userID)
}

// Require fails unless userID holds one of roles in the team. An empty
// roles list accepts any member.
func (t *Teams) Require(ctx context.Context, teamID, userID string, roles ...store.Role) (store.Role, error) {
	role, err := t.dir.MemberRole(ctx, teamID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", ErrNotMember
	}
	if len(roles) == 0 {
		return role, nil
	}
	for _, r := range roles {
		if r == role {
			return role, nil
		}
	}
	return role, fmt.Errorf("%w: requires %s", ErrForbidden, joinRoles(roles))
}

// Create makes a team owned by creator.
func (t *Teams) Create(ctx context.Context, creator, name string) (*store.Team, error) {
	name = strings.TrimSpace(name)
	if creator == "" || name == "" {
		return nil, fmt.Errorf("%w: team needs a name", store.ErrInvalid)
	}
	team := &store.Team{Name: name, CreatedBy: creator}
	if err := t.dir.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

// Get returns a team with its members; the caller must be a member.
func (t *Teams) Get(ctx context.Context, actor, teamID string) (*store.Team, []store.Member, error) {
	if _, err := t.Require(ctx, teamID, actor); err != nil {
		return nil, nil, err
	}
	team, err := t.dir.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, store.ErrNotFound
	}
	members, err := t.dir.Members(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	return team, members, nil
}

// List returns the teams a user belongs to.
func (t *Teams) List(ctx context.Context, userID string) ([]store.Team, error) {
	return t.dir.TeamsFor(ctx, userID)
}

// Delete removes a team. Only its owners may.
func (t *Teams) Delete(ctx context.Context, actor, teamID string) error {
	if _, err := t.Require(ctx, teamID, actor, store.RoleOwner); err != nil {
		return err
	}
	ok, err := t.dir.DeleteTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// AddMember adds or re-roles userID. Owners and admins may add members;
// only owners may grant or change the owner role.
func (t *Teams) AddMember(ctx context.Context, actor, teamID, userID string, role store.Role) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user", store.ErrInvalid)
	}
	if role == "" {
		role = store.RoleMember
	}
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", store.ErrInvalid, role)
	}
	actorRole, err := t.Require(ctx, teamID, actor, store.RoleOwner, store.RoleAdmin)
	if err != nil {
		return err
	}
	if actorRole != store.RoleOwner {
		current, err := t.dir.MemberRole(ctx, teamID, userID)
		if err != nil {
			return err
		}
		if role == store.RoleOwner || current == store.RoleOwner {
			return fmt.Errorf("%w: only owners manage owners", ErrForbidden)
		}
	}
	return t.dir.AddMember(ctx, teamID, userID, role)
}

// RemoveMember drops userID from the team. Anyone may leave; removing
// someone else takes an admin, and removing an owner takes an owner.
func (t *Teams) RemoveMember(ctx context.Context, actor, teamID, userID string) error {
	target, err := t.dir.MemberRole(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: %s is not in team %s", store.ErrNotFound, userID, teamID)
	}
	if actor != userID {
		actorRole, err := t.Require(ctx, teamID, actor, store.RoleOwner, store.RoleAdmin)
		if err != nil {
			return err
		}
		if target == store.RoleOwner && actorRole != store.RoleOwner {
			return fmt.Errorf("%w: only owners remove owners", ErrForbidden)
		}
	}
	return t.dir.RemoveMember(ctx, teamID, userID)
}

func joinRoles(roles []store.Role) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = string(r)
	}
	return strings.Join(s, " or ")
}
