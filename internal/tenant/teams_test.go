package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/mnemos/internal/store"
)

func TestTeamRoles(t *testing.T) {
	f := newFixture(t)
	teams := NewTeams(f.dir)
	ctx := context.Background()

	team, err := teams.Create(ctx, "alice", " platform ")
	require.NoError(t, err)
	assert.Equal(t, "platform", team.Name)

	require.NoError(t, teams.AddMember(ctx, "alice", team.ID, "bob", store.RoleAdmin))
	require.NoError(t, teams.AddMember(ctx, "bob", team.ID, "carol", ""))

	role, err := teams.MemberRole(ctx, team.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, store.RoleMember, role)

	// Members cannot manage; admins cannot touch owners.
	assert.ErrorIs(t, teams.AddMember(ctx, "carol", team.ID, "dave", store.RoleMember), ErrForbidden)
	assert.ErrorIs(t, teams.AddMember(ctx, "bob", team.ID, "dave", store.RoleOwner), ErrForbidden)
	assert.ErrorIs(t, teams.RemoveMember(ctx, "bob", team.ID, "alice"), ErrForbidden)
	assert.ErrorIs(t, teams.AddMember(ctx, "mallory", team.ID, "dave", store.RoleMember), ErrNotMember)
	assert.ErrorIs(t, teams.AddMember(ctx, "alice", team.ID, "dave", "boss"), store.ErrInvalid)

	// Anyone may leave.
	require.NoError(t, teams.RemoveMember(ctx, "carol", team.ID, "carol"))
	assert.ErrorIs(t, teams.RemoveMember(ctx, "alice", team.ID, "carol"), store.ErrNotFound)

	got, members, err := teams.Get(ctx, "bob", team.ID)
	require.NoError(t, err)
	assert.Equal(t, team.ID, got.ID)
	assert.Len(t, members, 2)

	_, _, err = teams.Get(ctx, "carol", team.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	list, err := teams.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, teams.Delete(ctx, "bob", team.ID), ErrForbidden)
	require.NoError(t, teams.Delete(ctx, "alice", team.ID))
	list, err = teams.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTeamCreateValidates(t *testing.T) {
	teams := NewTeams(newFixture(t).dir)
	_, err := teams.Create(context.Background(), "alice", "   ")
	assert.ErrorIs(t, err, store.ErrInvalid)
}
