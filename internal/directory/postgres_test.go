package directory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/mnemos/internal/store"
)

func newMock(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func TestCreateTeamMakesCreatorOwner(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mnemos_teams").
		WithArgs(pgxmock.AnyArg(), "platform", "alice", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO mnemos_team_members").
		WithArgs(pgxmock.AnyArg(), "alice", "owner", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	team := &store.Team{Name: "platform", CreatedBy: "alice"}
	require.NoError(t, p.CreateTeam(context.Background(), team))
	assert.Contains(t, team.ID, "team_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTeamRollsBackOnFailure(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mnemos_teams").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO mnemos_team_members").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := p.CreateTeam(context.Background(), &store.Team{Name: "platform", CreatedBy: "alice"})
	assert.ErrorContains(t, err, "insert team owner")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTeamValidates(t *testing.T) {
	p, mock := newMock(t)
	err := p.CreateTeam(context.Background(), &store.Team{Name: "platform"})
	assert.ErrorIs(t, err, store.ErrInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRole(t *testing.T) {
	p, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT role FROM mnemos_team_members").
		WithArgs("team_1", "bob").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("admin"))
	role, err := p.MemberRole(ctx, "team_1", "bob")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, role)

	mock.ExpectQuery("SELECT role FROM mnemos_team_members").
		WithArgs("team_1", "mallory").
		WillReturnRows(pgxmock.NewRows([]string{"role"}))
	role, err = p.MemberRole(ctx, "team_1", "mallory")
	require.NoError(t, err)
	assert.Empty(t, role)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMemberRejectsUnknownRole(t *testing.T) {
	p, mock := newMock(t)
	err := p.AddMember(context.Background(), "team_1", "bob", "boss")
	assert.ErrorIs(t, err, store.ErrInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeamsFor(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery("SELECT t.id, t.name").
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "created_by", "created_at"}).
			AddRow("team_1", "platform", "alice", now).
			AddRow("team_2", "infra", "bob", now))

	teams, err := p.TeamsFor(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "infra", teams[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTeamReportsMissing(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec("DELETE FROM mnemos_teams").
		WithArgs("team_9").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ok, err := p.DeleteTeam(context.Background(), "team_9")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestClaimDecodesProgress(t *testing.T) {
	p, mock := newMock(t)
	now := time.Now()
	manifest, _ := json.Marshal(store.Manifest)
	completed, _ := json.Marshal([]store.EntityClass{store.ClassMemories})
	moved, _ := json.Marshal(map[store.EntityClass]int64{store.ClassMemories: 4})

	mock.ExpectQuery("SELECT id, from_owner").
		WithArgs("local", "u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "from_owner", "to_owner", "manifest", "completed", "moved", "status", "error", "created_at", "updated_at"}).
			AddRow("claim_1", "local", "u1", manifest, completed, moved, "partial", "journal: boom", now, now))

	rec, err := p.LatestClaim(context.Background(), "local", "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.ClaimPartial, rec.Status)
	assert.EqualValues(t, 4, rec.Moved[store.ClassMemories])
	assert.Equal(t, store.ClassArchivedMemories, rec.Remaining()[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestClaimMissing(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT id, from_owner").
		WithArgs("local", "u1").
		WillReturnError(pgx.ErrNoRows)

	rec, err := p.LatestClaim(context.Background(), "local", "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignOwnerMovesMemberships(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mnemos_team_members SET user_id").
		WithArgs("u1", "local").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("UPDATE mnemos_team_members\\s+SET role").
		WithArgs("local", "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM mnemos_team_members").
		WithArgs("local").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("UPDATE mnemos_teams SET created_by").
		WithArgs("u1", "local").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := p.ReassignOwner(context.Background(), store.ClassTeamMemberships, "local", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = p.ReassignOwner(context.Background(), store.ClassMemories, "local", "u1")
	assert.ErrorIs(t, err, store.ErrInvalid)
}
