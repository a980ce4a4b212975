//go:build integration

package directory

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/tenant"
)

var testDSN string

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mnemos_test"),
		postgres.WithUsername("mnemos"),
		postgres.WithPassword("mnemos"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("directory: start postgres container: %v", err)
	}
	testDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("directory: connection string: %v", err)
	}

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		log.Printf("directory: terminate container: %v", err)
	}
	os.Exit(code)
}

func openTest(t *testing.T) *Postgres {
	t.Helper()
	p, closeFn, err := Open(context.Background(), testDSN)
	require.NoError(t, err)
	t.Cleanup(closeFn)
	return p
}

func TestPostgresTeams(t *testing.T) {
	p := openTest(t)
	teams := tenant.NewTeams(p)
	ctx := context.Background()

	team, err := teams.Create(ctx, "alice-"+t.Name(), "platform")
	require.NoError(t, err)
	require.NoError(t, teams.AddMember(ctx, team.CreatedBy, team.ID, "bob-"+t.Name(), store.RoleAdmin))

	_, members, err := teams.Get(ctx, team.CreatedBy, team.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, teams.Delete(ctx, team.CreatedBy, team.ID))
	role, err := p.MemberRole(ctx, team.ID, "bob-"+t.Name())
	require.NoError(t, err)
	assert.Empty(t, role)
}

// TestPostgresClaim runs a full claim with memories in SQLite and
// memberships in Postgres.
func TestPostgresClaim(t *testing.T) {
	p := openTest(t)
	ctx := context.Background()
	from, to := "local-"+t.Name(), "u1-"+t.Name()

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.AddJournal(ctx, &store.JournalEntry{OwnerID: from, Content: "offline notes"}))
	require.NoError(t, p.CreateTeam(ctx, &store.Team{Name: "solo", CreatedBy: from}))

	adapter := store.NewAdapter(db, nil, nil)
	coord, err := tenant.NewCoordinator(p, adapter, p)
	require.NoError(t, err)

	rec, err := coord.Claim(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimComplete, rec.Status)
	assert.EqualValues(t, 1, rec.Moved[store.ClassTeamMemberships])
	assert.EqualValues(t, 1, rec.Moved[store.ClassJournal])

	left, err := coord.LocalData(ctx, from)
	require.NoError(t, err)
	for class, n := range left {
		assert.Zero(t, n, class)
	}

	status, err := coord.Status(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, status.ID)
}
