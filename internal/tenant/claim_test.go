package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/mnemos/internal/embed"
	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/vector"
)

type fixture struct {
	adapter *store.Adapter
	dir     *store.Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ix, err := vector.New()
	require.NoError(t, err)
	return &fixture{
		adapter: store.NewAdapter(db, ix, embed.NewHashed(256)),
		dir:     store.NewDirectory(db),
	}
}

// seed gives owner rows in every manifest class.
func (f *fixture) seed(t *testing.T, owner string) {
	t.Helper()
	ctx := context.Background()
	mem := func(content string) *store.Memory {
		m := &store.Memory{
			Content:     content,
			Gate:        store.GateBehavioral,
			Sensitivity: store.SensitivitySafe,
			Visibility:  store.VisibilityPrivate,
			OwnerID:     owner,
			CreatedBy:   owner,
		}
		require.NoError(t, f.adapter.CreateMemory(ctx, m))
		return m
	}
	live := mem("runs the test suite before every push")
	old := mem("used to skip tests on small changes")
	require.NoError(t, f.adapter.CreateEdge(ctx, &store.Edge{SourceID: live.ID, TargetID: old.ID, Kind: store.EdgeContradicts, Confidence: 1, OwnerID: owner}))
	_, err := f.adapter.ArchiveMemory(ctx, old.ID, time.Now())
	require.NoError(t, err)

	db := f.adapter.DB
	require.NoError(t, db.AddJournal(ctx, &store.JournalEntry{OwnerID: owner, Content: "set up ci"}))
	require.NoError(t, db.SaveIdentityCard(ctx, &store.IdentityCard{OwnerID: owner, Summary: "careful tester", SourceIDs: []string{live.ID}}))
	require.NoError(t, db.SetOnboarding(ctx, &store.Onboarding{OwnerID: owner, Step: 2}))
	require.NoError(t, db.AddRule(ctx, &store.Rule{Scope: store.RuleScopeUser, OwnerID: owner, Text: "always run tests", CreatedBy: owner}))
	require.NoError(t, f.dir.CreateTeam(ctx, &store.Team{Name: "ci", CreatedBy: owner}))
}

func (f *fixture) coordinator(t *testing.T, adapterMover Mover) *Coordinator {
	t.Helper()
	if adapterMover == nil {
		adapterMover = f.adapter
	}
	c, err := NewCoordinator(f.dir, adapterMover, f.dir)
	require.NoError(t, err)
	return c
}

// flakyMover fails the named class until healed.
type flakyMover struct {
	Mover
	failClass store.EntityClass
	healed    bool
}

func (m *flakyMover) ReassignOwner(ctx context.Context, class store.EntityClass, from, to string) (int64, error) {
	if class == m.failClass && !m.healed {
		return 0, errors.New("store unavailable")
	}
	return m.Mover.ReassignOwner(ctx, class, from, to)
}

// blockingMover parks the first step until released.
type blockingMover struct {
	Mover
	started chan struct{}
	release chan struct{}
}

func (m *blockingMover) ReassignOwner(ctx context.Context, class store.EntityClass, from, to string) (int64, error) {
	select {
	case m.started <- struct{}{}:
		<-m.release
	default:
	}
	return m.Mover.ReassignOwner(ctx, class, from, to)
}

func TestNewCoordinatorChecksManifest(t *testing.T) {
	f := newFixture(t)

	_, err := NewCoordinator(f.dir, f.adapter)
	assert.ErrorContains(t, err, "team_memberships")

	_, err = NewCoordinator(f.dir, f.adapter, f.dir, f.dir)
	assert.ErrorContains(t, err, "two movers")

	_, err = NewCoordinator(f.dir, f.adapter, f.dir)
	assert.NoError(t, err)
}

func TestClaimMovesEveryClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "local")
	c := f.coordinator(t, nil)

	before, err := c.LocalData(ctx, "local")
	require.NoError(t, err)
	for _, class := range store.Manifest {
		assert.Positive(t, before[class], "seed left %s empty", class)
	}

	rec, err := c.Claim(ctx, "local", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.ClaimComplete, rec.Status)
	assert.ElementsMatch(t, store.Manifest, rec.Completed)
	assert.Empty(t, rec.Remaining())

	after, err := c.LocalData(ctx, "local")
	require.NoError(t, err)
	for _, class := range store.Manifest {
		assert.Zero(t, after[class], "class %s still owned by local", class)
	}

	mems, err := f.adapter.DB.ListMemories(ctx, store.Scope{OwnerID: "u1"}, store.MemoryFilter{})
	require.NoError(t, err)
	assert.Len(t, mems, 1)

	// Rerunning is a no-op that still reports complete.
	again, err := c.Claim(ctx, "local", "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, store.ClaimComplete, again.Status)

	status, err := c.Status(ctx, "local", "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, status.ID)
}

func TestClaimResumesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "local")
	flaky := &flakyMover{Mover: f.adapter, failClass: store.ClassJournal}
	c := f.coordinator(t, flaky)

	rec, err := c.Claim(ctx, "local", "u1")
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.ClaimPartial, rec.Status)
	assert.Contains(t, rec.Error, "journal")
	assert.Equal(t, []store.EntityClass{store.ClassMemories, store.ClassArchivedMemories, store.ClassEdges}, rec.Completed)
	assert.Equal(t, store.ClassJournal, rec.Remaining()[0])

	status, err := c.Status(ctx, "local", "u1")
	require.NoError(t, err)
	assert.Equal(t, store.ClaimPartial, status.Status)

	movedMemories := rec.Moved[store.ClassMemories]
	flaky.healed = true
	resumed, err := c.Claim(ctx, "local", "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, resumed.ID)
	assert.Equal(t, store.ClaimComplete, resumed.Status)
	assert.Empty(t, resumed.Error)
	assert.Equal(t, movedMemories, resumed.Moved[store.ClassMemories], "completed classes ran twice")

	left, err := c.LocalData(ctx, "local")
	require.NoError(t, err)
	assert.Zero(t, total(left))
}

func TestClaimStartsOverWhenNewDataAppears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "local")
	c := f.coordinator(t, nil)

	first, err := c.Claim(ctx, "local", "u1")
	require.NoError(t, err)

	require.NoError(t, f.adapter.DB.AddJournal(ctx, &store.JournalEntry{OwnerID: "local", Content: "offline again"}))
	second, err := c.Claim(ctx, "local", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.EqualValues(t, 1, second.Moved[store.ClassJournal])
}

func TestClaimSingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "local")
	block := &blockingMover{Mover: f.adapter, started: make(chan struct{}), release: make(chan struct{})}
	c := f.coordinator(t, block)

	done := make(chan error, 1)
	go func() {
		_, err := c.Claim(ctx, "local", "u1")
		done <- err
	}()
	<-block.started

	_, err := c.Claim(ctx, "local", "u2")
	assert.ErrorIs(t, err, ErrClaimInFlight)

	close(block.release)
	require.NoError(t, <-done)

	// The lock is released once the claim finishes.
	_, err = c.Claim(ctx, "local", "u1")
	assert.NoError(t, err)
}

func TestClaimRejectsBadOwners(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t, nil)
	ctx := context.Background()

	for _, pair := range [][2]string{{"", "u1"}, {"local", ""}, {"u1", "u1"}} {
		_, err := c.Claim(ctx, pair[0], pair[1])
		assert.ErrorIs(t, err, store.ErrInvalid, "claim %v", pair)
	}

	_, err := c.Status(ctx, "local", "u9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
