package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/embed"
	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/vector"
)

type testEnv struct {
	eng *Engine
	db  *store.DB
	dir *store.Directory
}

// newTestEngine wires an engine over in-memory SQLite, an in-memory dense
// index and the hashed embedder. client may be nil.
func newTestEngine(t *testing.T, client llm.Client) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ix, err := vector.New()
	if err != nil {
		t.Fatalf("vector.New: %v", err)
	}
	adapter := store.NewAdapter(db, ix, embed.NewHashed(256))
	dir := store.NewDirectory(db)
	eng := New(adapter, classify.New(client, 0, 0), client, dir, DefaultOptions())
	t.Cleanup(eng.Stop)
	return &testEnv{eng: eng, db: db, dir: dir}
}

func (env *testEnv) remember(t *testing.T, scope store.Scope, req RememberRequest) *store.Memory {
	t.Helper()
	got, err := env.eng.Remember(context.Background(), scope, req)
	if err != nil {
		t.Fatalf("Remember(%q): %v", req.Content, err)
	}
	return &got.Memory
}

func (env *testEnv) team(t *testing.T, creator string, members map[string]store.Role) string {
	t.Helper()
	ctx := context.Background()
	team := &store.Team{Name: "core", CreatedBy: creator}
	if err := env.dir.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	for user, role := range members {
		if err := env.dir.AddMember(ctx, team.ID, user, role); err != nil {
			t.Fatalf("AddMember %s: %v", user, err)
		}
	}
	return team.ID
}

func TestRememberAppliesOverrides(t *testing.T) {
	env := newTestEngine(t, nil)
	u1 := store.Scope{OwnerID: "u1"}

	got, err := env.eng.Remember(context.Background(), u1, RememberRequest{
		Content: "  user prefers dark mode  ",
		Gate:    store.GateBehavioral,
		Project: "Mnemos CLI",
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	m := got.Memory
	if m.Content != "user prefers dark mode" {
		t.Errorf("content = %q", m.Content)
	}
	if m.Gate != store.GateBehavioral || m.Confidence != explicitConfidence {
		t.Errorf("gate/confidence = %s/%.2f, want behavioral/%.2f", m.Gate, m.Confidence, explicitConfidence)
	}
	if m.Project != "mnemos-cli" {
		t.Errorf("project = %q, want mnemos-cli", m.Project)
	}
	if m.Visibility != store.VisibilityPrivate {
		t.Errorf("visibility = %q, want private", m.Visibility)
	}
	if got.Classification.Source != classify.SourceHeuristic {
		t.Errorf("classification source = %q, want heuristic", got.Classification.Source)
	}
	if m.Sensitivity == store.SensitivitySafe {
		t.Error("heuristic classification must not mark content safe")
	}

	journal, err := env.eng.Journal(context.Background(), "u1", false, 0)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(journal) != 1 || !strings.Contains(journal[0].Content, "dark mode") {
		t.Errorf("journal = %+v, want one entry for the memory", journal)
	}
}

func TestRememberRejectsInvalid(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		scope store.Scope
		req   RememberRequest
	}{
		{"empty content", store.Scope{OwnerID: "u1"}, RememberRequest{Content: "   "}},
		{"missing owner", store.Scope{}, RememberRequest{Content: "tabs over spaces"}},
		{"unknown gate", store.Scope{OwnerID: "u1"}, RememberRequest{Content: "tabs over spaces", Gate: "vibes"}},
		{"unknown visibility", store.Scope{OwnerID: "u1"}, RememberRequest{Content: "tabs over spaces", Visibility: "public"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.eng.Remember(ctx, tt.scope, tt.req); !errors.Is(err, store.ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestRememberSecretsAreCritical(t *testing.T) {
	env := newTestEngine(t, &llm.MockClient{Response: &llm.Response{
		Content: `{"gate":"epistemic","confidence":0.9,"sensitivity":"safe"}`,
	}})
	key := "sk-ant-" + strings.Repeat("a1B2", 8)

	got, err := env.eng.Remember(context.Background(), store.Scope{OwnerID: "u1"}, RememberRequest{
		Content: "the staging api key is " + key,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if got.Memory.Sensitivity != store.SensitivityCritical {
		t.Errorf("sensitivity = %q, want critical", got.Memory.Sensitivity)
	}
	if got.Classification.Source != classify.SourceLLM {
		t.Errorf("classification source = %q, want llm", got.Classification.Source)
	}

	journal, _ := env.eng.Journal(context.Background(), "u1", false, 0)
	if len(journal) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(journal))
	}
	if strings.Contains(journal[0].Content, key) {
		t.Error("journal entry leaked the secret")
	}
	if !strings.Contains(journal[0].Content, "[redacted:api_key]") {
		t.Errorf("journal entry = %q, want redaction marker", journal[0].Content)
	}
}

func TestRememberTeamVisibility(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	teamID := env.team(t, "u1", nil)

	req := RememberRequest{Content: "deploys happen on thursdays", Visibility: store.VisibilityTeam}

	if _, err := env.eng.Remember(ctx, store.Scope{OwnerID: "u1"}, req); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("no team id: err = %v, want ErrInvalid", err)
	}
	if _, err := env.eng.Remember(ctx, store.Scope{OwnerID: "u2", TeamID: teamID}, req); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("non-member: err = %v, want ErrAccessDenied", err)
	}

	m := env.remember(t, store.Scope{OwnerID: "u1", TeamID: teamID}, req)
	if m.TeamID != teamID {
		t.Errorf("team id = %q, want %q", m.TeamID, teamID)
	}
}

func TestRememberCorrectionContradicts(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	u1 := store.Scope{OwnerID: "u1"}

	old := env.remember(t, u1, RememberRequest{Content: "the standup meeting is on tuesday", Gate: store.GateEpistemic})
	got, err := env.eng.Remember(ctx, u1, RememberRequest{
		Content: "actually the standup meeting is on wednesday",
		Gate:    store.GateCorrection,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	var edge *store.Edge
	for i := range got.Edges {
		if got.Edges[i].Kind == store.EdgeContradicts {
			edge = &got.Edges[i]
		}
	}
	if edge == nil {
		t.Fatalf("edges = %+v, want a CONTRADICTS edge", got.Edges)
	}
	if edge.SourceID != got.Memory.ID || edge.TargetID != old.ID {
		t.Errorf("edge %s -> %s, want %s -> %s", edge.SourceID, edge.TargetID, got.Memory.ID, old.ID)
	}

	after, err := env.db.GetMemory(ctx, old.ID)
	if err != nil || after == nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if after.Confidence != old.Confidence/2 {
		t.Errorf("contradicted confidence = %.2f, want %.2f", after.Confidence, old.Confidence/2)
	}
}

func TestRememberFollowsSameProject(t *testing.T) {
	env := newTestEngine(t, nil)
	u1 := store.Scope{OwnerID: "u1"}

	first := env.remember(t, u1, RememberRequest{Content: "migrated the billing schema", Project: "ledger"})
	got, err := env.eng.Remember(context.Background(), u1, RememberRequest{Content: "billing backfill finished overnight", Project: "ledger"})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	found := false
	for _, e := range got.Edges {
		if e.Kind == store.EdgeFollows && e.SourceID == first.ID && e.TargetID == got.Memory.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("edges = %+v, want FOLLOWS %s -> %s", got.Edges, first.ID, got.Memory.ID)
	}
}

func TestUpdateOwnerOnly(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	teamID := env.team(t, "u1", map[string]store.Role{"u2": store.RoleAdmin})
	m := env.remember(t, store.Scope{OwnerID: "u1", TeamID: teamID}, RememberRequest{
		Content: "the release branch is frozen", Visibility: store.VisibilityTeam,
	})

	if _, err := env.eng.Update(ctx, store.Scope{OwnerID: "u2", TeamID: teamID}, m.ID, "the release branch is open"); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("admin update: err = %v, want ErrAccessDenied", err)
	}

	got, err := env.eng.Update(ctx, store.Scope{OwnerID: "u1", TeamID: teamID}, m.ID, "the release token is ghp_"+strings.Repeat("x", 36))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Sensitivity != store.SensitivityCritical {
		t.Errorf("sensitivity = %q, want critical after a secret", got.Sensitivity)
	}
}

func TestForgetPermissions(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	teamID := env.team(t, "owner", map[string]store.Role{
		"u1": store.RoleMember, "u2": store.RoleMember, "admin": store.RoleAdmin,
	})

	private := env.remember(t, store.Scope{OwnerID: "u1"}, RememberRequest{Content: "my dentist is on main street"})
	if err := env.eng.Forget(ctx, store.Scope{OwnerID: "u2"}, private.ID, "cleanup"); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("other user forgetting private: err = %v, want ErrAccessDenied", err)
	}

	shared := env.remember(t, store.Scope{OwnerID: "u1", TeamID: teamID}, RememberRequest{
		Content: "staging database lives in us-east", Visibility: store.VisibilityTeam,
	})
	if err := env.eng.Forget(ctx, store.Scope{OwnerID: "u2", TeamID: teamID}, shared.ID, "cleanup"); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("plain member forgetting team memory: err = %v, want ErrAccessDenied", err)
	}
	if err := env.eng.Forget(ctx, store.Scope{OwnerID: "admin", TeamID: teamID}, shared.ID, "stale"); err != nil {
		t.Fatalf("admin Forget: %v", err)
	}
	if _, err := env.eng.Get(ctx, store.Scope{OwnerID: "u1", TeamID: teamID}, shared.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after forget: err = %v, want ErrNotFound", err)
	}
}

func TestRulesScope(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	teamID := env.team(t, "lead", map[string]store.Role{"dev": store.RoleMember})

	lead := store.Scope{OwnerID: "lead", TeamID: teamID}
	dev := store.Scope{OwnerID: "dev", TeamID: teamID}

	if _, err := env.eng.AddRule(ctx, dev, "always squash merge", true); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("member team rule: err = %v, want ErrAccessDenied", err)
	}
	teamRule, err := env.eng.AddRule(ctx, lead, "always squash merge", true)
	if err != nil {
		t.Fatalf("AddRule team: %v", err)
	}
	if _, err := env.eng.AddRule(ctx, dev, "answer in british english", false); err != nil {
		t.Fatalf("AddRule user: %v", err)
	}

	rules, err := env.eng.Rules(ctx, dev)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("dev sees %d rules, want 2", len(rules))
	}

	if err := env.eng.DeleteRule(ctx, dev, teamRule.ID); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("member deleting team rule: err = %v, want ErrAccessDenied", err)
	}
	if err := env.eng.DeleteRule(ctx, lead, teamRule.ID); err != nil {
		t.Errorf("lead DeleteRule: %v", err)
	}
	if err := env.eng.DeleteRule(ctx, lead, teamRule.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestPinAndCheckpoint(t *testing.T) {
	env := newTestEngine(t, nil)
	ctx := context.Background()
	u1 := store.Scope{OwnerID: "u1"}

	m := env.remember(t, u1, RememberRequest{Content: "call mom on sundays", Gate: store.GatePromissory})
	if err := env.eng.Pin(ctx, u1, m.ID, true); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	got, err := env.eng.Get(ctx, u1, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Pinned {
		t.Error("memory not pinned")
	}
	if err := env.eng.Pin(ctx, store.Scope{OwnerID: "u2"}, m.ID, false); !errors.Is(err, store.ErrAccessDenied) {
		t.Errorf("foreign unpin: err = %v, want ErrAccessDenied", err)
	}

	cp, err := env.eng.Checkpoint(ctx, "u1", "sess-1", "finished the refactor")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Kind != store.JournalCheckpoint || cp.SessionID != "sess-1" {
		t.Errorf("checkpoint = %+v", cp)
	}
}
