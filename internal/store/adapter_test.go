package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/mnemos/internal/embed"
)

func hitIDs(hits []Hit) map[string]bool {
	out := make(map[string]bool, len(hits))
	for _, h := range hits {
		out[h.ID] = true
	}
	return out
}

func denseScore(t *testing.T, a *Adapter, scope Scope, query, id string) float64 {
	t.Helper()
	hits, err := a.DenseSearch(context.Background(), scope, query, 10)
	if err != nil {
		t.Fatalf("DenseSearch(%q): %v", query, err)
	}
	for _, h := range hits {
		if h.ID == id {
			return h.Score
		}
	}
	return 0
}

func TestCreateAndGetMemory(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m := newMemory("u1", "user prefers dark mode", GateBehavioral)
	if err := a.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if m.ID == "" || m.DecayScore != 1.0 || m.CreatedBy != "u1" {
		t.Errorf("defaults not filled: %+v", m)
	}

	got, err := a.GetMemory(ctx, Scope{OwnerID: "u1"}, m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != m.Content || got.Gate != GateBehavioral {
		t.Errorf("got %+v", got)
	}

	if _, err := a.GetMemory(ctx, Scope{OwnerID: "u2"}, m.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("other owner: err = %v, want ErrAccessDenied", err)
	}
	if _, err := a.GetMemory(ctx, Scope{OwnerID: "u1"}, "mem_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestCreateMemoryRejectsInvalid(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	bad := newMemory("u1", "x", "gossip")
	if err := a.CreateMemory(ctx, bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid gate: err = %v", err)
	}
	team := newMemory("u1", "shared fact", GateEpistemic)
	team.Visibility = VisibilityTeam
	if err := a.CreateMemory(ctx, team); !errors.Is(err, ErrInvalid) {
		t.Errorf("team without id: err = %v", err)
	}
	if a.Vectors.Count() != 0 {
		t.Error("rejected writes must not reach the index")
	}
}

func TestUpdateKeepsIndexesFresh(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	m := newMemory("u1", "user prefers dark mode", GateBehavioral)
	if err := a.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	before := denseScore(t, a, scope, "dark", m.ID)

	if _, err := a.UpdateMemoryContent(ctx, m.ID, "user prefers light mode", SensitivitySafe); err != nil {
		t.Fatalf("UpdateMemoryContent: %v", err)
	}

	for name, search := range map[string]func(context.Context, Scope, string, int) ([]Hit, error){
		"fulltext": a.TextSearch,
		"sparse":   a.SparseSearch,
	} {
		old, err := search(ctx, scope, "dark", 10)
		if err != nil {
			t.Fatalf("%s old: %v", name, err)
		}
		if hitIDs(old)[m.ID] {
			t.Errorf("%s still matches replaced term", name)
		}
		fresh, err := search(ctx, scope, "light", 10)
		if err != nil {
			t.Fatalf("%s new: %v", name, err)
		}
		if !hitIDs(fresh)[m.ID] {
			t.Errorf("%s does not match new term", name)
		}
	}

	after := denseScore(t, a, scope, "dark", m.ID)
	if before < 0.3 || after >= before {
		t.Errorf("dense score for old term: before %.3f after %.3f", before, after)
	}
	if s := denseScore(t, a, scope, "light", m.ID); s < 0.3 {
		t.Errorf("dense score for new term = %.3f", s)
	}
}

func TestDeleteRemovesFromEveryIndex(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	m := newMemory("u1", "standup moved to ten", GateEpistemic)
	other := newMemory("u1", "standup notes live in the wiki", GateEpistemic)
	for _, mm := range []*Memory{m, other} {
		if err := a.CreateMemory(ctx, mm); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	if err := a.DB.CreateEdge(ctx, &Edge{SourceID: other.ID, TargetID: m.ID, Kind: EdgeFollows, OwnerID: "u1"}); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	if err := a.DeleteMemory(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if a.Vectors.Contains(m.ID) {
		t.Error("dense index still holds deleted memory")
	}
	text, _ := a.TextSearch(ctx, scope, "standup", 10)
	sparse, _ := a.SparseSearch(ctx, scope, "standup", 10)
	if hitIDs(text)[m.ID] || hitIDs(sparse)[m.ID] {
		t.Error("lexical indexes still hold deleted memory")
	}
	edges, _ := a.DB.EdgesFor(ctx, m.ID)
	if len(edges) != 0 {
		t.Errorf("edges = %d, want 0", len(edges))
	}
	if err := a.DeleteMemory(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestSearchScoping(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	private := newMemory("u1", "roadmap draft is secret", GateEpistemic)
	shared := newMemory("u1", "roadmap review on friday", GateEpistemic)
	shared.Visibility = VisibilityTeam
	shared.TeamID = "t1"
	foreign := newMemory("u2", "roadmap for the other team", GateEpistemic)
	for _, m := range []*Memory{private, shared, foreign} {
		if err := a.CreateMemory(ctx, m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	sources := map[string]func(context.Context, Scope, string, int) ([]Hit, error){
		"dense":    a.DenseSearch,
		"sparse":   a.SparseSearch,
		"fulltext": a.TextSearch,
	}
	for name, search := range sources {
		// u2 in team t1 sees the team memory and their own, never u1's private one.
		hits, err := search(ctx, Scope{OwnerID: "u2", TeamID: "t1"}, "roadmap", 10)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		ids := hitIDs(hits)
		if ids[private.ID] {
			t.Errorf("%s leaked a private memory to another user", name)
		}
		if !ids[shared.ID] || !ids[foreign.ID] {
			t.Errorf("%s missing visible memories: %v", name, ids)
		}

		// Without a team id, u1 only sees private memories.
		hits, _ = search(ctx, Scope{OwnerID: "u1"}, "roadmap", 10)
		ids = hitIDs(hits)
		if !ids[private.ID] || ids[shared.ID] || ids[foreign.ID] {
			t.Errorf("%s owner-only scope = %v", name, ids)
		}
	}
}

func TestArchiveExcludesFromSearch(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	m := newMemory("u1", "old deploy checklist", GateEpistemic)
	pinned := newMemory("u1", "deploy needs approval", GateEpistemic)
	pinned.Pinned = true
	for _, mm := range []*Memory{m, pinned} {
		if err := a.CreateMemory(ctx, mm); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	ok, err := a.ArchiveMemory(ctx, m.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("ArchiveMemory = %v, %v", ok, err)
	}
	if ok, _ := a.ArchiveMemory(ctx, pinned.ID, time.Now()); ok {
		t.Error("pinned memory must not archive")
	}

	text, _ := a.TextSearch(ctx, scope, "deploy", 10)
	if hitIDs(text)[m.ID] {
		t.Error("archived memory still searchable")
	}
	if a.Vectors.Contains(m.ID) {
		t.Error("archived memory still in dense index")
	}
	mems, err := a.Hydrate(ctx, scope, []string{m.ID, pinned.ID})
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if _, ok := mems[m.ID]; ok {
		t.Error("hydrate returned archived memory")
	}
	if _, ok := mems[pinned.ID]; !ok {
		t.Error("hydrate dropped live memory")
	}
	if _, err := a.UpdateMemoryContent(ctx, m.ID, "new", SensitivitySafe); !errors.Is(err, ErrArchived) {
		t.Errorf("update archived: err = %v", err)
	}
}

func TestHydrateDetectsDesync(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	m := newMemory("u1", "orphan candidate", GateEpistemic)
	if err := a.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	// Remove the row behind the adapter's back.
	if _, err := a.DB.Exec(`DELETE FROM memories WHERE id = ?`, m.ID); err != nil {
		t.Fatalf("raw delete: %v", err)
	}

	if _, err := a.Hydrate(ctx, scope, []string{m.ID}); !errors.Is(err, ErrIndexDesync) {
		t.Fatalf("Hydrate err = %v, want ErrIndexDesync", err)
	}

	removed, _, err := a.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := a.Hydrate(ctx, scope, []string{m.ID}); err != nil {
		t.Errorf("Hydrate after reconcile: %v", err)
	}
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m := newMemory("u1", "version zero", GateEpistemic)
	if err := a.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := a.UpdateMemoryContent(ctx, m.ID, fmt.Sprintf("revision%d text", i), SensitivitySafe); err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := a.DB.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	// Whichever write won, every index must agree with it.
	hits, err := a.SparseSearch(ctx, Scope{OwnerID: "u1"}, got.Content, 10)
	if err != nil {
		t.Fatalf("SparseSearch: %v", err)
	}
	if !hitIDs(hits)[m.ID] {
		t.Errorf("sparse index disagrees with stored content %q", got.Content)
	}
	var terms int
	a.DB.QueryRow(`SELECT COUNT(*) FROM sparse_terms WHERE memory_id = ?`, m.ID).Scan(&terms)
	if want := len(embed.Terms(got.Content)); terms != want {
		t.Errorf("sparse terms = %d, want %d from a single revision", terms, want)
	}
}

func TestSetPinned(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m := newMemory("u1", "never forget the anniversary", GatePromissory)
	a.CreateMemory(ctx, m)
	if err := a.SetPinned(ctx, m.ID, true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	got, _ := a.DB.GetMemory(ctx, m.ID)
	if !got.Pinned {
		t.Error("memory not pinned")
	}
	if err := a.SetPinned(ctx, "mem_missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}
}
