package store

import (
	"context"
	"testing"
	"time"
)

// seedOwner gives owner at least one row in every manifest class.
func seedOwner(t *testing.T, a *Adapter, d *Directory, owner string) {
	t.Helper()
	ctx := context.Background()

	live := newMemory(owner, "prefers vim keybindings", GateBehavioral)
	old := newMemory(owner, "used to prefer emacs", GateBehavioral)
	for _, m := range []*Memory{live, old} {
		if err := a.CreateMemory(ctx, m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	if err := a.DB.CreateEdge(ctx, &Edge{SourceID: live.ID, TargetID: old.ID, Kind: EdgeContradicts, OwnerID: owner}); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	a.ArchiveMemory(ctx, old.ID, time.Now())

	a.DB.AddJournal(ctx, &JournalEntry{OwnerID: owner, Content: "paired on the editor config"})
	a.DB.SaveIdentityCard(ctx, &IdentityCard{OwnerID: owner, Summary: "keyboard-first", SourceIDs: []string{live.ID}})
	a.DB.SetOnboarding(ctx, &Onboarding{OwnerID: owner, Step: 1})
	a.DB.AddRule(ctx, &Rule{Scope: RuleScopeUser, OwnerID: owner, Text: "use vim terms", CreatedBy: owner})
	if err := d.CreateTeam(ctx, &Team{Name: "editors", CreatedBy: owner}); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
}

func TestMoversCoverManifest(t *testing.T) {
	a := testAdapter(t)
	d := NewDirectory(a.DB)

	owned := make(map[EntityClass]int)
	for _, c := range a.Classes() {
		owned[c]++
	}
	for _, c := range d.Classes() {
		owned[c]++
	}
	for _, c := range Manifest {
		if owned[c] != 1 {
			t.Errorf("class %s has %d movers, want 1", c, owned[c])
		}
	}
}

func TestReassignOwnerMovesEveryClass(t *testing.T) {
	a := testAdapter(t)
	d := NewDirectory(a.DB)
	ctx := context.Background()
	seedOwner(t, a, d, "anon")

	counter := func(c EntityClass, owner string) int64 {
		var n int64
		var err error
		if c == ClassTeamMemberships {
			n, err = d.CountOwned(ctx, c, owner)
		} else {
			n, err = a.CountOwned(ctx, c, owner)
		}
		if err != nil {
			t.Fatalf("CountOwned(%s): %v", c, err)
		}
		return n
	}
	move := func(c EntityClass) (int64, error) {
		if c == ClassTeamMemberships {
			return d.ReassignOwner(ctx, c, "anon", "u1")
		}
		return a.ReassignOwner(ctx, c, "anon", "u1")
	}

	for _, c := range Manifest {
		if counter(c, "anon") == 0 {
			t.Fatalf("seed left class %s empty", c)
		}
		n, err := move(c)
		if err != nil {
			t.Fatalf("ReassignOwner(%s): %v", c, err)
		}
		if n == 0 {
			t.Errorf("ReassignOwner(%s) moved nothing", c)
		}
		if left := counter(c, "anon"); left != 0 {
			t.Errorf("class %s: %d rows still owned by anon", c, left)
		}
	}

	// A second pass is a no-op.
	for _, c := range Manifest {
		if n, err := move(c); err != nil || n != 0 {
			t.Errorf("second ReassignOwner(%s) = %d, %v", c, n, err)
		}
	}

	// Dense metadata follows the owner.
	hits, err := a.DenseSearch(ctx, Scope{OwnerID: "u1"}, "vim keybindings", 5)
	if err != nil {
		t.Fatalf("DenseSearch: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("new owner dense hits = %d, want 1", len(hits))
	}
	if hits, _ := a.DenseSearch(ctx, Scope{OwnerID: "anon"}, "vim keybindings", 5); len(hits) != 0 {
		t.Errorf("old owner still has %d dense hits", len(hits))
	}
}

func TestReassignJournalFoldsClashingDigest(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	at := time.Now().AddDate(0, 0, -30)
	week := WeekKey(at)

	for _, owner := range []string{"anon", "u1"} {
		j := &JournalEntry{OwnerID: owner, Content: owner + " worked", CreatedAt: at}
		a.DB.AddJournal(ctx, j)
		if _, _, err := a.DB.CreateDigest(ctx, owner, week, owner+" digest", []string{j.ID}); err != nil {
			t.Fatalf("CreateDigest: %v", err)
		}
	}

	if _, err := a.ReassignOwner(ctx, ClassJournal, "anon", "u1"); err != nil {
		t.Fatalf("ReassignOwner: %v", err)
	}
	n, _ := a.DB.CountDigests(ctx, "u1", week)
	if n != 1 {
		t.Fatalf("digests for %s = %d, want 1", week, n)
	}
	digest, _ := a.DB.DigestFor(ctx, "u1", week)
	all, _ := a.DB.ListJournal(ctx, "u1", true, 0)
	for _, j := range all {
		if j.ID != digest.ID && j.ConsolidatedInto != digest.ID {
			t.Errorf("entry %q not folded into surviving digest", j.Content)
		}
	}
}

func TestReassignOnboardingKeepsTarget(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	a.DB.SetOnboarding(ctx, &Onboarding{OwnerID: "anon", Step: 1})
	a.DB.SetOnboarding(ctx, &Onboarding{OwnerID: "u1", Step: 3})

	if _, err := a.ReassignOwner(ctx, ClassOnboarding, "anon", "u1"); err != nil {
		t.Fatalf("ReassignOwner: %v", err)
	}
	o, _ := a.DB.GetOnboarding(ctx, "u1")
	if o.Step != 3 {
		t.Errorf("step = %d, want target's 3", o.Step)
	}
	if o, _ := a.DB.GetOnboarding(ctx, "anon"); o != nil {
		t.Error("source onboarding left behind")
	}
}

func TestReassignMembershipsKeepsHigherRole(t *testing.T) {
	d := NewDirectory(testDB(t))
	ctx := context.Background()

	solo := &Team{Name: "solo", CreatedBy: "anon"}
	shared := &Team{Name: "shared", CreatedBy: "u2"}
	for _, team := range []*Team{solo, shared} {
		if err := d.CreateTeam(ctx, team); err != nil {
			t.Fatalf("CreateTeam: %v", err)
		}
	}
	d.AddMember(ctx, solo.ID, "u1", RoleMember)
	d.AddMember(ctx, shared.ID, "anon", RoleMember)
	d.AddMember(ctx, shared.ID, "u1", RoleAdmin)

	if _, err := d.ReassignOwner(ctx, ClassTeamMemberships, "anon", "u1"); err != nil {
		t.Fatalf("ReassignOwner: %v", err)
	}
	if role, _ := d.MemberRole(ctx, solo.ID, "u1"); role != RoleOwner {
		t.Errorf("solo role = %q, want owner carried over from anon", role)
	}
	if role, _ := d.MemberRole(ctx, shared.ID, "u1"); role != RoleAdmin {
		t.Errorf("shared role = %q, want admin kept over anon's member", role)
	}
	for _, team := range []*Team{solo, shared} {
		if role, _ := d.MemberRole(ctx, team.ID, "anon"); role != "" {
			t.Errorf("anon still in %s as %q", team.Name, role)
		}
	}
}
