package store

import (
	"context"
	"testing"
	"time"
)

func TestTeamsAndMembers(t *testing.T) {
	d := NewDirectory(testDB(t))
	ctx := context.Background()

	team := &Team{Name: "platform", CreatedBy: "u1"}
	if err := d.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if role, _ := d.MemberRole(ctx, team.ID, "u1"); role != RoleOwner {
		t.Errorf("creator role = %q, want owner", role)
	}

	if err := d.AddMember(ctx, team.ID, "u2", RoleMember); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := d.AddMember(ctx, team.ID, "u2", RoleAdmin); err != nil {
		t.Fatalf("re-role: %v", err)
	}
	if role, _ := d.MemberRole(ctx, team.ID, "u2"); role != RoleAdmin {
		t.Errorf("u2 role = %q, want admin", role)
	}
	if err := d.AddMember(ctx, team.ID, "u3", "boss"); err == nil {
		t.Error("invalid role accepted")
	}

	members, _ := d.Members(ctx, team.ID)
	if len(members) != 2 {
		t.Errorf("members = %d, want 2", len(members))
	}
	teams, _ := d.TeamsFor(ctx, "u2")
	if len(teams) != 1 || teams[0].Name != "platform" {
		t.Errorf("TeamsFor = %+v", teams)
	}

	d.RemoveMember(ctx, team.ID, "u2")
	if role, _ := d.MemberRole(ctx, team.ID, "u2"); role != "" {
		t.Errorf("removed member role = %q", role)
	}

	if ok, err := d.DeleteTeam(ctx, team.ID); err != nil || !ok {
		t.Fatalf("DeleteTeam = %v, %v", ok, err)
	}
	if role, _ := d.MemberRole(ctx, team.ID, "u1"); role != "" {
		t.Errorf("membership survived team deletion: %q", role)
	}
	if ok, _ := d.DeleteTeam(ctx, team.ID); ok {
		t.Error("second delete reported a team")
	}
}

func TestRulesScope(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mine := &Rule{Scope: RuleScopeUser, OwnerID: "u1", Text: "answer in english", CreatedBy: "u1"}
	team := &Rule{Scope: RuleScopeTeam, OwnerID: "t1", Text: "no force pushes", CreatedBy: "u1"}
	theirs := &Rule{Scope: RuleScopeUser, OwnerID: "u2", Text: "be brief", CreatedBy: "u2"}
	for _, r := range []*Rule{mine, team, theirs} {
		if err := db.AddRule(ctx, r); err != nil {
			t.Fatalf("AddRule: %v", err)
		}
	}

	rules, _ := db.ListRules(ctx, Scope{OwnerID: "u1"})
	if len(rules) != 1 || rules[0].ID != mine.ID {
		t.Errorf("user rules = %+v", rules)
	}
	rules, _ = db.ListRules(ctx, Scope{OwnerID: "u1", TeamID: "t1"})
	if len(rules) != 2 {
		t.Errorf("user+team rules = %d, want 2", len(rules))
	}

	db.DeleteRule(ctx, mine.ID)
	if r, _ := db.GetRule(ctx, mine.ID); r != nil {
		t.Error("rule not deleted")
	}
}

func TestOnboardingUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if o, _ := db.GetOnboarding(ctx, "u1"); o != nil {
		t.Fatal("expected no onboarding state")
	}
	db.SetOnboarding(ctx, &Onboarding{OwnerID: "u1", Step: 1})
	db.SetOnboarding(ctx, &Onboarding{OwnerID: "u1", Step: 2, Person: "alice"})

	o, err := db.GetOnboarding(ctx, "u1")
	if err != nil {
		t.Fatalf("GetOnboarding: %v", err)
	}
	if o.Step != 2 || o.Person != "alice" {
		t.Errorf("onboarding = %+v", o)
	}
}

func TestClaimLedger(t *testing.T) {
	d := NewDirectory(testDB(t))
	ctx := context.Background()
	now := time.Now()

	c := &ClaimRecord{
		ID: "claim_1", From: "anon", To: "u1",
		Manifest:  Manifest,
		Completed: []EntityClass{ClassMemories},
		Moved:     map[EntityClass]int64{ClassMemories: 3},
		Status:    ClaimPartial,
		Error:     "archived_memories: boom",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := d.SaveClaim(ctx, c); err != nil {
		t.Fatalf("SaveClaim: %v", err)
	}

	got, err := d.LatestClaim(ctx, "anon", "u1")
	if err != nil {
		t.Fatalf("LatestClaim: %v", err)
	}
	if got.Status != ClaimPartial || got.Moved[ClassMemories] != 3 {
		t.Errorf("claim = %+v", got)
	}
	if rem := got.Remaining(); len(rem) != len(Manifest)-1 || rem[0] != ClassArchivedMemories {
		t.Errorf("remaining = %v", rem)
	}

	c.Completed = Manifest
	c.Status = ClaimComplete
	c.Error = ""
	d.SaveClaim(ctx, c)
	got, _ = d.LatestClaim(ctx, "anon", "u1")
	if got.Status != ClaimComplete || len(got.Remaining()) != 0 {
		t.Errorf("claim after completion = %+v", got)
	}

	if none, _ := d.LatestClaim(ctx, "anon", "u9"); none != nil {
		t.Error("unexpected claim for unrelated pair")
	}
}
