package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateEdgeValidation(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m1 := newMemory("u1", "prefers tabs", GateBehavioral)
	m2 := newMemory("u1", "prefers spaces", GateBehavioral)
	a.CreateMemory(ctx, m1)
	a.CreateMemory(ctx, m2)

	tests := []struct {
		name string
		edge Edge
		want error
	}{
		{"bad kind", Edge{SourceID: m1.ID, TargetID: m2.ID, Kind: "LIKES", OwnerID: "u1"}, ErrInvalid},
		{"self edge", Edge{SourceID: m1.ID, TargetID: m1.ID, Kind: EdgeFollows, OwnerID: "u1"}, ErrInvalid},
		{"missing endpoint", Edge{SourceID: m1.ID, TargetID: "mem_nope", Kind: EdgeFollows, OwnerID: "u1"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.edge
			if err := a.DB.CreateEdge(ctx, &e); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	a.ArchiveMemory(ctx, m2.ID, time.Now())
	if err := a.DB.CreateEdge(ctx, &Edge{SourceID: m1.ID, TargetID: m2.ID, Kind: EdgeContradicts, OwnerID: "u1"}); !errors.Is(err, ErrArchived) {
		t.Errorf("archived endpoint: err = %v", err)
	}
}

func TestCreateEdgeIsIdempotent(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m1 := newMemory("u1", "sprint starts monday", GateEpistemic)
	m2 := newMemory("u1", "sprint review friday", GateEpistemic)
	a.CreateMemory(ctx, m1)
	a.CreateMemory(ctx, m2)

	for i := 0; i < 2; i++ {
		if err := a.DB.CreateEdge(ctx, &Edge{SourceID: m1.ID, TargetID: m2.ID, Kind: EdgeFollows, OwnerID: "u1"}); err != nil {
			t.Fatalf("CreateEdge #%d: %v", i, err)
		}
	}
	edges, err := a.DB.EdgesFor(ctx, m1.ID)
	if err != nil {
		t.Fatalf("EdgesFor: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("edges = %d, want 1", len(edges))
	}
}

func TestNeighborsDirection(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()
	scope := Scope{OwnerID: "u1"}

	first := newMemory("u1", "migrated the database", GateEpistemic)
	next := newMemory("u1", "dropped the old tables", GateEpistemic)
	contra := newMemory("u1", "database was never migrated", GateCorrection)
	hidden := newMemory("u2", "someone else's note", GateEpistemic)
	for _, m := range []*Memory{first, next, contra, hidden} {
		if err := a.CreateMemory(ctx, m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	a.DB.CreateEdge(ctx, &Edge{SourceID: first.ID, TargetID: next.ID, Kind: EdgeFollows, OwnerID: "u1"})
	a.DB.CreateEdge(ctx, &Edge{SourceID: contra.ID, TargetID: first.ID, Kind: EdgeContradicts, OwnerID: "u1", Confidence: 0.6})
	a.DB.CreateEdge(ctx, &Edge{SourceID: first.ID, TargetID: hidden.ID, Kind: EdgeFollows, OwnerID: "u1"})

	ns, err := a.Neighbors(ctx, scope, []string{first.ID})
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	got := make(map[string]EdgeKind)
	for _, n := range ns {
		if n.OriginID != first.ID {
			t.Errorf("origin = %s, want %s", n.OriginID, first.ID)
		}
		got[n.Memory.ID] = n.Kind
	}
	if got[next.ID] != EdgeFollows {
		t.Error("FOLLOWS target missing")
	}
	if got[contra.ID] != EdgeContradicts {
		t.Error("CONTRADICTS must be walked in both directions")
	}
	if _, ok := got[hidden.ID]; ok {
		t.Error("neighbor outside scope returned")
	}

	// FOLLOWS is one-way.
	ns, _ = a.Neighbors(ctx, scope, []string{next.ID})
	if len(ns) != 0 {
		t.Errorf("reverse FOLLOWS returned %d neighbors", len(ns))
	}
}
