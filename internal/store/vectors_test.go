package store

import (
	"context"
	"math"
	"testing"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float64{1.0, -0.5, 0.333, math.Pi, 0.0}
	decoded := decodeEmbedding(encodeEmbedding(original))

	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("index %d: got %f, want %f", i, decoded[i], original[i])
		}
	}
}

func TestCreateMemoryStoresVector(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	m := newMemory("u1", "prefers tabs over spaces", GateBehavioral)
	if err := a.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	live, err := a.DB.liveIndexed(ctx)
	if err != nil {
		t.Fatalf("liveIndexed: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("live vectors = %d, want 1", len(live))
	}
	v := live[0].Vector
	if v.MemoryID != m.ID || v.Model != "hashed-256" || v.Dimensions != 256 {
		t.Errorf("vector record = %+v", v)
	}
	if !a.Vectors.Contains(m.ID) {
		t.Error("dense index missing new memory")
	}
}

func TestReindexRebuildsDenseIndex(t *testing.T) {
	a := testAdapter(t)
	ctx := context.Background()

	for _, c := range []string{"likes rust", "uses neovim", "drinks tea"} {
		if err := a.CreateMemory(ctx, newMemory("u1", c, GateBehavioral)); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	for _, id := range a.Vectors.IDs() {
		a.Vectors.Delete(ctx, id)
	}

	n, err := a.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 3 || a.Vectors.Count() != 3 {
		t.Errorf("reindexed %d, index holds %d, want 3", n, a.Vectors.Count())
	}
}
