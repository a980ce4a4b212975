package embed

import (
	"context"
	"math"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Dark Mode", []string{"dark", "mode"}},
		{"SQLite WAL mode", []string{"sqlite", "wal", "mode"}},
		{"a b c", nil},
		{"", nil},
		{"the and of", nil},
	}

	for _, tt := range tests {
		got := Tokenize(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestTerms(t *testing.T) {
	tf := Terms("mode dark mode")
	if tf["mode"] != 2 || tf["dark"] != 1 {
		t.Errorf("Terms = %v", tf)
	}
	if Terms("the") != nil {
		t.Error("stopword-only text should have no terms")
	}
}

func TestNormalize(t *testing.T) {
	vec := []float64{3, 4}
	Normalize(vec)
	norm := math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1])
	if math.Abs(norm-1.0) > 1e-10 {
		t.Errorf("normalized magnitude = %f, want 1", norm)
	}

	zero := []float64{0, 0, 0}
	Normalize(zero)
	if !IsZero(zero) {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity([]float64{1, 0, 0}, []float64{1, 0, 0}); math.Abs(sim-1) > 1e-10 {
		t.Errorf("identical = %f, want 1", sim)
	}
	if sim := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(sim) > 1e-10 {
		t.Errorf("orthogonal = %f, want 0", sim)
	}
	if sim := CosineSimilarity([]float64{1}, []float64{1, 2}); sim != 0 {
		t.Errorf("mismatched lengths = %f, want 0", sim)
	}
	if sim := CosineSimilarity(nil, nil); sim != 0 {
		t.Errorf("empty = %f, want 0", sim)
	}
}

func TestHashedEmbedder(t *testing.T) {
	h := NewHashed(256)
	ctx := context.Background()

	if h.Dimensions() != 256 || h.Model() != "hashed-256" {
		t.Fatalf("model = %q dims = %d", h.Model(), h.Dimensions())
	}

	a, _ := h.Embed(ctx, "user prefers light mode")
	b, _ := h.Embed(ctx, "user prefers light mode")
	if CosineSimilarity(a, b) < 0.999 {
		t.Error("same text should embed identically")
	}

	related, _ := h.Embed(ctx, "theme preference")
	unrelated, _ := h.Embed(ctx, "kubernetes cluster upgrade")
	if CosineSimilarity(a, related) <= CosineSimilarity(a, unrelated) {
		t.Errorf("related %.3f should beat unrelated %.3f",
			CosineSimilarity(a, related), CosineSimilarity(a, unrelated))
	}

	empty, _ := h.Embed(ctx, "the a")
	if !IsZero(empty) {
		t.Error("stopword-only text should embed to zero")
	}
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	c.calls++
	return []float64{float64(len(text)), 1}, nil
}
func (c *countingEmbedder) Model() string   { return "counting" }
func (c *countingEmbedder) Dimensions() int { return 2 }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 100)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if _, err := c.Embed(ctx, "dark mode"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c.Wait()
	vec, err := c.Embed(ctx, "dark mode")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if vec[0] != 9 {
		t.Errorf("vec = %v", vec)
	}
	if c.Model() != "counting" || c.Dimensions() != 2 {
		t.Error("cached embedder should report inner model")
	}
}
