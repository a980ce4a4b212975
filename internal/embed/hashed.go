package embed

import (
	"context"
	"fmt"
	"hash/fnv"
)

// Hashed is an offline embedder that feature-hashes tokens and their
// character trigrams into a fixed number of dimensions. Related word forms
// ("prefers", "preference") share trigrams and therefore land near each
// other without any model download.
type Hashed struct {
	dims int
}

// NewHashed creates a hashed embedder. dims defaults to 512.
func NewHashed(dims int) *Hashed {
	if dims <= 0 {
		dims = 512
	}
	return &Hashed{dims: dims}
}

func (h *Hashed) Model() string   { return fmt.Sprintf("hashed-%d", h.dims) }
func (h *Hashed) Dimensions() int { return h.dims }

// Embed returns an L2-normalized vector. Text with no usable tokens yields a zero vector.
func (h *Hashed) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	for _, tok := range Tokenize(text) {
		h.add(vec, "w:"+tok, 1.0)
		padded := "#" + tok + "#"
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "g:"+padded[i:i+3], 0.5)
		}
	}
	Normalize(vec)
	return vec, nil
}

func (h *Hashed) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	// The high bit picks the sign so unrelated collisions tend to cancel.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
