package engine

// Decay:
//   - score = 0.5 ^ (elapsed / half-life), elapsed measured from the later of
//     creation and last access, so a retrieval restarts the curve
//   - half-life by gate; correction and pinned memories never decay
//   - recomputed from timestamps every pass, never accumulated
//   - computed in Go (modernc.org/sqlite lacks pow())
//   - memories under the archive threshold are archived, not deleted

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lazypower/mnemos/internal/store"
)

const day = 24 * time.Hour

// HalfLife returns the decay half-life for a gate. Zero means no decay.
func HalfLife(g store.Gate) time.Duration {
	switch g {
	case store.GateBehavioral, store.GatePromissory:
		return 30 * day
	case store.GateEpistemic:
		return 90 * day
	case store.GateRelational:
		return 180 * day
	}
	return 0
}

// DecayScore is the decay weight at now for a memory last referenced at ref.
func DecayScore(g store.Gate, pinned bool, ref, now time.Time) float64 {
	hl := HalfLife(g)
	if pinned || hl == 0 {
		return 1
	}
	elapsed := now.Sub(ref)
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(elapsed)/float64(hl))
}

func decayRef(m *store.Memory) time.Time {
	if m.LastAccessed.After(m.CreatedAt) {
		return m.LastAccessed
	}
	return m.CreatedAt
}

// ApplyDecay recomputes decay scores for every live memory the owner holds
// and archives those that fell under the threshold. It returns the number
// rescored and the number archived.
func (e *Engine) ApplyDecay(ctx context.Context, owner string) (int, int, error) {
	mems, err := e.Store.DB.OwnedMemories(ctx, owner)
	if err != nil {
		return 0, 0, err
	}
	now := e.now()
	scores := make(map[string]float64, len(mems))
	var doomed []string
	for i := range mems {
		m := &mems[i]
		s := DecayScore(m.Gate, m.Pinned, decayRef(m), now)
		if s != m.DecayScore {
			scores[m.ID] = s
		}
		if !m.Pinned && s < e.Opts.ArchiveThreshold {
			doomed = append(doomed, m.ID)
		}
	}
	if err := e.Store.DB.SetDecayScores(ctx, scores); err != nil {
		return 0, 0, fmt.Errorf("apply decay: %w", err)
	}

	archived := 0
	for _, id := range doomed {
		ok, err := e.Store.ArchiveMemory(ctx, id, now)
		if err != nil {
			return len(scores), archived, fmt.Errorf("archive %s: %w", id, err)
		}
		if ok {
			archived++
		}
	}
	if len(scores) > 0 || archived > 0 {
		log.Printf("decay: %s rescored %d, archived %d", owner, len(scores), archived)
	}
	return len(scores), archived, nil
}
