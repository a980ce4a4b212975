package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

const maxEvidence = 40

// Synthesize builds a new identity card for (owner, person, project) from
// high-confidence relational and behavioral memories. The card is appended
// only after a successful summary; on any failure the current card stands.
func (e *Engine) Synthesize(ctx context.Context, owner, person, project string) (*store.IdentityCard, error) {
	person, project = strings.ToLower(person), strings.ToLower(project)
	evidence, err := e.evidence(ctx, owner, person, project)
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, ErrNoEvidence
	}

	prev, err := e.Store.DB.CurrentIdentityCard(ctx, owner, person, project)
	if err != nil {
		return nil, err
	}
	previous := ""
	if prev != nil {
		previous = prev.Summary
	}

	facts := make([]string, len(evidence))
	ids := make([]string, len(evidence))
	for i, m := range evidence {
		facts[i] = fmt.Sprintf("[%s] %s", m.Gate, m.Content)
		ids[i] = m.ID
	}
	summary, err := e.summarize(ctx, llm.IdentityPrompt(person, project, previous, facts))
	if err != nil {
		return nil, fmt.Errorf("synthesize identity: %w", err)
	}

	card := &store.IdentityCard{
		OwnerID:     owner,
		Person:      person,
		Project:     project,
		Summary:     summary,
		SourceIDs:   ids,
		GeneratedAt: e.now(),
	}
	if err := e.Store.DB.SaveIdentityCard(ctx, card); err != nil {
		return nil, err
	}
	log.Printf("identity: %s person=%q project=%q from %d memories", owner, person, project, len(ids))
	return card, nil
}

// IdentityCard returns the current card for a scope, or nil.
func (e *Engine) IdentityCard(ctx context.Context, owner, person, project string) (*store.IdentityCard, error) {
	return e.Store.DB.CurrentIdentityCard(ctx, owner, strings.ToLower(person), strings.ToLower(project))
}

// evidence collects qualifying memories for a card: listed by gate and
// entity, plus recalled ones mentioning the person or project by name.
func (e *Engine) evidence(ctx context.Context, owner, person, project string) ([]store.Memory, error) {
	scope := store.Scope{OwnerID: owner}
	seen := make(map[string]bool)
	var out []store.Memory
	keep := func(m store.Memory) {
		if seen[m.ID] || len(out) >= maxEvidence {
			return
		}
		if m.Gate != store.GateRelational && m.Gate != store.GateBehavioral {
			return
		}
		if m.Confidence < e.Opts.IdentityFloor {
			return
		}
		seen[m.ID] = true
		out = append(out, m)
	}

	for _, g := range []store.Gate{store.GateRelational, store.GateBehavioral} {
		mems, err := e.Store.DB.ListMemories(ctx, scope, store.MemoryFilter{
			Gate: g, Person: person, Project: project, Limit: maxEvidence,
		})
		if err != nil {
			return nil, fmt.Errorf("identity evidence: %w", err)
		}
		for _, m := range mems {
			keep(m)
		}
	}

	query := strings.TrimSpace(person + " " + project)
	if query != "" {
		rec, err := e.Recall(ctx, scope, RecallRequest{Query: query, Limit: maxEvidence, NoTouch: true})
		if err != nil {
			log.Printf("identity: recall evidence: %v", err)
		} else {
			for _, r := range rec.Results {
				if !r.Expanded && mentions(r.Memory, person, project) {
					keep(r.Memory)
				}
			}
		}
	}
	return out, nil
}

// mentions reports whether m is tagged with or names the person and project.
func mentions(m store.Memory, person, project string) bool {
	text := strings.ToLower(m.Content)
	if person != "" && m.Person != person && !strings.Contains(text, person) {
		return false
	}
	if project != "" && m.Project != project && !strings.Contains(text, project) {
		return false
	}
	return true
}
