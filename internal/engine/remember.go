package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/store"
)

// Auto-linking thresholds.
const (
	contradictSimilarity = 0.5
	followsWindow        = 24 * time.Hour
	explicitConfidence   = 0.9
)

// RememberRequest is a fact to store. Gate, Person and Project override the
// classifier when set; the secret scan applies regardless.
type RememberRequest struct {
	Content    string           `json:"content"`
	Context    string           `json:"context,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	Gate       store.Gate       `json:"gate,omitempty"`
	Person     string           `json:"person,omitempty"`
	Project    string           `json:"project,omitempty"`
	Visibility store.Visibility `json:"visibility,omitempty"`
	Pinned     bool             `json:"pinned,omitempty"`
}

// Remembered is the outcome of a write.
type Remembered struct {
	Memory         store.Memory    `json:"memory"`
	Classification classify.Result `json:"classification"`
	Edges          []store.Edge    `json:"edges,omitempty"`
}

// Remember classifies and stores a fact for scope, links it to related
// memories and records a journal entry.
func (e *Engine) Remember(ctx context.Context, scope store.Scope, req RememberRequest) (*Remembered, error) {
	content, err := cleanContent(req.Content, maxContentChars)
	if err != nil {
		return nil, err
	}
	if scope.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner", store.ErrInvalid)
	}
	if req.Gate != "" && !req.Gate.Valid() {
		return nil, fmt.Errorf("%w: gate %q", store.ErrInvalid, req.Gate)
	}

	vis := req.Visibility
	if vis == "" {
		vis = store.VisibilityPrivate
	}
	m := &store.Memory{
		Content:    content,
		Visibility: vis,
		Pinned:     req.Pinned,
		OwnerID:    scope.OwnerID,
		CreatedBy:  scope.OwnerID,
	}
	if vis == store.VisibilityTeam {
		if scope.TeamID == "" {
			return nil, fmt.Errorf("%w: team visibility requires a team id", store.ErrInvalid)
		}
		r, err := e.role(ctx, scope.TeamID, scope.OwnerID)
		if err != nil {
			return nil, err
		}
		if r == "" {
			return nil, fmt.Errorf("%w: %s is not a member of team %s", store.ErrAccessDenied, scope.OwnerID, scope.TeamID)
		}
		m.TeamID = scope.TeamID
	}

	res := e.Classifier.Classify(ctx, content, truncateClean(req.Context, maxContextChars))
	if req.Gate != "" {
		res.Gate = req.Gate
		res.Confidence = explicitConfidence
	}
	if p := sanitizeEntity(req.Person); p != "" {
		res.Person = p
	}
	if p := sanitizeEntity(req.Project); p != "" {
		res.Project = p
	}
	m.Gate, m.Confidence, m.Sensitivity = res.Gate, res.Confidence, res.Sensitivity
	m.Person, m.Project = res.Person, res.Project

	if err := e.Store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}
	out := &Remembered{Memory: *m, Classification: res}
	out.Edges = e.autoLink(ctx, scope, m)

	entry := fmt.Sprintf("remembered [%s] %s", m.Gate, classify.Redact(content, res.Secrets))
	if err := e.Store.DB.AddJournal(ctx, &store.JournalEntry{
		OwnerID: scope.OwnerID, SessionID: req.SessionID, Content: entry,
	}); err != nil {
		log.Printf("remember: journal entry for %s: %v", m.ID, err)
	}

	log.Printf("remember: stored %s [%s/%s] via %s", m.ID, m.Gate, m.Sensitivity, res.Source)
	return out, nil
}

// autoLink adds CONTRADICTS and FOLLOWS edges for a new memory. Link
// failures never fail the write.
func (e *Engine) autoLink(ctx context.Context, scope store.Scope, m *store.Memory) []store.Edge {
	var edges []store.Edge

	if m.Gate == store.GateCorrection {
		hits, err := e.Store.SimilarTo(ctx, scope, m.Content, m.ID, 1)
		if err != nil {
			log.Printf("remember: similar to %s: %v", m.ID, err)
		} else if len(hits) > 0 && hits[0].Score > contradictSimilarity {
			edge := store.Edge{SourceID: m.ID, TargetID: hits[0].ID, Kind: store.EdgeContradicts,
				Confidence: hits[0].Score, OwnerID: m.OwnerID}
			if err := e.Store.CreateEdge(ctx, &edge); err != nil {
				log.Printf("remember: contradicts edge: %v", err)
			} else {
				edges = append(edges, edge)
				if old, err := e.Store.DB.GetMemory(ctx, hits[0].ID); err == nil && old != nil {
					if err := e.Store.DB.SetConfidence(ctx, old.ID, old.Confidence/2); err != nil {
						log.Printf("remember: lower confidence of %s: %v", old.ID, err)
					}
				}
			}
		}
	}

	if m.Person != "" || m.Project != "" {
		if prev := e.previousRelated(ctx, scope, m); prev != "" {
			edge := store.Edge{SourceID: prev, TargetID: m.ID, Kind: store.EdgeFollows, Confidence: 1.0, OwnerID: m.OwnerID}
			if err := e.Store.CreateEdge(ctx, &edge); err != nil {
				log.Printf("remember: follows edge: %v", err)
			} else {
				edges = append(edges, edge)
			}
		}
	}
	return edges
}

// previousRelated returns the newest memory sharing m's person or project
// written within followsWindow, or "".
func (e *Engine) previousRelated(ctx context.Context, scope store.Scope, m *store.Memory) string {
	since := m.CreatedAt.Add(-followsWindow)
	var best *store.Memory
	for _, f := range []store.MemoryFilter{
		{Person: m.Person, Since: since, Limit: 2},
		{Project: m.Project, Since: since, Limit: 2},
	} {
		if f.Person == "" && f.Project == "" {
			continue
		}
		mems, err := e.Store.DB.ListMemories(ctx, scope, f)
		if err != nil {
			log.Printf("remember: related memories: %v", err)
			continue
		}
		for i := range mems {
			if mems[i].ID == m.ID {
				continue
			}
			if best == nil || mems[i].CreatedAt.After(best.CreatedAt) {
				best = &mems[i]
			}
			break
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// Get returns one memory visible to scope.
func (e *Engine) Get(ctx context.Context, scope store.Scope, id string) (*store.Memory, error) {
	return e.Store.GetMemory(ctx, scope, id)
}

// List returns memories visible to scope, newest first.
func (e *Engine) List(ctx context.Context, scope store.Scope, f store.MemoryFilter) ([]store.Memory, error) {
	if scope.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner", store.ErrInvalid)
	}
	f.Person = sanitizeEntity(f.Person)
	f.Project = sanitizeEntity(f.Project)
	return e.Store.DB.ListMemories(ctx, scope, f)
}

// Update replaces a memory's content. The secret scan runs again and can
// only raise sensitivity.
func (e *Engine) Update(ctx context.Context, scope store.Scope, id, content string) (*store.Memory, error) {
	m, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != scope.OwnerID {
		return nil, store.ErrAccessDenied
	}
	content, err = cleanContent(content, maxContentChars)
	if err != nil {
		return nil, err
	}
	sens := m.Sensitivity
	if len(classify.ScanSecrets(content)) > 0 {
		sens = store.SensitivityCritical
	}
	return e.Store.UpdateMemoryContent(ctx, id, content, sens)
}

// Forget deletes a memory and everything indexed for it.
func (e *Engine) Forget(ctx context.Context, scope store.Scope, id, reason string) error {
	m, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := e.canWrite(ctx, scope, m); err != nil {
		return err
	}
	if err := e.Store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if reason == "" {
		reason = "unspecified"
	}
	log.Printf("forget: %s deleted %s (%s): %s", scope.OwnerID, id, m.Gate, reason)
	return nil
}

// Pin marks a memory exempt from decay and archival, or clears the mark.
func (e *Engine) Pin(ctx context.Context, scope store.Scope, id string, pinned bool) error {
	m, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := e.canWrite(ctx, scope, m); err != nil {
		return err
	}
	return e.Store.SetPinned(ctx, id, pinned)
}

// AddRule stores a standing instruction. Team rules need an admin or owner.
func (e *Engine) AddRule(ctx context.Context, scope store.Scope, text string, team bool) (*store.Rule, error) {
	text, err := cleanContent(text, maxRuleChars)
	if err != nil {
		return nil, err
	}
	r := &store.Rule{Scope: store.RuleScopeUser, OwnerID: scope.OwnerID, Text: text, CreatedBy: scope.OwnerID}
	if team {
		if err := e.requireManager(ctx, scope); err != nil {
			return nil, err
		}
		r.Scope, r.OwnerID = store.RuleScopeTeam, scope.TeamID
	}
	if err := e.Store.DB.AddRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Rules lists the caller's rules plus their team's.
func (e *Engine) Rules(ctx context.Context, scope store.Scope) ([]store.Rule, error) {
	return e.Store.DB.ListRules(ctx, scope)
}

// DeleteRule removes a rule the caller controls.
func (e *Engine) DeleteRule(ctx context.Context, scope store.Scope, id string) error {
	if _, err := e.controlledRule(ctx, scope, id); err != nil {
		return err
	}
	return e.Store.DB.DeleteRule(ctx, id)
}

// UpdateRule replaces the text of a rule the caller controls.
func (e *Engine) UpdateRule(ctx context.Context, scope store.Scope, id, text string) (*store.Rule, error) {
	r, err := e.controlledRule(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if text, err = cleanContent(text, maxRuleChars); err != nil {
		return nil, err
	}
	if err := e.Store.DB.UpdateRule(ctx, id, text); err != nil {
		return nil, err
	}
	r.Text = text
	return r, nil
}

// controlledRule loads a rule the caller may change: their own, or their
// team's when they manage the team.
func (e *Engine) controlledRule(ctx context.Context, scope store.Scope, id string) (*store.Rule, error) {
	r, err := e.Store.DB.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, store.ErrNotFound
	}
	switch r.Scope {
	case store.RuleScopeUser:
		if r.OwnerID != scope.OwnerID {
			return nil, store.ErrAccessDenied
		}
	case store.RuleScopeTeam:
		if r.OwnerID != scope.TeamID {
			return nil, store.ErrAccessDenied
		}
		if err := e.requireManager(ctx, scope); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (e *Engine) requireManager(ctx context.Context, scope store.Scope) error {
	if scope.TeamID == "" {
		return fmt.Errorf("%w: team rule requires a team id", store.ErrInvalid)
	}
	r, err := e.role(ctx, scope.TeamID, scope.OwnerID)
	if err != nil {
		return err
	}
	if !r.CanManage() {
		return fmt.Errorf("%w: team %s requires admin", store.ErrAccessDenied, scope.TeamID)
	}
	return nil
}

// Checkpoint records a session event in the owner's journal.
func (e *Engine) Checkpoint(ctx context.Context, owner, sessionID, content string) (*store.JournalEntry, error) {
	found := classify.ScanSecrets(content)
	j := &store.JournalEntry{
		OwnerID:   owner,
		SessionID: sessionID,
		Kind:      store.JournalCheckpoint,
		Content:   classify.Redact(content, found),
	}
	if err := e.Store.DB.AddJournal(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Journal lists an owner's journal, newest first.
func (e *Engine) Journal(ctx context.Context, owner string, includeConsolidated bool, limit int) ([]store.JournalEntry, error) {
	return e.Store.DB.ListJournal(ctx, owner, includeConsolidated, limit)
}

// Onboarding returns the owner's onboarding progress, or nil.
func (e *Engine) Onboarding(ctx context.Context, owner string) (*store.Onboarding, error) {
	return e.Store.DB.GetOnboarding(ctx, owner)
}

// SetOnboarding stores onboarding progress.
func (e *Engine) SetOnboarding(ctx context.Context, o *store.Onboarding) error {
	return e.Store.DB.SetOnboarding(ctx, o)
}
