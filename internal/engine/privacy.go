package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/store"
)

const (
	// LevelFlagged selects sensitive and critical memories together.
	LevelFlagged = "flagged"
	// LevelAll selects every tier.
	LevelAll = "all"

	redactedContent = "[REDACTED]"
	maxBulkIDs      = 500
	maxPrivateList  = 500
)

// Bulk actions.
const (
	BulkDelete     = "delete"
	BulkRedact     = "redact"
	BulkReclassify = "reclassify"
)

func levelsFor(level string) ([]store.Sensitivity, error) {
	switch level {
	case "", LevelFlagged:
		return []store.Sensitivity{store.SensitivityCritical, store.SensitivitySensitive}, nil
	case LevelAll:
		return []store.Sensitivity{store.SensitivityCritical, store.SensitivitySensitive, store.SensitivitySafe}, nil
	}
	s := store.Sensitivity(level)
	if !s.Valid() {
		return nil, fmt.Errorf("%w: level %q", store.ErrInvalid, level)
	}
	return []store.Sensitivity{s}, nil
}

// Private lists an owner's memories at a sensitivity level for review.
func (e *Engine) Private(ctx context.Context, owner, level string, limit, offset int) ([]store.Memory, error) {
	levels, err := levelsFor(level)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPrivateList {
		limit = maxPrivateList
	}
	return e.Store.DB.ListBySensitivity(ctx, owner, levels, limit, offset)
}

// PrivacyStats counts an owner's live memories per sensitivity tier.
type PrivacyStats struct {
	Total     int `json:"total"`
	Safe      int `json:"safe"`
	Sensitive int `json:"sensitive"`
	Critical  int `json:"critical"`
}

func (e *Engine) PrivacyStats(ctx context.Context, owner string) (*PrivacyStats, error) {
	counts, err := e.Store.DB.CountBy(ctx, owner, "sensitivity")
	if err != nil {
		return nil, err
	}
	s := &PrivacyStats{
		Safe:      counts[string(store.SensitivitySafe)],
		Sensitive: counts[string(store.SensitivitySensitive)],
		Critical:  counts[string(store.SensitivityCritical)],
	}
	s.Total = s.Safe + s.Sensitive + s.Critical
	return s, nil
}

// Reclassify sets a memory's sensitivity. Unlike the write path this may
// lower it; the caller is reviewing the memory by hand.
func (e *Engine) Reclassify(ctx context.Context, scope store.Scope, id string, level store.Sensitivity) (*store.Memory, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: level %q", store.ErrInvalid, level)
	}
	m, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := e.canWrite(ctx, scope, m); err != nil {
		return nil, err
	}
	if err := e.Store.DB.SetSensitivity(ctx, id, level); err != nil {
		return nil, err
	}
	log.Printf("privacy: %s reclassified %s %s -> %s", scope.OwnerID, id, m.Sensitivity, level)
	m.Sensitivity = level
	return m, nil
}

// Redact replaces a memory's content with a placeholder and marks it safe.
// Every index is rebuilt from the placeholder.
func (e *Engine) Redact(ctx context.Context, scope store.Scope, id string) (*store.Memory, error) {
	m, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if err := e.canWrite(ctx, scope, m); err != nil {
		return nil, err
	}
	return e.Store.UpdateMemoryContent(ctx, id, redactedContent, store.SensitivitySafe)
}

// BulkRequest applies one action to many memories.
type BulkRequest struct {
	IDs    []string          `json:"ids"`
	Action string            `json:"action"`
	Level  store.Sensitivity `json:"level,omitempty"`
}

// BulkResult reports how many ids the action succeeded on.
type BulkResult struct {
	Action    string            `json:"action"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (r *BulkResult) String() string {
	return fmt.Sprintf("%s: %d/%d memories processed", r.Action, r.Processed, r.Total)
}

// Bulk runs delete, redact or reclassify over req.IDs. A failure on one id
// does not stop the rest.
func (e *Engine) Bulk(ctx context.Context, scope store.Scope, req BulkRequest) (*BulkResult, error) {
	if len(req.IDs) == 0 || len(req.IDs) > maxBulkIDs {
		return nil, fmt.Errorf("%w: bulk needs 1 to %d ids", store.ErrInvalid, maxBulkIDs)
	}
	var apply func(id string) error
	switch req.Action {
	case BulkDelete:
		apply = func(id string) error { return e.Forget(ctx, scope, id, "bulk delete") }
	case BulkRedact:
		apply = func(id string) error { _, err := e.Redact(ctx, scope, id); return err }
	case BulkReclassify:
		if !req.Level.Valid() {
			return nil, fmt.Errorf("%w: reclassify needs a level", store.ErrInvalid)
		}
		apply = func(id string) error { _, err := e.Reclassify(ctx, scope, id, req.Level); return err }
	default:
		return nil, fmt.Errorf("%w: bulk action %q", store.ErrInvalid, req.Action)
	}

	res := &BulkResult{Action: req.Action, Total: len(req.IDs)}
	for _, id := range req.IDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := apply(id); err != nil {
			if res.Failed == nil {
				res.Failed = map[string]string{}
			}
			res.Failed[id] = err.Error()
			continue
		}
		res.Processed++
	}
	log.Printf("privacy: %s %s", scope.OwnerID, res)
	return res, nil
}

// ScanFinding is a secret found in a stored memory.
type ScanFinding struct {
	MemoryID string            `json:"memory_id"`
	Kinds    []string          `json:"kinds"`
	Previous store.Sensitivity `json:"previous"`
}

// ScanReport is the outcome of rescanning an owner's memories.
type ScanReport struct {
	Scanned  int           `json:"scanned"`
	Raised   int           `json:"raised"`
	Findings []ScanFinding `json:"findings"`
}

// Scan reruns the secret scan over an owner's stored memories and raises
// any memory holding a secret to critical. It never lowers sensitivity.
func (e *Engine) Scan(ctx context.Context, owner string) (*ScanReport, error) {
	mems, err := e.Store.DB.OwnedMemories(ctx, owner)
	if err != nil {
		return nil, err
	}
	rep := &ScanReport{Scanned: len(mems), Findings: []ScanFinding{}}
	for _, m := range mems {
		found := classify.ScanSecrets(m.Content)
		if len(found) == 0 {
			continue
		}
		f := ScanFinding{MemoryID: m.ID, Previous: m.Sensitivity}
		seen := map[string]bool{}
		for _, s := range found {
			if !seen[s.Kind] {
				seen[s.Kind] = true
				f.Kinds = append(f.Kinds, s.Kind)
			}
		}
		rep.Findings = append(rep.Findings, f)
		if m.Sensitivity == store.SensitivityCritical {
			continue
		}
		if err := e.Store.DB.SetSensitivity(ctx, m.ID, store.SensitivityCritical); err != nil {
			return rep, err
		}
		rep.Raised++
	}
	log.Printf("privacy: scanned %d memories for %s, %d with secrets, %d raised", rep.Scanned, owner, len(rep.Findings), rep.Raised)
	return rep, nil
}

// Stats summarizes an owner's store.
type Stats struct {
	Total       int            `json:"total"`
	ByGate      map[string]int `json:"by_gate"`
	HasIdentity bool           `json:"has_identity"`
}

func (e *Engine) Stats(ctx context.Context, owner string) (*Stats, error) {
	byGate, err := e.Store.DB.CountBy(ctx, owner, "gate")
	if err != nil {
		return nil, err
	}
	s := &Stats{ByGate: byGate}
	for _, n := range byGate {
		s.Total += n
	}
	if s.HasIdentity, err = e.Store.DB.HasIdentity(ctx, owner); err != nil {
		return nil, err
	}
	return s, nil
}

// Export is everything an owner has stored.
type Export struct {
	Owner      string               `json:"owner"`
	ExportedAt time.Time            `json:"exported_at"`
	Memories   []store.Memory       `json:"memories"`
	Rules      []store.Rule         `json:"rules"`
	Journal    []store.JournalEntry `json:"journal"`
	Identity   []store.IdentityCard `json:"identity"`
}

// Export gathers an owner's live memories, personal rules, full journal and
// identity card history.
func (e *Engine) Export(ctx context.Context, owner string) (*Export, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: missing owner", store.ErrInvalid)
	}
	out := &Export{Owner: owner, ExportedAt: e.now()}
	var err error
	if out.Memories, err = e.Store.DB.OwnedMemories(ctx, owner); err != nil {
		return nil, err
	}
	if out.Rules, err = e.Store.DB.ListRules(ctx, store.Scope{OwnerID: owner}); err != nil {
		return nil, err
	}
	if out.Journal, err = e.Store.DB.ListJournal(ctx, owner, true, 0); err != nil {
		return nil, err
	}
	if out.Identity, err = e.Store.DB.OwnerIdentityCards(ctx, owner); err != nil {
		return nil, err
	}
	return out, nil
}
