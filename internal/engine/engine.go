// Package engine is the memory engine: remember, recall, lifecycle
// maintenance and identity synthesis over a store.Adapter.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lazypower/mnemos/internal/classify"
	"github.com/lazypower/mnemos/internal/config"
	"github.com/lazypower/mnemos/internal/llm"
	"github.com/lazypower/mnemos/internal/store"
)

// ErrNoEvidence means identity synthesis found no qualifying memories.
var ErrNoEvidence = errors.New("no evidence for identity card")

// Membership answers team role lookups. Both team directories satisfy it.
type Membership interface {
	MemberRole(ctx context.Context, teamID, userID string) (store.Role, error)
}

// Options tunes retrieval and lifecycle behavior.
type Options struct {
	Budget        time.Duration
	SourceTimeout time.Duration
	RRFK          int
	MinScore      float64
	GraphTopN     int
	GraphMaxNodes int
	GraphBudget   time.Duration

	ArchiveThreshold float64
	ConsolidateAfter time.Duration
	IdentityFloor    float64

	FlowThreshold int
	FlowSkipTools []string
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig converts the retrieval and lifecycle config sections.
func OptionsFromConfig(cfg config.Config) Options {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return Options{
		Budget:           ms(cfg.Retrieval.BudgetMS),
		SourceTimeout:    ms(cfg.Retrieval.SourceTimeoutMS),
		RRFK:             cfg.Retrieval.RRFK,
		MinScore:         cfg.Retrieval.MinScore,
		GraphTopN:        cfg.Retrieval.GraphTopN,
		GraphMaxNodes:    cfg.Retrieval.GraphMaxNodes,
		GraphBudget:      ms(cfg.Retrieval.GraphBudgetMS),
		ArchiveThreshold: cfg.Lifecycle.ArchiveThreshold,
		ConsolidateAfter: time.Duration(cfg.Lifecycle.ConsolidateAfterDays) * 24 * time.Hour,
		IdentityFloor:    cfg.Lifecycle.IdentityConfidenceFloor,
		FlowThreshold:    cfg.Flow.CharThreshold,
		FlowSkipTools:    cfg.Flow.SkipTools,
	}
}

// Engine orchestrates classification, storage, retrieval and maintenance.
type Engine struct {
	Store      *store.Adapter
	Classifier *classify.Classifier
	LLM        llm.Client // summarization; nil disables consolidation and synthesis
	Members    Membership
	Sources    []Source
	Graph      func(ctx context.Context, scope store.Scope, ids []string) ([]store.Neighbor, error)
	Opts       Options
	Now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates an Engine retrieving from the adapter's three indexes.
func New(adapter *store.Adapter, classifier *classify.Classifier, client llm.Client, members Membership, opts Options) *Engine {
	if classifier == nil {
		classifier = classify.New(client, 0, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Store:      adapter,
		Classifier: classifier,
		LLM:        client,
		Members:    members,
		Sources:    AdapterSources(adapter),
		Graph:      adapter.Neighbors,
		Opts:       opts,
		Now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// role returns the caller's role in teamID, or "" when not a member.
func (e *Engine) role(ctx context.Context, teamID, userID string) (store.Role, error) {
	if teamID == "" || e.Members == nil {
		return "", nil
	}
	r, err := e.Members.MemberRole(ctx, teamID, userID)
	if err != nil {
		return "", fmt.Errorf("look up team role: %w", err)
	}
	return r, nil
}

// canWrite reports whether scope may mutate m: its owner, its creator, or an
// admin of the team it is shared with.
func (e *Engine) canWrite(ctx context.Context, scope store.Scope, m *store.Memory) error {
	if m.OwnerID == scope.OwnerID || (m.Visibility == store.VisibilityTeam && m.CreatedBy == scope.OwnerID) {
		return nil
	}
	if m.Visibility == store.VisibilityTeam {
		r, err := e.role(ctx, m.TeamID, scope.OwnerID)
		if err != nil {
			return err
		}
		if r.CanManage() {
			return nil
		}
	}
	return store.ErrAccessDenied
}

// StartMaintenanceTimer applies decay for every known owner before
// returning. Index reconciliation and full maintenance, which may call the
// LLM, run in the background right away and then on every interval tick
// until Stop.
func (e *Engine) StartMaintenanceTimer(interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	e.decayAll(e.ctx)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.maintainAll(e.ctx)
		for {
			select {
			case <-ticker.C:
				e.maintainAll(e.ctx)
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) decayAll(ctx context.Context) {
	owners, err := e.Store.DB.Owners(ctx)
	if err != nil {
		log.Printf("decay error: %v", err)
		return
	}
	for _, owner := range owners {
		decayed, archived, err := e.ApplyDecay(ctx, owner)
		if err != nil {
			log.Printf("decay: %s: %v", owner, err)
			continue
		}
		if decayed > 0 || archived > 0 {
			log.Printf("decay: %s updated %d, archived %d", owner, decayed, archived)
		}
	}
}

func (e *Engine) maintainAll(ctx context.Context) {
	if _, _, err := e.Store.Reconcile(ctx); err != nil {
		log.Printf("maintenance: reconcile: %v", err)
	}
	owners, err := e.Store.DB.Owners(ctx)
	if err != nil {
		log.Printf("maintenance error: %v", err)
		return
	}
	for _, owner := range owners {
		if ctx.Err() != nil {
			return
		}
		rep, err := e.RunMaintenance(ctx, owner)
		if err != nil {
			log.Printf("maintenance: %s: %v", owner, err)
			continue
		}
		if rep.Decayed > 0 || rep.Archived > 0 || rep.Digests > 0 {
			log.Printf("maintenance: %s decayed %d, archived %d, digests %d", owner, rep.Decayed, rep.Archived, rep.Digests)
		}
	}
}

// Stop cancels background maintenance and waits for it to return.
func (e *Engine) Stop() {
	e.cancel()
	e.bg.Wait()
}
