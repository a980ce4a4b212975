package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/mnemos/internal/store"
)

// ErrRetrievalUnavailable means every retrieval source failed.
var ErrRetrievalUnavailable = errors.New("all retrieval sources failed")

// Source names in the trace.
const (
	SourceDense    = "dense"
	SourceSparse   = "sparse"
	SourceFullText = "fulltext"
)

// graphWeight scales a neighbor's score below the memory it was reached from.
const graphWeight = 0.5

// postBudgetShare reserves 1/postBudgetShare of the budget for hydration
// and graph expansion.
const postBudgetShare = 5

// Source is one ranked retrieval list.
type Source struct {
	Name   string
	Search func(ctx context.Context, scope store.Scope, query string, limit int) ([]store.Hit, error)
}

// AdapterSources returns the adapter's dense, sparse and full-text indexes.
func AdapterSources(a *store.Adapter) []Source {
	return []Source{
		{Name: SourceDense, Search: a.DenseSearch},
		{Name: SourceSparse, Search: a.SparseSearch},
		{Name: SourceFullText, Search: a.TextSearch},
	}
}

// RecallRequest is a retrieval query.
type RecallRequest struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit,omitempty"`
	Budget  time.Duration `json:"budget,omitempty"`
	NoTouch bool          `json:"no_touch,omitempty"`
}

func (r RecallRequest) limit() int {
	if r.Limit <= 0 {
		return 10
	}
	return r.Limit
}

// Result is one recalled memory.
type Result struct {
	Memory        store.Memory   `json:"memory"`
	Score         float64        `json:"score"`
	Fused         float64        `json:"fused"`
	Contributions map[string]int `json:"contributions,omitempty"` // source -> 1-based rank
	Expanded      bool           `json:"expanded,omitempty"`
	Via           string         `json:"via,omitempty"`
	Edge          store.EdgeKind `json:"edge,omitempty"`
}

// SourceTrace records what one source contributed.
type SourceTrace struct {
	Name    string        `json:"name"`
	Hits    int           `json:"hits"`
	Err     string        `json:"error,omitempty"`
	Dropped bool          `json:"dropped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Trace explains how a Recall was assembled.
type Trace struct {
	Sources      []SourceTrace `json:"sources"`
	FullTextOnly bool          `json:"fulltext_only,omitempty"`
	Expanded     int           `json:"expanded"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Recall is a ranked, traced retrieval result.
type Recall struct {
	Results  []Result `json:"results"`
	Degraded bool     `json:"degraded"`
	Trace    Trace    `json:"trace"`
}

type sourceResult struct {
	idx     int
	hits    []store.Hit
	err     error
	elapsed time.Duration
}

// Recall queries every source concurrently within the latency budget, fuses
// the ranked lists with RRF, weights by decay and appends one-hop graph
// neighbors of the top results. A source that fails or times out is dropped
// and recorded in the trace; only the failure of every source is an error.
func (e *Engine) Recall(ctx context.Context, scope store.Scope, req RecallRequest) (*Recall, error) {
	start := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", store.ErrInvalid)
	}
	if scope.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing owner", store.ErrInvalid)
	}

	limit := req.limit()
	depth := limit * 3
	if depth < 20 {
		depth = 20
	}
	budget := req.Budget
	if budget <= 0 {
		budget = e.Opts.Budget
	}
	if budget <= 0 {
		budget = 1500 * time.Millisecond
	}
	// Sources get most of the budget; hydration and graph expansion share
	// the rest and stop at the same overall deadline.
	deadline := start.Add(budget)
	sourceBudget := budget - budget/postBudgetShare
	perSource := e.Opts.SourceTimeout
	if perSource <= 0 || perSource > sourceBudget {
		perSource = sourceBudget
	}

	out := &Recall{}
	lists := e.gather(ctx, scope, query, depth, sourceBudget, perSource, out)

	failed := 0
	for _, st := range out.Trace.Sources {
		if st.Dropped {
			failed++
		}
	}
	if failed == len(e.Sources) && !out.Degraded {
		return nil, ErrRetrievalUnavailable
	}

	lists = e.applyFloor(lists, out)
	fused := fuse(lists, e.rrfK())

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ids := make([]string, 0, len(fused))
	for id := range fused {
		ids = append(ids, id)
	}
	mems, err := e.Store.Hydrate(dctx, scope, ids)
	if err != nil {
		if !errors.Is(err, store.ErrIndexDesync) && dctx.Err() != nil && ctx.Err() == nil {
			log.Printf("recall: budget %s exceeded while loading results", budget)
			out.Degraded = true
			out.Results = []Result{}
			out.Trace.Elapsed = time.Since(start)
			return out, nil
		}
		return nil, err
	}

	results := make([]Result, 0, len(mems))
	for id, f := range fused {
		m, ok := mems[id]
		if !ok {
			continue
		}
		results = append(results, Result{
			Memory:        m,
			Fused:         f.score,
			Score:         f.score * m.DecayScore,
			Contributions: f.ranks,
		})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	direct := make([]string, len(results))
	for i, r := range results {
		direct[i] = r.Memory.ID
	}
	results = append(results, e.expand(dctx, scope, results)...)
	out.Trace.Expanded = len(results) - len(direct)
	out.Results = results

	if !req.NoTouch && len(direct) > 0 {
		if err := e.Store.DB.TouchMemories(ctx, direct, e.now()); err != nil {
			log.Printf("recall: touch: %v", err)
		}
	}

	out.Trace.Elapsed = time.Since(start)
	return out, nil
}

// gather runs every source under its own timeout inside the overall budget.
// Sources still running when the budget expires are dropped and the recall
// is marked degraded.
func (e *Engine) gather(ctx context.Context, scope store.Scope, query string, depth int, budget, perSource time.Duration, out *Recall) map[string][]store.Hit {
	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out.Trace.Sources = make([]SourceTrace, len(e.Sources))
	ch := make(chan sourceResult, len(e.Sources))
	for i, src := range e.Sources {
		out.Trace.Sources[i] = SourceTrace{Name: src.Name, Dropped: true, Err: "timed out"}
		go func(i int, src Source) {
			sctx, scancel := context.WithTimeout(bctx, perSource)
			defer scancel()
			t := time.Now()
			hits, err := src.Search(sctx, scope, query, depth)
			if err == nil && sctx.Err() != nil {
				err = sctx.Err()
			}
			ch <- sourceResult{idx: i, hits: hits, err: err, elapsed: time.Since(t)}
		}(i, src)
	}

	lists := make(map[string][]store.Hit, len(e.Sources))
	for pending := len(e.Sources); pending > 0; pending-- {
		select {
		case r := <-ch:
			st := &out.Trace.Sources[r.idx]
			st.Elapsed = r.elapsed
			if r.err != nil {
				st.Err = r.err.Error()
				log.Printf("recall: source %s dropped: %v", st.Name, r.err)
				if errors.Is(r.err, context.DeadlineExceeded) {
					out.Degraded = true
				}
				continue
			}
			st.Dropped, st.Err, st.Hits = false, "", len(r.hits)
			lists[st.Name] = r.hits
		case <-bctx.Done():
			out.Degraded = true
			log.Printf("recall: budget %s exceeded with %d sources outstanding", budget, pending)
			return lists
		}
	}
	return lists
}

// applyFloor drops dense hits under the minimum score and non-positive
// sparse scores. When neither list has anything left, ranking falls back to
// full text alone.
func (e *Engine) applyFloor(lists map[string][]store.Hit, out *Recall) map[string][]store.Hit {
	if dense, ok := lists[SourceDense]; ok {
		kept := dense[:0:0]
		for _, h := range dense {
			if h.Score >= e.Opts.MinScore {
				kept = append(kept, h)
			}
		}
		lists[SourceDense] = kept
	}
	if sparse, ok := lists[SourceSparse]; ok {
		kept := sparse[:0:0]
		for _, h := range sparse {
			if h.Score > 0 {
				kept = append(kept, h)
			}
		}
		lists[SourceSparse] = kept
	}
	if len(lists[SourceDense]) == 0 && len(lists[SourceSparse]) == 0 {
		if _, ok := lists[SourceFullText]; ok {
			out.Trace.FullTextOnly = true
			return map[string][]store.Hit{SourceFullText: lists[SourceFullText]}
		}
	}
	return lists
}

func (e *Engine) rrfK() int {
	if e.Opts.RRFK <= 0 {
		return 60
	}
	return e.Opts.RRFK
}

type fusedScore struct {
	score float64
	ranks map[string]int
}

// fuse sums 1/(k+rank) for every list an id appears in. Ranks are 1-based.
func fuse(lists map[string][]store.Hit, k int) map[string]*fusedScore {
	out := make(map[string]*fusedScore)
	for name, hits := range lists {
		for i, h := range hits {
			f, ok := out[h.ID]
			if !ok {
				f = &fusedScore{ranks: make(map[string]int, len(lists))}
				out[h.ID] = f
			}
			if _, seen := f.ranks[name]; seen {
				continue
			}
			f.ranks[name] = i + 1
			f.score += 1 / float64(k+i+1)
		}
	}
	return out
}

// sortResults orders by score, then most recently accessed, then id.
func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		a, b := rs[i].Memory.LastAccessed, rs[j].Memory.LastAccessed
		if !a.Equal(b) {
			return a.After(b)
		}
		return rs[i].Memory.ID < rs[j].Memory.ID
	})
}

// expand returns one-hop neighbors of the top direct results, scored below
// their origin and weighted by their own decay. Expansion is best-effort
// within the graph budget and whatever remains of ctx.
func (e *Engine) expand(ctx context.Context, scope store.Scope, direct []Result) []Result {
	topN, maxNodes := e.Opts.GraphTopN, e.Opts.GraphMaxNodes
	if topN <= 0 || maxNodes <= 0 || len(direct) == 0 {
		return nil
	}
	if topN > len(direct) {
		topN = len(direct)
	}
	parents := make(map[string]float64, topN)
	ids := make([]string, 0, topN)
	for _, r := range direct[:topN] {
		parents[r.Memory.ID] = r.Score
		ids = append(ids, r.Memory.ID)
	}
	present := make(map[string]bool, len(direct))
	for _, r := range direct {
		present[r.Memory.ID] = true
	}

	gctx := ctx
	if e.Opts.GraphBudget > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, e.Opts.GraphBudget)
		defer cancel()
	}
	graph := e.Graph
	if graph == nil {
		graph = e.Store.Neighbors
	}
	neighbors, err := graph(gctx, scope, ids)
	if err != nil {
		log.Printf("recall: graph expansion skipped: %v", err)
		return nil
	}

	var out []Result
	for _, n := range neighbors {
		if present[n.Memory.ID] {
			continue
		}
		present[n.Memory.ID] = true
		out = append(out, Result{
			Memory:   n.Memory,
			Score:    parents[n.OriginID] * n.Confidence * graphWeight * n.Memory.DecayScore,
			Expanded: true,
			Via:      n.OriginID,
			Edge:     n.Kind,
		})
	}
	sortResults(out)
	if len(out) > maxNodes {
		out = out[:maxNodes]
	}
	return out
}
