package engine

import (
	"context"

	"github.com/lazypower/mnemos/internal/store"
)

// Graph view limits.
const (
	defaultGraphDepth = 2
	maxGraphDepth     = 3
	maxGraphNodes     = 100
)

// GraphNode is a memory reached from the root in Depth hops.
type GraphNode struct {
	Memory store.Memory `json:"memory"`
	Depth  int          `json:"depth"`
}

// GraphEdge is one traversed edge.
type GraphEdge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Kind       store.EdgeKind `json:"kind"`
	Confidence float64        `json:"confidence"`
}

// GraphView is the neighborhood of one memory.
type GraphView struct {
	Root  string      `json:"root"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Related walks the edge graph breadth first from id, up to depth hops,
// with the same direction and visibility rules as retrieval expansion.
func (e *Engine) Related(ctx context.Context, scope store.Scope, id string, depth int) (*GraphView, error) {
	root, err := e.Store.GetMemory(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if root.ArchivedAt != nil {
		return nil, store.ErrArchived
	}
	if depth <= 0 {
		depth = defaultGraphDepth
	}
	depth = min(depth, maxGraphDepth)

	view := &GraphView{Root: root.ID, Nodes: []GraphNode{{Memory: *root}}, Edges: []GraphEdge{}}
	seen := map[string]bool{root.ID: true}
	edgeSeen := map[string]bool{}
	frontier := []string{root.ID}

	for d := 1; d <= depth && len(frontier) > 0 && len(view.Nodes) < maxGraphNodes; d++ {
		ns, err := e.Store.Neighbors(ctx, scope, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, n := range ns {
			from, to := n.OriginID, n.Memory.ID
			key := string(n.Kind) + ":" + from + ":" + to
			if n.Kind == store.EdgeContradicts && to < from {
				key = string(n.Kind) + ":" + to + ":" + from
			}
			if !edgeSeen[key] {
				edgeSeen[key] = true
				view.Edges = append(view.Edges, GraphEdge{From: from, To: to, Kind: n.Kind, Confidence: n.Confidence})
			}
			if seen[to] || len(view.Nodes) >= maxGraphNodes {
				continue
			}
			seen[to] = true
			view.Nodes = append(view.Nodes, GraphNode{Memory: n.Memory, Depth: d})
			next = append(next, to)
		}
		frontier = next
	}
	return view, nil
}
