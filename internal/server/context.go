package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lazypower/mnemos/internal/store"
)

const (
	maxContextItems   = 15
	maxContextSession = 5
)

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out := s.buildContext(r.Context(), scopeOf(r), q.Get("project"))
	writeJSON(w, http.StatusOK, map[string]string{"context": out})
}

// buildContext renders the markdown injected at session start: the identity
// card, standing rules, the strongest memories and recent checkpoints.
// Critical memories are never injected.
func (s *Server) buildContext(ctx context.Context, scope store.Scope, project string) string {
	var b strings.Builder
	b.WriteString("<context>\n## Mnemos Memory\n")

	card, err := s.eng.IdentityCard(ctx, scope.OwnerID, "", project)
	if (err != nil || card == nil) && project != "" {
		card, err = s.eng.IdentityCard(ctx, scope.OwnerID, "", "")
	}
	if err == nil && card != nil && card.Summary != "" {
		b.WriteString("\n### Working With You\n")
		b.WriteString(card.Summary)
		b.WriteString("\n")
	}

	if rules, err := s.eng.Rules(ctx, scope); err == nil && len(rules) > 0 {
		b.WriteString("\n### Rules\n")
		for _, r := range rules {
			label := ""
			if r.Scope == store.RuleScopeTeam {
				label = "[team] "
			}
			fmt.Fprintf(&b, "- %s%s\n", label, r.Text)
		}
	}

	mems, err := s.eng.List(ctx, scope, store.MemoryFilter{Limit: 200})
	if err == nil {
		var items []store.Memory
		for _, m := range mems {
			if m.Sensitivity == store.SensitivityCritical || m.DecayScore < 0.3 {
				continue
			}
			items = append(items, m)
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Pinned != items[j].Pinned {
				return items[i].Pinned
			}
			return contextScore(items[i], project) > contextScore(items[j], project)
		})
		if len(items) > maxContextItems {
			items = items[:maxContextItems]
		}
		if len(items) > 0 {
			b.WriteString("\n### Memories\n")
			for _, m := range items {
				fmt.Fprintf(&b, "- [%s] %s\n", m.Gate, firstLine(m.Content))
			}
		}
	}

	if entries, err := s.eng.Journal(ctx, scope.OwnerID, false, maxContextSession); err == nil && len(entries) > 0 {
		b.WriteString("\n### Recent Journal\n")
		for _, j := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", j.CreatedAt.Format("2006-01-02 15:04"), firstLine(j.Content))
		}
	}

	b.WriteString("</context>")
	return b.String()
}

// contextScore ranks a memory for injection: decay weight times confidence,
// doubled for the current project.
func contextScore(m store.Memory, project string) float64 {
	score := m.DecayScore * m.Confidence
	if project != "" && m.Project == project {
		score *= 2
	}
	return score
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200]) + "…"
	}
	return s
}
