package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/store"
)

var (
	rememberGate    string
	rememberPerson  string
	rememberProject string
	rememberTeam    string
	rememberPinned  bool

	recallLimit   int
	recallTeam    string
	recallTrace   bool
	recallNoTouch bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Classify and store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Search memories with hybrid retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func init() {
	rememberCmd.Flags().StringVarP(&rememberGate, "gate", "g", "", "Gate override (behavioral, relational, epistemic, promissory, correction)")
	rememberCmd.Flags().StringVar(&rememberPerson, "person", "", "Person the memory is about")
	rememberCmd.Flags().StringVar(&rememberProject, "project", "", "Project the memory belongs to")
	rememberCmd.Flags().StringVar(&rememberTeam, "team", "", "Share with this team")
	rememberCmd.Flags().BoolVar(&rememberPinned, "pin", false, "Exempt from decay")

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 10, "Maximum number of results")
	recallCmd.Flags().StringVar(&recallTeam, "team", "", "Include this team's shared memories")
	recallCmd.Flags().BoolVar(&recallTrace, "trace", false, "Print per-source retrieval trace")
	recallCmd.Flags().BoolVar(&recallNoTouch, "no-touch", false, "Do not refresh last-accessed times")
}

// scopeFor returns the caller's scope, checking team membership when a team is named.
func scopeFor(ctx context.Context, a *app, team string) (store.Scope, error) {
	scope := store.Scope{OwnerID: owner(), TeamID: team}
	if team != "" {
		if _, err := a.teams.Require(ctx, team, scope.OwnerID); err != nil {
			return scope, err
		}
	}
	return scope, nil
}

func runRemember(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	scope, err := scopeFor(ctx, a, rememberTeam)
	if err != nil {
		return err
	}
	req := engine.RememberRequest{
		Content: strings.Join(args, " "),
		Gate:    store.Gate(rememberGate),
		Person:  rememberPerson,
		Project: rememberProject,
		Pinned:  rememberPinned,
	}
	if rememberTeam != "" {
		req.Visibility = store.VisibilityTeam
	}
	got, err := a.eng.Remember(ctx, scope, req)
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}

	m := got.Memory
	fmt.Printf("%s [%s, %.2f, %s] via %s\n", m.ID, m.Gate, m.Confidence, m.Sensitivity, got.Classification.Source)
	if m.Person != "" || m.Project != "" {
		fmt.Printf("   person=%q project=%q\n", m.Person, m.Project)
	}
	for _, e := range got.Edges {
		fmt.Printf("   %s %s -> %s\n", e.Kind, e.SourceID, e.TargetID)
	}
	return nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	scope, err := scopeFor(ctx, a, recallTeam)
	if err != nil {
		return err
	}
	rec, err := a.eng.Recall(ctx, scope, engine.RecallRequest{
		Query:   strings.Join(args, " "),
		Limit:   recallLimit,
		NoTouch: recallNoTouch,
	})
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}

	if len(rec.Results) == 0 {
		fmt.Println("No results found.")
	}
	for i, r := range rec.Results {
		m := r.Memory
		if r.Expanded {
			fmt.Printf("%d. [%.4f] %s (%s via %s)\n", i+1, r.Score, m.ID, r.Edge, r.Via)
		} else {
			fmt.Printf("%d. [%.4f] %s\n", i+1, r.Score, m.ID)
		}
		fmt.Printf("   [%s] %s\n", m.Gate, truncate(m.Content, 200))
	}

	if recallTrace {
		fmt.Println()
		for _, s := range rec.Trace.Sources {
			status := fmt.Sprintf("%d hits", s.Hits)
			if s.Dropped {
				status = "dropped: " + s.Err
			}
			fmt.Printf("  %-8s %-24s %s\n", s.Name, status, s.Elapsed.Round(time.Microsecond))
		}
		fmt.Printf("  expanded %d, fulltext only %v, degraded %v, %s\n",
			rec.Trace.Expanded, rec.Trace.FullTextOnly, rec.Degraded, rec.Trace.Elapsed.Round(time.Microsecond))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
