package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/engine"
)

var (
	maintainAll bool

	identityPerson     string
	identityProject    string
	identitySynthesize bool
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run decay, archival, journal consolidation and identity refresh",
	RunE:  runMaintain,
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show or synthesize an identity card",
	RunE:  runIdentity,
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainAll, "all", false, "Reconcile the dense index and maintain every owner")

	identityCmd.Flags().StringVar(&identityPerson, "person", "", "Card subject (default: the owner)")
	identityCmd.Flags().StringVar(&identityProject, "project", "", "Restrict to a project")
	identityCmd.Flags().BoolVar(&identitySynthesize, "synthesize", false, "Synthesize a new card version first")
}

func runMaintain(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	owners := []string{owner()}
	if maintainAll {
		removed, added, err := a.eng.Store.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		fmt.Printf("dense index: removed %d orphaned, added %d missing\n", removed, added)
		if owners, err = a.db.Owners(ctx); err != nil {
			return fmt.Errorf("list owners: %w", err)
		}
	}
	for _, o := range owners {
		rep, err := a.eng.RunMaintenance(ctx, o)
		if err != nil {
			return fmt.Errorf("maintain %s: %w", o, err)
		}
		fmt.Printf("%s: decayed %d, archived %d, digests %d, identity %v\n",
			rep.Owner, rep.Decayed, rep.Archived, rep.Digests, rep.Identity)
	}
	return nil
}

func runIdentity(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if identitySynthesize {
		if a.eng.LLM == nil {
			return fmt.Errorf("identity synthesis needs an LLM provider")
		}
		if _, err := a.eng.Synthesize(ctx, owner(), identityPerson, identityProject); err != nil {
			if errors.Is(err, engine.ErrNoEvidence) {
				fmt.Println("Not enough confident memories to synthesize a card yet.")
				return nil
			}
			return fmt.Errorf("synthesize: %w", err)
		}
	}

	card, err := a.eng.IdentityCard(ctx, owner(), identityPerson, identityProject)
	if err != nil {
		return fmt.Errorf("identity card: %w", err)
	}
	if card == nil {
		fmt.Println("No identity card yet. Run with --synthesize or wait for maintenance.")
		return nil
	}
	fmt.Printf("## Identity (%s, from %d memories)\n\n%s\n", card.GeneratedAt.Format("2006-01-02"), len(card.SourceIDs), card.Summary)
	return nil
}
