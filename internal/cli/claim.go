package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/config"
	"github.com/lazypower/mnemos/internal/store"
)

var claimCmd = &cobra.Command{
	Use:   "claim [from-owner]",
	Short: "Move everything owned by another id (default: local) to you",
	Long: "Claim reassigns every entity class owned by from-owner to the current owner. " +
		"It reads the database file directly, so any owner on this machine can be named. " +
		"An interrupted claim resumes where it stopped when run again.",
	Args: cobra.MaximumNArgs(1),
	RunE: runClaim,
}

var claimStatusCmd = &cobra.Command{
	Use:   "status [from-owner]",
	Short: "Show the latest claim from an owner",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClaimStatus,
}

var claimLocalCmd = &cobra.Command{
	Use:   "local [owner]",
	Short: "Count rows per entity class owned by an id (default: local)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClaimLocal,
}

func init() {
	claimCmd.AddCommand(claimStatusCmd)
	claimCmd.AddCommand(claimLocalCmd)
}

func claimFrom(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.LocalOwner
}

func runClaim(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	from, to := claimFrom(args), owner()
	if from == to {
		return fmt.Errorf("claim: %s already owns its data; pass --owner", to)
	}
	rec, err := a.claims.Claim(ctx, from, to)
	if rec != nil {
		printClaim(rec)
	}
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	return nil
}

func runClaimStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.claims.Status(ctx, claimFrom(args), owner())
	if err != nil {
		return fmt.Errorf("claim status: %w", err)
	}
	printClaim(rec)
	return nil
}

func runClaimLocal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.claims.LocalData(ctx, claimFrom(args))
	if err != nil {
		return fmt.Errorf("local data: %w", err)
	}
	for _, class := range store.Manifest {
		fmt.Printf("  %-18s %d\n", class, counts[class])
	}
	return nil
}

func printClaim(rec *store.ClaimRecord) {
	fmt.Printf("%s: %s -> %s [%s]\n", rec.ID, rec.From, rec.To, rec.Status)
	done := make(map[store.EntityClass]bool, len(rec.Completed))
	for _, c := range rec.Completed {
		done[c] = true
	}
	for _, class := range rec.Manifest {
		mark := " "
		if done[class] {
			mark = "x"
		}
		fmt.Printf("  [%s] %-18s %d moved\n", mark, class, rec.Moved[class])
	}
	if rec.Error != "" {
		fmt.Printf("  error: %s\n", rec.Error)
	}
}
