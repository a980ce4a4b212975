package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/store"
)

var (
	privacyLevel  string
	privacyLimit  int
	privacyOffset int
	exportOut     string
	graphDepth    int
)

var privacyCmd = &cobra.Command{
	Use:   "privacy",
	Short: "List flagged memories for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		mems, err := a.eng.Private(ctx, owner(), privacyLevel, privacyLimit, privacyOffset)
		if err != nil {
			return fmt.Errorf("privacy: %w", err)
		}
		if len(mems) == 0 {
			fmt.Println("Nothing flagged.")
		}
		for _, m := range mems {
			fmt.Printf("%s [%s/%s] %s\n", m.ID, m.Sensitivity, m.Gate, m.Content)
		}
		return nil
	},
}

var privacyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count memories per sensitivity tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.eng.PrivacyStats(ctx, owner())
		if err != nil {
			return fmt.Errorf("privacy stats: %w", err)
		}
		fmt.Printf("total %d: safe %d, sensitive %d, critical %d\n", s.Total, s.Safe, s.Sensitive, s.Critical)
		return nil
	},
}

var privacyScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rescan stored memories for secrets and mark them critical",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.eng.Scan(ctx, owner())
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for _, f := range rep.Findings {
			fmt.Printf("%s %s (was %s)\n", f.MemoryID, strings.Join(f.Kinds, ","), f.Previous)
		}
		fmt.Printf("scanned %d, %d with secrets, %d raised to critical\n", rep.Scanned, len(rep.Findings), rep.Raised)
		return nil
	},
}

func bulkCmd(action, use, short string, minArgs int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			req := engine.BulkRequest{Action: action, IDs: args}
			if action == engine.BulkReclassify {
				req.Level, req.IDs = store.Sensitivity(args[0]), args[1:]
			}
			res, err := a.eng.Bulk(ctx, store.Scope{OwnerID: owner()}, req)
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			for id, msg := range res.Failed {
				fmt.Printf("%s: %s\n", id, msg)
			}
			fmt.Println(res)
			return nil
		},
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored memories by gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.eng.Stats(ctx, owner())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		fmt.Printf("%d memories\n", s.Total)
		for _, g := range store.Gates {
			fmt.Printf("  %-11s %d\n", g, s.ByGate[string(g)])
		}
		fmt.Printf("identity card: %v\n", s.HasIdentity)
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [memory-id]",
	Short: "Show memories linked to one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.eng.Related(ctx, store.Scope{OwnerID: owner()}, args[0], graphDepth)
		if err != nil {
			return fmt.Errorf("graph: %w", err)
		}
		for _, n := range view.Nodes {
			fmt.Printf("%s%s %s\n", strings.Repeat("  ", n.Depth), n.Memory.ID, n.Memory.Content)
		}
		for _, e := range view.Edges {
			fmt.Printf("%s -%s-> %s (%.2f)\n", e.From, e.Kind, e.To, e.Confidence)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every memory, rule, journal entry and identity card as JSON",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := a.eng.Export(ctx, owner())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.OpenFile(exportOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exp); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

func init() {
	privacyCmd.Flags().StringVar(&privacyLevel, "level", engine.LevelFlagged, "flagged, all, safe, sensitive or critical")
	privacyCmd.Flags().IntVarP(&privacyLimit, "limit", "n", 50, "Maximum number of memories")
	privacyCmd.Flags().IntVar(&privacyOffset, "offset", 0, "Skip this many memories")

	privacyCmd.AddCommand(privacyStatsCmd)
	privacyCmd.AddCommand(privacyScanCmd)
	privacyCmd.AddCommand(bulkCmd(engine.BulkRedact, "redact [memory-id...]", "Replace memory content with a placeholder", 1))
	privacyCmd.AddCommand(bulkCmd(engine.BulkReclassify, "reclassify [level] [memory-id...]", "Set the sensitivity of memories", 2))
	privacyCmd.AddCommand(bulkCmd(engine.BulkDelete, "delete [memory-id...]", "Delete memories", 1))

	graphCmd.Flags().IntVar(&graphDepth, "depth", 2, "Hops to follow")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
}
