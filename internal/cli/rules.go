package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rulesTeam    string
	rulesForTeam bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List standing rules injected at session start",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		scope, err := scopeFor(ctx, a, rulesTeam)
		if err != nil {
			return err
		}
		rules, err := a.eng.Rules(ctx, scope)
		if err != nil {
			return fmt.Errorf("list rules: %w", err)
		}
		if len(rules) == 0 {
			fmt.Println("No rules.")
		}
		for _, r := range rules {
			fmt.Printf("%s [%s] %s\n", r.ID, r.Scope, r.Text)
		}
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a rule (--team-rule needs admin on --team)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		scope, err := scopeFor(ctx, a, rulesTeam)
		if err != nil {
			return err
		}
		r, err := a.eng.AddRule(ctx, scope, strings.Join(args, " "), rulesForTeam)
		if err != nil {
			return fmt.Errorf("add rule: %w", err)
		}
		fmt.Printf("%s [%s] %s\n", r.ID, r.Scope, r.Text)
		return nil
	},
}

var rulesEditCmd = &cobra.Command{
	Use:   "edit [rule-id] [text]",
	Short: "Replace a rule's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		scope, err := scopeFor(ctx, a, rulesTeam)
		if err != nil {
			return err
		}
		r, err := a.eng.UpdateRule(ctx, scope, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("edit rule: %w", err)
		}
		fmt.Printf("%s [%s] %s\n", r.ID, r.Scope, r.Text)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "rm [rule-id]",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		scope, err := scopeFor(ctx, a, rulesTeam)
		if err != nil {
			return err
		}
		if err := a.eng.DeleteRule(ctx, scope, args[0]); err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		return nil
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesTeam, "team", "", "Team context")
	rulesAddCmd.Flags().BoolVar(&rulesForTeam, "team-rule", false, "Store as a team rule")

	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesEditCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
}
