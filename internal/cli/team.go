package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/store"
)

var teamRole string

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage teams and memberships",
}

var teamCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a team; you become its owner",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.teams.Create(cmd.Context(), owner(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("create team: %w", err)
		}
		fmt.Printf("%s %s\n", t.ID, t.Name)
		return nil
	},
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		teams, err := a.teams.List(cmd.Context(), owner())
		if err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		if len(teams) == 0 {
			fmt.Println("No teams.")
		}
		for _, t := range teams {
			fmt.Printf("%s %s\n", t.ID, t.Name)
		}
		return nil
	},
}

var teamShowCmd = &cobra.Command{
	Use:   "show [team-id]",
	Short: "Show a team's members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		t, members, err := a.teams.Get(cmd.Context(), owner(), args[0])
		if err != nil {
			return fmt.Errorf("get team: %w", err)
		}
		fmt.Printf("%s %s\n", t.ID, t.Name)
		for _, m := range members {
			fmt.Printf("  %-8s %s\n", m.Role, m.UserID)
		}
		return nil
	},
}

var teamAddCmd = &cobra.Command{
	Use:   "add [team-id] [user]",
	Short: "Add or re-role a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.teams.AddMember(cmd.Context(), owner(), args[0], args[1], store.Role(teamRole)); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	},
}

var teamRemoveCmd = &cobra.Command{
	Use:   "remove [team-id] [user]",
	Short: "Remove a member, or leave when user is you",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.teams.RemoveMember(cmd.Context(), owner(), args[0], args[1]); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	},
}

var teamDeleteCmd = &cobra.Command{
	Use:   "delete [team-id]",
	Short: "Delete a team you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.teams.Delete(cmd.Context(), owner(), args[0]); err != nil {
			return fmt.Errorf("delete team: %w", err)
		}
		return nil
	},
}

func init() {
	teamAddCmd.Flags().StringVar(&teamRole, "role", string(store.RoleMember), "Role: member, admin or owner")

	teamCmd.AddCommand(teamCreateCmd)
	teamCmd.AddCommand(teamListCmd)
	teamCmd.AddCommand(teamShowCmd)
	teamCmd.AddCommand(teamAddCmd)
	teamCmd.AddCommand(teamRemoveCmd)
	teamCmd.AddCommand(teamDeleteCmd)
}
