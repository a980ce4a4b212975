package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/config"
)

var (
	configPath string
	ownerFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "mnemos",
	Short: "Persistent, multi-tenant memory for AI assistants",
	Long: "Mnemos classifies what an assistant learns, stores it per owner and team, " +
		"and recalls the relevant subset with hybrid search.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.mnemos/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Owner id (default $MNEMOS_OWNER or local)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(privacyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(exportCmd)
}

func owner() string {
	if ownerFlag != "" {
		return ownerFlag
	}
	return config.Owner()
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}
