package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/mnemos/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle agent session hook events",
}

func hookEvent(event, short string) *cobra.Command {
	return &cobra.Command{
		Use:   event,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			hooks.Handle(event, os.Stdin)
		},
	}
}

func init() {
	hookCmd.AddCommand(hookEvent("start", "Handle SessionStart: print memory context"))
	hookCmd.AddCommand(hookEvent("submit", "Handle UserPromptSubmit: remember flagged prompts"))
	hookCmd.AddCommand(hookEvent("tool", "Handle PostToolUse: record a compressed observation"))
	hookCmd.AddCommand(hookEvent("end", "Handle SessionEnd: checkpoint and extract the transcript"))
}
