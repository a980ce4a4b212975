package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// SessionStartOutput is the JSON the agent expects from the SessionStart hook.
type SessionStartOutput struct {
	HookSpecificOutput struct {
		HookEventName     string `json:"hookEventName"`
		AdditionalContext string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

// WriteSessionStartOutput writes the SessionStart response.
func WriteSessionStartOutput(context string) error {
	out := SessionStartOutput{}
	out.HookSpecificOutput.HookEventName = "SessionStart"
	out.HookSpecificOutput.AdditionalContext = context
	return json.NewEncoder(stdout).Encode(out)
}

// ToolOutput replaces an MCP tool's output in the agent's context.
type ToolOutput struct {
	HookSpecificOutput struct {
		HookEventName        string `json:"hookEventName"`
		UpdatedMCPToolOutput string `json:"updatedMCPToolOutput"`
	} `json:"hookSpecificOutput"`
}

// WriteToolOutput writes the PostToolUse response carrying the compressed output.
func WriteToolOutput(summary string) error {
	out := ToolOutput{}
	out.HookSpecificOutput.HookEventName = "PostToolUse"
	out.HookSpecificOutput.UpdatedMCPToolOutput = "[compressed] " + summary
	return json.NewEncoder(stdout).Encode(out)
}

// ExitError logs to stderr and exits 0.
func ExitError(err error) {
	fmt.Fprintf(os.Stderr, "mnemos hook: %v\n", err)
	os.Exit(0)
}
