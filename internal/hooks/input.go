package hooks

import (
	"encoding/json"
	"path/filepath"
)

// HookInput is the JSON an agent sends on stdin to hook handlers. Different
// events populate different subsets.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`

	// SessionStart
	Source string `json:"source,omitempty"`
	Model  string `json:"model,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// PostToolUse
	ToolName     string          `json:"tool_name,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`

	// SessionEnd
	Reason string `json:"reason,omitempty"`
}

// skipTools are bookkeeping tools whose output is never worth observing.
var skipTools = map[string]bool{
	"TodoRead":   true,
	"TodoWrite":  true,
	"Thinking":   true,
	"TaskList":   true,
	"TaskCreate": true,
	"TaskGet":    true,
	"TaskUpdate": true,
}

// ShouldSkipTool reports whether the tool call should not become an observation.
func (h *HookInput) ShouldSkipTool() bool {
	return skipTools[h.ToolName]
}

// rawText returns a JSON string's value, or the raw JSON for anything else.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Project names the working directory's project: its base name.
func (h *HookInput) Project() string {
	if h.CWD == "" {
		return ""
	}
	base := filepath.Base(filepath.Clean(h.CWD))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
