package hooks

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lazypower/mnemos/internal/config"
)

// Compression runs an LLM call on the server.
const observeTimeout = 30 * time.Second

// flowEnabled reports whether tool observations are on. Swapped in tests.
var flowEnabled = func() bool {
	path, err := config.DefaultPath()
	if err != nil {
		return config.FlowEnabled()
	}
	cfg, err := config.Load(path)
	return err == nil && cfg.Flow.Enabled
}

// handleTool sends a tool call to the server to be compressed into an
// observation. MCP tool outputs are replaced by the compressed text.
func handleTool(client *Client, input *HookInput) error {
	if input.ToolName == "" || input.ShouldSkipTool() || !flowEnabled() {
		return nil
	}
	if input.SessionID == "" {
		return fmt.Errorf("tool use without session id")
	}

	body, err := json.Marshal(map[string]string{
		"tool_name":     input.ToolName,
		"tool_input":    rawText(input.ToolInput),
		"tool_response": rawText(input.ToolResponse),
	})
	if err != nil {
		return err
	}
	data, err := client.withTimeout(observeTimeout).Post("/api/sessions/"+url.PathEscape(input.SessionID)+"/observations", body)
	if err != nil {
		return err
	}

	if !strings.Contains(input.ToolName, "__") {
		return nil
	}
	var entry struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &entry); err != nil || entry.Content == "" {
		return nil
	}
	return WriteToolOutput(strings.TrimPrefix(entry.Content, "["+input.ToolName+"] "))
}
