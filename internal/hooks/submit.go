package hooks

import (
	"encoding/json"
	"strings"

	"github.com/lazypower/mnemos/internal/llm"
)

// signalTriggers are phrases that ask for something to be remembered now.
var signalTriggers = []string{
	"remember this", "don't forget",
	"always use", "never use", "always do", "never do",
	"architecture decision", "we decided",
	"the trick is",
	"bug was", "root cause", "the fix was",
}

// isInternalPrompt reports whether prompt came from mnemos's own LLM calls.
// A CLI-backed provider starts a fresh agent session whose hooks fire back
// here; the sentinel must lead the prompt.
func isInternalPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, llm.InternalSentinel)
}

func hasSignal(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, trigger := range signalTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// handleSubmit remembers prompts that carry a signal phrase. Everything else
// waits for session end.
func handleSubmit(client *Client, input *HookInput) error {
	if input.Prompt == "" || isInternalPrompt(input.Prompt) || !hasSignal(input.Prompt) {
		return nil
	}
	body, err := json.Marshal(map[string]string{
		"content":    input.Prompt,
		"session_id": input.SessionID,
		"project":    input.Project(),
	})
	if err != nil {
		return err
	}
	_, err = client.Post("/api/memories", body)
	return err
}
