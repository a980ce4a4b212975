package hooks

import (
	"encoding/json"
	"fmt"
	"io"
)

// Handle reads HookInput from stdin and dispatches on event. Hooks never fail
// the agent: errors go to stderr and the process exits 0.
func Handle(event string, stdin io.Reader) {
	if err := dispatch(NewClient(), event, stdin); err != nil {
		ExitError(err)
	}
}

func dispatch(client *Client, event string, stdin io.Reader) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		// Stdin may be empty on start
		if event == "start" {
			return WriteSessionStartOutput("")
		}
		return fmt.Errorf("decode stdin: %w", err)
	}

	if !client.Healthy() {
		if event == "start" {
			return WriteSessionStartOutput("")
		}
		return nil
	}

	switch event {
	case "start":
		return handleStart(client, &input)
	case "submit":
		return handleSubmit(client, &input)
	case "tool":
		return handleTool(client, &input)
	case "end":
		return handleEnd(client, &input)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}
