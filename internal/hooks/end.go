package hooks

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// handleEnd hands the transcript to the server, which checkpoints and
// extracts in the background.
func handleEnd(client *Client, input *HookInput) error {
	if input.SessionID == "" {
		return fmt.Errorf("session end without session id")
	}
	body, err := json.Marshal(map[string]string{
		"transcript_path": input.TranscriptPath,
	})
	if err != nil {
		return err
	}
	_, err = client.Post("/api/sessions/"+url.PathEscape(input.SessionID)+"/end", body)
	return err
}
