package hooks

import (
	"encoding/json"
	"net/url"
)

func handleStart(client *Client, input *HookInput) error {
	params := url.Values{}
	if p := input.Project(); p != "" {
		params.Set("project", p)
	}

	data, err := client.Get("/api/context?" + params.Encode())
	if err != nil {
		// Empty context rather than a failed session start
		return WriteSessionStartOutput("")
	}

	var resp struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return WriteSessionStartOutput("")
	}
	return WriteSessionStartOutput(resp.Context)
}
