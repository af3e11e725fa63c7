package hooks

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

func handleJoin(client *Client, input *HookInput, stdout io.Writer) error {
	if !client.Healthy() {
		return nil
	}

	body, _ := json.Marshal(map[string]string{"address": input.Address})
	data, err := client.Post("/api/servers/join", body)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	var resp ScopeOutput
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode join response: %w", err)
	}
	return WriteScopeOutput(stdout, resp.Server)
}

func handleLeave(client *Client) error {
	if !client.Healthy() {
		return nil
	}
	if _, err := client.Post("/api/servers/leave", nil); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}
