package hooks

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// Handle reads HookInput from stdin, dispatches on event, and writes the
// result to stdout.
func Handle(event string, stdin io.Reader) {
	if err := handle(ClientFromEnv(), event, stdin, os.Stdout); err != nil {
		ExitError(err)
	}
}

func handle(client *Client, event string, stdin io.Reader, stdout io.Writer) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && err != io.EOF {
		// a chat line must still reach the player, so only scope events bail
		if event == "incoming" || event == "outgoing" {
			return WriteChatOutput(stdout, ChatOutput{Source: "passthrough"})
		}
		return fmt.Errorf("decode stdin: %w", err)
	}

	switch event {
	case "join":
		return handleJoin(client, &input, stdout)
	case "leave":
		return handleLeave(client)
	case "incoming", "outgoing":
		return handleChat(client, event, &input, stdout)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}
