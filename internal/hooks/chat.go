package hooks

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

type translateRequest struct {
	Direction string `json:"direction"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// handleChat translates one chat line. Any failure falls back to echoing the
// original text so the host never drops a message.
func handleChat(client *Client, direction string, input *HookInput, stdout io.Writer) error {
	passthrough := ChatOutput{Text: input.Text, Source: "passthrough"}
	if input.Empty() {
		return WriteChatOutput(stdout, passthrough)
	}

	if !client.Healthy() {
		return WriteChatOutput(stdout, passthrough)
	}

	body, err := json.Marshal(translateRequest{
		Direction: direction,
		Speaker:   input.Speaker,
		Text:      input.Text,
	})
	if err != nil {
		return WriteChatOutput(stdout, passthrough)
	}

	data, err := client.Post("/api/translate", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley hook: %v\n", err)
		return WriteChatOutput(stdout, passthrough)
	}

	var out ChatOutput
	if err := json.Unmarshal(data, &out); err != nil || out.Text == "" {
		return WriteChatOutput(stdout, passthrough)
	}
	return WriteChatOutput(stdout, out)
}
