package hooks

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// timeoutNotice tells the player their untranslated line went out.
const timeoutNotice = "translation timed out; original was sent"

// ChatOutput is written to stdout for incoming and outgoing events. The host
// displays or sends Text verbatim.
type ChatOutput struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

// ScopeOutput is written to stdout for join events.
type ScopeOutput struct {
	Server string `json:"server"`
}

// WriteChatOutput encodes a chat result to w.
func WriteChatOutput(w io.Writer, out ChatOutput) error {
	if out.TimedOut && out.Notice == "" {
		out.Notice = timeoutNotice
	}
	return json.NewEncoder(w).Encode(out)
}

// WriteScopeOutput encodes a join result to w.
func WriteScopeOutput(w io.Writer, server string) error {
	return json.NewEncoder(w).Encode(ScopeOutput{Server: server})
}

// ExitError logs to stderr and exits 0 (hooks must never break the host's chat).
func ExitError(err error) {
	fmt.Fprintf(os.Stderr, "parley hook: %v\n", err)
	os.Exit(0)
}
