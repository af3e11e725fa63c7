package hooks

import "strings"

// HookInput is the JSON a host integration (game mod, chat bridge) sends on
// stdin. Different events populate different subsets.
type HookInput struct {
	// join
	Address string `json:"address,omitempty"`

	// incoming, outgoing
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Empty reports whether a chat event carries nothing worth translating.
func (h *HookInput) Empty() bool {
	return strings.TrimSpace(h.Text) == ""
}
