// Package history keeps the bounded chat log that feeds the model its
// conversation context.
package history

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lazypower/parley/internal/llm"
)

// DefaultSize matches the chatHistorySize default.
const DefaultSize = 50

// Direction says whether a line was received or sent.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection maps "incoming"/"outgoing" (any case) to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "incoming", "in":
		return Incoming, nil
	case "outgoing", "out":
		return Outgoing, nil
	}
	return Incoming, fmt.Errorf("unknown direction %q", s)
}

// ChatLine is one translated chat message. Lines are values and are never
// modified after Append.
type ChatLine struct {
	Speaker    string    `json:"speaker"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	Timestamp  time.Time `json:"timestamp"`
	Direction  Direction `json:"direction"`
}

// Buffer is a FIFO log capped at max lines.
type Buffer struct {
	mu    sync.Mutex
	lines []ChatLine
	max   int
}

// New returns an empty buffer holding at most max lines.
func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultSize
	}
	return &Buffer{max: max}
}

// Append adds line, dropping the oldest lines beyond the cap. A zero
// timestamp is filled with the current time.
func (b *Buffer) Append(line ChatLine) {
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(b.lines, b.lines[over:])
		clear(b.lines[n:])
		b.lines = b.lines[:n]
	}
}

// Recent returns up to the last n lines, oldest first.
func (b *Buffer) Recent(n int) []ChatLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]ChatLine, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// RecentContext renders the last n lines as chat-completion context. Each
// line becomes a user turn "[speaker]: original"; incoming lines whose
// translation differs from the original are followed by an assistant turn
// carrying the translation.
func (b *Buffer) RecentContext(n int) []llm.Message {
	lines := b.Recent(n)
	if len(lines) == 0 {
		return nil
	}
	msgs := make([]llm.Message, 0, len(lines)*2)
	for _, l := range lines {
		msgs = append(msgs, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("[%s]: %s", l.Speaker, l.Original),
		})
		if l.Direction == Incoming && l.Translated != "" && l.Translated != l.Original {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: l.Translated})
		}
	}
	return msgs
}

// All returns every line, oldest first.
func (b *Buffer) All() []ChatLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChatLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// BySpeaker returns the lines spoken by name.
func (b *Buffer) BySpeaker(name string) []ChatLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ChatLine
	for _, l := range b.lines {
		if l.Speaker == name {
			out = append(out, l)
		}
	}
	return out
}

// Clear drops every line.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}

// Len returns the number of lines held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Max returns the cap.
func (b *Buffer) Max() int {
	return b.max
}
