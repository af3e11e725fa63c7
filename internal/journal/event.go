package journal

import "time"

// Event is one translation outcome.
type Event struct {
	ID         string    `json:"id"`
	ServerID   string    `json:"server_id"`
	Direction  string    `json:"direction"`
	Speaker    string    `json:"speaker"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	Source     string    `json:"source"`
	LatencyMS  int64     `json:"latency_ms"`
	TimedOut   bool      `json:"timed_out"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourceCount is one row of Summary.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary aggregates the journal.
type Summary struct {
	Total          int           `json:"total"`
	BySource       []SourceCount `json:"by_source"`
	TimedOut       int           `json:"timed_out"`
	AvgModelMillis float64       `json:"avg_model_ms"`
	Servers        int           `json:"servers"`
}
