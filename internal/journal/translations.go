package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record inserts ev, assigning an id and timestamp when missing.
func (db *DB) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	var errText sql.NullString
	if ev.Error != "" {
		errText = sql.NullString{String: ev.Error, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO translations (id, server_id, direction, speaker, original, translated, source, latency_ms, timed_out, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ServerID, ev.Direction, ev.Speaker, ev.Original, ev.Translated, ev.Source,
		ev.LatencyMS, boolToInt(ev.TimedOut), errText, ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert translation: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. A non-empty serverID
// filters to that server.
func (db *DB) Recent(ctx context.Context, limit int, serverID string) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, server_id, direction, speaker, original, translated, source, latency_ms, timed_out, error, created_at
		FROM translations`
	args := []any{}
	if serverID != "" {
		query += " WHERE server_id = ?"
		args = append(args, serverID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			speaker  sql.NullString
			errText  sql.NullString
			timedOut int
			created  int64
		)
		if err := rows.Scan(&ev.ID, &ev.ServerID, &ev.Direction, &speaker, &ev.Original, &ev.Translated,
			&ev.Source, &ev.LatencyMS, &timedOut, &errText, &created); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		ev.Speaker = speaker.String
		ev.Error = errText.String
		ev.TimedOut = timedOut != 0
		ev.CreatedAt = time.UnixMilli(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summary aggregates every recorded event.
func (db *DB) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{}

	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(timed_out), 0), COUNT(DISTINCT server_id)
		FROM translations
	`).Scan(&s.Total, &s.TimedOut, &s.Servers)
	if err != nil {
		return nil, fmt.Errorf("count translations: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(latency_ms), 0) FROM translations WHERE source = 'model'
	`).Scan(&s.AvgModelMillis)
	if err != nil {
		return nil, fmt.Errorf("average latency: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM translations GROUP BY source ORDER BY COUNT(*) DESC, source
	`)
	if err != nil {
		return nil, fmt.Errorf("group by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		s.BySource = append(s.BySource, sc)
	}
	return s, rows.Err()
}

// Prune deletes events older than the cutoff and returns how many went.
func (db *DB) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM translations WHERE created_at < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune translations: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
