package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const retentionInterval = 24 * time.Hour

// StartRetention prunes events older than maxAge now and then daily until
// ctx is done. A non-positive maxAge disables it.
func (db *DB) StartRetention(ctx context.Context, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	db.pruneOlderThan(ctx, maxAge)

	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				db.pruneOlderThan(ctx, maxAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (db *DB) pruneOlderThan(ctx context.Context, maxAge time.Duration) {
	n, err := db.Prune(ctx, time.Now().Add(-maxAge))
	if err != nil {
		log.Warn().Err(err).Msg("journal retention")
		return
	}
	if n > 0 {
		log.Info().Int64("pruned", n).Msg("journal retention")
	}
}
