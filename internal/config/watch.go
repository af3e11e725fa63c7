package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the store whenever its file changes on disk, until ctx is
// done. The parent directory is watched because Save replaces the file by
// rename. onReload, if non-nil, receives each successfully reloaded snapshot.
func (s *Store) Watch(ctx context.Context, onReload func(Config)) error {
	if s.path == "" {
		return fmt.Errorf("watch: store has no backing file")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer fsw.Close()

		target := filepath.Clean(s.path)
		var debounce *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case <-fire:
				if err := s.Reload(); err != nil {
					log.Warn().Err(err).Str("path", s.path).Msg("config reload failed, keeping current values")
					continue
				}
				log.Info().Str("path", s.path).Msg("config reloaded")
				if onReload != nil {
					onReload(s.Get())
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
