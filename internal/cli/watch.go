package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// writeSettle coalesces the burst of events one SQLite commit produces.
const writeSettle = 250 * time.Millisecond

// watchLocalWrites calls kick after the store at dbPath, or its write-ahead
// log, is written. Events within settle of the first one share a kick. It
// returns when ctx is done.
func watchLocalWrites(ctx context.Context, dbPath string, settle time.Duration, kick func(), log zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", dbPath, err)
	}
	defer w.Close()

	dir := filepath.Dir(dbPath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(dbPath)
	log.Debug().Str("path", dbPath).Msg("watching local writes")

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if name := filepath.Base(ev.Name); name != base && name != base+"-wal" {
				continue
			}
			if settled == nil {
				settled = time.After(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("store watcher error")
		case <-settled:
			settled = nil
			log.Debug().Msg("local write detected")
			kick()
		}
	}
}
