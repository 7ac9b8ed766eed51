package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle is how long Watch lets file events settle before re-reading.
// An atomic save surfaces as several events back to back; one reload covers
// the whole burst.
const reloadSettle = 100 * time.Millisecond

// Watch re-reads the broker config whenever the file at path changes and
// hands each successfully parsed Config to apply. The broker hot-applies the
// log level and the ingest API key this way; structural settings such as
// ports and queue sizes are read once at startup and need a restart.
//
// A changed file that fails to load is logged and dropped, and the config
// already in effect stays in effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("broker config: start watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("broker config: watch %q: %w", path, err)
	}
	slog.Info("config: watching", "path", path)

	// settle is nil until a relevant event arrives, so the select below
	// ignores it. Every further event pushes the reload back again.
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Writes change the content; creates are how atomic-save
			// editors replace the file.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle = time.After(reloadSettle)

		case <-settle:
			settle = nil
			reload(path, apply)
			// An atomic save may have swapped the inode out from under the
			// watch; re-adding picks up the replacement file.
			if err := watcher.Add(path); err != nil {
				slog.Error("config: re-watch after reload", "path", path, "err", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// reload parses the file and applies it. A file that does not load leaves
// the running config untouched.
func reload(path string, apply func(*Config)) {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("config: rejected changed file, keeping the running config",
			"path", path, "err", err)
		return
	}
	apply(cfg)
	slog.Info("config: applied changed file", "path", path)
}
