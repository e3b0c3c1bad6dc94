package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads path whenever its containing directory reports a write or
// create event for it, delivering the newly parsed Config to onChange.
// Watching the directory rather than the file itself survives editors that
// replace the file instead of writing in place. Stops when ctx is done.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(Config)) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config: reload failed, keeping previous config", "error", err)
					continue
				}
				log.Info("config: reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config: watcher error", "error", err)
			}
		}
	}()
	return nil
}
