package context

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// WatchPrompt reloads the prompt template whenever path changes, until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are handled.
func (e *Engine) WatchPrompt(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve prompt path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch prompt dir: %w", err)
	}

	// Reload once events settle so a file written in several steps is read whole.
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			reload = time.After(reloadDebounce)
		case <-reload:
			reload = nil
			if err := e.LoadPrompt(abs); err != nil {
				slog.Warn("prompt reload failed", "path", abs, "error", err)
				continue
			}
			slog.Info("system prompt reloaded", "path", abs)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("prompt watcher error", "error", err)
		}
	}
}
