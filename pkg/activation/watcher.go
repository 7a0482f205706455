package activation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher notifies when any of a set of files changes on disk. It
// watches the parent directories, so files replaced by rename (as editors
// and config management tools do) are still seen. Bursts of events for a
// file are collapsed into one notification after the debounce interval.
type FileWatcher struct {
	paths    []string
	debounce time.Duration
	logger   *slog.Logger
}

func NewFileWatcher(debounce time.Duration, paths ...string) *FileWatcher {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		if a, err := filepath.Abs(p); err == nil {
			p = a
		}
		abs = append(abs, filepath.Clean(p))
	}
	return &FileWatcher{
		paths:    abs,
		debounce: debounce,
		logger:   slog.Default().With("component", "activation.watcher"),
	}
}

// Listen calls fn with the changed file's path until ctx is done.
func (w *FileWatcher) Listen(ctx context.Context, fn func(ctx context.Context, source string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("activation: watcher: %w", err)
	}
	defer watcher.Close()

	var dirs []string
	for _, p := range w.paths {
		dir := filepath.Dir(p)
		if slices.Contains(dirs, dir) {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("activation: watch %s: %w", dir, err)
		}
		dirs = append(dirs, dir)
	}
	w.logger.InfoContext(ctx, "watching files", "paths", w.paths)

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if !slices.Contains(w.paths, name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "watcher error", "error", err)
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			clear(pending)
			slices.Sort(changed)
			for _, p := range changed {
				fn(ctx, p)
			}
		}
	}
}
