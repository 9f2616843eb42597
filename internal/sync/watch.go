package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dxtools/dxsync/internal/authoring"
)

// defaultDebounce coalesces filesystem event bursts (editors write,
// rename, and chmod in quick succession) into one push.
const defaultDebounce = 2 * time.Second

// Watcher observes the working directory and pushes modified artifacts
// after each settled burst of local changes.
type Watcher struct {
	coord    *Coordinator
	root     string
	kinds    []authoring.Kind
	opts     *authoring.Options
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher pushing the selected kinds. A zero
// debounce falls back to the default window.
func NewWatcher(
	coord *Coordinator, root string, kinds []authoring.Kind,
	opts *authoring.Options, debounce time.Duration, logger *slog.Logger,
) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = defaultDebounce
	}

	return &Watcher{
		coord:    coord,
		root:     root,
		kinds:    kinds,
		opts:     opts,
		debounce: debounce,
		logger:   logger,
	}
}

// Run watches until the context is canceled. Each settled change burst
// triggers one modified-only push run; run failures are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.root); err != nil {
		return err
	}

	w.logger.Info("watching for local changes",
		slog.String("root", w.root),
		slog.Duration("debounce", w.debounce),
	)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if w.ignorable(ev.Name) {
				continue
			}

			// New directories must be added to the watch set.
			if ev.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.addRecursive(watcher, ev.Name); addErr != nil {
						w.logger.Warn("failed to watch new directory",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()),
						)
					}
				}
			}

			pending = true

			timer.Reset(w.debounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error",
				slog.String("error", watchErr.Error()),
			)

		case <-timer.C:
			if !pending {
				continue
			}

			pending = false

			summary, runErr := w.coord.Run(ctx, DirectionPush, w.kinds, false, w.opts)
			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					return runErr
				}

				w.logger.Error("watch push failed",
					slog.String("error", runErr.Error()),
				)

				continue
			}

			w.logger.Info("watch push complete",
				slog.String("summary", summary.Format()),
			)
		}
	}
}

// ignorable filters events for metadata, temp, and hidden files that
// must never trigger a push.
func (w *Watcher) ignorable(path string) bool {
	base := filepath.Base(path)

	return strings.HasPrefix(base, ".") ||
		strings.HasSuffix(base, ".dxtmp") ||
		strings.Contains(path, string(filepath.Separator)+".metadata"+string(filepath.Separator))
}

// addRecursive watches dir and every subdirectory beneath it.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}

		if !d.IsDir() {
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("sync: watching %s: %w", path, err)
		}

		return nil
	})
}
