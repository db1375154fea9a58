package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vosskuhle/hondana/internal/archive"
	"github.com/vosskuhle/hondana/internal/checksum"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the library root and processes file
// change events until ctx is cancelled, keeping the index in sync with
// changes made outside the operation engine. It calls cb (if non-nil) after
// each successful index mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced reconciliation pass (a full Scan)
// because fsnotify only reports the old path.
func Watch(ctx context.Context, db *DB, parser archive.Parser, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if scanErr := Scan(db, root, parser, logger); scanErr != nil {
				logger.Warn("watcher: reconcile scan failed", slog.String("error", scanErr.Error()))
			} else if cb != nil {
				cb("updated", root)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			path := ev.Name

			// New directories: start watching and index their contents.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, path); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", path),
							slog.String("error", addErr.Error()))
					}
					indexNewDir(db, parser, path, logger, cb)
					continue
				}
			}

			if !parser.Recognizes(path) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				cs, csErr := checksum.SumFile(path)
				if csErr != nil {
					logger.Warn("watcher: checksum failed", slog.String("path", path), slog.String("error", csErr.Error()))
					continue
				}
				if idxErr := indexChapterFile(db, parser, path, cs); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", path), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", path), slog.String("op", kind))
				if cb != nil {
					cb(kind, path)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteChapterByPath(path); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", path), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", path))
				if cb != nil {
					cb("deleted", path)
				}
				scheduleReconcile()

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create event when it stays inside a
				// watched dir. Drop the old row now and reconcile shortly.
				if delErr := db.DeleteChapterByPath(path); delErr == nil {
					logger.Debug("watcher: rename old deleted", slog.String("path", path))
					if cb != nil {
						cb("deleted", path)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// indexNewDir indexes any recognized chapter files in a newly created directory.
func indexNewDir(db *DB, parser archive.Parser, dir string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !parser.Recognizes(path) {
			return nil
		}
		cs, csErr := checksum.SumFile(path)
		if csErr != nil {
			return nil
		}
		if idxErr := indexChapterFile(db, parser, path, cs); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("path", path))
			if cb != nil {
				cb("created", path)
			}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
