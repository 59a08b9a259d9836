// Package obsidianfs observes the directory pkg/export writes Markdown
// notes into. It is purely informational: an operator running a
// long-lived worker can see when they (or an Obsidian vault sync) have
// hand-edited an exported note, but nothing the watcher sees ever feeds
// back into the pipeline. Export remains a one-way DB-to-Markdown
// rendering.
package obsidianfs

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher logs changes to Markdown files under a directory.
type Watcher struct {
	fsw *fsnotify.Watcher
	dir string
}

// New starts watching dir non-recursively. Exports write a flat set of
// <slug>.md files, so there is no subdirectory structure to recurse into.
func New(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, dir: dir}, nil
}

// Run logs every .md change under the watched directory until ctx is
// canceled, then closes the underlying watcher. Intended to be run in its
// own goroutine by the caller.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			slog.Warn("obsidianfs: failed to close watcher", "dir", w.dir, "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".md" {
				continue
			}
			slog.Info("obsidianfs: exported note changed on disk", "path", ev.Name, "op", ev.Op.String())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("obsidianfs: watch error", "dir", w.dir, "error", err)
		}
	}
}
