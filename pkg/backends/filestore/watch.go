package filestore

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/lexstore/pkg/core"
)

// startWatch invalidates cached collections whose files change on disk.
// Must be called with b.mu held.
func (b *Backend) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(b.dir); err != nil {
		_ = w.Close()
		return err
	}
	b.watcher = w
	b.done = make(chan struct{})
	go b.watchLoop(w, b.done)
	return nil
}

func (b *Backend) watchLoop(w *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if e, ok := entityForFile(ev.Name); ok {
				b.logger.Debug("data file changed", slog.String("file", ev.Name))
				b.invalidate(e)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// entityForFile maps a data file path back to its entity. Temporary files
// are ignored.
func entityForFile(path string) (core.Entity, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	stem, ok := strings.CutSuffix(base, ".jsonl")
	if !ok {
		return "", false
	}
	if _, err := core.TableFor(core.Entity(stem)); err != nil {
		return "", false
	}
	return core.Entity(stem), true
}
