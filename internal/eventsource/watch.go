package eventsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/model"
)

var DefaultIgnore = []string{".git", ".hg", ".svn", "node_modules", ".DS_Store"}

// WatchSource turns file size deltas under Root into file-scheme document
// changes. Growth counts as inserted characters and shrinkage as a deleted
// range, one segment per write.
type WatchSource struct {
	root   string
	ignore map[string]struct{}
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	sizes map[string]int64
}

type WatchOptions struct {
	Ignore []string
	Logger *slog.Logger
	Now    func() time.Time
}

func NewWatchSource(root string, opts WatchOptions) *WatchSource {
	ignore := opts.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	set := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		set[name] = struct{}{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WatchSource{
		root:   root,
		ignore: set,
		logger: logging.OrDiscard(opts.Logger),
		now:    now,
		sizes:  make(map[string]int64),
	}
}

// Run watches until ctx ends. The watch is registered before Run blocks, so
// callers that need a ready signal can pass one via ready.
func (w *WatchSource) Run(ctx context.Context, h Handler, ready chan<- struct{}) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", w.root)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.root); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, ev, h)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("file watch overflow; some edits were missed", "root", w.root)
				continue
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

func (w *WatchSource) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Debug("cannot watch directory", "path", path, "error", err)
			}
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			w.setSize(path, info.Size())
		}
		return nil
	})
}

func (w *WatchSource) ignored(path string) bool {
	_, skip := w.ignore[filepath.Base(path)]
	return skip
}

func (w *WatchSource) handle(watcher *fsnotify.Watcher, ev fsnotify.Event, h Handler) {
	if w.ignored(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.forget(ev.Name)
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addRecursive(watcher, ev.Name); err != nil {
				w.logger.Debug("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	change, ok := w.delta(ev.Name, info.Size())
	if !ok {
		return
	}
	h.HandleDocumentChange(model.DocumentChangeEvent{
		Scheme:   model.SchemeFile,
		FileName: ev.Name,
		Changes:  []model.ContentChange{change},
		At:       w.now(),
	})
}

func (w *WatchSource) delta(path string, size int64) (model.ContentChange, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.sizes[path]
	w.sizes[path] = size
	switch {
	case size > prev:
		return model.ContentChange{InsertedChars: int(size - prev)}, true
	case size < prev:
		return model.ContentChange{RangeLength: int(prev - size)}, true
	default:
		return model.ContentChange{}, false
	}
}

func (w *WatchSource) setSize(path string, size int64) {
	w.mu.Lock()
	w.sizes[path] = size
	w.mu.Unlock()
}

func (w *WatchSource) forget(path string) {
	w.mu.Lock()
	delete(w.sizes, path)
	w.mu.Unlock()
}
