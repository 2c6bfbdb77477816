package rules

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store when its alarm document or any region file it
// references changes on disk.
type Watcher struct {
	store    *Store
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	files map[string]struct{}
}

func NewWatcher(store *Store, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{store: store, debounce: debounce, logger: logger}
}

// Run blocks until ctx is done. Reload failures are logged and watching
// continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	watched := make(map[string]struct{})
	w.sync(fw, watched)

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warn("rule watcher error", "err", err)
			}
		case <-fire:
			if err := w.store.Reload(); err == nil {
				w.sync(fw, watched)
			}
		}
	}
}

// sync points the fsnotify watcher at the directories of the current file
// set. Directories are watched instead of files so editors that replace
// files by rename keep triggering events.
func (w *Watcher) sync(fw *fsnotify.Watcher, watched map[string]struct{}) {
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	add := func(p string) {
		if p == "" {
			return
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		files[filepath.Clean(abs)] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	add(w.store.Path())
	for _, f := range w.store.Current().Files {
		add(f)
	}

	for dir := range dirs {
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := fw.Add(dir); err != nil {
			if w.logger != nil {
				w.logger.Warn("watch directory failed", "dir", dir, "err", err)
			}
			continue
		}
		watched[dir] = struct{}{}
	}
	for dir := range watched {
		if _, ok := dirs[dir]; !ok {
			_ = fw.Remove(dir)
			delete(watched, dir)
		}
	}

	w.mu.Lock()
	w.files = files
	w.mu.Unlock()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(abs)]
	return ok
}
