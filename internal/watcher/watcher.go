// Package watcher turns filesystem notifications under a folder into a stream
// of Added, Changed and Removed events.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Op int

const (
	Added Op = iota + 1
	Changed
	Removed
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one change under the watched folder. Dir is known for Added events
// and for removals of folders that were being watched.
type Event struct {
	Op   Op
	Path string
	Dir  bool
}

// Watcher is a source of events. The channel is closed after Close.
type Watcher interface {
	Events() <-chan Event
	Close() error
}

// FSWatcher watches a folder and all of its sub folders.
type FSWatcher struct {
	root   string
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	folders map[string]struct{}
	closed  bool
}

// New starts watching root recursively. Hidden folders are skipped.
func New(root string, logger *zap.Logger) (*FSWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error in creating the fs watcher: %w", err)
	}

	w := &FSWatcher{
		root:    filepath.Clean(root),
		fsw:     fsw,
		logger:  logger,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		folders: make(map[string]struct{}),
	}

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *FSWatcher) Events() <-chan Event {
	return w.events
}

// Close stops watching and closes the events channel.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

func (w *FSWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fs watcher error", zap.String("root", w.root), zap.Error(err))
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("error in watching the new folder", zap.String("folder", path), zap.Error(err))
			}
		}
		w.emit(Event{Op: Added, Path: path, Dir: info.IsDir()})

	case ev.Has(fsnotify.Write):
		w.emit(Event{Op: Changed, Path: path})

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.emit(Event{Op: Removed, Path: path, Dir: w.forget(path)})
	}
}

func (w *FSWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *FSWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("error in watching %s: %w", path, err)
		}
		w.mu.Lock()
		w.folders[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// forget drops path and everything below it from the watched folders and
// reports whether path itself was one of them.
func (w *FSWatcher) forget(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.folders[path]
	prefix := path + string(filepath.Separator)
	for f := range w.folders {
		if f == path || strings.HasPrefix(f, prefix) {
			delete(w.folders, f)
		}
	}
	return ok
}
