package lsp

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// GlobWatch is a glob pattern and the kinds of events wanted for the
// files it matches.
type GlobWatch struct {
	Glob *protocol.Glob
	Kind protocol.WatchKind // zero means all kinds
}

func (g *GlobWatch) wants(t protocol.FileChangeType) bool {
	kind := g.Kind
	if kind == 0 {
		kind = protocol.WatchCreate | protocol.WatchChange | protocol.WatchDelete
	}
	switch t {
	case protocol.Created:
		return kind&protocol.WatchCreate != 0
	case protocol.Changed:
		return kind&protocol.WatchChange != 0
	case protocol.Deleted:
		return kind&protocol.WatchDelete != 0
	}
	return false
}

// FileWatcher watches directory trees for changes to files matching a
// set of globs. Events are batched and reported after things have been
// quiet for the debounce period.
type FileWatcher struct {
	globs    []GlobWatch
	debounce time.Duration
	onEvents func([]protocol.FileEvent)
	logger   *log.Logger

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	pending []protocol.FileEvent
	timer   *time.Timer
}

// NewFileWatcher starts watching dirs and everything below them.
func NewFileWatcher(dirs []string, globs []GlobWatch, debounce time.Duration, logger *log.Logger, onEvents func([]protocol.FileEvent)) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &FileWatcher{
		globs:    globs,
		debounce: debounce,
		onEvents: onEvents,
		logger:   logger,
		watcher:  fsw,
		stop:     make(chan struct{}),
	}
	for _, d := range dirs {
		if err := w.addTree(d); err != nil {
			fsw.Close()
			return nil, errors.Wrapf(err, "watching %v", d)
		}
	}
	go w.run()
	return w, nil
}

// addTree adds dir and its subdirectories, skipping hidden ones.
func (w *FileWatcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) run() {
	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("file watcher error: %v", err)
		}
	}
}

func (w *FileWatcher) handle(event fsnotify.Event) {
	var t protocol.FileChangeType
	switch {
	case event.Has(fsnotify.Create):
		t = protocol.Created
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Printf("watching new directory %v failed: %v", event.Name, err)
			}
		}
	case event.Has(fsnotify.Write):
		t = protocol.Changed
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		t = protocol.Deleted
	default:
		return
	}
	if !w.matches(event.Name, t) {
		return
	}
	w.add(protocol.FileEvent{URI: text.ToURI(event.Name), Type: t})
}

func (w *FileWatcher) matches(name string, t protocol.FileChangeType) bool {
	for i := range w.globs {
		g := &w.globs[i]
		if g.Glob.Match(filepath.ToSlash(name)) && g.wants(t) {
			return true
		}
	}
	return false
}

func (w *FileWatcher) add(ev protocol.FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, ev)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *FileWatcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	select {
	case <-w.stop:
		return
	default:
	}
	if len(events) > 0 {
		w.onEvents(events)
	}
}

// Close stops the watcher. Pending events are dropped.
func (w *FileWatcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
