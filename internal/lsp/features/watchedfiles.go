package features

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
)

const watchedFilesDebounce = 100 * time.Millisecond

// WatchedFiles watches the files the server registers interest in and
// sends workspace/didChangeWatchedFiles when they change.
type WatchedFiles struct {
	client Client

	mu       sync.Mutex
	watchers map[string]*lsp.FileWatcher
}

// NewWatchedFiles returns the watched files feature for c.
func NewWatchedFiles(c Client) *WatchedFiles {
	return &WatchedFiles{
		client:   c,
		watchers: make(map[string]*lsp.FileWatcher),
	}
}

var _ lsp.DynamicFeature = (*WatchedFiles)(nil)

func (w *WatchedFiles) RegistrationMethod() string {
	return protocol.MethodDidChangeWatchedFiles
}

func (w *WatchedFiles) FillClientCapabilities(caps protocol.Object) {
	caps.EnsurePath("workspace", "didChangeWatchedFiles").SetDefault("dynamicRegistration", true)
}

func (w *WatchedFiles) Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	return nil
}

func (w *WatchedFiles) Register(data lsp.RegistrationData) error {
	var opts protocol.DidChangeWatchedFilesRegistrationOptions
	if err := json.Unmarshal(data.RegisterOptions, &opts); err != nil {
		return errors.Wrap(err, "invalid watched files registration options")
	}
	var globs []lsp.GlobWatch
	for _, fw := range opts.Watchers {
		g, err := protocol.CompileGlob(fw.GlobPattern)
		if err != nil {
			return errors.Wrapf(err, "invalid glob pattern %q", fw.GlobPattern)
		}
		globs = append(globs, lsp.GlobWatch{Glob: g, Kind: fw.Kind})
	}
	var dirs []string
	for _, f := range w.client.WorkspaceFolders() {
		dirs = append(dirs, text.ToPath(f.URI))
	}
	fw, err := lsp.NewFileWatcher(dirs, globs, watchedFilesDebounce, w.client.Logger(), w.send)
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.watchers[data.ID]
	w.watchers[data.ID] = fw
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (w *WatchedFiles) send(events []protocol.FileEvent) {
	err := w.client.SendNotification(context.Background(), protocol.MethodDidChangeWatchedFiles, &protocol.DidChangeWatchedFilesParams{
		Changes: events,
	})
	if err != nil {
		w.client.Logger().Printf("sending watched file events failed: %v", err)
	}
}

func (w *WatchedFiles) Unregister(id string) error {
	w.mu.Lock()
	fw, ok := w.watchers[id]
	delete(w.watchers, id)
	w.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown registration %v", id)
	}
	return fw.Close()
}

func (w *WatchedFiles) State() lsp.FeatureState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lsp.FeatureState{
		Kind:          lsp.WorkspaceState,
		ID:            protocol.MethodDidChangeWatchedFiles,
		Registrations: len(w.watchers) > 0,
	}
}

func (w *WatchedFiles) Dispose() {
	w.mu.Lock()
	watchers := w.watchers
	w.watchers = make(map[string]*lsp.FileWatcher)
	w.mu.Unlock()
	for _, fw := range watchers {
		fw.Close()
	}
}
