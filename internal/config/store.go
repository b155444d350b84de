package config

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Store holds the current configuration. It implements lsp.Workspace.
// When watching, changes to the configuration file replace the trace
// settings and server settings and notify listeners. Other changes
// take effect on the next run.
type Store struct {
	filename string
	logger   *log.Logger

	mu        sync.Mutex
	cfg       *Config
	listeners map[int]func()
	nextID    int

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore returns a store holding cfg, which was loaded from filename.
func NewStore(cfg *Config, filename string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		filename:  filename,
		logger:    logger,
		cfg:       cfg,
		listeners: make(map[int]func()),
		stop:      make(chan struct{}),
	}
}

var _ lsp.Workspace = (*Store)(nil)

// Config returns the current configuration. It must not be modified.
func (s *Store) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Folders returns the workspace directories, or the root directory if
// there are none.
func (s *Store) Folders() []protocol.WorkspaceFolder {
	cfg := s.Config()
	dirs := cfg.WorkspaceDirectories
	if len(dirs) == 0 && cfg.RootDirectory != "" {
		dirs = []string{cfg.RootDirectory}
	}
	dirs, err := lsp.AbsDirs(dirs)
	if err != nil {
		s.logger.Printf("config: %v", err)
		return nil
	}
	folders, err := lsp.DirsToWorkspaceFolders(dirs)
	if err != nil {
		s.logger.Printf("config: %v", err)
		return nil
	}
	return folders
}

func (s *Store) Trace() (protocol.TraceValue, lsp.TraceFormat) {
	return s.Config().TraceLevel()
}

func (s *Store) OnDidChangeConfiguration(f func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = f
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Server returns the settings of the server with the given key.
func (s *Store) Server(key string) *ServerSettings {
	return &ServerSettings{store: s, key: key}
}

// Reload reads the configuration file again.
func (s *Store) Reload() error {
	next, err := LoadFile(s.filename)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cfg := *s.cfg
	cfg.Trace = next.Trace
	cfg.RPCTrace = next.RPCTrace
	cfg.TraceFormat = next.TraceFormat
	servers := make(map[string]*Server, len(cfg.Servers))
	for key, old := range cfg.Servers {
		srv := *old
		if n, ok := next.Servers[key]; ok {
			srv.Settings = n.Settings
		}
		servers[key] = &srv
	}
	cfg.Servers = servers
	s.cfg = &cfg
	listeners := make([]func(), 0, len(s.listeners))
	for _, f := range s.listeners {
		listeners = append(listeners, f)
	}
	s.mu.Unlock()

	for _, f := range listeners {
		f()
	}
	return nil
}

// Watch reloads the configuration whenever the file changes, until
// Close is called.
func (s *Store) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors replace the file, so the directory is watched.
	if err := fsw.Add(filepath.Dir(s.filename)); err != nil {
		fsw.Close()
		return err
	}
	s.mu.Lock()
	s.watcher = fsw
	s.mu.Unlock()
	go s.run(fsw)
	return nil
}

func (s *Store) run(fsw *fsnotify.Watcher) {
	var timer *time.Timer
	for {
		select {
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.filename) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := s.Reload(); err != nil {
						s.logger.Printf("config: reload failed: %v", err)
					}
				})
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Printf("config: watcher error: %v", err)
		}
	}
}

// Close stops watching the configuration file.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	fsw := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if fsw == nil {
		return nil
	}
	return fsw.Close()
}

// ServerSettings are the settings of one server. They answer the
// server's workspace/configuration requests.
type ServerSettings struct {
	store *Store
	key   string
}

// Settings returns the value at the dotted section path, or all
// settings if section is empty.
func (ss *ServerSettings) Settings(section string) interface{} {
	cfg := ss.store.Config()
	srv, ok := cfg.Servers[ss.key]
	if !ok || srv.Settings == nil {
		return nil
	}
	var v interface{} = srv.Settings
	if section == "" {
		return v
	}
	for _, name := range strings.Split(section, ".") {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		if v, ok = m[name]; !ok {
			return nil
		}
	}
	return v
}

func (ss *ServerSettings) OnDidChangeConfiguration(f func()) func() {
	return ss.store.OnDidChangeConfiguration(f)
}
