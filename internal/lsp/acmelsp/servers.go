package acmelsp

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/fhs/lspc/internal/config"
	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/features"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// Env is what the servers of a ServerSet share.
type Env struct {
	Acme        Acme
	Diagnostics lsp.DiagnosticsSink
	Shower      features.DocumentShower
	Logger      *log.Logger

	// Verbose copies the standard error of servers without a
	// StderrFile to our standard error.
	Verbose bool

	// Transport returns the transport of a server. By default the
	// server's command is executed, or its address dialed.
	Transport func(key string, cs *config.Server) (lsp.Transport, error)
}

// Server is a language server and the client talking to it.
type Server struct {
	Key      string
	Client   *lsp.Client
	Sync     *features.DocumentSync
	Progress *features.WorkDoneProgress

	files   []io.Closer // log files
	mu      sync.Mutex
	started bool
}

// Start starts the client unless it was started before. A client that
// was stopped by its error policy is not started again.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.Client.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

type fileHandler struct {
	re         *regexp.Regexp
	languageID string
	server     *Server
}

// ServerSet holds the configured language servers, which are started
// on demand for the files that match their filename handlers.
type ServerSet struct {
	servers  []*Server // sorted by key
	handlers []fileHandler
	logger   *log.Logger
}

// NewServerSet creates a client for every server used by a filename
// handler of the configuration in store.
func NewServerSet(store *config.Store, env *Env) (*ServerSet, error) {
	cfg := store.Config()
	if env.Logger == nil {
		env.Logger = log.Default()
	}
	if env.Transport == nil {
		env.Transport = func(key string, cs *config.Server) (lsp.Transport, error) {
			return defaultTransport(key, cs, env)
		}
	}
	ss := &ServerSet{logger: env.Logger}
	byKey := make(map[string]*Server)
	for _, h := range cfg.FilenameHandlers {
		cs, ok := cfg.Servers[h.ServerKey]
		if !ok {
			return nil, errors.Errorf("server not found for key %q", h.ServerKey)
		}
		if len(cs.Command) == 0 && len(cs.Address) == 0 {
			return nil, errors.Errorf("invalid server for key %q", h.ServerKey)
		}
		re, err := regexp.Compile(h.Pattern)
		if err != nil {
			return nil, err
		}
		srv, ok := byKey[h.ServerKey]
		if !ok {
			srv, err = newServer(h.ServerKey, cs, cfg, store, env)
			if err != nil {
				ss.Close()
				return nil, err
			}
			byKey[h.ServerKey] = srv
			ss.servers = append(ss.servers, srv)
		}
		ss.handlers = append(ss.handlers, fileHandler{
			re:         re,
			languageID: h.LanguageID,
			server:     srv,
		})
	}
	sort.Slice(ss.servers, func(i, j int) bool {
		return ss.servers[i].Key < ss.servers[j].Key
	})
	return ss, nil
}

func defaultTransport(key string, cs *config.Server, env *Env) (lsp.Transport, error) {
	if len(cs.Command) == 0 {
		return &lsp.DialTransport{Address: cs.Address}, nil
	}
	t := &lsp.ExecTransport{
		Command: cs.Command,
		Logger:  env.Logger,
	}
	if env.Verbose {
		t.Stderr = os.Stderr
	}
	return t, nil
}

func newServer(key string, cs *config.Server, cfg *config.Config, store *config.Store, env *Env) (*Server, error) {
	srv := &Server{Key: key}

	transport, err := env.Transport(key, cs)
	if err != nil {
		return nil, err
	}
	if et, ok := transport.(*lsp.ExecTransport); ok && cs.StderrFile != "" {
		f, err := os.Create(cs.StderrFile)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create server %v StderrFile", key)
		}
		srv.files = append(srv.files, f)
		et.Stderr = f
	}
	output := env.Logger.Writer()
	if cs.LogFile != "" {
		f, err := os.Create(cs.LogFile)
		if err != nil {
			srv.closeFiles()
			return nil, errors.Wrapf(err, "could not create server %v LogFile", key)
		}
		srv.files = append(srv.files, f)
		output = f
	}

	reveal, err := cfg.Reveal()
	if err != nil {
		srv.closeFiles()
		return nil, err
	}
	suspend, err := cfg.Suspend()
	if err != nil {
		srv.closeFiles()
		return nil, err
	}

	srv.Client = lsp.NewClient(lsp.Options{
		Name:      key,
		Version:   "0.1",
		Transport: transport,
		Host: lsp.Host{
			UI:          &UI{Logger: env.Logger},
			Output:      output,
			Diagnostics: env.Diagnostics,
			Progress:    &ProgressLog{Logger: env.Logger},
			Workspace:   store,
		},
		DocumentSelector:      documentSelector(key, cfg.FilenameHandlers),
		InitializationOptions: cs.Options,
		FileEvents:            cs.FileEvents,
		MaxRestartCount:       cfg.MaxRestartCount,
		RevealOutputOn:        reveal,
		Suspend:               suspend,
		StopTimeout:           cfg.StopTimeout,
		Middleware: lsp.Middleware{
			// acme resolves relative paths against the window's
			// directory, so the locations must be absolute.
			ConvertDiagnostics: lsp.ConvertDiagnostics(""),
		},
		Logger: env.Logger,
	})
	srv.Sync = features.NewDocumentSync(srv.Client)
	srv.Progress = features.NewWorkDoneProgress(srv.Client)
	srv.Client.Host().Documents = NewDocuments(env.Acme, srv.Sync)

	for _, f := range []lsp.Feature{
		srv.Sync,
		features.NewWatchedFiles(srv.Client),
		features.NewConfiguration(srv.Client, store.Server(key)),
		features.NewShowDocument(srv.Client, env.Shower),
		srv.Progress,
	} {
		if err := srv.Client.RegisterFeature(f); err != nil {
			srv.closeFiles()
			return nil, err
		}
	}
	return srv, nil
}

// documentSelector selects the documents handled by the server. A
// handler without a language makes the server handle all files.
func documentSelector(key string, handlers []config.FilenameHandler) protocol.DocumentSelector {
	var sel protocol.DocumentSelector
	for _, h := range handlers {
		if h.ServerKey != key {
			continue
		}
		if h.LanguageID == "" {
			return protocol.DocumentSelector{{Scheme: "file"}}
		}
		sel = append(sel, protocol.DocumentFilter{Scheme: "file", Language: h.LanguageID})
	}
	return sel
}

func (s *Server) closeFiles() {
	for _, f := range s.files {
		f.Close()
	}
	s.files = nil
}

// Servers returns the servers ordered by key.
func (ss *ServerSet) Servers() []*Server {
	return ss.servers
}

// MatchFile returns the server handling filename and the language of
// the file.
func (ss *ServerSet) MatchFile(filename string) (*Server, string, bool) {
	for _, h := range ss.handlers {
		if h.re.MatchString(filename) {
			lang := h.languageID
			if lang == "" {
				lang = lsp.DetectLanguage(filename)
			}
			return h.server, lang, true
		}
	}
	return nil, "", false
}

// StartForFile returns the started server handling filename.
func (ss *ServerSet) StartForFile(ctx context.Context, filename string) (*Server, string, bool, error) {
	srv, lang, ok := ss.MatchFile(filename)
	if !ok {
		return nil, "", false, nil // unknown language server
	}
	if err := srv.Start(ctx); err != nil {
		return nil, "", false, errors.Wrapf(err, "could not start language server %v", srv.Key)
	}
	return srv, lang, true, nil
}

// PrintTo writes the filename handlers to w.
func (ss *ServerSet) PrintTo(w io.Writer) {
	for _, h := range ss.handlers {
		fmt.Fprintf(w, "%v %v %v\n", h.re, h.server.Key, h.server.Client.State())
	}
}

// Close disposes of the clients, stopping the running servers.
func (ss *ServerSet) Close() {
	var wg sync.WaitGroup
	for _, srv := range ss.servers {
		wg.Add(1)
		go func(srv *Server) {
			defer wg.Done()
			if err := srv.Client.Dispose(context.Background()); err != nil {
				ss.logger.Printf("stopping %v failed: %v", srv.Key, err)
			}
			srv.closeFiles()
		}(srv)
	}
	wg.Wait()
}
