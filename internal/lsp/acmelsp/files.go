package acmelsp

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/fhs/9fans-go/acme"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
)

// FileManager keeps track of open files in acme.
// It is used to synchronize text with LSP server.
//
// Note that we can't cache the window for the files
// because having the ctl file open prevents del event from
// being delivered to acme/log file.
type FileManager struct {
	ss     *ServerSet
	acme   Acme
	logger *log.Logger

	mu    sync.Mutex
	files map[string]*Server // open files and their server
}

// NewFileManager returns a file manager for the files handled by ss.
func NewFileManager(ss *ServerSet, a Acme, logger *log.Logger) *FileManager {
	return &FileManager{
		ss:     ss,
		acme:   a,
		logger: logger,
		files:  make(map[string]*Server),
	}
}

// Run opens the files currently open in acme, then watches for files
// opened, closed, saved, or refreshed in acme and tells the servers
// about it, until ctx is done.
func (fm *FileManager) Run(ctx context.Context) error {
	wins, err := fm.acme.Windows()
	if err != nil {
		return errors.Wrapf(err, "failed to read list of acme index")
	}
	for _, info := range wins {
		if err := fm.Handle(ctx, acme.LogEvent{ID: info.ID, Op: "new", Name: info.Name}); err != nil {
			fm.logger.Printf("file manager: %v", err)
		}
	}

	alog, err := fm.acme.Log()
	if err != nil {
		return errors.Wrap(err, "failed to open acme log")
	}
	stop := context.AfterFunc(ctx, func() { alog.Close() })
	defer stop()
	defer alog.Close()

	for {
		ev, err := alog.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "failed to read acme log")
		}
		if err := fm.Handle(ctx, ev); err != nil {
			fm.logger.Printf("file manager: %v", err)
		}
	}
}

// Handle handles one event of the acme log.
func (fm *FileManager) Handle(ctx context.Context, ev acme.LogEvent) error {
	if ev.Name == "" || strings.HasSuffix(ev.Name, "/") || strings.HasPrefix(ev.Name, "/LSP/") {
		return nil
	}
	switch ev.Op {
	case "new":
		return errors.Wrap(fm.didOpen(ctx, ev.ID, ev.Name), "didOpen failed")
	case "del":
		return errors.Wrap(fm.didClose(ctx, ev.Name), "didClose failed")
	case "get", "focus":
		return errors.Wrap(fm.didChange(ctx, ev.ID, ev.Name), "didChange failed")
	case "put":
		return errors.Wrap(fm.didSave(ctx, ev.ID, ev.Name), "didSave failed")
	}
	return nil
}

func (fm *FileManager) body(winid int) (string, error) {
	w, err := fm.acme.OpenWin(winid)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open window %v", winid)
	}
	defer w.CloseFiles()
	b, err := w.ReadAll("body")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (fm *FileManager) didOpen(ctx context.Context, winid int, name string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if _, ok := fm.files[name]; ok {
		return nil // another window on the same file
	}
	srv, lang, found, err := fm.ss.StartForFile(ctx, name)
	if err != nil || !found {
		return err
	}
	body, err := fm.body(winid)
	if err != nil {
		return err
	}
	fm.files[name] = srv
	return srv.Sync.DidOpen(ctx, text.ToURI(name), lang, body)
}

func (fm *FileManager) didClose(ctx context.Context, name string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	srv, ok := fm.files[name]
	if !ok {
		return nil // Unknown language server.
	}
	delete(fm.files, name)
	return srv.Sync.DidClose(ctx, text.ToURI(name))
}

func (fm *FileManager) didChange(ctx context.Context, winid int, name string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	srv, ok := fm.files[name]
	if !ok {
		return nil // Unknown language server.
	}
	body, err := fm.body(winid)
	if err != nil {
		return err
	}
	return srv.Sync.DidChange(ctx, text.ToURI(name), body)
}

func (fm *FileManager) didSave(ctx context.Context, winid int, name string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	srv, ok := fm.files[name]
	if !ok {
		return nil // Unknown language server.
	}
	uri := text.ToURI(name)
	body, err := fm.body(winid)
	if err != nil {
		return err
	}
	if err := srv.Sync.DidChange(ctx, uri, body); err != nil {
		return err
	}
	return srv.Sync.DidSave(ctx, uri)
}

// Files returns the URIs of the open files handled by a server.
func (fm *FileManager) Files() []protocol.DocumentURI {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	uris := make([]protocol.DocumentURI, 0, len(fm.files))
	for name := range fm.files {
		uris = append(uris, text.ToURI(name))
	}
	return uris
}
