// Package acmelsp runs language server clients for the acme text
// editor. It keeps the servers in sync with the files open in acme,
// shows diagnostics in the /LSP/Diagnostics window, applies workspace
// edits to windows and files, and plumbs documents the servers ask to
// show.
package acmelsp

import (
	"github.com/fhs/9fans-go/acme"
	"github.com/fhs/lspc/internal/acmeutil"
	"github.com/fhs/lspc/internal/lsp/text"
)

// Window is an open acme window.
type Window interface {
	text.File

	// ReadAll reads the whole content of a window file, such as "body".
	ReadAll(file string) ([]byte, error)

	CloseFiles()
}

// LogReader reads the acme log.
type LogReader interface {
	Read() (acme.LogEvent, error)
	Close() error
}

// Acme is a running acme.
type Acme interface {
	Windows() ([]acme.WinInfo, error)
	OpenWin(id int) (Window, error)
	Log() (LogReader, error)
}

// System is the acme of the current namespace.
var System Acme = systemAcme{}

type systemAcme struct{}

func (systemAcme) Windows() ([]acme.WinInfo, error) {
	return acme.Windows()
}

func (systemAcme) OpenWin(id int) (Window, error) {
	w, err := acmeutil.OpenWin(id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (systemAcme) Log() (LogReader, error) {
	r, err := acme.Log()
	if err != nil {
		return nil, err
	}
	return r, nil
}
