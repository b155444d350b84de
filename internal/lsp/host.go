package lsp

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// UI shows messages to the user.
type UI interface {
	// ShowMessage shows message and returns the title of the action
	// the user picked, or "" if there was none.
	ShowMessage(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error)
}

// DiagnosticsSink receives the converted diagnostics of a document,
// replacing the ones it received before.
type DiagnosticsSink interface {
	SetDiagnostics(uri protocol.DocumentURI, diags []HostDiagnostic)
}

// Documents is the host's store of open documents.
type Documents interface {
	// Version returns the version of uri if it is open.
	Version(uri protocol.DocumentURI) (version int32, open bool)

	// ApplyEdit applies the edits and reports whether it succeeded.
	ApplyEdit(ctx context.Context, label string, edits []DocumentEdit) (bool, error)
}

// ProgressSink shows work done progress.
type ProgressSink interface {
	Progress(token protocol.ProgressToken, p *protocol.WorkDoneProgress)
}

// Workspace is the host's workspace and configuration store.
type Workspace interface {
	Folders() []protocol.WorkspaceFolder

	// Trace returns the configured trace level and format.
	Trace() (protocol.TraceValue, TraceFormat)

	// OnDidChangeConfiguration calls f whenever the configuration
	// changes, until the returned function is called.
	OnDidChangeConfiguration(f func()) (cancel func())
}

// Host is the editor a client runs in. Nil fields get defaults that
// log instead of showing anything.
type Host struct {
	UI          UI
	Output      io.Writer
	Diagnostics DiagnosticsSink
	Documents   Documents
	Progress    ProgressSink
	Workspace   Workspace
}

// logUI is the UI used when the host has none.
type logUI struct {
	logger *log.Logger
}

func (u *logUI) ShowMessage(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error) {
	if len(actions) > 0 {
		u.logger.Printf("%v: %v [%v]", typ, message, strings.Join(actions, ", "))
	} else {
		u.logger.Printf("%v: %v", typ, message)
	}
	return "", nil
}

// StaticWorkspace is a Workspace with fixed folders and settings.
type StaticWorkspace struct {
	WorkspaceFolders []protocol.WorkspaceFolder
	TraceValue       protocol.TraceValue
	TraceFormat      TraceFormat
}

func (w *StaticWorkspace) Folders() []protocol.WorkspaceFolder { return w.WorkspaceFolders }

func (w *StaticWorkspace) Trace() (protocol.TraceValue, TraceFormat) {
	return w.TraceValue, w.TraceFormat
}

func (w *StaticWorkspace) OnDidChangeConfiguration(f func()) func() { return func() {} }
