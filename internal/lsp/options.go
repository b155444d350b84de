package lsp

import (
	"log"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// RevealOutputOn is the lowest message severity that is shown to the
// user in addition to being written to the output.
type RevealOutputOn int

const (
	RevealInfo RevealOutputOn = iota + 1
	RevealWarn
	RevealError
	RevealNever
)

// SuspendMode controls idle detection.
type SuspendMode int

const (
	SuspendOff SuspendMode = iota

	// SuspendOn considers the client idle when no open document
	// matches any document-scoped registration.
	SuspendOn

	// SuspendActivationOnly considers the client idle only when no
	// feature reporting Activation has a registration.
	SuspendActivationOnly
)

type SuspendOptions struct {
	Mode SuspendMode

	// Interval is how often idleness is checked.
	Interval time.Duration
}

// Middleware intercepts what flows from the server to the host.
type Middleware struct {
	HandleDiagnostics      HandleDiagnosticsMiddleware
	HandleWorkDoneProgress WorkDoneProgressMiddleware
	ConvertDiagnostics     DiagnosticsConverter
	ConvertWorkspaceEdit   WorkspaceEditConverter
}

// Options configures a Client.
type Options struct {
	// Name identifies the client in messages.
	Name    string
	Version string

	Transport Transport
	Host      Host

	// Encoding is passed to the transport. It defaults to utf-8.
	Encoding string

	// DocumentSelector is the default selector of registrations that
	// come without one.
	DocumentSelector protocol.DocumentSelector

	// WorkspaceFolder, if set, is used as the root instead of the
	// first folder of the workspace.
	WorkspaceFolder *protocol.WorkspaceFolder

	InitializationOptions interface{}

	// InitializationFailedHandler decides whether a failed initialize
	// handshake is retried.
	InitializationFailedHandler func(err error) bool

	// ProgressOnInitialization reports the initialize handshake as
	// work done progress.
	ProgressOnInitialization bool

	// FileEvents are globs of files whose changes are sent to the
	// server with workspace/didChangeWatchedFiles.
	FileEvents []string

	ErrorHandler    ErrorHandler
	MaxRestartCount int
	RevealOutputOn  RevealOutputOn
	Suspend         SuspendOptions
	StopTimeout     time.Duration

	// CancelOnContentModified lists the methods whose requests are
	// reported as cancelled, instead of resolving to the default
	// value, when the server answers ContentModified.
	CancelOnContentModified []string

	Middleware Middleware
	Logger     *log.Logger
}

const (
	defaultMaxRestartCount = 4
	defaultStopTimeout     = 2 * time.Second
	defaultSuspendInterval = 60 * time.Second
)

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "lsp"
	}
	if o.Encoding == "" {
		o.Encoding = "utf-8"
	}
	if o.MaxRestartCount == 0 {
		o.MaxRestartCount = defaultMaxRestartCount
	}
	if o.RevealOutputOn == 0 {
		o.RevealOutputOn = RevealError
	}
	if o.StopTimeout == 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.Suspend.Interval == 0 {
		o.Suspend.Interval = defaultSuspendInterval
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = NewDefaultErrorHandler(o.Name, o.MaxRestartCount)
	}
}
