// Package lsp implements a general LSP client runtime.
//
// A Client owns one connection to a language server at a time. It
// starts the server lazily, negotiates capabilities with the features
// registered on it, routes requests and notifications both ways and
// restarts the server according to its error policy.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Client is a language client.
type Client struct {
	opts   Options
	logger *log.Logger
	output io.Writer
	ui     UI
	tracer *tracer

	handlers    *handlerRegistry
	features    *featureRegistry
	diagnostics *DiagnosticsQueue
	edits       *EditSerializer

	cancelOnContentModified map[string]bool

	group singleflight.Group

	mu         sync.Mutex
	state      ClientState
	conn       *Connection
	startDone  chan struct{} // closed when the start in progress ends
	stopDone   chan struct{} // closed when the stop in progress ends
	restarting bool          // a restart after a close is pending
	initResult *protocol.InitializeResult
	syncOpts   *protocol.TextDocumentSyncOptions
	ignored    map[string]bool // registrations received while not running
	listeners  []stateListener
	telemetry  []func(json.RawMessage)
	hooks      []func() // undone on cleanup
	disposed   bool
}

type stateListener func(old, new PublicState)

// NewClient returns a client that is not started yet.
func NewClient(opts Options) *Client {
	opts.setDefaults()
	c := &Client{
		opts:                    opts,
		logger:                  opts.Logger,
		output:                  opts.Host.Output,
		ui:                      opts.Host.UI,
		handlers:                newHandlerRegistry(opts.Middleware.HandleWorkDoneProgress),
		features:                newFeatureRegistry(),
		edits:                   NewEditSerializer(),
		cancelOnContentModified: make(map[string]bool),
		state:                   Initial,
		ignored:                 make(map[string]bool),
	}
	if c.output == nil {
		c.output = &logWriter{logger: c.logger}
	}
	if c.ui == nil {
		c.ui = &logUI{logger: c.logger}
	}
	c.tracer = newTracer(c.output)
	for _, m := range opts.CancelOnContentModified {
		c.cancelOnContentModified[m] = true
	}

	convert := opts.Middleware.ConvertDiagnostics
	if convert == nil {
		convert = ConvertDiagnostics(c.rootPath())
	}
	c.diagnostics = NewDiagnosticsQueue(convert, c.deliverDiagnostics, opts.Middleware.HandleDiagnostics, c.logger)
	return c
}

// logWriter writes to a logger line by line.
type logWriter struct {
	logger *log.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Print(string(p))
	return len(p), nil
}

func (c *Client) Name() string { return c.opts.Name }

func (c *Client) Logger() *log.Logger { return c.logger }

// Output returns the output channel of the client.
func (c *Client) Output() io.Writer { return c.output }

// Host returns the host the client runs in.
func (c *Client) Host() *Host { return &c.opts.Host }

// DocumentSelector returns the client's default document selector.
func (c *Client) DocumentSelector() protocol.DocumentSelector { return c.opts.DocumentSelector }

// WorkspaceFolders returns the folders of the host workspace.
func (c *Client) WorkspaceFolders() []protocol.WorkspaceFolder {
	if c.opts.WorkspaceFolder != nil {
		return []protocol.WorkspaceFolder{*c.opts.WorkspaceFolder}
	}
	if c.opts.Host.Workspace == nil {
		return nil
	}
	return c.opts.Host.Workspace.Folders()
}

// State returns the public state of the client.
func (c *Client) State() PublicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Public()
}

func (c *Client) internalState() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRunning reports whether the client is connected and initialized.
func (c *Client) IsRunning() bool {
	return c.internalState() == Running
}

// OnDidChangeState calls f whenever the public state changes.
func (c *Client) OnDidChangeState(f func(old, new PublicState)) Disposable {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, f)
	i := len(c.listeners) - 1
	return DisposeFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners[i] = nil
	})
}

// OnTelemetry calls f for every telemetry/event the server sends.
func (c *Client) OnTelemetry(f func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telemetry = append(c.telemetry, f)
}

// setStateLocked changes the state and returns the function that
// notifies listeners. It must be called with c.mu held and the
// returned function called after c.mu is released.
func (c *Client) setStateLocked(s ClientState) func() {
	old := c.state.Public()
	c.state = s
	now := s.Public()
	if old == now {
		return func() {}
	}
	listeners := append([]stateListener(nil), c.listeners...)
	return func() {
		for _, f := range listeners {
			if f != nil {
				f(old, now)
			}
		}
	}
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	notify := c.setStateLocked(s)
	c.mu.Unlock()
	notify()
}

// InitializeResult returns the result of the last successful
// initialize handshake, or nil.
func (c *Client) InitializeResult() *protocol.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initResult
}

// ServerCapabilities returns the capabilities of the server, or nil if
// the client was never initialized.
func (c *Client) ServerCapabilities() *protocol.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initResult == nil {
		return nil
	}
	return &c.initResult.Capabilities
}

// ResolvedTextDocumentSync returns the server's text document sync
// options, with a bare sync kind expanded to options.
func (c *Client) ResolvedTextDocumentSync() *protocol.TextDocumentSyncOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncOpts
}

// RegisterFeature adds f to the client's features. It fails if f is a
// dynamic feature for a method that already has one.
func (c *Client) RegisterFeature(f Feature) error {
	return c.features.register(f)
}

// FeatureStates returns the state of every feature in registration order.
func (c *Client) FeatureStates() []FeatureState {
	return c.features.states()
}

// IsIdle reports whether no feature registration needs the server.
// It is always false when suspend mode is off.
func (c *Client) IsIdle() bool {
	return c.features.idle(c.opts.Suspend.Mode)
}

// OnRequest registers a handler for requests the server sends. If the
// client is running, it takes effect immediately; otherwise once the
// next connection is established.
func (c *Client) OnRequest(method string, h RequestHandler) Disposable {
	return c.handlers.onRequest(method, h)
}

// OnNotification registers a handler for notifications the server sends.
func (c *Client) OnNotification(method string, h NotificationHandler) Disposable {
	return c.handlers.onNotification(method, h)
}

// OnProgress registers a handler for the progress reported with token.
func (c *Client) OnProgress(kind ProgressKind, token protocol.ProgressToken, h ProgressHandler) Disposable {
	return c.handlers.onProgress(kind, token, h)
}

// Start connects to the server and initializes it. Concurrent calls
// share one attempt. Start waits for a stop in progress to finish.
func (c *Client) Start(ctx context.Context) error {
	_, err, _ := c.group.Do("start", func() (interface{}, error) {
		return nil, c.start(ctx)
	})
	return err
}

func (c *Client) start(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrClientDisposed
	}
	stopDone := c.stopDone
	c.mu.Unlock()
	if stopDone != nil {
		select {
		case <-stopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.state == Running {
		c.mu.Unlock()
		return nil
	}
	startDone := make(chan struct{})
	c.startDone = startDone
	c.restarting = false
	notify := c.setStateLocked(Starting)
	c.mu.Unlock()
	notify()

	defer func() {
		c.mu.Lock()
		c.startDone = nil
		c.mu.Unlock()
		close(startDone)
	}()

	c.refreshTrace()
	rwc, err := c.opts.Transport.Open(ctx, c.opts.Encoding)
	if err != nil {
		c.Error("Starting client failed", err, true)
		c.setState(StartFailed)
		return errors.Wrap(err, "opening transport failed")
	}
	conn := newConnection(context.Background(), rwc, connConfig{
		logger:  c.logger,
		tracer:  c.tracer,
		onError: c.handleConnectionError,
		onClose: c.handleConnectionClosed,
	})
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.initialize(ctx, conn); err != nil {
		c.handlers.unbind()
		c.mu.Lock()
		c.conn = nil
		notify := c.setStateLocked(StartFailed)
		c.mu.Unlock()
		notify()
		c.cleanUp()
		conn.Close()
		return err
	}
	return nil
}

// Stop shuts the server down and closes the connection. Concurrent
// calls share one attempt. If the server does not finish the shutdown
// and exit handshake within timeout (the configured stop timeout if
// zero), Stop returns ErrStopTimeout; the client is stopped either way.
func (c *Client) Stop(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.opts.StopTimeout
	}
	_, err, _ := c.group.Do("stop", func() (interface{}, error) {
		return nil, c.stop(ctx, timeout)
	})
	return err
}

func (c *Client) stop(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.restarting && c.state == Initial {
		c.restarting = false
		notify := c.setStateLocked(Stopped)
		c.mu.Unlock()
		notify()
		return nil
	}
	if c.state == Initial || c.state == Stopped {
		c.mu.Unlock()
		return nil
	}
	startDone := c.startDone
	c.mu.Unlock()

	// Let a start in progress finish so that there is a connection
	// to shut down.
	if startDone != nil {
		select {
		case <-startDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if c.state == Initial || c.state == Stopped {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	stopDone := make(chan struct{})
	c.stopDone = stopDone
	notify := c.setStateLocked(Stopping)
	c.mu.Unlock()
	notify()

	defer func() {
		if conn != nil {
			if err := conn.Close(); err != nil {
				c.logger.Printf("closing connection failed: %v", err)
			}
		}
		c.handlers.unbind()
		c.mu.Lock()
		c.conn = nil
		c.stopDone = nil
		notify := c.setStateLocked(Stopped)
		c.mu.Unlock()
		close(stopDone)
		notify()
	}()

	c.cleanUp()
	if conn == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := conn.Shutdown(sctx)
	if err == nil {
		err = conn.Exit(sctx)
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case sctx.Err() != nil:
		c.Error("Stopping server timed out", nil, false)
		return ErrStopTimeout
	}
	c.Error("Stopping server failed", err, false)
	return errors.Wrap(err, "stopping server failed")
}

// Dispose stops the client for good. Later calls of Start and the
// send methods fail with ErrClientDisposed.
func (c *Client) Dispose(ctx context.Context) error {
	err := c.Stop(ctx, 0)
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	return err
}

// cleanUp drops everything tied to the current connection except the
// connection itself.
func (c *Client) cleanUp() {
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	c.diagnostics.Clear()
	c.features.dispose()

	c.mu.Lock()
	c.ignored = make(map[string]bool)
	c.mu.Unlock()
}

func (c *Client) addHook(undo func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, undo)
}

func (c *Client) handleConnectionError(conn *Connection, err error, count int) {
	res := c.opts.ErrorHandler.Error(err, count)
	if res.Action != Shutdown {
		c.logger.Printf("%v: transport error (%d): %v", c.opts.Name, count, err)
		return
	}
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("Client %v: connection to server is erroring. Shutting down server.", c.opts.Name)
	}
	if !res.Handled || res.Message != "" {
		c.Error(msg, err, true)
	}
	go func() {
		if err := c.Stop(context.Background(), 0); err != nil {
			c.logger.Printf("%v: stop after transport errors failed: %v", c.opts.Name, err)
		}
	}()
}

func (c *Client) handleConnectionClosed(conn *Connection) {
	c.mu.Lock()
	// Closes during start are reported by the start itself, and closes
	// during stop are expected.
	if conn != c.conn || c.state != Running || c.disposed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	res := c.opts.ErrorHandler.Closed()
	c.cleanUp()
	c.handlers.unbind()

	if res.Action == DoNotRestart {
		msg := res.Message
		if msg == "" {
			msg = "Connection to server got closed. Server will not be restarted."

		}
		if !res.Handled || res.Message != "" {
			c.Error(msg, nil, true)
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		notify := c.setStateLocked(Stopped)
		c.mu.Unlock()
		notify()
		return
	}

	msg := res.Message
	if msg == "" {
		msg = "Connection to server got closed. Server will restart."
	}
	if !res.Handled || res.Message != "" {
		c.Info(msg, nil, false)
	}
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.restarting = true
	notify := c.setStateLocked(Initial)
	c.mu.Unlock()
	notify()
	go c.restart()
}

// restart starts the client again after its connection was closed,
// unless it was stopped in the meantime.
func (c *Client) restart() {
	c.mu.Lock()
	pending := c.restarting
	c.restarting = false
	c.mu.Unlock()
	if !pending {
		return
	}
	if err := c.Start(context.Background()); err != nil {
		c.Error("Restarting server failed", err, true)
	}
}

// connection returns the connection to send on, starting the client
// if it has not been started yet.
func (c *Client) connection(ctx context.Context) (*Connection, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrClientDisposed
	}
	switch c.state {
	case StartFailed, Stopping, Stopped:
		c.mu.Unlock()
		return nil, ErrNotRunning
	case Running:
		if conn := c.conn; conn != nil {
			c.mu.Unlock()
			return conn, nil
		}
	}
	c.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running || c.conn == nil {
		return nil, ErrNotRunning
	}
	return c.conn, nil
}

// SendRequest sends a request to the server, starting the client if
// necessary, and decodes the response into result. Buffered document
// changes are flushed first. If the server answers ContentModified,
// result is left untouched and nil is returned, unless the method is
// one of the client's CancelOnContentModified methods.
func (c *Client) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if err := c.features.flush(ctx); err != nil {
		c.Error(fmt.Sprintf("Flushing document changes before %v failed.", method), err, false)
		return err
	}
	if err := conn.SendRequest(ctx, method, params, result); err != nil {
		return c.HandleFailedRequest(ctx, method, err)
	}
	return nil
}

// SendNotification sends a notification to the server, starting the
// client if necessary. Buffered document changes are flushed first,
// except when the notification is itself a document change.
func (c *Client) SendNotification(ctx context.Context, method string, params interface{}) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if method != protocol.MethodTextDocumentDidChange {
		if err := c.features.flush(ctx); err != nil {
			c.Error(fmt.Sprintf("Flushing document changes before %v failed.", method), err, false)
			return err
		}
	}
	if err := conn.SendNotification(ctx, method, params); err != nil {
		c.Error(fmt.Sprintf("Sending notification %v failed.", method), err, false)
		return err
	}
	return nil
}

// SendProgress reports progress for token to the server.
func (c *Client) SendProgress(ctx context.Context, token protocol.ProgressToken, value interface{}) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if err := c.features.flush(ctx); err != nil {
		return err
	}
	if err := conn.SendProgress(ctx, token, value); err != nil {
		c.Error("Sending progress failed.", err, false)
		return err
	}
	return nil
}

// HandleFailedRequest maps the error of a failed request. Cancellation
// and ContentModified answers are not logged: a cancellation becomes
// ctx.Err() if ctx is done and a CancellationError otherwise, and
// ContentModified becomes nil (use the default result) unless method
// must be cancelled instead. Other errors are logged and returned.
func (c *Client) HandleFailedRequest(ctx context.Context, method string, err error) error {
	if e, ok := responseError(err); ok {
		switch e.Code {
		case CodeRequestCancelled, CodeServerCancelled:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ce := &CancellationError{Method: method}
			if e.Data != nil {
				ce.Data = *e.Data
			}
			return ce
		case CodeContentModified:
			if c.cancelOnContentModified[method] {
				return &CancellationError{Method: method}
			}
			return nil
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.Error(fmt.Sprintf("Request %v failed.", method), err, false)
	return err
}

// ApplyWorkspaceEdit converts edit and hands it to the host. Edits are
// converted and applied one at a time in the order they arrive. An
// edit computed against a version other than that of the open
// document is refused.
func (c *Client) ApplyWorkspaceEdit(ctx context.Context, label string, edit *protocol.WorkspaceEdit) (*protocol.ApplyWorkspaceEditResult, error) {
	docs := c.opts.Host.Documents
	if docs == nil {
		return &protocol.ApplyWorkspaceEditResult{FailureReason: "no document store"}, nil
	}
	convert := c.opts.Middleware.ConvertWorkspaceEdit
	if convert == nil {
		convert = ConvertWorkspaceEdit
	}

	var res protocol.ApplyWorkspaceEditResult
	err := c.edits.Do(ctx, func(ctx context.Context) error {
		edits, err := convert(ctx, edit)
		if err != nil {
			return err
		}
		if e, stale := staleEdit(edits, docs.Version); stale {
			res.FailureReason = fmt.Sprintf("version %v of %v is not open", *e.Version, e.URI)
			return nil
		}
		ok, err := docs.ApplyEdit(ctx, label, edits)
		if err != nil {
			res.FailureReason = err.Error()
			return nil
		}
		res.Applied = ok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) deliverDiagnostics(uri protocol.DocumentURI, diags []HostDiagnostic) {
	if sink := c.opts.Host.Diagnostics; sink != nil {
		sink.SetDiagnostics(uri, diags)
		return
	}
	for i := range diags {
		c.logger.Printf("%v", &diags[i])
	}
}

func (c *Client) rootPath() string {
	if f := c.WorkspaceFolders(); len(f) > 0 {
		return text.ToPath(f[0].URI)
	}
	return ""
}

// refreshTrace reads the trace setting of the workspace and tells the
// server about a change.
func (c *Client) refreshTrace() {
	if c.opts.Host.Workspace == nil {
		return
	}
	level, format := c.opts.Host.Workspace.Trace()
	old, _ := c.tracer.get()
	c.tracer.set(level, format)
	level, _ = c.tracer.get()

	c.mu.Lock()
	conn := c.conn
	running := c.state == Running
	c.mu.Unlock()
	if running && conn != nil && old != level {
		err := conn.SendNotification(context.Background(), protocol.MethodSetTrace, &protocol.SetTraceParams{Value: level})
		if err != nil {
			c.logger.Printf("%v: sending trace setting failed: %v", c.opts.Name, err)
		}
	}
}

// Notifications written to the output channel and, depending on
// RevealOutputOn or force, shown to the user.

func (c *Client) Debug(message string, err error) {
	c.notify(protocol.Debug, message, err, false)
}

func (c *Client) Info(message string, err error, force bool) {
	c.notify(protocol.Info, message, err, force)
}

func (c *Client) Warn(message string, err error, force bool) {
	c.notify(protocol.MTWarning, message, err, force)
}

func (c *Client) Error(message string, err error, force bool) {
	c.notify(protocol.MTError, message, err, force)
}

func (c *Client) notify(typ protocol.MessageType, message string, err error, force bool) {
	line := fmt.Sprintf("[%-7s - %s] %s", typ, time.Now().Format("15:04:05"), message)
	if err != nil {
		line += "\n" + err.Error()
	}
	fmt.Fprintln(c.output, line)

	if force || c.reveal(typ) {
		go func() {
			if _, err := c.ui.ShowMessage(context.Background(), typ, message); err != nil {
				c.logger.Printf("showing message failed: %v", err)
			}
		}()
	}
}

func (c *Client) reveal(typ protocol.MessageType) bool {
	var level RevealOutputOn
	switch typ {
	case protocol.MTError:
		level = RevealError
	case protocol.MTWarning:
		level = RevealWarn
	case protocol.Info:
		level = RevealInfo
	default:
		return false
	}
	return level >= c.opts.RevealOutputOn && c.opts.RevealOutputOn != RevealNever
}
