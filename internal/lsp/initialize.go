package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const fileEventsDebounce = 100 * time.Millisecond

// initialize binds the client's handlers to conn and performs the
// initialize handshake, retrying as long as the failure handler or the
// user asks for it.
func (c *Client) initialize(ctx context.Context, conn *Connection) error {
	c.bindCore(conn)
	c.handlers.bind(conn)

	params := c.initializeParams()
	var part *ProgressPart
	if c.opts.ProgressOnInitialization {
		token := protocol.NewStringToken(uuid.New().String())
		params.WorkDoneToken = &token
		part = newProgressPart(token, c.opts.Host.Progress, c.logger)
		part.release = conn.bindProgress(token, part.handle)
	}

	for {
		res, err := conn.Initialize(ctx, params)
		if err == nil {
			err = c.initialized(ctx, conn, res)
			if part != nil {
				if err == nil {
					part.Done()
				} else {
					part.Cancel()
				}
			}
			return err
		}
		if c.retryInitialize(ctx, err) {
			continue
		}
		if part != nil {
			part.Cancel()
		}
		return errors.Wrap(err, "initialize failed")
	}
}

// retryInitialize reports whether a failed initialize request should
// be sent again.
func (c *Client) retryInitialize(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if h := c.opts.InitializationFailedHandler; h != nil {
		return h(err)
	}
	if e, ok := retryableInitError(err); ok {
		action, uerr := c.ui.ShowMessage(ctx, protocol.MTError, e.Message, "Retry", "Cancel")
		if uerr != nil {
			c.logger.Printf("asking to retry initialize failed: %v", uerr)
			return false
		}
		return action == "Retry"
	}
	c.Error(fmt.Sprintf("Server initialization failed: %v", err), nil, true)
	return false
}

func (c *Client) initializeParams() *protocol.InitializeParams {
	caps := protocol.Object{}
	c.fillClientCapabilities(caps)
	c.features.fillClientCapabilities(caps)

	level, _ := c.tracer.get()
	pid := os.Getpid()
	params := &protocol.InitializeParams{
		ProcessID: &pid,
		ClientInfo: &protocol.ClientInfo{
			Name:    c.opts.Name,
			Version: c.opts.Version,
		},
		InitializationOptions: c.opts.InitializationOptions,
		Capabilities:          caps,
		Trace:                 level,
	}
	if folders := c.WorkspaceFolders(); len(folders) > 0 {
		uri := folders[0].URI
		path := text.ToPath(uri)
		params.RootURI = &uri
		params.RootPath = &path
		params.WorkspaceFolders = folders
	}
	c.features.fillInitializeParams(params)
	return params
}

// fillClientCapabilities adds the capabilities the client itself
// implements.
func (c *Client) fillClientCapabilities(caps protocol.Object) {
	ws := caps.Ensure("workspace")
	ws.SetDefault("applyEdit", true)
	edit := ws.Ensure("workspaceEdit")
	edit.SetDefault("documentChanges", true)
	edit.SetDefault("resourceOperations", []protocol.ResourceOperationKind{
		protocol.CreateOp,
		protocol.RenameOp,
		protocol.DeleteOp,
	})

	general := caps.Ensure("general")
	general.SetDefault("positionEncodings", []protocol.PositionEncodingKind{protocol.UTF16})
	retry := append([]string{}, c.opts.CancelOnContentModified...)
	general.SetDefault("staleRequestSupport", map[string]interface{}{
		"cancel":                 true,
		"retryOnContentModified": retry,
	})

	diags := caps.EnsurePath("textDocument", "publishDiagnostics")
	diags.SetDefault("relatedInformation", true)
	diags.SetDefault("versionSupport", false)

	caps.EnsurePath("window", "showMessage", "messageActionItem").SetDefault("additionalPropertiesSupport", false)
}

// initialized finishes the handshake after the server answered the
// initialize request.
func (c *Client) initialized(ctx context.Context, conn *Connection, res *protocol.InitializeResult) error {
	switch enc := res.Capabilities.PositionEncoding; enc {
	case "", protocol.UTF16:
	default:
		err := &UnsupportedEncodingError{Encoding: enc}
		c.Error(err.Error(), nil, true)
		return err
	}

	c.mu.Lock()
	c.initResult = res
	c.syncOpts = res.Capabilities.TextDocumentSync.Resolve()
	notify := c.setStateLocked(Running)
	c.mu.Unlock()
	notify()

	if err := conn.SendNotification(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return errors.Wrap(err, "sending initialized failed")
	}
	if err := c.hookWorkspace(); err != nil {
		return err
	}
	if err := c.features.initialize(&res.Capabilities, c.opts.DocumentSelector); err != nil {
		c.Error("Initializing features failed", err, true)
		return err
	}
	return nil
}

// hookWorkspace starts following the host's configuration and the
// files named by FileEvents until the client is cleaned up.
func (c *Client) hookWorkspace() error {
	if ws := c.opts.Host.Workspace; ws != nil {
		c.addHook(ws.OnDidChangeConfiguration(c.refreshTrace))
	}

	if len(c.opts.FileEvents) > 0 {
		var globs []GlobWatch
		for _, pattern := range c.opts.FileEvents {
			g, err := protocol.CompileGlob(pattern)
			if err != nil {
				return errors.Wrapf(err, "invalid file events pattern %q", pattern)
			}
			globs = append(globs, GlobWatch{Glob: g})
		}
		var dirs []string
		for _, f := range c.WorkspaceFolders() {
			dirs = append(dirs, text.ToPath(f.URI))
		}
		w, err := NewFileWatcher(dirs, globs, fileEventsDebounce, c.logger, func(events []protocol.FileEvent) {
			err := c.SendNotification(context.Background(), protocol.MethodDidChangeWatchedFiles, &protocol.DidChangeWatchedFilesParams{
				Changes: events,
			})
			if err != nil {
				c.logger.Printf("%v: sending file events failed: %v", c.opts.Name, err)
			}
		})
		if err != nil {
			return errors.Wrap(err, "watching files failed")
		}
		c.addHook(func() { w.Close() })
	}

	if c.opts.Suspend.Mode != SuspendOff {
		ticker := time.NewTicker(c.opts.Suspend.Interval)
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-ticker.C:
					if c.IsIdle() {
						c.Debug("Client is idle.", nil)
					}
				case <-stop:
					return
				}
			}
		}()
		c.addHook(func() {
			ticker.Stop()
			close(stop)
		})
	}
	return nil
}

// bindCore binds the requests and notifications the client handles
// itself.
func (c *Client) bindCore(conn *Connection) {
	conn.bindNotification(protocol.MethodShowMessage, func(ctx context.Context, params json.RawMessage) {
		var p protocol.ShowMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Printf("%v: invalid params: %v", protocol.MethodShowMessage, err)
			return
		}
		go func() {
			if _, err := c.ui.ShowMessage(context.Background(), p.Type, p.Message); err != nil {
				c.logger.Printf("showing message failed: %v", err)
			}
		}()
	})
	conn.bindNotification(protocol.MethodLogMessage, func(ctx context.Context, params json.RawMessage) {
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Printf("%v: invalid params: %v", protocol.MethodLogMessage, err)
			return
		}
		fmt.Fprintf(c.output, "[%-7s - %s] %s\n", p.Type, time.Now().Format("15:04:05"), p.Message)
	})
	conn.bindNotification(protocol.MethodLogTrace, func(ctx context.Context, params json.RawMessage) {
		var p protocol.LogTraceParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Printf("%v: invalid params: %v", protocol.MethodLogTrace, err)
			return
		}
		fmt.Fprintf(c.output, "[Trace - %s] %s\n", time.Now().Format("15:04:05"), p.Message)
		if p.Verbose != "" {
			fmt.Fprintf(c.output, "%s\n", p.Verbose)
		}
	})
	conn.bindNotification(protocol.MethodTelemetryEvent, func(ctx context.Context, params json.RawMessage) {
		c.mu.Lock()
		fs := make([]func(json.RawMessage), len(c.telemetry))
		copy(fs, c.telemetry)
		c.mu.Unlock()
		for _, f := range fs {
			f(params)
		}
	})
	conn.bindNotification(protocol.MethodTextDocumentPublishDiagnostics, func(ctx context.Context, params json.RawMessage) {
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Printf("%v: invalid params: %v", protocol.MethodTextDocumentPublishDiagnostics, err)
			return
		}
		c.diagnostics.Publish(p.URI, p.Diagnostics)
	})

	conn.bindRequest(protocol.MethodShowMessageRequest, c.handleShowMessageRequest, false)
	conn.bindRequest(protocol.MethodRegisterCapability, c.handleRegistration, false)
	conn.bindRequest(protocol.MethodUnregisterCapability, c.handleUnregistration, false)
	conn.bindRequest(protocol.MethodApplyEdit, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ApplyWorkspaceEditParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return c.ApplyWorkspaceEdit(ctx, p.Label, &p.Edit)
	}, true)
}

func (c *Client) handleShowMessageRequest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.ShowMessageRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	titles := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		titles[i] = a.Title
	}
	title, err := c.ui.ShowMessage(ctx, p.Type, p.Message, titles...)
	if err != nil {
		return nil, err
	}
	for i := range p.Actions {
		if p.Actions[i].Title == title {
			return &p.Actions[i], nil
		}
	}
	return nil, nil
}

func (c *Client) handleRegistration(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.RegistrationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	// Registrations that arrive while the client is not running are
	// remembered so that their unregistration can be dropped too.
	if !c.IsRunning() {
		c.mu.Lock()
		for _, r := range p.Registrations {
			c.ignored[r.ID] = true
		}
		c.mu.Unlock()
		return nil, nil
	}

	for _, r := range p.Registrations {
		f, ok := c.features.lookup(r.Method)
		if !ok {
			return nil, &UnknownRegistrationError{Method: r.Method}
		}
		options, err := withDefaultSelector(r.RegisterOptions, c.opts.DocumentSelector)
		if err != nil {
			return nil, err
		}
		if err := f.Register(RegistrationData{ID: r.ID, RegisterOptions: options}); err != nil {
			return nil, errors.Wrapf(err, "registering %v failed", r.Method)
		}
	}
	return nil, nil
}

func (c *Client) handleUnregistration(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.UnregistrationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	for _, u := range p.Unregisterations {
		c.mu.Lock()
		ignored := c.ignored[u.ID]
		delete(c.ignored, u.ID)
		c.mu.Unlock()
		if ignored {
			continue
		}
		f, ok := c.features.lookup(u.Method)
		if !ok {
			return nil, &UnknownRegistrationError{Method: u.Method, Unregister: true}
		}
		if err := f.Unregister(u.ID); err != nil {
			return nil, errors.Wrapf(err, "unregistering %v failed", u.Method)
		}
	}
	return nil, nil
}
