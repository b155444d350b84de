package lsp

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fhs/lspc/internal/lsp/lsptest"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
)

type fakeUI struct {
	mu       sync.Mutex
	messages []string
	action   string
}

func (u *fakeUI) ShowMessage(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = append(u.messages, message)
	return u.action, nil
}

type fakeDocuments struct {
	mu       sync.Mutex
	versions map[protocol.DocumentURI]int32
	applied  [][]DocumentEdit
}

func (d *fakeDocuments) Version(uri protocol.DocumentURI) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.versions[uri]
	return v, ok
}

func (d *fakeDocuments) ApplyEdit(ctx context.Context, label string, edits []DocumentEdit) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, edits)
	return true, nil
}

type fakeSink struct {
	mu    sync.Mutex
	diags map[protocol.DocumentURI][]HostDiagnostic
	more  chan struct{}
}

func (s *fakeSink) SetDiagnostics(uri protocol.DocumentURI, diags []HostDiagnostic) {
	s.mu.Lock()
	s.diags[uri] = diags
	s.mu.Unlock()
	s.more <- struct{}{}
}

func syncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncOptionsOrKind {
	return &protocol.TextDocumentSyncOptionsOrKind{Kind: &k}
}

func testClient(t *testing.T, srv *lsptest.Server, opts Options) *Client {
	opts.Transport = srv
	if opts.Logger == nil {
		opts.Logger = discardLogger
	}
	if opts.Host.Output == nil {
		opts.Host.Output = ioutil.Discard
	}
	if opts.Host.UI == nil {
		opts.Host.UI = &fakeUI{}
	}
	c := NewClient(opts)
	t.Cleanup(func() {
		c.Dispose(context.Background())
	})
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientStartStop(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{
		TextDocumentSync: syncKind(protocol.TDSKIncremental),
	})
	c := testClient(t, srv, Options{Name: "test"})

	var (
		mu     sync.Mutex
		events []string
	)
	c.OnDidChangeState(func(old, new PublicState) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, old.String()+"->"+new.String())
	})

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.State(); got != StateRunning {
		t.Errorf("state after Start is %v; want %v", got, StateRunning)
	}
	want := &protocol.TextDocumentSyncOptions{
		OpenClose: true,
		Change:    protocol.TDSKIncremental,
		Save:      &protocol.SaveOptions{IncludeText: false},
	}
	if diff := cmp.Diff(want, c.ResolvedTextDocumentSync()); diff != "" {
		t.Errorf("resolved sync options mismatch (-want +got):\n%s", diff)
	}

	msg, err := srv.Wait(ctx, protocol.MethodInitialize, 1)
	if err != nil {
		t.Fatal(err)
	}
	var params protocol.InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		t.Fatalf("invalid initialize params: %v", err)
	}
	if v, _ := params.Capabilities.Lookup("workspace", "applyEdit"); v != true {
		t.Errorf("workspace.applyEdit is %v; want true", v)
	}
	if v, _ := params.Capabilities.Lookup("general", "positionEncodings"); !cmp.Equal(v, []interface{}{"utf-16"}) {
		t.Errorf("general.positionEncodings is %v; want [utf-16]", v)
	}
	if params.RootURI != nil || params.WorkspaceFolders != nil {
		t.Errorf("root is %v with folders %v; want null without a workspace", params.RootURI, params.WorkspaceFolders)
	}
	if params.ClientInfo == nil || params.ClientInfo.Name != "test" {
		t.Errorf("client info is %v; want name test", params.ClientInfo)
	}

	if err := c.Stop(ctx, 0); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("state after Stop is %v; want %v", got, StateStopped)
	}
	if _, err := srv.Wait(ctx, protocol.MethodExit, 1); err != nil {
		t.Fatal(err)
	}
	wantMethods := []string{"initialize", "initialized", "shutdown", "exit"}
	if got := srv.Methods(); !cmp.Equal(got, wantMethods) {
		t.Errorf("server received %v; want %v", got, wantMethods)
	}
	mu.Lock()
	defer mu.Unlock()
	wantEvents := []string{"Stopped->Starting", "Starting->Running", "Running->Stopped"}
	if !cmp.Equal(events, wantEvents) {
		t.Errorf("state events are %v; want %v", events, wantEvents)
	}
}

func TestClientSyncCapabilityMissing(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	c := testClient(t, srv, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got := c.ResolvedTextDocumentSync()
	if got == nil || got.Change != protocol.TDSKNone || got.OpenClose {
		t.Errorf("resolved sync options are %+v; want change None without open/close", got)
	}
}

func TestClientUnsupportedEncoding(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{PositionEncoding: protocol.UTF8})
	c := testClient(t, srv, Options{})

	err := c.Start(ctx)
	var ee *UnsupportedEncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("Start returned %v; want UnsupportedEncodingError", err)
	}
	if ee.Encoding != protocol.UTF8 {
		t.Errorf("encoding is %v; want %v", ee.Encoding, protocol.UTF8)
	}
	if got := c.internalState(); got != StartFailed {
		t.Errorf("state is %v; want %v", got, StartFailed)
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("public state is %v; want %v", got, StateStopped)
	}
	if err := c.SendRequest(ctx, "textDocument/hover", nil, nil); err != ErrNotRunning {
		t.Errorf("SendRequest after failed start returned %v; want %v", err, ErrNotRunning)
	}
}

func TestClientInitializeRetry(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	var calls int
	srv.Handle(protocol.MethodInitialize, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		calls++
		if calls == 1 {
			data := json.RawMessage(`{"retry":true}`)
			return nil, &jsonrpc2.Error{Code: 1, Message: "not ready", Data: &data}
		}
		return &protocol.InitializeResult{}, nil
	})
	ui := &fakeUI{action: "Retry"}
	c := testClient(t, srv, Options{Host: Host{UI: ui}})

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("initialize sent %v times; want 2", calls)
	}
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if want := []string{"not ready"}; !cmp.Equal(ui.messages, want) {
		t.Errorf("user was asked %v; want %v", ui.messages, want)
	}
}

func TestClientConcurrentStop(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	c := testClient(t, srv, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Stop(ctx, 0)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("Stop #%v failed: %v", i, err)
		}
	}
	n := 0
	for _, m := range srv.Methods() {
		if m == protocol.MethodShutdown {
			n++
		}
	}
	if n != 1 {
		t.Errorf("server received %v shutdown requests; want 1", n)
	}
}

func TestClientStopTimeout(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	release := make(chan struct{})
	defer close(release)
	srv.Handle(protocol.MethodShutdown, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		<-release
		return nil, nil
	})
	c := testClient(t, srv, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Stop(ctx, 50*time.Millisecond); err != ErrStopTimeout {
		t.Errorf("Stop returned %v; want %v", err, ErrStopTimeout)
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("state after timed out Stop is %v; want %v", got, StateStopped)
	}
}

func TestClientLazyStart(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	srv.Handle("custom/echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return params, nil
	})
	c := testClient(t, srv, Options{})

	var got string
	if err := c.SendRequest(ctx, "custom/echo", "hello", &got); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("echo returned %q; want %q", got, "hello")
	}
	if !c.IsRunning() {
		t.Errorf("client is not running after a lazy start")
	}
}

func TestClientSendRequestCancel(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	release := make(chan struct{})
	defer close(release)
	srv.Handle("custom/slow", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		<-release
		return nil, nil
	})
	c := testClient(t, srv, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() {
		errc <- c.SendRequest(rctx, "custom/slow", nil, nil)
	}()
	msg, err := srv.Wait(ctx, "custom/slow", 1)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled request returned %v; want %v", err, context.Canceled)
	}

	msg, err = srv.Wait(ctx, protocol.MethodCancelRequest, 1)
	if err != nil {
		t.Fatal(err)
	}
	var p protocol.CancelParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		t.Fatalf("invalid cancel params: %v", err)
	}
	if _, ok := p.ID.(float64); !ok {
		t.Errorf("cancel id is %v; want a number", p.ID)
	}
}

func TestClientHandleFailedRequest(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	for method, code := range map[string]int64{
		"textDocument/hover":          CodeContentModified,
		"textDocument/semanticTokens": CodeContentModified,
		"textDocument/completion":     CodeServerCancelled,
		"textDocument/definition":     jsonrpc2.CodeInternalError,
	} {
		code := code
		srv.Handle(method, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			data := json.RawMessage(`{"retriggerRequest":false}`)
			return nil, &jsonrpc2.Error{Code: code, Message: "failed", Data: &data}
		})
	}
	c := testClient(t, srv, Options{
		CancelOnContentModified: []string{"textDocument/semanticTokens"},
	})

	result := "default"
	if err := c.SendRequest(ctx, "textDocument/hover", nil, &result); err != nil {
		t.Errorf("ContentModified returned %v; want nil", err)
	}
	if result != "default" {
		t.Errorf("result is %q; want the default", result)
	}

	var ce *CancellationError
	if err := c.SendRequest(ctx, "textDocument/semanticTokens", nil, nil); !errors.As(err, &ce) {
		t.Errorf("ContentModified for a cancel-on-modify method returned %v; want CancellationError", err)
	}
	err := c.SendRequest(ctx, "textDocument/completion", nil, nil)
	if !errors.As(err, &ce) {
		t.Fatalf("ServerCancelled returned %v; want CancellationError", err)
	}
	if string(ce.Data) != `{"retriggerRequest":false}` {
		t.Errorf("cancellation data is %s", ce.Data)
	}
	err = c.SendRequest(ctx, "textDocument/definition", nil, nil)
	if e, ok := responseError(err); !ok || e.Code != jsonrpc2.CodeInternalError {
		t.Errorf("internal error returned %v", err)
	}
}

func TestClientRegistration(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	var log callLog
	f := fakeDynamicFeature{newFakeFeature("sync", protocol.MethodTextDocumentDidChange, DocumentState, &log)}
	c := testClient(t, srv, Options{
		DocumentSelector: protocol.DocumentSelector{{Language: "go"}},
	})
	if err := c.RegisterFeature(f); err != nil {
		t.Fatalf("RegisterFeature failed: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := srv.Call(ctx, protocol.MethodRegisterCapability, &protocol.RegistrationParams{
		Registrations: []protocol.Registration{{ID: "r1", Method: protocol.MethodTextDocumentDidChange}},
	}, nil)
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	opts, ok := f.registration("r1")
	if !ok {
		t.Fatalf("feature did not receive registration r1")
	}
	var ro protocol.TextDocumentRegistrationOptions
	if err := json.Unmarshal(opts, &ro); err != nil {
		t.Fatalf("invalid registration options: %v", err)
	}
	if want := (protocol.DocumentSelector{{Language: "go"}}); !cmp.Equal(ro.DocumentSelector, want) {
		t.Errorf("registration selector is %v; want the client default %v", ro.DocumentSelector, want)
	}

	err = srv.Call(ctx, protocol.MethodRegisterCapability, &protocol.RegistrationParams{
		Registrations: []protocol.Registration{{ID: "r2", Method: "custom/unknown"}},
	}, nil)
	if _, ok := responseError(err); !ok {
		t.Errorf("registration of an unknown method returned %v; want an error response", err)
	}

	err = srv.Call(ctx, protocol.MethodUnregisterCapability, &protocol.UnregistrationParams{
		Unregisterations: []protocol.Unregistration{{ID: "r1", Method: protocol.MethodTextDocumentDidChange}},
	}, nil)
	if err != nil {
		t.Fatalf("unregistration failed: %v", err)
	}
	if _, ok := f.registration("r1"); ok {
		t.Errorf("registration r1 survived unregistration")
	}
}

func TestClientRestartAfterCrash(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	var log callLog
	c := testClient(t, srv, Options{})
	c.RegisterFeature(newFakeFeature("f", "", StaticState, &log))

	pings := make(chan struct{}, 10)
	c.OnNotification("custom/ping", func(ctx context.Context, params json.RawMessage) {
		pings <- struct{}{}
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := srv.Crash(); err != nil {
		t.Fatalf("Crash failed: %v", err)
	}
	if _, err := srv.Wait(ctx, protocol.MethodInitialized, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "restart", c.IsRunning)
	waitFor(t, "feature initialization", func() bool {
		n := 0
		for _, call := range log.get() {
			if call == "initialize f" {
				n++
			}
		}
		return n == 2
	})
	if n := srv.Opens(); n != 2 {
		t.Errorf("server was started %v times; want 2", n)
	}
	if err := srv.Notify(ctx, "custom/ping", nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-pings:
	case <-ctx.Done():
		t.Fatalf("handler was not rebound after restart")
	}
	if n := c.handlers.pending(); n != 0 {
		t.Errorf("%v handlers pending after restart", n)
	}
}

func TestClientCrashLoop(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	ui := &fakeUI{}
	c := testClient(t, srv, Options{
		MaxRestartCount: 1,
		Host:            Host{UI: ui},
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	srv.Crash()
	if _, err := srv.Wait(ctx, protocol.MethodInitialized, 2); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "restart", c.IsRunning)
	srv.Crash()
	waitFor(t, "stop", func() bool { return c.internalState() == Stopped })
	if n := srv.Opens(); n != 2 {
		t.Errorf("server was started %v times; want 2", n)
	}
	if err := c.SendNotification(ctx, "custom/ping", nil); err != ErrNotRunning {
		t.Errorf("SendNotification after giving up returned %v; want %v", err, ErrNotRunning)
	}
}

func TestClientStopDisposesFeatures(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	var log callLog
	c := testClient(t, srv, Options{})
	for _, name := range []string{"one", "two"} {
		c.RegisterFeature(newFakeFeature(name, "", StaticState, &log))
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Stop(ctx, 0); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	want := []string{
		"fill one", "fill two",
		"initialize one", "initialize two",
		"dispose two", "dispose one",
	}
	if diff := cmp.Diff(want, log.get()); diff != "" {
		t.Errorf("feature calls mismatch (-want +got):\n%s", diff)
	}
}

func TestClientFlushBeforeSend(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	srv.Handle("custom/req", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	var log callLog
	f := newFakeFeature("sync", "", StaticState, &log)
	c := testClient(t, srv, Options{})
	c.RegisterFeature(f)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.SendRequest(ctx, "custom/req", nil, nil); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if n := f.flushCount(); n != 1 {
		t.Errorf("flushes after a request: %v; want 1", n)
	}
	if err := c.SendNotification(ctx, protocol.MethodTextDocumentDidChange, nil); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if n := f.flushCount(); n != 1 {
		t.Errorf("flushes after didChange: %v; want 1", n)
	}
	if err := c.SendNotification(ctx, protocol.MethodTextDocumentDidSave, nil); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if n := f.flushCount(); n != 2 {
		t.Errorf("flushes after didSave: %v; want 2", n)
	}
}

func TestClientApplyEdit(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	docs := &fakeDocuments{versions: map[protocol.DocumentURI]int32{"file:///a.go": 3}}
	c := testClient(t, srv, Options{Host: Host{Documents: docs}})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	edit := func(version int32) *protocol.ApplyWorkspaceEditParams {
		return &protocol.ApplyWorkspaceEditParams{
			Label: "rename",
			Edit: protocol.WorkspaceEdit{
				DocumentChanges: []protocol.DocumentChange{{
					TextDocumentEdit: &protocol.TextDocumentEdit{
						TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{URI: "file:///a.go", Version: &version},
						Edits:        []protocol.TextEdit{{NewText: "x"}},
					},
				}},
			},
		}
	}

	var res protocol.ApplyWorkspaceEditResult
	if err := srv.Call(ctx, protocol.MethodApplyEdit, edit(2), &res); err != nil {
		t.Fatalf("applyEdit failed: %v", err)
	}
	if res.Applied {
		t.Errorf("stale edit was applied")
	}
	if err := srv.Call(ctx, protocol.MethodApplyEdit, edit(3), &res); err != nil {
		t.Fatalf("applyEdit failed: %v", err)
	}
	if !res.Applied {
		t.Errorf("current edit was not applied: %v", res.FailureReason)
	}
	docs.mu.Lock()
	defer docs.mu.Unlock()
	if len(docs.applied) != 1 {
		t.Errorf("host applied %v edits; want 1", len(docs.applied))
	}
}

func TestClientPublishDiagnostics(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	sink := &fakeSink{
		diags: make(map[protocol.DocumentURI][]HostDiagnostic),
		more:  make(chan struct{}, 10),
	}
	c := testClient(t, srv, Options{Host: Host{Diagnostics: sink}})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := srv.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         "file:///a.go",
		Diagnostics: []protocol.Diagnostic{{Message: "unused variable"}},
	})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	select {
	case <-sink.more:
	case <-ctx.Done():
		t.Fatalf("diagnostics were not delivered")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	d := sink.diags["file:///a.go"]
	if len(d) != 1 || d[0].Message != "unused variable" {
		t.Errorf("delivered diagnostics are %v", d)
	}
}

func TestClientShowMessageRequest(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	c := testClient(t, srv, Options{Host: Host{UI: &fakeUI{action: "Yes"}}})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	var item *protocol.MessageActionItem
	err := srv.Call(ctx, protocol.MethodShowMessageRequest, &protocol.ShowMessageRequestParams{
		Type:    protocol.Info,
		Message: "Download tools?",
		Actions: []protocol.MessageActionItem{{Title: "Yes"}, {Title: "No"}},
	}, &item)
	if err != nil {
		t.Fatalf("showMessageRequest failed: %v", err)
	}
	if item == nil || item.Title != "Yes" {
		t.Errorf("picked action is %v; want Yes", item)
	}
}

func TestClientDispose(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	c := testClient(t, srv, Options{})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Dispose(ctx); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if err := c.SendRequest(ctx, "custom/req", nil, nil); err != ErrClientDisposed {
		t.Errorf("SendRequest after Dispose returned %v; want %v", err, ErrClientDisposed)
	}
	if err := c.Start(ctx); err != ErrClientDisposed {
		t.Errorf("Start after Dispose returned %v; want %v", err, ErrClientDisposed)
	}
}

// brokenWriter fails every write once broken is set.
type brokenWriter struct {
	io.ReadWriteCloser
	broken *atomic.Bool
}

func (w brokenWriter) Write(p []byte) (int, error) {
	if w.broken.Load() {
		return 0, errors.New("broken pipe")
	}
	return w.ReadWriteCloser.Write(p)
}

func TestClientShutdownAfterTransportErrors(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	var broken atomic.Bool
	ui := &fakeUI{}
	c := NewClient(Options{
		Name: "test",
		Transport: TransportFunc(func(ctx context.Context, encoding string) (io.ReadWriteCloser, error) {
			rwc, err := srv.Open(ctx, encoding)
			if err != nil {
				return nil, err
			}
			return brokenWriter{rwc, &broken}, nil
		}),
		Host:   Host{Output: ioutil.Discard, UI: ui},
		Logger: discardLogger,
	})
	t.Cleanup(func() { c.Dispose(context.Background()) })
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	broken.Store(true)
	for i := 1; i <= maxErrorCount; i++ {
		if err := c.SendNotification(ctx, "custom/ping", nil); err == nil {
			t.Fatalf("SendNotification #%v succeeded over a broken transport", i)
		}
		if s := c.internalState(); s != Running {
			t.Fatalf("state after %v transport errors is %v; want %v", i, s, Running)
		}
	}
	if err := c.SendNotification(ctx, "custom/ping", nil); err == nil {
		t.Fatalf("SendNotification succeeded over a broken transport")
	}
	waitFor(t, "stop", func() bool { return c.internalState() == Stopped })
	waitFor(t, "error message", func() bool {
		ui.mu.Lock()
		defer ui.mu.Unlock()
		for _, m := range ui.messages {
			if strings.Contains(m, "connection to server is erroring") {
				return true
			}
		}
		return false
	})
	if got := c.State(); got != StateStopped {
		t.Errorf("public state is %v; want %v", got, StateStopped)
	}
}

func TestConnectionErrorCount(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	var counts []int
	conn := newConnection(context.Background(), a, connConfig{
		logger: discardLogger,
		onError: func(c *Connection, err error, count int) {
			counts = append(counts, count)
		},
	})
	defer conn.Close()

	broken := errors.New("broken pipe")
	for _, err := range []error{
		broken,
		broken,
		nil, // a message got through
		broken,
		&jsonrpc2.Error{Code: jsonrpc2.CodeInternalError}, // the server answered
		broken,
		context.Canceled,
		broken,
	} {
		conn.noteSend(err)
	}
	if diff := cmp.Diff([]int{1, 2, 1, 1, 2}, counts); diff != "" {
		t.Errorf("error counts mismatch (-want +got):\n%s", diff)
	}
}

func TestClientStopCancelsPendingRestart(t *testing.T) {
	ctx := testContext(t)
	srv := lsptest.NewServer(protocol.ServerCapabilities{})
	c := testClient(t, srv, Options{})

	// The state a closed connection leaves behind before the restart runs.
	c.mu.Lock()
	c.restarting = true
	c.mu.Unlock()

	if err := c.Stop(ctx, 0); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	c.restart()
	if s := c.internalState(); s != Stopped {
		t.Errorf("state is %v; want %v", s, Stopped)
	}
	if n := srv.Opens(); n != 0 {
		t.Errorf("server was started %v times after Stop; want 0", n)
	}
}
