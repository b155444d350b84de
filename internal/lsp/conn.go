package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
)

// RequestHandler handles a request sent by the server. The result is
// sent back as the response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles a notification sent by the server.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// ProgressHandler receives the values of a progress stream.
type ProgressHandler func(value json.RawMessage)

type boundRequest struct {
	h          RequestHandler
	sequential bool
}

type boundNotification struct {
	h NotificationHandler
}

type boundProgress struct {
	h ProgressHandler
}

// connConfig holds the callbacks a Connection reports to.
type connConfig struct {
	logger *log.Logger
	tracer *tracer

	// onError is called for transport errors with the number of
	// consecutive errors seen so far.
	onError func(c *Connection, err error, count int)

	// onClose is called once when the transport is closed.
	onClose func(c *Connection)
}

// Connection is a JSON-RPC connection to a language server. It is
// created for every start of a Client and thrown away when the client
// stops.
type Connection struct {
	rpc    *jsonrpc2.Conn
	cfg    connConfig
	ctx    context.Context
	cancel context.CancelFunc

	lastUsed int64 // unix nanoseconds; -1 if nothing was exchanged yet
	nextID   uint64

	mu            sync.Mutex
	requests      map[string]*boundRequest
	notifications map[string]*boundNotification
	progress      map[protocol.ProgressToken]*boundProgress
	inflight      map[jsonrpc2.ID]context.CancelFunc
	errorCount    int
	lane          []func()
	laneBusy      bool

	closeOnce sync.Once
}

func newConnection(ctx context.Context, rwc io.ReadWriteCloser, cfg connConfig) *Connection {
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}
	c := &Connection{
		cfg:           cfg,
		lastUsed:      -1,
		requests:      make(map[string]*boundRequest),
		notifications: make(map[string]*boundNotification),
		progress:      make(map[protocol.ProgressToken]*boundProgress),
		inflight:      make(map[jsonrpc2.ID]context.CancelFunc),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	var opts []jsonrpc2.ConnOpt
	if cfg.tracer != nil {
		opts = append(opts, cfg.tracer.connOpt())
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.rpc = jsonrpc2.NewConn(c.ctx, stream, c, opts...)

	go func() {
		<-c.rpc.DisconnectNotify()
		c.disconnected()
	}()
	return c
}

func (c *Connection) disconnected() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		for _, cancel := range c.inflight {
			cancel()
		}
		c.mu.Unlock()
		if c.cfg.onClose != nil {
			c.cfg.onClose(c)
		}
	})
}

// Done is closed when the transport is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.rpc.DisconnectNotify()
}

// Close closes the transport.
func (c *Connection) Close() error {
	err := c.rpc.Close()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}

// LastUsed returns when a message was last sent or received. It
// returns the zero time if nothing was exchanged yet.
func (c *Connection) LastUsed() time.Time {
	n := atomic.LoadInt64(&c.lastUsed)
	if n < 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastUsed, time.Now().UnixNano())
}

func (c *Connection) resetErrors() {
	c.mu.Lock()
	c.errorCount = 0
	c.mu.Unlock()
}

// noteSend updates the error count from the outcome of a send.
func (c *Connection) noteSend(err error) {
	switch {
	case err == nil:
		c.resetErrors()
	case errors.Is(err, jsonrpc2.ErrClosed):
		// The close handler deals with it.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		if _, ok := responseError(err); ok {
			// The server answered, so the transport is fine.
			c.resetErrors()
			return
		}
		c.mu.Lock()
		c.errorCount++
		count := c.errorCount
		c.mu.Unlock()
		if c.cfg.onError != nil {
			c.cfg.onError(c, err, count)
		}
	}
}

// SendRequest sends a request and waits for its response, which is
// decoded into result. If ctx is cancelled first, the server is told
// with $/cancelRequest and ctx.Err() is returned.
func (c *Connection) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	id := jsonrpc2.ID{Num: atomic.AddUint64(&c.nextID, 1)}
	c.touch()
	if ctx.Done() != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				err := c.rpc.Notify(c.ctx, protocol.MethodCancelRequest, &protocol.CancelParams{ID: id.Num})
				if err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
					c.cfg.logger.Printf("sending cancel for %v #%v failed: %v", method, id, err)
				}
			case <-done:
			}
		}()
	}
	err := c.rpc.Call(ctx, method, params, result, jsonrpc2.PickID(id))
	c.noteSend(err)
	if err == nil {
		c.touch()
	}
	return err
}

// SendNotification sends a notification.
func (c *Connection) SendNotification(ctx context.Context, method string, params interface{}) error {
	c.touch()
	err := c.rpc.Notify(ctx, method, params)
	c.noteSend(err)
	return err
}

// SendProgress sends a $/progress notification.
func (c *Connection) SendProgress(ctx context.Context, token protocol.ProgressToken, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.SendNotification(ctx, protocol.MethodProgress, &protocol.ProgressParams{
		Token: token,
		Value: b,
	})
}

// Initialize sends the initialize request.
func (c *Connection) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	if err := c.SendRequest(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown sends the shutdown request.
func (c *Connection) Shutdown(ctx context.Context) error {
	return c.SendRequest(ctx, protocol.MethodShutdown, nil, nil)
}

// Exit sends the exit notification.
func (c *Connection) Exit(ctx context.Context) error {
	return c.SendNotification(ctx, protocol.MethodExit, nil)
}

// bindRequest routes requests for method to h until the returned
// function is called. Requests bound as sequential are handled one
// at a time in the order they were received.
func (c *Connection) bindRequest(method string, h RequestHandler, sequential bool) func() {
	b := &boundRequest{h: h, sequential: sequential}
	c.mu.Lock()
	c.requests[method] = b
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.requests[method] == b {
			delete(c.requests, method)
		}
	}
}

func (c *Connection) bindNotification(method string, h NotificationHandler) func() {
	b := &boundNotification{h: h}
	c.mu.Lock()
	c.notifications[method] = b
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.notifications[method] == b {
			delete(c.notifications, method)
		}
	}
}

func (c *Connection) bindProgress(token protocol.ProgressToken, h ProgressHandler) func() {
	b := &boundProgress{h: h}
	c.mu.Lock()
	c.progress[token] = b
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.progress[token] == b {
			delete(c.progress, token)
		}
	}
}

// boundMethods returns the sorted request and notification methods
// currently routed to a handler.
func (c *Connection) boundMethods() (requests, notifications []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for m := range c.requests {
		requests = append(requests, m)
	}
	for m := range c.notifications {
		notifications = append(notifications, m)
	}
	sort.Strings(requests)
	sort.Strings(notifications)
	return requests, notifications
}

var _ jsonrpc2.Handler = (*Connection)(nil)

// Handle implements jsonrpc2.Handler. It runs on the connection's read
// loop, so notifications are handled in the order they arrive.
func (c *Connection) Handle(ctx context.Context, rpc *jsonrpc2.Conn, req *jsonrpc2.Request) {
	c.touch()
	c.resetErrors()

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	if req.Notif {
		c.handleNotification(ctx, req.Method, params)
		return
	}

	c.mu.Lock()
	b, ok := c.requests[req.Method]
	rctx, cancel := context.WithCancel(ctx)
	c.inflight[req.ID] = cancel
	c.mu.Unlock()

	run := func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, req.ID)
			c.mu.Unlock()
			cancel()
		}()
		if !ok {
			c.replyError(rpc, req.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeMethodNotFound,
				Message: fmt.Sprintf("unhandled method %v", req.Method),
			})
			return
		}
		result, err := b.h(rctx, params)
		if err != nil {
			c.replyError(rpc, req.ID, toResponseError(req.Method, err))
			return
		}
		if err := rpc.Reply(c.ctx, req.ID, result); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
			c.cfg.logger.Printf("reply to %v failed: %v", req.Method, err)
		}
	}
	if ok && b.sequential {
		c.enqueue(run)
		return
	}
	go run()
}

func (c *Connection) replyError(rpc *jsonrpc2.Conn, id jsonrpc2.ID, e *jsonrpc2.Error) {
	if err := rpc.ReplyWithError(c.ctx, id, e); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		c.cfg.logger.Printf("error reply failed: %v", err)
	}
}

// enqueue runs f after every function enqueued before it has returned.
func (c *Connection) enqueue(f func()) {
	c.mu.Lock()
	c.lane = append(c.lane, f)
	if c.laneBusy {
		c.mu.Unlock()
		return
	}
	c.laneBusy = true
	c.mu.Unlock()

	go func() {
		for {
			c.mu.Lock()
			if len(c.lane) == 0 {
				c.laneBusy = false
				c.mu.Unlock()
				return
			}
			next := c.lane[0]
			c.lane = c.lane[1:]
			c.mu.Unlock()
			next()
		}
	}()
}

func (c *Connection) handleNotification(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case protocol.MethodCancelRequest:
		var p protocol.CancelParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.cfg.logger.Printf("%v unmarshal failed: %v", method, err)
			return
		}
		var id jsonrpc2.ID
		switch v := p.ID.(type) {
		case float64:
			id = jsonrpc2.ID{Num: uint64(v)}
		case string:
			id = jsonrpc2.ID{Str: v, IsString: true}
		default:
			return
		}
		c.mu.Lock()
		cancel := c.inflight[id]
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return

	case protocol.MethodProgress:
		var p protocol.ProgressParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.cfg.logger.Printf("%v unmarshal failed: %v", method, err)
			return
		}
		c.mu.Lock()
		b := c.progress[p.Token]
		c.mu.Unlock()
		if b != nil {
			b.h(p.Value)
		}
		return
	}

	c.mu.Lock()
	b := c.notifications[method]
	c.mu.Unlock()
	if b == nil {
		if !strings.HasPrefix(method, "$/") {
			c.cfg.logger.Printf("unhandled notification %v", method)
		}
		return
	}
	b.h(ctx, params)
}
