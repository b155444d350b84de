// Package lsptest provides an in-memory language server for testing
// language clients.
package lsptest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
)

// Handler answers a request or handles a notification. The result is
// ignored for notifications.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Message is a message the server received.
type Message struct {
	Method string
	Params json.RawMessage
	Notif  bool
	Conn   int // number of the connection it arrived on, starting at 1
}

// Server is a fake language server. Every Open starts a new
// connection to it, as if the server process had been started again.
// By default it answers initialize with Capabilities and shutdown with
// null, closes the connection on exit, and answers other requests with
// MethodNotFound.
type Server struct {
	Capabilities protocol.ServerCapabilities

	mu       sync.Mutex
	handlers map[string]Handler
	received []Message
	changed  chan struct{} // closed and replaced whenever a message arrives
	conn     *jsonrpc2.Conn
	opens    int
}

// NewServer returns a server announcing caps.
func NewServer(caps protocol.ServerCapabilities) *Server {
	return &Server{
		Capabilities: caps,
		handlers:     make(map[string]Handler),
		changed:      make(chan struct{}),
	}
}

// Handle sets the handler for method, replacing the default.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Open connects a new client to the server.
func (s *Server) Open(ctx context.Context, encoding string) (io.ReadWriteCloser, error) {
	p0, p1 := net.Pipe()
	s.mu.Lock()
	s.opens++
	n := s.opens
	h := &connHandler{s: s, n: n}
	s.conn = jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(p1, jsonrpc2.VSCodeObjectCodec{}), h)
	s.mu.Unlock()
	return p0, nil
}

// Opens returns how many connections were opened.
func (s *Server) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *Server) current() (*jsonrpc2.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("no connection")
	}
	return s.conn, nil
}

// Call sends a request to the client on the current connection.
func (s *Server) Call(ctx context.Context, method string, params, result interface{}) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	return conn.Call(ctx, method, params, result)
}

// Notify sends a notification to the client on the current connection.
func (s *Server) Notify(ctx context.Context, method string, params interface{}) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	return conn.Notify(ctx, method, params)
}

// Crash closes the current connection without the shutdown handshake.
func (s *Server) Crash() error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	return conn.Close()
}

// Received returns the messages received so far in order.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.received...)
}

// Methods returns the methods of the messages received so far.
func (s *Server) Methods() []string {
	var methods []string
	for _, m := range s.Received() {
		methods = append(methods, m.Method)
	}
	return methods
}

// Wait waits until the n-th message (counting from 1) for method has
// been received and returns it.
func (s *Server) Wait(ctx context.Context, method string, n int) (Message, error) {
	for {
		s.mu.Lock()
		changed := s.changed
		count := 0
		for _, m := range s.received {
			if m.Method == method {
				count++
				if count == n {
					s.mu.Unlock()
					return m, nil
				}
			}
		}
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Message{}, errors.Wrapf(ctx.Err(), "waiting for %v #%d", method, n)
		}
	}
}

func (s *Server) record(m Message) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, m)
	close(s.changed)
	s.changed = make(chan struct{})
	return s.handlers[m.Method]
}

// connHandler handles the messages of one connection.
type connHandler struct {
	s *Server
	n int
}

func (h *connHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	handler := h.s.record(Message{
		Method: req.Method,
		Params: params,
		Notif:  req.Notif,
		Conn:   h.n,
	})

	if req.Notif {
		if handler != nil {
			handler(ctx, params)
		}
		if req.Method == protocol.MethodExit {
			go conn.Close()
		}
		return
	}

	go func() {
		var (
			result interface{}
			err    error
		)
		switch {
		case handler != nil:
			result, err = handler(ctx, params)
		case req.Method == protocol.MethodInitialize:
			h.s.mu.Lock()
			result = &protocol.InitializeResult{Capabilities: h.s.Capabilities}
			h.s.mu.Unlock()
		case req.Method == protocol.MethodShutdown:
		default:
			err = &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
		}
		if err != nil {
			var e *jsonrpc2.Error
			if !errors.As(err, &e) {
				e = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
			}
			conn.ReplyWithError(ctx, req.ID, e)
			return
		}
		conn.Reply(ctx, req.ID, result)
	}()
}
