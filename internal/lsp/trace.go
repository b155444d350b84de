package lsp

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/sourcegraph/jsonrpc2"
)

// TraceFormat selects how traced messages are written.
type TraceFormat string

const (
	TraceText TraceFormat = "text"
	TraceJSON TraceFormat = "json" // one JSON object per line
)

// tracer writes the messages sent and received on a connection to an
// output channel. Its level and format can change while the
// connection is in use.
type tracer struct {
	mu     sync.Mutex
	level  protocol.TraceValue
	format TraceFormat
	out    io.Writer
	now    func() time.Time

	// Remember requests so that responses can show the method.
	sent map[jsonrpc2.ID]string
	recv map[jsonrpc2.ID]string
}

func newTracer(out io.Writer) *tracer {
	return &tracer{
		level:  protocol.TraceOff,
		format: TraceText,
		out:    out,
		now:    time.Now,
		sent:   make(map[jsonrpc2.ID]string),
		recv:   make(map[jsonrpc2.ID]string),
	}
}

func (t *tracer) set(level protocol.TraceValue, format TraceFormat) {
	if level == "" {
		level = protocol.TraceOff
	}
	if format == "" {
		format = TraceText
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.level = level
	t.format = format
}

func (t *tracer) get() (protocol.TraceValue, TraceFormat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level, t.format
}

// connOpt hooks the tracer into a jsonrpc2 connection.
func (t *tracer) connOpt() jsonrpc2.ConnOpt {
	return func(c *jsonrpc2.Conn) {
		jsonrpc2.OnRecv(func(req *jsonrpc2.Request, resp *jsonrpc2.Response) {
			t.trace("receive", req, resp)
		})(c)
		jsonrpc2.OnSend(func(req *jsonrpc2.Request, resp *jsonrpc2.Response) {
			t.trace("send", req, resp)
		})(c)
	}
}

type traceRecord struct {
	Type      string           `json:"type"`
	Method    string           `json:"method,omitempty"`
	ID        *jsonrpc2.ID     `json:"id,omitempty"`
	Params    *json.RawMessage `json:"params,omitempty"`
	Result    *json.RawMessage `json:"result,omitempty"`
	Error     *jsonrpc2.Error  `json:"error,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func (t *tracer) trace(dir string, req *jsonrpc2.Request, resp *jsonrpc2.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Bookkeeping happens at every level so that a level change
	// in the middle of a request still shows the method.
	pending, matching := t.sent, t.recv
	if dir == "receive" {
		pending, matching = t.recv, t.sent
	}
	rec := traceRecord{Timestamp: t.now().UnixNano() / int64(time.Millisecond)}
	switch {
	case resp != nil:
		rec.Type = dir + "-response"
		id := resp.ID
		rec.ID = &id
		rec.Method = matching[resp.ID]
		if req != nil {
			rec.Method = req.Method
		}
		delete(matching, resp.ID)
		rec.Result = resp.Result
		rec.Error = resp.Error
	case req != nil && req.Notif:
		rec.Type = dir + "-notification"
		rec.Method = req.Method
		rec.Params = req.Params
	case req != nil:
		rec.Type = dir + "-request"
		id := req.ID
		rec.ID = &id
		rec.Method = req.Method
		rec.Params = req.Params
		pending[req.ID] = req.Method
	default:
		return
	}
	if rec.Method == "" {
		rec.Method = "(no matching request)"
	}

	switch t.level {
	case protocol.TraceMessages:
		rec.Params, rec.Result = nil, nil
	case protocol.TraceVerbose:
	default:
		return
	}
	if t.format == TraceJSON {
		b, err := json.Marshal(&rec)
		if err != nil {
			return
		}
		fmt.Fprintf(t.out, "%s\n", b)
		return
	}
	t.writeText(dir, &rec)
}

func (t *tracer) writeText(dir string, rec *traceRecord) {
	arrow := "<--"
	if dir == "receive" {
		arrow = "-->"
	}
	var kind string
	switch rec.Type {
	case dir + "-request":
		kind = "request #" + rec.ID.String()
	case dir + "-notification":
		kind = "notif"
	default:
		kind = "result #" + rec.ID.String()
		if rec.Error != nil {
			kind = "error #" + rec.ID.String()
		}
	}
	fmt.Fprintf(t.out, "jsonrpc2: %s %s: %s", arrow, kind, rec.Method)
	switch {
	case rec.Error != nil:
		b, _ := json.Marshal(rec.Error)
		fmt.Fprintf(t.out, ": %s", b)
	case rec.Params != nil:
		fmt.Fprintf(t.out, ": %s", *rec.Params)
	case rec.Result != nil:
		fmt.Fprintf(t.out, ": %s", *rec.Result)
	}
	fmt.Fprintf(t.out, "\n")
}
