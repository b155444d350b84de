package lsp

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// HostDiagnostic is a diagnostic converted for display by the host.
type HostDiagnostic struct {
	// Location is the diagnostic range formatted by LocationLink.
	Location string
	Severity protocol.DiagnosticSeverity
	Source   string
	Message  string

	Diagnostic protocol.Diagnostic
}

func (d *HostDiagnostic) String() string {
	if d.Source != "" {
		return fmt.Sprintf("%v: [%v] %v", d.Location, d.Source, d.Message)
	}
	return fmt.Sprintf("%v: %v", d.Location, d.Message)
}

// DiagnosticsConverter converts the diagnostics of one document to
// their host representation. It should give up once ctx is done.
type DiagnosticsConverter func(ctx context.Context, uri protocol.DocumentURI, diags []protocol.Diagnostic) ([]HostDiagnostic, error)

// HandleDiagnosticsMiddleware intercepts converted diagnostics before
// they reach the host. It decides whether to call next.
type HandleDiagnosticsMiddleware func(uri protocol.DocumentURI, diags []HostDiagnostic, next func(protocol.DocumentURI, []HostDiagnostic))

// ConvertDiagnostics is the default DiagnosticsConverter. Locations are
// made relative to basedir when that is shorter.
func ConvertDiagnostics(basedir string) DiagnosticsConverter {
	return func(ctx context.Context, uri protocol.DocumentURI, diags []protocol.Diagnostic) ([]HostDiagnostic, error) {
		out := make([]HostDiagnostic, 0, len(diags))
		for _, d := range diags {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out = append(out, HostDiagnostic{
				Location:   LocationLink(&protocol.Location{URI: uri, Range: d.Range}, basedir),
				Severity:   d.Severity,
				Source:     d.Source,
				Message:    d.Message,
				Diagnostic: d,
			})
		}
		return out, nil
	}
}

type diagnosticsWork struct {
	uri    protocol.DocumentURI
	cancel context.CancelFunc
}

// DiagnosticsQueue delivers published diagnostics to the host one
// document at a time. Only the latest batch for a document is kept;
// a batch for the document being converted cancels that conversion.
type DiagnosticsQueue struct {
	convert    DiagnosticsConverter
	deliver    func(protocol.DocumentURI, []HostDiagnostic)
	middleware HandleDiagnosticsMiddleware
	logger     *log.Logger

	mu       sync.Mutex
	pending  map[protocol.DocumentURI][]protocol.Diagnostic
	order    []protocol.DocumentURI // keys of pending in insertion order
	busy     *diagnosticsWork       // nil when idle
	draining bool
	epoch    int
}

// NewDiagnosticsQueue returns a queue that converts diagnostics with
// convert and hands the result to deliver, through middleware if it
// is not nil.
func NewDiagnosticsQueue(convert DiagnosticsConverter, deliver func(protocol.DocumentURI, []HostDiagnostic), middleware HandleDiagnosticsMiddleware, logger *log.Logger) *DiagnosticsQueue {
	if logger == nil {
		logger = log.Default()
	}
	return &DiagnosticsQueue{
		convert:    convert,
		deliver:    deliver,
		middleware: middleware,
		logger:     logger,
		pending:    make(map[protocol.DocumentURI][]protocol.Diagnostic),
	}
}

// Publish replaces the pending diagnostics of uri.
func (q *DiagnosticsQueue) Publish(uri protocol.DocumentURI, diags []protocol.Diagnostic) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[uri]; !ok {
		q.order = append(q.order, uri)
	}
	q.pending[uri] = diags
	if q.busy != nil && q.busy.uri == uri {
		q.busy.cancel()
	}
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

// Clear drops pending diagnostics and cancels the conversion in
// progress. Nothing published before Clear is delivered afterwards.
func (q *DiagnosticsQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = make(map[protocol.DocumentURI][]protocol.Diagnostic)
	q.order = nil
	if q.busy != nil {
		q.busy.cancel()
	}
	q.epoch++
}

// Idle reports whether nothing is pending or being converted.
func (q *DiagnosticsQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.order) == 0
}

func (q *DiagnosticsQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.order) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		uri := q.order[0]
		q.order = q.order[1:]
		diags := q.pending[uri]
		delete(q.pending, uri)
		ctx, cancel := context.WithCancel(context.Background())
		work := &diagnosticsWork{uri: uri, cancel: cancel}
		q.busy = work
		epoch := q.epoch
		q.mu.Unlock()

		q.process(ctx, uri, diags, epoch)

		cancel()
		q.mu.Lock()
		if q.busy == work {
			q.busy = nil
		}
		q.mu.Unlock()
	}
}

func (q *DiagnosticsQueue) process(ctx context.Context, uri protocol.DocumentURI, diags []protocol.Diagnostic, epoch int) {
	converted, err := q.convert(ctx, uri, diags)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		q.logger.Printf("converting diagnostics for %v failed: %v", uri, err)
		return
	}
	q.mu.Lock()
	stale := epoch != q.epoch
	q.mu.Unlock()
	if stale {
		return
	}
	if q.middleware != nil {
		q.middleware(uri, converted, q.deliver)
		return
	}
	q.deliver(uri, converted)
}
