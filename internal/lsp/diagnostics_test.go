package lsp

import (
	"context"
	"io/ioutil"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/google/go-cmp/cmp"
)

type delivery struct {
	uri      protocol.DocumentURI
	messages []string
}

type deliveryRecorder struct {
	mu   sync.Mutex
	got  []delivery
	more chan struct{}
}

func newDeliveryRecorder() *deliveryRecorder {
	return &deliveryRecorder{more: make(chan struct{}, 100)}
}

func (r *deliveryRecorder) deliver(uri protocol.DocumentURI, diags []HostDiagnostic) {
	var msgs []string
	for _, d := range diags {
		msgs = append(msgs, d.Message)
	}
	r.mu.Lock()
	r.got = append(r.got, delivery{uri, msgs})
	r.mu.Unlock()
	r.more <- struct{}{}
}

func (r *deliveryRecorder) wait(t *testing.T, n int) []delivery {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		if len(r.got) >= n {
			got := append([]delivery(nil), r.got...)
			r.mu.Unlock()
			return got
		}
		r.mu.Unlock()
		select {
		case <-r.more:
		case <-timeout:
			t.Fatalf("timed out waiting for %v deliveries", n)
		}
	}
}

func diags(msgs ...string) []protocol.Diagnostic {
	var d []protocol.Diagnostic
	for _, m := range msgs {
		d = append(d, protocol.Diagnostic{Message: m})
	}
	return d
}

var discardLogger = log.New(ioutil.Discard, "", 0)

func waitIdle(t *testing.T, q *DiagnosticsQueue) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !q.Idle() {
		if time.Now().After(deadline) {
			t.Fatalf("diagnostics queue did not become idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDiagnosticsQueueDeliversEveryDocument(t *testing.T) {
	rec := newDeliveryRecorder()
	q := NewDiagnosticsQueue(ConvertDiagnostics(""), rec.deliver, nil, discardLogger)

	q.Publish("file:///a.go", diags("a1"))
	q.Publish("file:///b.go", diags("b1"))
	q.Publish("file:///c.go", nil)

	got := rec.wait(t, 3)
	want := []delivery{
		{"file:///a.go", []string{"a1"}},
		{"file:///b.go", []string{"b1"}},
		{"file:///c.go", nil},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(delivery{})); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
	waitIdle(t, q)
}

// blockingConverter blocks the first conversion until it is cancelled.
type blockingConverter struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingConverter) convert(ctx context.Context, uri protocol.DocumentURI, d []protocol.Diagnostic) ([]HostDiagnostic, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return ConvertDiagnostics("")(ctx, uri, d)
}

func TestDiagnosticsQueueSupersede(t *testing.T) {
	rec := newDeliveryRecorder()
	bc := &blockingConverter{started: make(chan struct{})}
	q := NewDiagnosticsQueue(bc.convert, rec.deliver, nil, discardLogger)

	q.Publish("file:///a.go", diags("old"))
	<-bc.started
	q.Publish("file:///a.go", diags("new"))

	got := rec.wait(t, 1)
	waitIdle(t, q)
	want := []delivery{{"file:///a.go", []string{"new"}}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(delivery{})); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnosticsQueueLatestWins(t *testing.T) {
	rec := newDeliveryRecorder()
	bc := &blockingConverter{started: make(chan struct{})}
	q := NewDiagnosticsQueue(bc.convert, rec.deliver, nil, discardLogger)

	// While a.go is converted, b.go is published twice. Only the
	// second batch of b.go is delivered.
	q.Publish("file:///a.go", diags("a"))
	<-bc.started
	q.Publish("file:///b.go", diags("b1"))
	q.Publish("file:///b.go", diags("b2"))
	q.Publish("file:///a.go", diags("a2"))

	got := rec.wait(t, 2)
	waitIdle(t, q)
	want := []delivery{
		{"file:///b.go", []string{"b2"}},
		{"file:///a.go", []string{"a2"}},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(delivery{})); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestDiagnosticsQueueClear(t *testing.T) {
	rec := newDeliveryRecorder()
	bc := &blockingConverter{started: make(chan struct{})}
	q := NewDiagnosticsQueue(bc.convert, rec.deliver, nil, discardLogger)

	q.Publish("file:///a.go", diags("a"))
	<-bc.started
	q.Publish("file:///b.go", diags("b"))
	q.Clear()
	waitIdle(t, q)

	rec.mu.Lock()
	n := len(rec.got)
	rec.mu.Unlock()
	if n != 0 {
		t.Errorf("%v deliveries after Clear; want none", n)
	}

	q.Publish("file:///c.go", diags("c"))
	got := rec.wait(t, 1)
	if got[0].uri != "file:///c.go" {
		t.Errorf("delivered %v after Clear; want file:///c.go", got[0].uri)
	}
}

func TestDiagnosticsQueueMiddleware(t *testing.T) {
	rec := newDeliveryRecorder()
	mw := func(uri protocol.DocumentURI, d []HostDiagnostic, next func(protocol.DocumentURI, []HostDiagnostic)) {
		if uri == "file:///skip.go" {
			return
		}
		next(uri, d[:1])
	}
	q := NewDiagnosticsQueue(ConvertDiagnostics(""), rec.deliver, mw, discardLogger)

	q.Publish("file:///skip.go", diags("x"))
	q.Publish("file:///a.go", diags("a1", "a2"))

	got := rec.wait(t, 1)
	waitIdle(t, q)
	want := []delivery{{"file:///a.go", []string{"a1"}}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(delivery{})); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestHostDiagnosticString(t *testing.T) {
	conv := ConvertDiagnostics("/src")
	got, err := conv(context.Background(), "file:///src/main.go", []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: 2, Character: 4},
			End:   protocol.Position{Line: 2, Character: 9},
		},
		Severity: protocol.SeverityError,
		Source:   "compiler",
		Message:  "undefined: x",
	}})
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	want := "main.go:3.5,3.10: [compiler] undefined: x"
	if s := got[0].String(); s != want {
		t.Errorf("diagnostic is %q; want %q", s, want)
	}
}
