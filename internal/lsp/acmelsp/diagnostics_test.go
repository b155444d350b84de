package acmelsp

import (
	"testing"
	"time"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
)

type fakeDiagWriter struct {
	bodies     chan string
	reloadChan chan struct{}
}

func (w *fakeDiagWriter) update(body string) error {
	w.bodies <- body
	return nil
}

func (w *fakeDiagWriter) reload() <-chan struct{} { return w.reloadChan }

func TestFormatDiagnostics(t *testing.T) {
	diags := map[protocol.DocumentURI][]lsp.HostDiagnostic{
		"file:///b.go": {
			{Location: "/b.go:1:1", Message: "b is unused"},
		},
		"file:///a.go": {
			{Location: "/a.go:3:2", Source: "vet", Message: "unreachable code"},
			{Location: "/a.go:7:1", Message: "missing return"},
		},
	}
	want := "/a.go:3:2: [vet] unreachable code\n" +
		"/a.go:7:1: missing return\n" +
		"/b.go:1:1: b is unused\n"
	if got := formatDiagnostics(diags); got != want {
		t.Errorf("formatDiagnostics returned %q; want %q", got, want)
	}
}

func TestDiagnosticsWindow(t *testing.T) {
	w := &fakeDiagWriter{
		bodies:     make(chan string, 10),
		reloadChan: make(chan struct{}),
	}
	dw := newDiagnosticsWindow(w, 10*time.Millisecond, discardLogger)
	defer dw.Close()

	next := func() string {
		select {
		case body := <-w.bodies:
			return body
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for diagnostics window update")
			return ""
		}
	}

	dw.SetDiagnostics("file:///a.go", []lsp.HostDiagnostic{{Location: "/a.go:1:1", Message: "x"}})
	if got, want := next(), "/a.go:1:1: x\n"; got != want {
		t.Errorf("window body is %q; want %q", got, want)
	}

	w.reloadChan <- struct{}{}
	if got, want := next(), "/a.go:1:1: x\n"; got != want {
		t.Errorf("window body after reload is %q; want %q", got, want)
	}

	dw.SetDiagnostics("file:///a.go", nil)
	if got := next(); got != "" {
		t.Errorf("window body after clearing diagnostics is %q; want empty", got)
	}
}
