package acmelsp

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/acmeutil"
	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
)

// DiagnosticsWindowName is the name of the acme window showing
// diagnostics.
const DiagnosticsWindowName = "/LSP/Diagnostics"

// diagWriter shows the text of the diagnostics window.
type diagWriter interface {
	update(body string) error

	// reload receives a value when the user asks to redraw the window.
	reload() <-chan struct{}
}

// diagWin writes diagnostics to an acme window.
// It will create the diagnostics window on-demand, recreating it if necessary.
type diagWin struct {
	name string // window name
	*acmeutil.Win
	reloadChan chan struct{}

	dead bool // window has been closed
	mu   sync.Mutex
}

func newDiagWin(name string) *diagWin {
	return &diagWin{
		name:       name,
		reloadChan: make(chan struct{}),
		dead:       true,
	}
}

func (dw *diagWin) restart() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if !dw.dead {
		return nil
	}
	w, err := acmeutil.Hijack(dw.name)
	if err != nil {
		w, err = acmeutil.NewWin()
		if err != nil {
			return err
		}
		w.Name(dw.name)
		w.Write("tag", []byte("Reload "))
	}
	dw.Win = w
	dw.dead = false

	go func() {
		defer func() {
			dw.mu.Lock()
			dw.Del(true)
			dw.CloseFiles()
			dw.dead = true
			dw.mu.Unlock()
		}()

		for ev := range dw.EventChan() {
			if ev == nil {
				return
			}
			switch ev.C2 {
			case 'x', 'X': // execute
				switch string(ev.Text) {
				case "Del":
					return
				case "Reload":
					dw.reloadChan <- struct{}{}
					continue
				}
			}
			dw.WriteEvent(ev)
		}
	}()
	return nil
}

func (dw *diagWin) update(body string) error {
	if err := dw.restart(); err != nil {
		return err
	}
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.SetBody(body)
}

func (dw *diagWin) reload() <-chan struct{} { return dw.reloadChan }

type diagUpdate struct {
	uri   protocol.DocumentURI
	diags []lsp.HostDiagnostic
}

// DiagnosticsWindow collects the diagnostics of all servers and shows
// them in an acme window. Updates are written at most once per
// interval.
type DiagnosticsWindow struct {
	w        diagWriter
	interval time.Duration
	logger   *log.Logger
	updates  chan diagUpdate
	done     chan struct{}
	stopOnce sync.Once
}

// NewDiagnosticsWindow returns a DiagnosticsWindow writing to the
// /LSP/Diagnostics window.
func NewDiagnosticsWindow(logger *log.Logger) *DiagnosticsWindow {
	return newDiagnosticsWindow(newDiagWin(DiagnosticsWindowName), time.Second, logger)
}

func newDiagnosticsWindow(w diagWriter, interval time.Duration, logger *log.Logger) *DiagnosticsWindow {
	dw := &DiagnosticsWindow{
		w:        w,
		interval: interval,
		logger:   logger,
		updates:  make(chan diagUpdate, 100),
		done:     make(chan struct{}),
	}
	go dw.run()
	return dw
}

var _ lsp.DiagnosticsSink = (*DiagnosticsWindow)(nil)

func (dw *DiagnosticsWindow) SetDiagnostics(uri protocol.DocumentURI, diags []lsp.HostDiagnostic) {
	select {
	case dw.updates <- diagUpdate{uri: uri, diags: diags}:
	case <-dw.done:
	}
}

// Close stops updating the window.
func (dw *DiagnosticsWindow) Close() {
	dw.stopOnce.Do(func() { close(dw.done) })
}

func (dw *DiagnosticsWindow) run() {
	diags := make(map[protocol.DocumentURI][]lsp.HostDiagnostic)
	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	write := func() {
		if err := dw.w.update(formatDiagnostics(diags)); err != nil {
			dw.logger.Printf("failed to write diagnostics: %v", err)
		}
	}
	needsUpdate := false
	for {
		select {
		case <-dw.done:
			return

		case <-ticker.C:
			if needsUpdate {
				write()
				needsUpdate = false
			}

		case <-dw.w.reload(): // user request
			write()
			needsUpdate = false

		case u := <-dw.updates:
			if len(diags[u.uri]) == 0 && len(u.diags) == 0 {
				continue
			}
			if len(u.diags) == 0 {
				delete(diags, u.uri)
			} else {
				diags[u.uri] = u.diags
			}
			needsUpdate = true
		}
	}
}

// formatDiagnostics returns one line per diagnostic, ordered by
// document.
func formatDiagnostics(diags map[protocol.DocumentURI][]lsp.HostDiagnostic) string {
	uris := make([]protocol.DocumentURI, 0, len(diags))
	for uri := range diags {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })

	var b strings.Builder
	for _, uri := range uris {
		for i := range diags[uri] {
			b.WriteString(diags[uri][i].String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}
