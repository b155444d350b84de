package acmelsp

import (
	"context"
	"io/ioutil"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fhs/9fans-go/acme"
	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
)

var discardLogger = log.New(ioutil.Discard, "", 0)

type fakeWin struct {
	*text.Buffer
}

func (w *fakeWin) ReadAll(file string) ([]byte, error) {
	if file != "body" {
		return nil, errors.Errorf("unexpected window file %v", file)
	}
	return []byte(w.String()), nil
}

func (w *fakeWin) CloseFiles() {}

type fakeLog struct {
	events <-chan acme.LogEvent
	once   sync.Once
	closed chan struct{}
}

func (l *fakeLog) Read() (acme.LogEvent, error) {
	select {
	case ev := <-l.events:
		return ev, nil
	case <-l.closed:
		return acme.LogEvent{}, errors.New("log closed")
	}
}

func (l *fakeLog) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

// fakeAcme is an acme whose windows are in-memory buffers.
type fakeAcme struct {
	mu     sync.Mutex
	wins   map[int]*fakeWin
	names  map[int]string
	events chan acme.LogEvent
}

func newFakeAcme() *fakeAcme {
	return &fakeAcme{
		wins:   make(map[int]*fakeWin),
		names:  make(map[int]string),
		events: make(chan acme.LogEvent),
	}
}

func (a *fakeAcme) open(id int, name, body string) *fakeWin {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := &fakeWin{text.NewBuffer(body)}
	a.wins[id] = w
	a.names[id] = name
	return w
}

func (a *fakeAcme) Windows() ([]acme.WinInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var infos []acme.WinInfo
	for id, name := range a.names {
		infos = append(infos, acme.WinInfo{ID: id, Name: name})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func (a *fakeAcme) OpenWin(id int) (Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.wins[id]
	if !ok {
		return nil, errors.Errorf("window %v does not exist", id)
	}
	return w, nil
}

func (a *fakeAcme) Log() (LogReader, error) {
	return &fakeLog{events: a.events, closed: make(chan struct{})}, nil
}

// fakeClient records the notifications of document sync.
type fakeClient struct {
	mu      sync.Mutex
	methods []string
}

func (c *fakeClient) SendNotification(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = append(c.methods, method)
	return nil
}

func (c *fakeClient) OnRequest(method string, h lsp.RequestHandler) lsp.Disposable {
	return lsp.DisposeFunc(func() {})
}

func (c *fakeClient) TrackProgress(token protocol.ProgressToken) *lsp.ProgressPart { return nil }

func (c *fakeClient) WorkspaceFolders() []protocol.WorkspaceFolder { return nil }

func (c *fakeClient) Logger() *log.Logger { return discardLogger }

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
