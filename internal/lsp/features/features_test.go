package features

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/lsptest"
	"github.com/fhs/lspc/internal/lsp/protocol"
)

var discardLogger = log.New(ioutil.Discard, "", 0)

var fileSelector = protocol.DocumentSelector{{Scheme: "file"}}

func syncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncOptionsOrKind {
	return &protocol.TextDocumentSyncOptionsOrKind{Kind: &k}
}

type uiFunc func(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error)

func (f uiFunc) ShowMessage(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error) {
	return f(ctx, typ, message, actions...)
}

func testClient(t *testing.T, srv *lsptest.Server, opts lsp.Options) *lsp.Client {
	opts.Transport = srv
	opts.Logger = discardLogger
	if opts.DocumentSelector == nil {
		opts.DocumentSelector = fileSelector
	}
	if opts.Host.Output == nil {
		opts.Host.Output = ioutil.Discard
	}
	opts.Host.UI = uiFunc(func(context.Context, protocol.MessageType, string, ...string) (string, error) {
		return "", nil
	})
	c := lsp.NewClient(opts)
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

func count(msgs []lsptest.Message, method string) int {
	n := 0
	for _, m := range msgs {
		if m.Method == method {
			n++
		}
	}
	return n
}

func decode(t *testing.T, m lsptest.Message, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(m.Params, v); err != nil {
		t.Fatalf("decoding %v params: %v", m.Method, err)
	}
}
