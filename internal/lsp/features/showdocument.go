package features

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// DocumentShower opens a document in the host.
type DocumentShower interface {
	ShowDocument(ctx context.Context, params *protocol.ShowDocumentParams) (bool, error)
}

// ShowDocument answers window/showDocument requests.
type ShowDocument struct {
	client Client
	shower DocumentShower

	mu      sync.Mutex
	handler lsp.Disposable
}

// NewShowDocument returns the show document feature for c.
func NewShowDocument(c Client, s DocumentShower) *ShowDocument {
	return &ShowDocument{client: c, shower: s}
}

var _ lsp.Feature = (*ShowDocument)(nil)

func (f *ShowDocument) FillClientCapabilities(caps protocol.Object) {
	caps.EnsurePath("window", "showDocument").SetDefault("support", true)
}

func (f *ShowDocument) Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	h := f.client.OnRequest(protocol.MethodShowDocument, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ShowDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, errors.Wrap(err, "invalid show document params")
		}
		ok, err := f.shower.ShowDocument(ctx, &p)
		if err != nil {
			f.client.Logger().Printf("showing %v failed: %v", p.URI, err)
		}
		return &protocol.ShowDocumentResult{Success: ok && err == nil}, nil
	})
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

func (f *ShowDocument) State() lsp.FeatureState {
	return lsp.FeatureState{Kind: lsp.StaticState, ID: protocol.MethodShowDocument}
}

func (f *ShowDocument) Dispose() {
	f.mu.Lock()
	h := f.handler
	f.handler = nil
	f.mu.Unlock()
	if h != nil {
		h.Dispose()
	}
}
