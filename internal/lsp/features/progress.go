package features

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// WorkDoneProgress accepts progress streams created by the server with
// window/workDoneProgress/create and relays them to the host.
type WorkDoneProgress struct {
	client Client

	mu      sync.Mutex
	handler lsp.Disposable
	parts   map[protocol.ProgressToken]*lsp.ProgressPart
}

// NewWorkDoneProgress returns the work done progress feature for c.
func NewWorkDoneProgress(c Client) *WorkDoneProgress {
	return &WorkDoneProgress{
		client: c,
		parts:  make(map[protocol.ProgressToken]*lsp.ProgressPart),
	}
}

var _ lsp.Feature = (*WorkDoneProgress)(nil)

func (f *WorkDoneProgress) FillClientCapabilities(caps protocol.Object) {
	caps.Ensure("window").SetDefault("workDoneProgress", true)
}

func (f *WorkDoneProgress) Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	h := f.client.OnRequest(protocol.MethodWorkDoneProgressCreate, f.handleCreate)
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

func (f *WorkDoneProgress) handleCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.WorkDoneProgressCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Wrap(err, "invalid progress create params")
	}
	part := f.client.TrackProgress(p.Token)
	f.mu.Lock()
	for token, old := range f.parts {
		if old.Finished() {
			delete(f.parts, token)
		}
	}
	f.parts[p.Token] = part
	f.mu.Unlock()
	return nil, nil
}

// Active returns the tokens of the progress streams that have not
// ended.
func (f *WorkDoneProgress) Active() []protocol.ProgressToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tokens []protocol.ProgressToken
	for token, p := range f.parts {
		if !p.Finished() {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// Cancel asks the server to cancel the work reported with token.
func (f *WorkDoneProgress) Cancel(ctx context.Context, token protocol.ProgressToken) error {
	f.mu.Lock()
	p, ok := f.parts[token]
	delete(f.parts, token)
	f.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown progress token %v", token)
	}
	p.Cancel()
	return f.client.SendNotification(ctx, protocol.MethodWorkDoneProgressCancel, &protocol.WorkDoneProgressCancelParams{
		Token: token,
	})
}

func (f *WorkDoneProgress) State() lsp.FeatureState {
	return lsp.FeatureState{Kind: lsp.StaticState, ID: protocol.MethodWorkDoneProgressCreate}
}

func (f *WorkDoneProgress) Dispose() {
	f.mu.Lock()
	h, parts := f.handler, f.parts
	f.handler = nil
	f.parts = make(map[protocol.ProgressToken]*lsp.ProgressPart)
	f.mu.Unlock()
	if h != nil {
		h.Dispose()
	}
	for _, p := range parts {
		p.Done()
	}
}
