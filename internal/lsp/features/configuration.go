package features

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// Settings is a store of server settings.
type Settings interface {
	// Settings returns the settings under section, or all settings if
	// section is empty. It returns nil if there are none.
	Settings(section string) interface{}

	// OnDidChangeConfiguration calls f whenever the settings change,
	// until the returned function is called.
	OnDidChangeConfiguration(f func()) (cancel func())
}

// Configuration answers workspace/configuration requests from a
// settings store and pushes the settings with
// workspace/didChangeConfiguration when they change.
type Configuration struct {
	client   Client
	settings Settings

	mu      sync.Mutex
	handler lsp.Disposable
	cancel  func()
}

// NewConfiguration returns the configuration feature for c.
func NewConfiguration(c Client, s Settings) *Configuration {
	return &Configuration{
		client:   c,
		settings: s,
	}
}

var _ lsp.Feature = (*Configuration)(nil)

func (f *Configuration) FillClientCapabilities(caps protocol.Object) {
	ws := caps.Ensure("workspace")
	ws.SetDefault("configuration", true)
	ws.EnsurePath("didChangeConfiguration").SetDefault("dynamicRegistration", false)
}

func (f *Configuration) Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	h := f.client.OnRequest(protocol.MethodConfiguration, f.handleConfiguration)
	cancel := f.settings.OnDidChangeConfiguration(func() {
		if err := f.push(context.Background()); err != nil {
			f.client.Logger().Printf("sending configuration failed: %v", err)
		}
	})
	f.mu.Lock()
	f.handler = h
	f.cancel = cancel
	f.mu.Unlock()

	if f.settings.Settings("") == nil {
		return nil
	}
	return f.push(context.Background())
}

func (f *Configuration) push(ctx context.Context) error {
	return f.client.SendNotification(ctx, protocol.MethodDidChangeConfiguration, &protocol.DidChangeConfigurationParams{
		Settings: f.settings.Settings(""),
	})
}

func (f *Configuration) handleConfiguration(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.ConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Wrap(err, "invalid configuration params")
	}
	result := make(protocol.ConfigurationResult, len(p.Items))
	for i, item := range p.Items {
		result[i] = f.settings.Settings(item.Section)
	}
	return result, nil
}

func (f *Configuration) State() lsp.FeatureState {
	return lsp.FeatureState{Kind: lsp.StaticState, ID: protocol.MethodConfiguration}
}

func (f *Configuration) Dispose() {
	f.mu.Lock()
	h, cancel := f.handler, f.cancel
	f.handler, f.cancel = nil, nil
	f.mu.Unlock()
	if h != nil {
		h.Dispose()
	}
	if cancel != nil {
		cancel()
	}
}
