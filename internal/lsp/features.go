package lsp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
)

// Feature is a pluggable unit contributing client capabilities and
// behavior for one protocol area. Features are registered with a
// client before it starts, in an order that matters: capabilities are
// filled and features are initialized in registration order and
// disposed in reverse order.
type Feature interface {
	// FillClientCapabilities adds the feature's flags to caps. It must
	// not remove or overwrite flags already present.
	FillClientCapabilities(caps protocol.Object)

	// Initialize is called once the server's capabilities are known.
	Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error

	// State reports the feature's registrations for idle detection.
	State() FeatureState

	// Dispose releases everything the feature registered.
	Dispose()
}

// InitializeParamsFiller is implemented by features that contribute
// to the initialize request beyond capabilities.
type InitializeParamsFiller interface {
	FillInitializeParams(params *protocol.InitializeParams)
}

// DynamicFeature is a feature the server can register and unregister
// at runtime with client/registerCapability.
type DynamicFeature interface {
	Feature

	// RegistrationMethod returns the method the server registers.
	RegistrationMethod() string

	Register(data RegistrationData) error
	Unregister(id string) error
}

// Flusher is implemented by features that buffer outgoing document
// changes. Flush sends what is buffered; the client calls it before
// every send so that the server sees changes before requests that
// depend on them.
type Flusher interface {
	Flush(ctx context.Context) error
}

// RegistrationData is one registration sent by the server.
type RegistrationData struct {
	ID              string
	RegisterOptions json.RawMessage
}

// FeatureStateKind classifies a FeatureState.
type FeatureStateKind int

const (
	StaticState    FeatureStateKind = iota // capabilities only
	DocumentState                          // registrations scoped to documents
	WorkspaceState                         // registrations scoped to the workspace
)

// FeatureState is the registration state reported by a feature.
type FeatureState struct {
	Kind FeatureStateKind
	ID   string

	// Registrations is true if the feature has active registrations.
	Registrations bool

	// Matches is true if an open document matches a registration.
	// Only meaningful for DocumentState.
	Matches bool

	// Activation is true if the feature's registrations decide when
	// the server is needed. In activation-only suspend mode only such
	// registrations keep the client busy.
	Activation bool
}

// featureRegistry holds the features of a client in registration
// order, indexing dynamic features by registration method.
type featureRegistry struct {
	mu       sync.Mutex
	features []Feature
	dynamic  map[string]DynamicFeature
}

func newFeatureRegistry() *featureRegistry {
	return &featureRegistry{
		dynamic: make(map[string]DynamicFeature),
	}
}

func (r *featureRegistry) register(f Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if df, ok := f.(DynamicFeature); ok {
		method := df.RegistrationMethod()
		if _, dup := r.dynamic[method]; dup {
			return errors.Wrapf(ErrDuplicateFeature, "method %v", method)
		}
		r.dynamic[method] = df
	}
	r.features = append(r.features, f)
	return nil
}

func (r *featureRegistry) list() []Feature {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Feature(nil), r.features...)
}

func (r *featureRegistry) lookup(method string) (DynamicFeature, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.dynamic[method]
	return f, ok
}

func (r *featureRegistry) fillInitializeParams(params *protocol.InitializeParams) {
	for _, f := range r.list() {
		if p, ok := f.(InitializeParamsFiller); ok {
			p.FillInitializeParams(params)
		}
	}
}

func (r *featureRegistry) fillClientCapabilities(caps protocol.Object) {
	for _, f := range r.list() {
		f.FillClientCapabilities(caps)
	}
}

func (r *featureRegistry) initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	for _, f := range r.list() {
		if err := f.Initialize(caps, selector); err != nil {
			return errors.Wrapf(err, "initializing feature %T failed", f)
		}
	}
	return nil
}

func (r *featureRegistry) flush(ctx context.Context) error {
	for _, f := range r.list() {
		if fl, ok := f.(Flusher); ok {
			if err := fl.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispose disposes every feature, most recently registered first.
func (r *featureRegistry) dispose() {
	fs := r.list()
	for i := len(fs) - 1; i >= 0; i-- {
		fs[i].Dispose()
	}
}

func (r *featureRegistry) states() []FeatureState {
	fs := r.list()
	states := make([]FeatureState, len(fs))
	for i, f := range fs {
		states[i] = f.State()
	}
	return states
}

// idle reports whether no feature's registrations keep the client busy.
// In activation-only mode a registration of an activation feature
// does; otherwise a document registration matching an open document.
func (r *featureRegistry) idle(mode SuspendMode) bool {
	if mode == SuspendOff {
		return false
	}
	for _, s := range r.states() {
		if s.Kind == StaticState || !s.Registrations {
			continue
		}
		if mode == SuspendActivationOnly {
			if s.Activation {
				return false
			}
			continue
		}
		if s.Kind == DocumentState && s.Matches {
			return false
		}
	}
	return true
}

// withDefaultSelector returns options with documentSelector set to
// selector if the server did not provide one.
func withDefaultSelector(options json.RawMessage, selector protocol.DocumentSelector) (json.RawMessage, error) {
	if selector == nil {
		return options, nil
	}
	m := make(map[string]json.RawMessage)
	if len(options) > 0 && string(options) != "null" {
		if err := json.Unmarshal(options, &m); err != nil {
			return nil, errors.Wrap(err, "invalid registration options")
		}
	}
	if v, ok := m["documentSelector"]; ok && string(v) != "null" {
		return options, nil
	}
	b, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	m["documentSelector"] = b
	return json.Marshal(m)
}
