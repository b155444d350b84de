package features

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultChangeDelay is how long document changes are buffered before
// they are sent without a flush.
const DefaultChangeDelay = 200 * time.Millisecond

type syncRegistration struct {
	selector protocol.DocumentSelector
	kind     protocol.TextDocumentSyncKind
}

type document struct {
	uri        protocol.DocumentURI
	languageID string
	version    int32
	text       string
	opened     bool // the server was sent didOpen
	pending    []protocol.TextDocumentContentChangeEvent
}

// DocumentSync keeps the server's view of open documents in sync with
// the host. Changes are buffered and sent after Delay, or earlier when
// the client flushes before sending anything else.
type DocumentSync struct {
	client Client
	Delay  time.Duration

	// flushMu is held from taking the pending changes until they are
	// sent, so a flush returns only after earlier changes went out.
	flushMu sync.Mutex

	mu            sync.Mutex
	openClose     bool
	saveText      bool
	save          bool
	registrations map[string]*syncRegistration
	docs          map[protocol.DocumentURI]*document
	timer         *time.Timer
}

// NewDocumentSync returns the document sync feature for c.
func NewDocumentSync(c Client) *DocumentSync {
	return &DocumentSync{
		client:        c,
		Delay:         DefaultChangeDelay,
		registrations: make(map[string]*syncRegistration),
		docs:          make(map[protocol.DocumentURI]*document),
	}
}

var (
	_ lsp.DynamicFeature = (*DocumentSync)(nil)
	_ lsp.Flusher        = (*DocumentSync)(nil)
)

func (s *DocumentSync) RegistrationMethod() string {
	return protocol.MethodTextDocumentDidChange
}

func (s *DocumentSync) FillClientCapabilities(caps protocol.Object) {
	sync := caps.EnsurePath("textDocument", "synchronization")
	sync.SetDefault("dynamicRegistration", true)
	sync.SetDefault("willSave", false)
	sync.SetDefault("willSaveWaitUntil", false)
	sync.SetDefault("didSave", true)
}

// Initialize registers the server's static sync capability under the
// client's document selector and opens the documents that are already
// open in the host.
func (s *DocumentSync) Initialize(caps *protocol.ServerCapabilities, selector protocol.DocumentSelector) error {
	opts := caps.TextDocumentSync.Resolve()

	s.mu.Lock()
	s.openClose = opts.OpenClose
	s.save = opts.Save != nil
	s.saveText = opts.Save != nil && opts.Save.IncludeText
	if selector != nil && (opts.Change != protocol.TDSKNone || opts.OpenClose) {
		s.registrations[uuid.New().String()] = &syncRegistration{
			selector: selector,
			kind:     opts.Change,
		}
	}
	var open []*document
	for _, uri := range s.sortedURIs() {
		d := s.docs[uri]
		if s.openCloseLocked(d) {
			d.opened = true
			d.pending = nil
			open = append(open, d)
		}
	}
	items := make([]protocol.TextDocumentItem, len(open))
	for i, d := range open {
		items[i] = d.item()
	}
	s.mu.Unlock()

	for i := range items {
		err := s.client.SendNotification(context.Background(), protocol.MethodTextDocumentDidOpen, &protocol.DidOpenTextDocumentParams{
			TextDocument: items[i],
		})
		if err != nil {
			return errors.Wrapf(err, "reopening %v failed", items[i].URI)
		}
	}
	return nil
}

func (s *DocumentSync) Register(data lsp.RegistrationData) error {
	var opts protocol.TextDocumentChangeRegistrationOptions
	if err := json.Unmarshal(data.RegisterOptions, &opts); err != nil {
		return errors.Wrap(err, "invalid text document change registration options")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[data.ID] = &syncRegistration{
		selector: opts.DocumentSelector,
		kind:     opts.SyncKind,
	}
	return nil
}

func (s *DocumentSync) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[id]; !ok {
		return errors.Errorf("unknown registration %v", id)
	}
	delete(s.registrations, id)
	return nil
}

func (s *DocumentSync) State() lsp.FeatureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := lsp.FeatureState{
		Kind:          lsp.DocumentState,
		ID:            protocol.MethodTextDocumentDidChange,
		Registrations: len(s.registrations) > 0,
		Activation:    true,
	}
	for _, d := range s.docs {
		if s.kindLocked(d) != protocol.TDSKNone {
			st.Matches = true
			break
		}
	}
	return st
}

// Dispose forgets the server's registrations. Documents stay open in
// the host and are opened again on the next Initialize.
func (s *DocumentSync) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = make(map[string]*syncRegistration)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for _, d := range s.docs {
		d.opened = false
		d.pending = nil
	}
}

func (d *document) item() protocol.TextDocumentItem {
	return protocol.TextDocumentItem{
		URI:        d.uri,
		LanguageID: d.languageID,
		Version:    d.version,
		Text:       d.text,
	}
}

// kindLocked returns the strongest sync kind of the registrations
// matching d.
func (s *DocumentSync) kindLocked(d *document) protocol.TextDocumentSyncKind {
	kind := protocol.TDSKNone
	for _, r := range s.registrations {
		if r.selector.Match(d.uri, d.languageID) && r.kind > kind {
			kind = r.kind
		}
	}
	return kind
}

func (s *DocumentSync) openCloseLocked(d *document) bool {
	if !s.openClose {
		return false
	}
	for _, r := range s.registrations {
		if r.selector.Match(d.uri, d.languageID) {
			return true
		}
	}
	return false
}

func (s *DocumentSync) sortedURIs() []protocol.DocumentURI {
	uris := make([]protocol.DocumentURI, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// Version returns the version of an open document.
func (s *DocumentSync) Version(uri protocol.DocumentURI) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[uri]
	if !ok {
		return 0, false
	}
	return d.version, true
}

// DidOpen records that the host opened a document with the given
// content and tells the server if it wants to know.
func (s *DocumentSync) DidOpen(ctx context.Context, uri protocol.DocumentURI, languageID, content string) error {
	s.mu.Lock()
	if _, ok := s.docs[uri]; ok {
		s.mu.Unlock()
		return nil
	}
	d := &document{
		uri:        uri,
		languageID: languageID,
		version:    1,
		text:       content,
	}
	s.docs[uri] = d
	if !s.openCloseLocked(d) {
		s.mu.Unlock()
		return nil
	}
	d.opened = true
	item := d.item()
	s.mu.Unlock()

	return s.client.SendNotification(ctx, protocol.MethodTextDocumentDidOpen, &protocol.DidOpenTextDocumentParams{
		TextDocument: item,
	})
}

// DidChange records the new content of a document. The change is sent
// later as a full replacement or as the smallest edit, depending on
// the negotiated sync kind.
func (s *DocumentSync) DidChange(ctx context.Context, uri protocol.DocumentURI, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[uri]
	if !ok {
		return errors.Errorf("%v is not open", uri)
	}
	if d.text == content {
		return nil
	}
	old := d.text
	d.text = content
	d.version++
	if !d.opened {
		return nil
	}
	switch s.kindLocked(d) {
	case protocol.TDSKFull:
		// Only the latest content matters.
		d.pending = []protocol.TextDocumentContentChangeEvent{{Text: content}}
	case protocol.TDSKIncremental:
		d.pending = append(d.pending, text.Change(old, content))
	default:
		return nil
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.Delay, func() {
			if err := s.Flush(context.Background()); err != nil {
				s.client.Logger().Printf("sending document changes failed: %v", err)
			}
		})
	}
	return nil
}

// DidSave tells the server that the host saved a document.
func (s *DocumentSync) DidSave(ctx context.Context, uri protocol.DocumentURI) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	d, ok := s.docs[uri]
	if !ok || !d.opened || !s.save {
		s.mu.Unlock()
		return nil
	}
	params := &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}
	if s.saveText {
		content := d.text
		params.Text = &content
	}
	s.mu.Unlock()

	return s.client.SendNotification(ctx, protocol.MethodTextDocumentDidSave, params)
}

// DidClose tells the server that the host closed a document, after
// sending its buffered changes.
func (s *DocumentSync) DidClose(ctx context.Context, uri protocol.DocumentURI) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	d, ok := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()
	if !ok || !d.opened {
		return nil
	}
	return s.client.SendNotification(ctx, protocol.MethodTextDocumentDidClose, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

// Flush sends the buffered changes of every document. A flush started
// while another one is sending waits for it.
func (s *DocumentSync) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	var changes []*protocol.DidChangeTextDocumentParams
	for _, uri := range s.sortedURIs() {
		d := s.docs[uri]
		if len(d.pending) == 0 {
			continue
		}
		changes = append(changes, &protocol.DidChangeTextDocumentParams{
			TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: uri, Version: d.version},
			ContentChanges: d.pending,
		})
		d.pending = nil
	}
	s.mu.Unlock()

	for _, params := range changes {
		if err := s.client.SendNotification(ctx, protocol.MethodTextDocumentDidChange, params); err != nil {
			return errors.Wrapf(err, "sending changes of %v failed", params.TextDocument.URI)
		}
	}
	return nil
}
