package acmelsp

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fhs/9fans-go/plumb"
	"github.com/fhs/lspc/internal/lsp/features"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
)

// Plumber shows documents by sending them to the plumber. Files go to
// the edit port. Other URIs are left to the plumbing rules.
type Plumber struct {
	open func() (io.WriteCloser, error)
}

// NewPlumber returns a Plumber writing to the plumber's send file.
func NewPlumber() *Plumber {
	return &Plumber{open: plumbOpenSend}
}

var _ features.DocumentShower = (*Plumber)(nil)

func (p *Plumber) ShowDocument(ctx context.Context, params *protocol.ShowDocumentParams) (bool, error) {
	w, err := p.open()
	if err != nil {
		return false, errors.Wrap(err, "failed to open plumber")
	}
	defer w.Close()
	if err := plumbDocument(params).Send(w); err != nil {
		return false, errors.Wrap(err, "failed to plumb document")
	}
	return true, nil
}

func plumbDocument(params *protocol.ShowDocumentParams) *plumb.Message {
	if params.External || !strings.HasPrefix(string(params.URI), "file:") {
		return &plumb.Message{
			Src:  "acme-lsp",
			Dir:  "/",
			Type: "text",
			Data: []byte(params.URI),
		}
	}
	loc := &protocol.Location{URI: params.URI}
	if params.Selection != nil {
		loc.Range = *params.Selection
	}
	return plumbLocation(loc)
}

func plumbLocation(loc *protocol.Location) *plumb.Message {
	// LSP uses zero-based offsets.
	// Place the cursor *before* the location range.
	pos := loc.Range.Start
	attr := &plumb.Attribute{
		Name:  "addr",
		Value: fmt.Sprintf("%v-#0+#%v", pos.Line+1, pos.Character),
	}
	return &plumb.Message{
		Src:  "acme-lsp",
		Dst:  "edit",
		Dir:  "/",
		Type: "text",
		Attr: attr,
		Data: []byte(text.ToPath(loc.URI)),
	}
}
