package acmelsp

import (
	"context"
	"log"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
)

// UI shows server messages in acme by logging them, which ends up in
// the +Errors window when acme-lsp is started from acme. There is no
// way to ask the user, so message requests are dismissed.
type UI struct {
	Logger *log.Logger
}

var _ lsp.UI = (*UI)(nil)

func (u *UI) ShowMessage(ctx context.Context, typ protocol.MessageType, message string, actions ...string) (string, error) {
	if len(actions) > 0 {
		u.Logger.Printf("LSP %v: %v %q", typ, message, actions)
		return "", nil
	}
	u.Logger.Printf("LSP %v: %v", typ, message)
	return "", nil
}

// ProgressLog logs the start and end of work done by the servers.
type ProgressLog struct {
	Logger *log.Logger
}

var _ lsp.ProgressSink = (*ProgressLog)(nil)

func (pl *ProgressLog) Progress(token protocol.ProgressToken, p *protocol.WorkDoneProgress) {
	switch p.Kind {
	case protocol.ProgressBegin:
		pl.Logger.Printf("%v: %v", p.Title, p.Message)
	case protocol.ProgressEnd:
		if p.Message != "" {
			pl.Logger.Printf("progress %v done: %v", token, p.Message)
		}
	}
}
