// Package features implements client features for the lsp package:
// document synchronization, watched files, configuration, showing
// documents and work done progress.
package features

import (
	"context"
	"log"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/protocol"
)

// Client is the part of *lsp.Client the features use.
type Client interface {
	SendNotification(ctx context.Context, method string, params interface{}) error
	OnRequest(method string, h lsp.RequestHandler) lsp.Disposable
	TrackProgress(token protocol.ProgressToken) *lsp.ProgressPart
	WorkspaceFolders() []protocol.WorkspaceFolder
	Logger() *log.Logger
}

var _ Client = (*lsp.Client)(nil)
