package lsp

import (
	"context"
	"sort"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"golang.org/x/sync/semaphore"
)

// DocumentEdit is one change of a workspace edit in the form handed to
// the host: text edits for a document, or a resource operation.
type DocumentEdit struct {
	URI protocol.DocumentURI

	// Version is the document version the edits were computed
	// against, or nil if they apply to any version.
	Version *int32
	Edits   []protocol.TextEdit

	// Op is set for resource operations. NewURI is the target of a rename.
	Op      protocol.ResourceOperationKind
	NewURI  protocol.DocumentURI
	Options *protocol.FileOptions
}

// WorkspaceEditConverter converts a workspace edit for the host.
type WorkspaceEditConverter func(ctx context.Context, edit *protocol.WorkspaceEdit) ([]DocumentEdit, error)

// ConvertWorkspaceEdit is the default WorkspaceEditConverter. It
// prefers documentChanges and falls back to changes, sorted by URI.
func ConvertWorkspaceEdit(ctx context.Context, edit *protocol.WorkspaceEdit) ([]DocumentEdit, error) {
	var out []DocumentEdit
	if len(edit.DocumentChanges) > 0 {
		for _, c := range edit.DocumentChanges {
			switch {
			case c.TextDocumentEdit != nil:
				out = append(out, DocumentEdit{
					URI:     c.TextDocumentEdit.TextDocument.URI,
					Version: c.TextDocumentEdit.TextDocument.Version,
					Edits:   c.TextDocumentEdit.Edits,
				})
			case c.CreateFile != nil:
				out = append(out, DocumentEdit{URI: c.CreateFile.URI, Op: protocol.CreateOp, Options: c.CreateFile.Options})
			case c.RenameFile != nil:
				out = append(out, DocumentEdit{URI: c.RenameFile.OldURI, NewURI: c.RenameFile.NewURI, Op: protocol.RenameOp, Options: c.RenameFile.Options})
			case c.DeleteFile != nil:
				out = append(out, DocumentEdit{URI: c.DeleteFile.URI, Op: protocol.DeleteOp, Options: c.DeleteFile.Options})
			}
		}
		return out, ctx.Err()
	}
	for uri, edits := range edit.Changes {
		out = append(out, DocumentEdit{URI: uri, Edits: edits})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].URI < out[j].URI
	})
	return out, ctx.Err()
}

// EditSerializer lets one workspace edit at a time be converted and
// applied. Waiters are served in arrival order.
type EditSerializer struct {
	sem *semaphore.Weighted
}

func NewEditSerializer() *EditSerializer {
	return &EditSerializer{sem: semaphore.NewWeighted(1)}
}

// Do calls f once every earlier call of Do has returned.
func (s *EditSerializer) Do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return f(ctx)
}

// staleEdit returns the first text edit computed against a version
// other than that of the open document.
func staleEdit(edits []DocumentEdit, version func(protocol.DocumentURI) (int32, bool)) (*DocumentEdit, bool) {
	for i := range edits {
		e := &edits[i]
		if e.Op != "" || e.Version == nil || *e.Version < 0 {
			continue
		}
		if v, open := version(e.URI); open && v != *e.Version {
			return e, true
		}
	}
	return nil, false
}
