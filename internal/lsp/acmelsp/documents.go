package acmelsp

import (
	"context"
	"os"

	"github.com/fhs/lspc/internal/lsp"
	"github.com/fhs/lspc/internal/lsp/features"
	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
	"github.com/pkg/errors"
)

// Documents is the store of documents of one server. Open documents
// are acme windows; their versions are kept by the server's document
// sync. Edits go to the window if the file is open in acme and to the
// file on disk otherwise.
type Documents struct {
	acme Acme
	sync *features.DocumentSync
}

// NewDocuments returns the documents store backed by a and sync.
func NewDocuments(a Acme, sync *features.DocumentSync) *Documents {
	return &Documents{acme: a, sync: sync}
}

var _ lsp.Documents = (*Documents)(nil)

func (d *Documents) Version(uri protocol.DocumentURI) (int32, bool) {
	return d.sync.Version(uri)
}

func (d *Documents) ApplyEdit(ctx context.Context, label string, edits []lsp.DocumentEdit) (bool, error) {
	wins, err := d.acme.Windows()
	if err != nil {
		return false, errors.Wrapf(err, "failed to read list of acme index")
	}
	winid := make(map[string]int, len(wins))
	for _, info := range wins {
		winid[info.Name] = info.ID
	}
	for i := range edits {
		if err := d.apply(ctx, &edits[i], winid); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *Documents) apply(ctx context.Context, e *lsp.DocumentEdit, winid map[string]int) error {
	name := text.ToPath(e.URI)
	opts := e.Options
	if opts == nil {
		opts = &protocol.FileOptions{}
	}
	switch e.Op {
	case "":
		if id, ok := winid[name]; ok {
			return d.editWindow(ctx, id, e)
		}
		return editFile(name, e.Edits)

	case protocol.CreateOp:
		if _, err := os.Stat(name); err == nil {
			if opts.IgnoreIfExists && !opts.Overwrite {
				return nil
			}
			if !opts.Overwrite {
				return errors.Errorf("create %v: file exists", name)
			}
		}
		return os.WriteFile(name, nil, 0666)

	case protocol.RenameOp:
		target := text.ToPath(e.NewURI)
		if _, err := os.Stat(target); err == nil {
			if opts.IgnoreIfExists && !opts.Overwrite {
				return nil
			}
			if !opts.Overwrite {
				return errors.Errorf("rename %v: %v exists", name, target)
			}
		}
		return os.Rename(name, target)

	case protocol.DeleteOp:
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if opts.IgnoreIfNotExists {
				return nil
			}
			return errors.Errorf("delete %v: file does not exist", name)
		}
		if opts.Recursive {
			return os.RemoveAll(name)
		}
		return os.Remove(name)
	}
	return errors.Errorf("unknown resource operation %q", e.Op)
}

func (d *Documents) editWindow(ctx context.Context, id int, e *lsp.DocumentEdit) error {
	w, err := d.acme.OpenWin(id)
	if err != nil {
		return errors.Wrapf(err, "failed to open window %v", id)
	}
	defer w.CloseFiles()

	if err := text.Edit(w, e.Edits); err != nil {
		return errors.Wrapf(err, "failed to apply edits to window %v", id)
	}
	if _, open := d.sync.Version(e.URI); !open {
		return nil
	}
	body, err := w.ReadAll("body")
	if err != nil {
		return err
	}
	return d.sync.DidChange(ctx, e.URI, string(body))
}

func editFile(name string, edits []protocol.TextEdit) error {
	fi, err := os.Stat(name)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	buf := text.NewBuffer(string(b))
	if err := text.Edit(buf, edits); err != nil {
		return errors.Wrapf(err, "failed to apply edits to %v", name)
	}
	return os.WriteFile(name, []byte(buf.String()), fi.Mode().Perm())
}
