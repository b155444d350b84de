package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// The LSP allows several fields to hold one of a few shapes. The types
// here decode every shape and normalize to the richest one.

// TextDocumentSyncOptionsOrKind holds either a TextDocumentSyncKind or
// TextDocumentSyncOptions. The LSP API allows either to be specified
// in the (ServerCapabilities).TextDocumentSync field.
type TextDocumentSyncOptionsOrKind struct {
	Kind    *TextDocumentSyncKind
	Options *TextDocumentSyncOptions
}

// MarshalJSON implements json.Marshaler.
func (v *TextDocumentSyncOptionsOrKind) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	if v.Kind != nil {
		return json.Marshal(v.Kind)
	}
	return json.Marshal(v.Options)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *TextDocumentSyncOptionsOrKind) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*v = TextDocumentSyncOptionsOrKind{}
		return nil
	}
	var kind TextDocumentSyncKind
	if err := json.Unmarshal(data, &kind); err == nil {
		// A bare kind means open/close notifications are wanted unless
		// the kind is None, and saves are sent without text. The Kind
		// field is kept so that marshaling reproduces the input.
		*v = TextDocumentSyncOptionsOrKind{
			Options: KindToSyncOptions(kind),
			Kind:    &kind,
		}
		return nil
	}
	var tmp TextDocumentSyncOptions
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*v = TextDocumentSyncOptionsOrKind{Options: &tmp}
	return nil
}

// KindToSyncOptions returns the sync options equivalent to a bare kind.
func KindToSyncOptions(kind TextDocumentSyncKind) *TextDocumentSyncOptions {
	if kind == TDSKNone {
		return &TextDocumentSyncOptions{Change: TDSKNone}
	}
	return &TextDocumentSyncOptions{
		OpenClose: true,
		Change:    kind,
		Save:      &SaveOptions{IncludeText: false},
	}
}

// Resolve returns the sync options described by v. A missing
// capability means documents are not synchronized.
func (v *TextDocumentSyncOptionsOrKind) Resolve() *TextDocumentSyncOptions {
	switch {
	case v == nil:
		return &TextDocumentSyncOptions{Change: TDSKNone}
	case v.Options != nil:
		return v.Options
	case v.Kind != nil:
		return KindToSyncOptions(*v.Kind)
	}
	return &TextDocumentSyncOptions{Change: TDSKNone}
}

// ProgressToken is an integer or a string. It is comparable, so it
// can be used as a map key.
type ProgressToken struct {
	Num      int64
	Str      string
	IsString bool
}

// NewStringToken returns a string progress token.
func NewStringToken(s string) ProgressToken {
	return ProgressToken{Str: s, IsString: true}
}

func (t ProgressToken) String() string {
	if t.IsString {
		return strconv.Quote(t.Str)
	}
	return strconv.FormatInt(t.Num, 10)
}

// MarshalJSON implements json.Marshaler.
func (t ProgressToken) MarshalJSON() ([]byte, error) {
	if t.IsString {
		return json.Marshal(t.Str)
	}
	return json.Marshal(t.Num)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ProgressToken) UnmarshalJSON(data []byte) error {
	d := strings.TrimSpace(string(data))
	if strings.HasPrefix(d, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = NewStringToken(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrapf(err, "invalid progress token %s", d)
	}
	*t = ProgressToken{Num: n}
	return nil
}

// DocumentChange is one element of (WorkspaceEdit).DocumentChanges:
// a text document edit or a resource operation. Exactly one field is set.
type DocumentChange struct {
	TextDocumentEdit *TextDocumentEdit
	CreateFile       *CreateFile
	RenameFile       *RenameFile
	DeleteFile       *DeleteFile
}

// MarshalJSON implements json.Marshaler.
func (c DocumentChange) MarshalJSON() ([]byte, error) {
	switch {
	case c.TextDocumentEdit != nil:
		return json.Marshal(c.TextDocumentEdit)
	case c.CreateFile != nil:
		return json.Marshal(c.CreateFile)
	case c.RenameFile != nil:
		return json.Marshal(c.RenameFile)
	case c.DeleteFile != nil:
		return json.Marshal(c.DeleteFile)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *DocumentChange) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind ResourceOperationKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*c = DocumentChange{}
	switch probe.Kind {
	case "":
		c.TextDocumentEdit = new(TextDocumentEdit)
		return json.Unmarshal(data, c.TextDocumentEdit)
	case CreateOp:
		c.CreateFile = new(CreateFile)
		return json.Unmarshal(data, c.CreateFile)
	case RenameOp:
		c.RenameFile = new(RenameFile)
		return json.Unmarshal(data, c.RenameFile)
	case DeleteOp:
		c.DeleteFile = new(DeleteFile)
		return json.Unmarshal(data, c.DeleteFile)
	}
	return errors.Errorf("unknown resource operation %q", probe.Kind)
}
