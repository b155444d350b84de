package text

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// File is an editable text file addressed by rune offsets.
type File interface {
	// Reader returns a reader for the entire file text.
	Reader() (io.Reader, error)

	// WriteAt replaces the text in rune range [q0, q1) with bytes b.
	WriteAt(q0, q1 int, b []byte) (int, error)

	// Mark marks the file for later undo.
	Mark() error

	// DisableMark turns off automatic marking (e.g. generated by WriteAt).
	DisableMark() error
}

// Edit applies the text edits to f. Edits are applied from the end of
// the file towards the beginning so that earlier offsets stay valid.
// Inserts at the same position keep their order in edits.
func Edit(f File, edits []protocol.TextEdit) error {
	if len(edits) == 0 {
		return nil
	}
	r, err := f.Reader()
	if err != nil {
		return err
	}
	c, err := ReadContent(r)
	if err != nil {
		return err
	}

	type span struct {
		q0, q1 int
		text   string
	}
	spans := make([]span, 0, len(edits))
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		spans = append(spans, span{
			q0:   c.Offset(e.Range.Start),
			q1:   c.Offset(e.Range.End),
			text: e.NewText,
		})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].q0 > spans[j].q0
	})

	if err := f.DisableMark(); err != nil {
		return err
	}
	if err := f.Mark(); err != nil {
		return err
	}
	for _, s := range spans {
		if _, err := f.WriteAt(s.q0, s.q1, []byte(s.text)); err != nil {
			return err
		}
	}
	return nil
}

// Buffer is an in-memory File.
type Buffer struct {
	mu    sync.Mutex
	runes []rune
}

// NewBuffer returns a Buffer holding s.
func NewBuffer(s string) *Buffer {
	return &Buffer{runes: []rune(s)}
}

func (b *Buffer) Reader() (io.Reader, error) {
	return strings.NewReader(b.String()), nil
}

func (b *Buffer) WriteAt(q0, q1 int, p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q1 > len(b.runes) {
		q1 = len(b.runes)
	}
	if q0 > q1 {
		q0 = q1
	}
	rs := make([]rune, 0, len(b.runes)-(q1-q0)+len(p))
	rs = append(rs, b.runes[:q0]...)
	rs = append(rs, []rune(string(p))...)
	rs = append(rs, b.runes[q1:]...)
	b.runes = rs
	return len(p), nil
}

func (b *Buffer) Mark() error        { return nil }
func (b *Buffer) DisableMark() error { return nil }

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.runes)
}
