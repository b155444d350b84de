// Package acmeutil implements acme utility functions.
package acmeutil

import (
	"io"

	"github.com/fhs/9fans-go/acme"
	"github.com/pkg/errors"
)

// Win is an acme window addressed by rune offsets. It implements
// text.File.
type Win struct {
	*acme.Win
}

// NewWin creates a new acme window.
func NewWin() (*Win, error) {
	w, err := acme.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create window")
	}
	return &Win{w}, nil
}

// OpenWin opens the existing window with the given id.
func OpenWin(id int) (*Win, error) {
	w, err := acme.Open(id, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open window %v", id)
	}
	return &Win{w}, nil
}

func (w *Win) Reader() (io.Reader, error) {
	if _, err := w.Seek("body", 0, io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, "seek failed for window %v", w.ID())
	}
	return &winFile{w: w.Win, name: "body"}, nil
}

func (w *Win) WriteAt(q0, q1 int, b []byte) (int, error) {
	if err := w.Addr("#%d,#%d", q0, q1); err != nil {
		return 0, errors.Wrapf(err, "failed to write to addr for winid=%v", w.ID())
	}
	return w.Write("data", b)
}

func (w *Win) Mark() error        { return w.Ctl("mark") }
func (w *Win) DisableMark() error { return w.Ctl("nomark") }

// SetBody replaces the body of the window with s and marks the window
// clean.
func (w *Win) SetBody(s string) error {
	w.Clear()
	if _, err := io.WriteString(&winFile{w: w.Win, name: "body"}, s); err != nil {
		return err
	}
	return w.Ctl("clean")
}

// winFile is one file of a window.
type winFile struct {
	w    *acme.Win
	name string
}

func (f *winFile) Read(b []byte) (int, error)  { return f.w.Read(f.name, b) }
func (f *winFile) Write(b []byte) (int, error) { return f.w.Write(f.name, b) }

// Hijack opens the first window named name.
func Hijack(name string) (*Win, error) {
	wins, err := acme.Windows()
	if err != nil {
		return nil, errors.Wrapf(err, "hijack %q", name)
	}
	for _, info := range wins {
		if info.Name == name {
			return OpenWin(info.ID)
		}
	}
	return nil, errors.Errorf("hijack %q: window not found", name)
}
