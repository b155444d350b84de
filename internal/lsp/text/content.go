package text

import (
	"io"
	"io/ioutil"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// Content indexes the lines of a document so that LSP positions,
// which count UTF-16 code units, can be mapped to the rune offsets
// that editors such as acme use.
type Content struct {
	runes []rune
	lines []int // rune offset of the start of each line
}

// NewContent indexes b.
func NewContent(b []byte) *Content {
	rs := []rune(string(b))
	return &Content{runes: rs, lines: lineStarts(rs)}
}

func lineStarts(rs []rune) []int {
	lines := []int{0}
	for i, r := range rs {
		if r == '\n' {
			lines = append(lines, i+1)
		}
	}
	return lines
}

// ReadContent reads all of r and indexes it.
func ReadContent(r io.Reader) (*Content, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewContent(b), nil
}

// Len returns the number of runes in the content.
func (c *Content) Len() int { return len(c.runes) }

// lineEnd returns the rune offset of the end of line, excluding the newline.
func (c *Content) lineEnd(line int) int {
	if line+1 < len(c.lines) {
		return c.lines[line+1] - 1
	}
	return len(c.runes)
}

// Offset returns the rune offset of p. Positions past the end of a
// line are clamped to the end of the line, and lines past the end of
// the content map to the end of the content. A character offset that
// falls inside a surrogate pair rounds up to the following rune.
func (c *Content) Offset(p protocol.Position) int {
	line := int(p.Line)
	if line >= len(c.lines) {
		return len(c.runes)
	}
	o := c.lines[line]
	end := c.lineEnd(line)
	for units := 0; o < end && units < int(p.Character); o++ {
		units += utf16Len(c.runes[o])
	}
	return o
}

// Position returns the LSP position of rune offset o.
func (c *Content) Position(o int) protocol.Position {
	if o > len(c.runes) {
		o = len(c.runes)
	}
	if o < 0 {
		o = 0
	}
	line := len(c.lines) - 1
	for line > 0 && c.lines[line] > o {
		line--
	}
	units := 0
	for i := c.lines[line]; i < o; i++ {
		units += utf16Len(c.runes[i])
	}
	return protocol.Position{Line: uint32(line), Character: uint32(units)}
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
