package text

import "github.com/fhs/lspc/internal/lsp/protocol"

// Change returns a single change event that turns oldText into
// newText, replacing the smallest range that differs.
func Change(oldText, newText string) protocol.TextDocumentContentChangeEvent {
	o, n := []rune(oldText), []rune(newText)
	p := 0
	for p < len(o) && p < len(n) && o[p] == n[p] {
		p++
	}
	s := 0
	for s < len(o)-p && s < len(n)-p && o[len(o)-1-s] == n[len(n)-1-s] {
		s++
	}
	c := &Content{runes: o, lines: lineStarts(o)}
	rng := protocol.Range{
		Start: c.Position(p),
		End:   c.Position(len(o) - s),
	}
	return protocol.TextDocumentContentChangeEvent{
		Range: &rng,
		Text:  string(n[p : len(n)-s]),
	}
}
