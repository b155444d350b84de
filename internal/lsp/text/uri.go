// Package text converts between LSP documents and host text:
// URIs and paths, UTF-16 positions and rune offsets, and text edits.
package text

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

const fileScheme = "file"

// ToURI converts a file name to a file URI.
func ToURI(name string) protocol.DocumentURI {
	u := url.URL{
		Scheme: fileScheme,
		Path:   filepath.ToSlash(name),
	}
	return protocol.DocumentURI(u.String())
}

// ToPath converts a file URI to a file name. Anything that is not a
// file URI is returned unchanged.
func ToPath(uri protocol.DocumentURI) string {
	if !strings.HasPrefix(string(uri), fileScheme+"://") {
		return string(uri)
	}
	u, err := url.Parse(string(uri))
	if err != nil {
		return string(uri)
	}
	return filepath.FromSlash(u.Path)
}
