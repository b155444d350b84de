package protocol

import (
	"net/url"
	"strings"
)

// DocumentFilter denotes a document through properties like language,
// scheme or pattern. Empty fields match anything.
type DocumentFilter struct {
	Language string `json:"language,omitempty"`
	Scheme   string `json:"scheme,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

type DocumentSelector []DocumentFilter

// Match reports whether the document with the given URI and language
// matches f.
func (f *DocumentFilter) Match(uri DocumentURI, languageID string) bool {
	if f.Language != "" && f.Language != languageID {
		return false
	}
	scheme, rest, ok := strings.Cut(string(uri), ":")
	if !ok {
		scheme, rest = "file", string(uri)
	}
	if f.Scheme != "" && f.Scheme != scheme {
		return false
	}
	if f.Pattern != "" {
		g, err := CompileGlob(f.Pattern)
		if err != nil {
			return false
		}
		name := rest
		if u, err := url.Parse(string(uri)); err == nil && u.Path != "" {
			name = u.Path
		}
		if !g.Match(name) {
			return false
		}
	}
	return true
}

// Match reports whether any filter in the selector matches the document.
// A nil selector matches nothing.
func (s DocumentSelector) Match(uri DocumentURI, languageID string) bool {
	for i := range s {
		if s[i].Match(uri, languageID) {
			return true
		}
	}
	return false
}
