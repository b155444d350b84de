package lsp

import (
	"fmt"
	"path/filepath"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/fhs/lspc/internal/lsp/text"
)

// LocationLink formats l the way acme addresses text:
// path:line.col,line.col with one-based lines and columns. The path
// is made relative to basedir if that is shorter.
func LocationLink(l *protocol.Location, basedir string) string {
	p := text.ToPath(l.URI)
	if basedir != "" {
		rel, err := filepath.Rel(basedir, p)
		if err == nil && len(rel) < len(p) {
			p = rel
		}
	}
	return fmt.Sprintf("%s:%v.%v,%v.%v", p,
		l.Range.Start.Line+1, l.Range.Start.Character+1,
		l.Range.End.Line+1, l.Range.End.Character+1)
}

// DetectLanguage guesses the language identifier of a file from its name.
func DetectLanguage(filename string) string {
	switch base := filepath.Base(filename); base {
	case "go.mod", "go.sum":
		return base
	}
	lang := filepath.Ext(filename)
	if len(lang) == 0 {
		return lang
	}
	if lang[0] == '.' {
		lang = lang[1:]
	}
	switch lang {
	case "py":
		lang = "python"
	case "rs":
		lang = "rust"
	case "ts":
		lang = "typescript"
	case "js":
		lang = "javascript"
	}
	return lang
}

// DirsToWorkspaceFolders returns workspace folders for the directories.
func DirsToWorkspaceFolders(dirs []string) ([]protocol.WorkspaceFolder, error) {
	var workspaces []protocol.WorkspaceFolder
	for _, d := range dirs {
		d, err := filepath.Abs(d)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, protocol.WorkspaceFolder{
			URI:  text.ToURI(d),
			Name: d,
		})
	}
	return workspaces, nil
}

// AbsDirs returns the absolute representation of directories dirs.
func AbsDirs(dirs []string) ([]string, error) {
	a := make([]string, len(dirs))
	for i, d := range dirs {
		d, err := filepath.Abs(d)
		if err != nil {
			return nil, err
		}
		a[i] = d
	}
	return a, nil
}
