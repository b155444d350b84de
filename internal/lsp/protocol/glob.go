package protocol

import (
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Glob is a compiled LSP glob pattern. The syntax is:
//
//   - matches zero or more characters in a path segment
//     ?      matches one character in a path segment
//     **     matches any number of path segments, including none
//     {a,b}  matches any of the comma separated alternatives
//     [a-z]  matches a character in the range ([!a-z] negates)
type Glob struct {
	pattern  string
	re       *regexp.Regexp
	baseOnly bool
}

// CompileGlob parses pattern.
func CompileGlob(pattern string) (*Glob, error) {
	var b strings.Builder
	b.WriteString("^")
	rs := []rune(pattern)
	depth := 0
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				i++
				if i+1 < len(rs) && rs[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '{':
			depth++
			b.WriteString("(?:")
		case '}':
			if depth == 0 {
				b.WriteString(`\}`)
				continue
			}
			depth--
			b.WriteString(")")
		case ',':
			if depth > 0 {
				b.WriteString("|")
			} else {
				b.WriteString(",")
			}
		case '[':
			j := i + 1
			for j < len(rs) && rs[j] != ']' {
				j++
			}
			if j == len(rs) {
				b.WriteString(`\[`)
				continue
			}
			class := string(rs[i+1 : j])
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if depth != 0 {
		return nil, errors.Errorf("glob %q: unbalanced braces", pattern)
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Wrapf(err, "glob %q", pattern)
	}
	return &Glob{
		pattern:  pattern,
		re:       re,
		baseOnly: !strings.ContainsRune(pattern, '/'),
	}, nil
}

// MustCompileGlob is like CompileGlob but panics on error.
func MustCompileGlob(pattern string) *Glob {
	g, err := CompileGlob(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Glob) String() string { return g.pattern }

// Match reports whether name matches the pattern. A pattern without a
// slash is also matched against the last element of name.
func (g *Glob) Match(name string) bool {
	if g.re.MatchString(name) {
		return true
	}
	return g.baseOnly && g.re.MatchString(path.Base(name))
}
