// Package ignore matches paths against gitignore-style patterns.
//
// Ingest uses it to skip files listed in .gitignore and .ragignore at the
// root of an ingested directory. Supported syntax: comments, blank lines,
// "!" negation, trailing "/" for directories, leading or inner "/" to anchor
// at the root, and the *, ?, ** and [...] wildcards. Later patterns win.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Files are the ignore files read from an ingest root, in order.
var Files = []string{".gitignore", ".ragignore"}

// Matcher holds compiled patterns. It is not safe for concurrent mutation;
// build it fully before matching from several goroutines.
type Matcher struct {
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// New returns a matcher for patterns.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// Load reads every file in Files under root. Missing files are skipped.
func Load(root string) (*Matcher, error) {
	m := New()
	for _, name := range Files {
		if err := m.AddFile(filepath.Join(root, name)); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return m, nil
}

// AddFile adds every pattern line of path.
func (m *Matcher) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// Add compiles one pattern line. Blank lines and comments are ignored.
func (m *Matcher) Add(line string) {
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimLeft(p, "/")
	} else if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		r.anchored = true
	}
	if p == "" {
		return
	}

	r.re = regexp.MustCompile("^" + globToRegex(p) + "$")
	m.rules = append(m.rules, r)
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int { return len(m.rules) }

// Match reports whether rel, a slash or OS separated path relative to the
// root, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	last := len(parts) - 1

	if r.anchored {
		// The pattern names rel itself or one of its parent directories.
		for i := last; i >= 0; i-- {
			if !r.re.MatchString(strings.Join(parts[:i+1], "/")) {
				continue
			}
			if i == last && r.dirOnly {
				return isDir
			}
			return true
		}
		return false
	}

	for i, part := range parts {
		if !r.re.MatchString(part) {
			continue
		}
		if i == last && r.dirOnly {
			return isDir
		}
		return true
	}
	// Unanchored patterns with ** can still span directories.
	return r.re.MatchString(rel)
}

// globToRegex translates one glob into a regexp body.
func globToRegex(glob string) string {
	var sb strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					sb.WriteString("(?:.*/)?")
					i += 2
				} else {
					sb.WriteString(".*")
					i++
				}
				continue
			}
			sb.WriteString("[^/]*")
		case '?':
			sb.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return sb.String()
}
