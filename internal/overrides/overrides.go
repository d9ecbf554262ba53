package overrides

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/wxsmerge/api"
)

// Matches both `define NAME = "VALUE"` and the preprocessor form
// `<?define NAME="VALUE"?>`.
var defineLine = regexp.MustCompile(`^\s*(?:<\?)?\s*define\s+([A-Za-z0-9_]+)\s*=\s*"(.*)"\s*(?:\?>)?\s*$`)

var tokenRef = regexp.MustCompile(`\$\(var\.([A-Za-z0-9_]+)\)`)

// Map holds macro definitions by name.
type Map map[string]string

// Parse reads one definition per line. Lines that are not definitions are
// ignored; a later definition of the same name wins.
func Parse(r io.Reader) (Map, error) {
	m := Map{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		match := defineLine.FindStringSubmatch(sc.Text())
		if match == nil {
			continue
		}
		m[match[1]] = match[2]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	return m, nil
}

// Load parses the overrides file at path.
func Load(fsys billy.Filesystem, path string) (Map, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("overrides %s: %w", path, api.ErrInputNotFound)
		}
		return nil, fmt.Errorf("open overrides %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Set defines name, replacing any existing value.
func (m Map) Set(name, value string) {
	m[name] = value
}

// Names returns the defined names in lexical order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply replaces every $(var.NAME) token whose NAME is defined. Replacement
// is a single pass: values that themselves contain tokens are not expanded.
func (m Map) Apply(text string) string {
	if len(m) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(m))
	for _, name := range m.Names() {
		pairs = append(pairs, "$(var."+name+")", m[name])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Unresolved lists the distinct token names in text that Apply would leave
// in place, in lexical order.
func (m Map) Unresolved(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, match := range tokenRef.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if _, ok := m[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
