// Package ident derives readable, length-bounded identifiers from install
// paths: dir_<path>, comp_<path>, file_<path>.
package ident

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/graph"
)

const (
	// MaxLength is the identifier limit of the installer toolchain.
	MaxLength = 72
	// SuffixBudget is kept free for suffixes the toolchain appends.
	SuffixBudget = 5
	// BodyLimit bounds the part of an id after its prefix.
	BodyLimit = MaxLength - SuffixBudget

	// MaxDepth bounds every ancestor walk.
	MaxDepth = 32

	DirPrefix  = "dir_"
	CompPrefix = "comp_"
	FilePrefix = "file_"

	separator = `\`
)

var problemRuns = regexp.MustCompile(`[-\s.\\/]+`)

// Normalize lower-cases path and turns every run of hyphens, whitespace,
// periods and path separators into a single underscore.
func Normalize(path string) string {
	return problemRuns.ReplaceAllString(strings.ToLower(path), "_")
}

// Shorten blanks underscore-separated segments of body, left to right from
// the second one, until it fits limit. The first and last segments are never
// touched. ErrIdentifierOverflow is returned when that is not enough.
func Shorten(body string, limit int) (string, error) {
	if len(body) <= limit {
		return body, nil
	}
	parts := strings.Split(body, "_")
	length := len(body)
	for i := 1; i < len(parts)-1 && length > limit; i++ {
		length -= len(parts[i])
		parts[i] = ""
	}
	if length > limit {
		return "", fmt.Errorf("%w: %q cannot be shortened to %d", api.ErrIdentifierOverflow, body, limit)
	}
	return strings.Join(parts, "_"), nil
}

// Body joins path names and returns the normalized, shortened id body.
func Body(names []string, limit int) (string, error) {
	return Shorten(Normalize(strings.Join(names, separator)), limit)
}

// Assigner hands out ids for one merge run and rejects collisions.
type Assigner struct {
	Limit    int
	MaxDepth int

	issued map[string]string // id -> manifest id it was issued for
}

func NewAssigner() *Assigner {
	return &Assigner{Limit: BodyLimit, MaxDepth: MaxDepth, issued: map[string]string{}}
}

func (a *Assigner) claim(id, source string) error {
	if prev, dup := a.issued[id]; dup && prev != source {
		return fmt.Errorf("%w: %q computed for both %q and %q", api.ErrDuplicateIdentifier, id, prev, source)
	}
	a.issued[id] = source
	return nil
}

// Directory returns the id of directory ref, derived from its path below the root.
func (a *Assigner) Directory(t *graph.Tree, ref graph.NodeRef) (string, error) {
	names, err := t.Path(ref, a.MaxDepth)
	if err != nil {
		return "", err
	}
	body, err := Body(names, a.Limit)
	if err != nil {
		return "", err
	}
	id := DirPrefix + body
	if err := a.claim(id, t.Node(ref).SourceID); err != nil {
		return "", err
	}
	return id, nil
}

// Component returns the component and file ids of a file named fileName
// installed into directory dir. Both share the same body.
func (a *Assigner) Component(t *graph.Tree, dir graph.NodeRef, fileName, source string) (compID, fileID string, err error) {
	names, err := t.Path(dir, a.MaxDepth)
	if err != nil {
		return "", "", err
	}
	body, err := Body(append(names, fileName), a.Limit)
	if err != nil {
		return "", "", err
	}
	compID, fileID = CompPrefix+body, FilePrefix+body
	if err := a.claim(compID, source); err != nil {
		return "", "", err
	}
	return compID, fileID, nil
}

// Issued returns the number of distinct ids handed out.
func (a *Assigner) Issued() int {
	return len(a.issued)
}
