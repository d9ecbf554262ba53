package writeback

import (
	"fmt"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

// identified lists the elements whose Id must be unique per element name.
var identified = map[string]bool{
	"Directory": true,
	"Component": true,
	"File":      true,
}

// ValidationError describes the first structural problem found in a
// generated document.
type ValidationError struct {
	Element string
	ID      string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: <%s Id=%q>: %s", e.Err, e.Element, e.ID, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IDs indexes the Id of every element under root, by element name.
func IDs(doc *markup.Document, root markup.NodeID) map[string]map[string]int {
	out := map[string]map[string]int{}
	doc.Walk(root, func(n markup.NodeID) bool {
		if doc.Kind(n) != markup.ElementNode {
			return true
		}
		id, ok := doc.Attr(n, "Id")
		if !ok {
			return true
		}
		name := doc.Name(n)
		if out[name] == nil {
			out[name] = map[string]int{}
		}
		out[name][id]++
		return true
	})
	return out
}

// Validate checks that Directory, Component and File ids are unique and that
// every ComponentRef of the group named group resolves to a Component. Once
// that group is present, no ComponentGroupRef may still name stale, the id
// the group had in the manifest.
func Validate(doc *markup.Document, group, stale string) error {
	root := doc.Root()
	if root == markup.InvalidNode {
		return &ValidationError{Message: "document has no root element", Err: api.ErrSerialization}
	}

	seen := map[string]map[string]bool{}
	var firstErr error
	doc.Walk(root, func(n markup.NodeID) bool {
		name := doc.Name(n)
		if doc.Kind(n) != markup.ElementNode || !identified[name] {
			return true
		}
		id := doc.AttrValue(n, "Id")
		if id == "" {
			return true
		}
		if seen[name] == nil {
			seen[name] = map[string]bool{}
		}
		if seen[name][id] {
			firstErr = &ValidationError{Element: name, ID: id, Message: "id used more than once", Err: api.ErrDuplicateIdentifier}
			return false
		}
		seen[name][id] = true
		return true
	})
	if firstErr != nil {
		return firstErr
	}

	found := false
	doc.Walk(root, func(n markup.NodeID) bool {
		if doc.Name(n) != "ComponentGroup" || doc.AttrValue(n, "Id") != group {
			return true
		}
		found = true
		for _, ref := range doc.Elements(n) {
			if doc.Name(ref) != "ComponentRef" {
				continue
			}
			if id := doc.AttrValue(ref, "Id"); !seen["Component"][id] {
				firstErr = &ValidationError{Element: "ComponentRef", ID: id, Message: "references no component", Err: api.ErrSerialization}
				return false
			}
		}
		return false
	})
	if firstErr != nil || !found || stale == "" || stale == group {
		return firstErr
	}

	doc.Walk(root, func(n markup.NodeID) bool {
		if doc.Name(n) == "ComponentGroupRef" && doc.AttrValue(n, "Id") == stale {
			firstErr = &ValidationError{Element: "ComponentGroupRef", ID: stale, Message: "not re-pointed at " + group, Err: api.ErrSerialization}
			return false
		}
		return true
	})
	return firstErr
}
