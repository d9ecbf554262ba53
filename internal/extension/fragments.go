package extension

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
	"github.com/agentic-research/wxsmerge/internal/writeback"
)

// Graft positions relative to the anchor element.
const (
	PositionAppend = "append"
	PositionBefore = "before"
	PositionAfter  = "after"
)

// Fragments grafts the content of every *.xml file of the content dir into
// the document. Each file looks like
//
//	<Extension>
//	    <Graft anchor="INSTALLDIR" position="append">...</Graft>
//	</Extension>
//
// Files are applied in name order, grafts in document order.
type Fragments struct {
	FS     billy.Filesystem
	Layout api.Layout
	Log    *zap.Logger
}

func NewFragments(fsys billy.Filesystem, layout api.Layout, log *zap.Logger) *Fragments {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fragments{FS: fsys, Layout: layout.WithDefaults(), Log: log}
}

func (f *Fragments) Apply(_ context.Context, input, contentDir, output string) error {
	data, err := util.ReadFile(f.FS, input)
	if err != nil {
		return fmt.Errorf("extension input %s: %w: %v", input, api.ErrInputNotFound, err)
	}
	doc, err := markup.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%w: extension input %s: %v", api.ErrMalformedTemplate, input, err)
	}

	files, err := f.contentFiles(contentDir)
	if err != nil {
		return err
	}
	ids := writeback.IDs(doc, doc.Root())
	for _, name := range files {
		n, err := f.graftFile(doc, ids, name)
		if err != nil {
			return err
		}
		f.Log.Info("grafted extension fragment", zap.String("file", name), zap.Int("nodes", n))
	}

	if err := writeback.Validate(doc, f.Layout.ComponentGroup, f.Layout.ManifestGroup); err != nil {
		return err
	}
	out, err := writeback.Format(doc, f.Layout.Namespace)
	if err != nil {
		return err
	}
	return writeback.WriteAtomic(f.FS, output, out)
}

func (f *Fragments) contentFiles(dir string) ([]string, error) {
	entries, err := f.FS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("content dir %s: %w: %v", dir, api.ErrInputNotFound, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".xml") {
			continue
		}
		out = append(out, f.FS.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// graftFile applies the grafts of one fragment file and returns how many
// nodes were inserted.
func (f *Fragments) graftFile(doc *markup.Document, ids map[string]map[string]int, name string) (int, error) {
	data, err := util.ReadFile(f.FS, name)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", api.ErrExtension, name, err)
	}
	src, err := markup.ParseBytes(data)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", api.ErrExtension, name, err)
	}
	root := src.Root()
	if root == markup.InvalidNode || src.Name(root) != "Extension" {
		return 0, fmt.Errorf("%w: %s: root element must be <Extension>", api.ErrExtension, name)
	}

	total := 0
	for _, g := range src.Elements(root) {
		if src.Name(g) != "Graft" {
			return total, fmt.Errorf("%w: %s: unexpected <%s>", api.ErrExtension, name, src.Name(g))
		}
		if err := claim(src, g, ids); err != nil {
			return total, fmt.Errorf("%s: %w", name, err)
		}
		n, err := graft(doc, src, g)
		if err != nil {
			return total, fmt.Errorf("%w: %s: %v", api.ErrExtension, name, err)
		}
		total += n
	}
	return total, nil
}

// claim records the ids introduced by graft g, failing on any id the
// document already uses for the same element name.
func claim(src *markup.Document, g markup.NodeID, ids map[string]map[string]int) error {
	var err error
	for _, c := range src.Elements(g) {
		src.Walk(c, func(n markup.NodeID) bool {
			if src.Kind(n) != markup.ElementNode {
				return true
			}
			id, ok := src.Attr(n, "Id")
			if !ok {
				return true
			}
			el := src.Name(n)
			if ids[el][id] > 0 {
				err = &writeback.ValidationError{Element: el, ID: id, Message: "already defined in the document", Err: api.ErrDuplicateIdentifier}
				return false
			}
			if ids[el] == nil {
				ids[el] = map[string]int{}
			}
			ids[el][id]++
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func graft(doc, src *markup.Document, g markup.NodeID) (int, error) {
	anchorID := src.AttrValue(g, "anchor")
	if anchorID == "" {
		return 0, fmt.Errorf("graft without anchor")
	}
	anchor := doc.Root()
	if doc.AttrValue(anchor, "Id") != anchorID {
		anchor = doc.FindByID(anchor, anchorID)
	}
	if anchor == markup.InvalidNode {
		return 0, fmt.Errorf("anchor %q not found", anchorID)
	}

	position := src.AttrValue(g, "position")
	if position == "" {
		position = PositionAppend
	}
	parent := doc.Parent(anchor)
	if position != PositionAppend && (parent == markup.InvalidNode || parent == doc.DocumentNode()) {
		return 0, fmt.Errorf("anchor %q has no parent element", anchorID)
	}

	ref := anchor
	n := 0
	for _, c := range src.Children(g) {
		if src.Kind(c) == markup.TextNode && strings.TrimSpace(src.Text(c)) == "" {
			continue
		}
		cp := doc.Import(src, c)
		var err error
		switch position {
		case PositionAppend:
			err = doc.AppendChild(anchor, cp)
		case PositionBefore:
			err = doc.InsertBefore(parent, cp, anchor)
		case PositionAfter:
			err = doc.InsertAfter(parent, cp, ref)
			ref = cp
		default:
			return n, fmt.Errorf("unknown position %q", position)
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
