package ingest

import (
	"fmt"
	"strings"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

// DirectoryRecord is one directory as listed in the manifest. ParentRefID
// names the reference the directory hangs off, not a parent node.
type DirectoryRecord struct {
	ID          string
	Name        string
	ParentRefID string
	Element     markup.NodeID
}

// FileRecord is the single file of a component.
type FileRecord struct {
	ID      string
	Name    string
	Source  string
	Element markup.NodeID
}

// ComponentRecord is one component as listed in the manifest.
// File is nil for placeholder components that install no file.
type ComponentRecord struct {
	ID             string
	DirectoryRefID string
	Element        markup.NodeID
	File           *FileRecord
}

// ComponentRef is an entry of the manifest's component group.
type ComponentRef struct {
	ID      string
	Element markup.NodeID
}

// Manifest is the flat directory/component listing produced by the packager.
// Records point into Doc, which the merge rewrites in place.
type Manifest struct {
	Doc          *markup.Document
	Directories  []DirectoryRecord
	Components   []ComponentRecord
	Placeholders []ComponentRecord
	Group        markup.NodeID // component group, InvalidNode when absent
	Refs         []ComponentRef
}

// ParseManifest parses manifest text and reads its records.
func ParseManifest(text string, layout api.Layout) (*Manifest, error) {
	doc, err := markup.ParseString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrMalformedManifest, err)
	}
	return ReadManifest(doc, layout)
}

// ReadManifest collects the records of every Fragment under the root.
// References to the target root are skipped. Directories nested inside a
// Directory are read as if their reference were the enclosing directory.
func ReadManifest(doc *markup.Document, layout api.Layout) (*Manifest, error) {
	root := doc.Root()
	if doc.Name(root) != layout.RootElement {
		return nil, fmt.Errorf("%w: root element is <%s>, want <%s>", api.ErrMalformedManifest, doc.Name(root), layout.RootElement)
	}
	m := &Manifest{Doc: doc, Group: markup.InvalidNode}
	seenComp := map[string]bool{}

	for _, frag := range doc.Elements(root) {
		if doc.Name(frag) != "Fragment" {
			continue
		}
		for _, el := range doc.Elements(frag) {
			switch doc.Name(el) {
			case "DirectoryRef":
				refID, ok := doc.Attr(el, "Id")
				if !ok || refID == "" {
					return nil, fmt.Errorf("%w: DirectoryRef without Id", api.ErrMalformedManifest)
				}
				if refID == layout.TargetDir {
					continue
				}
				if err := m.collect(refID, el, seenComp); err != nil {
					return nil, err
				}
			case "ComponentGroup":
				if doc.AttrValue(el, "Id") != layout.ManifestGroup {
					continue
				}
				if m.Group != markup.InvalidNode {
					return nil, fmt.Errorf("%w: component group %q listed twice", api.ErrMalformedManifest, layout.ManifestGroup)
				}
				m.Group = el
				for _, ref := range doc.Elements(el) {
					if doc.Name(ref) == "ComponentRef" {
						m.Refs = append(m.Refs, ComponentRef{ID: doc.AttrValue(ref, "Id"), Element: ref})
					}
				}
			}
		}
	}

	if layout.StrictPlaceholder && len(m.Placeholders) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one placeholder component, found %d",
			api.ErrMalformedManifest, len(m.Placeholders))
	}
	return m, nil
}

func (m *Manifest) collect(refID string, parent markup.NodeID, seenComp map[string]bool) error {
	doc := m.Doc
	for _, el := range doc.Elements(parent) {
		switch doc.Name(el) {
		case "Directory":
			id, name := doc.AttrValue(el, "Id"), doc.AttrValue(el, "Name")
			if id == "" || name == "" {
				return fmt.Errorf("%w: directory under %q needs both Id and Name (Id=%q)", api.ErrMalformedManifest, refID, id)
			}
			m.Directories = append(m.Directories, DirectoryRecord{ID: id, Name: name, ParentRefID: refID, Element: el})
			if err := m.collect(id, el, seenComp); err != nil {
				return err
			}
		case "Component":
			id := doc.AttrValue(el, "Id")
			if id == "" {
				return fmt.Errorf("%w: component under %q without Id", api.ErrMalformedManifest, refID)
			}
			if seenComp[id] {
				return fmt.Errorf("%w: component %q listed twice", api.ErrDuplicateIdentifier, id)
			}
			seenComp[id] = true
			rec := ComponentRecord{ID: id, DirectoryRefID: refID, Element: el}
			if f := doc.FindChild(el, "File"); f != markup.InvalidNode {
				rec.File = &FileRecord{
					ID:      doc.AttrValue(f, "Id"),
					Name:    doc.AttrValue(f, "Name"),
					Source:  doc.AttrValue(f, "Source"),
					Element: f,
				}
				if rec.File.Name == "" && rec.File.Source == "" {
					return fmt.Errorf("%w: file of component %q has neither Name nor Source", api.ErrMalformedManifest, id)
				}
				m.Components = append(m.Components, rec)
			} else {
				m.Placeholders = append(m.Placeholders, rec)
			}
		}
	}
	return nil
}

// InstallName is the file name the component installs: the Name attribute,
// or the last element of Source.
func (f *FileRecord) InstallName() string {
	if f.Name != "" {
		return f.Name
	}
	return baseName(f.Source)
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '\\' || r == '/' })
}

func baseName(p string) string {
	parts := splitPath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// RelativizeSource rewrites a build path such as
// C:\build\images\jdk\bin\java.exe into ..\jdk\bin\java.exe. Only the
// maxDepth nearest ancestors are searched for the images/image pair; paths
// without it are returned unchanged.
func RelativizeSource(src, imagesDir, imageName string, maxDepth int) string {
	parts := splitPath(src)
	for i, steps := len(parts)-2, 0; i >= 1 && steps < maxDepth; i, steps = i-1, steps+1 {
		if parts[i] == imageName && parts[i-1] == imagesDir {
			return `..\` + strings.Join(parts[i:], `\`)
		}
	}
	return src
}
