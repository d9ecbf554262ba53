package ingest

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/graph"
	"github.com/agentic-research/wxsmerge/internal/ident"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

// Engine rebuilds the install tree out of a flat manifest.
type Engine struct {
	Layout   api.Layout
	MaxDepth int
	Log      *zap.Logger
}

func NewEngine(layout api.Layout, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Layout:   layout,
		MaxDepth: ident.MaxDepth,
		Log:      log,
	}
}

// Stats summarizes one merge.
type Stats struct {
	Directories  int
	Components   int
	Placeholders int
	RefsKept     int
	RefsDropped  int
	Passes       int
}

// Result is the merged manifest: the tree, the id maps and the rewritten
// component group, all still pointing into Manifest.Doc.
type Result struct {
	Manifest    *Manifest
	Tree        *graph.Tree
	DirIDs      map[string]string // manifest directory id -> final id
	CompIDs     map[string]string // manifest component id -> final id
	FileIDs     map[string]string // manifest file id -> final id
	Refs        []ComponentRef    // surviving references, sorted, final ids
	DroppedRefs []string
	Stats       Stats
}

// Merge runs the whole reconstruction: tree, directory ids, components and
// the component group.
func (e *Engine) Merge(m *Manifest) (*Result, error) {
	tree, passes, err := e.buildTree(m.Directories)
	if err != nil {
		return nil, err
	}
	ids := ident.NewAssigner()
	ids.MaxDepth = e.MaxDepth

	dirIDs, err := e.AssignDirectoryIDs(m.Doc, tree, ids)
	if err != nil {
		return nil, err
	}
	compIDs, fileIDs, err := e.MergeComponents(tree, m, ids)
	if err != nil {
		return nil, err
	}
	refs, dropped, err := e.ReconcileRefs(m, compIDs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Manifest:    m,
		Tree:        tree,
		DirIDs:      dirIDs,
		CompIDs:     compIDs,
		FileIDs:     fileIDs,
		Refs:        refs,
		DroppedRefs: dropped,
		Stats: Stats{
			Directories:  len(m.Directories),
			Components:   len(m.Components),
			Placeholders: len(m.Placeholders),
			RefsKept:     len(refs),
			RefsDropped:  len(dropped),
			Passes:       passes,
		},
	}
	e.Log.Info("manifest merged",
		zap.Int("directories", res.Stats.Directories),
		zap.Int("components", res.Stats.Components),
		zap.Int("placeholders", res.Stats.Placeholders),
		zap.Int("refs", res.Stats.RefsKept),
		zap.Int("dropped_refs", res.Stats.RefsDropped),
		zap.Int("passes", passes))
	return res, nil
}

// BuildTree attaches every directory record under the synthetic root.
// Records are promoted breadth first: each pass roots the records whose
// reference resolves to a directory rooted by the previous pass. Records
// still unrooted after MaxDepth passes fail with a *graph.HierarchyError.
func (e *Engine) BuildTree(records []DirectoryRecord) (*graph.Tree, error) {
	tree, _, err := e.buildTree(records)
	return tree, err
}

func (e *Engine) buildTree(records []DirectoryRecord) (*graph.Tree, int, error) {
	tree := graph.NewTree(e.Layout.InstallDir)
	refs := make([]graph.NodeRef, len(records))
	unrooted := roaring.New() // record indices
	rooted := roaring.New()   // tree refs rooted by the last pass

	for i, r := range records {
		ref, err := tree.Add(graph.Node{
			SourceID: r.ID,
			Name:     r.Name,
			Kind:     graph.KindDirectory,
			Element:  r.Element,
			File:     markup.InvalidNode,
		})
		if err != nil {
			return nil, 0, err
		}
		refs[i] = ref
		if r.ParentRefID != e.Layout.InstallDir {
			unrooted.Add(uint32(i))
			continue
		}
		if err := tree.Attach(tree.Root(), ref); err != nil {
			return nil, 0, err
		}
		rooted.Add(uint32(ref))
	}
	tree.SortChildren(tree.Root())

	passes := 0
	for ; passes < e.MaxDepth && !unrooted.IsEmpty(); passes++ {
		attached := roaring.New()
		next := roaring.New()
		dirty := roaring.New()

		it := unrooted.Iterator()
		for it.HasNext() {
			i := it.Next()
			r := records[i]
			parent, err := tree.Directory(r.ParentRefID)
			if err != nil || !rooted.Contains(uint32(parent)) {
				continue
			}
			if err := tree.Attach(parent, refs[i]); err != nil {
				return nil, 0, err
			}
			attached.Add(i)
			next.Add(uint32(refs[i]))
			dirty.Add(uint32(parent))
		}

		dirty.Iterate(func(p uint32) bool {
			tree.SortChildren(graph.NodeRef(p))
			return true
		})
		unrooted.AndNot(attached)
		rooted = next
		e.Log.Debug("hierarchy pass",
			zap.Int("pass", passes+1),
			zap.Uint64("attached", attached.GetCardinality()),
			zap.Uint64("remaining", unrooted.GetCardinality()))
		if next.IsEmpty() {
			// nothing left can resolve
			passes++
			break
		}
	}

	if !unrooted.IsEmpty() {
		stuck := make([]string, 0, unrooted.GetCardinality())
		unrooted.Iterate(func(i uint32) bool {
			stuck = append(stuck, records[i].ID)
			return true
		})
		return nil, passes, &graph.HierarchyError{Unrooted: stuck, Depth: e.MaxDepth}
	}
	return tree, passes, nil
}

// AssignDirectoryIDs computes the final id of every directory and writes it
// into the directory element. It returns the manifest id -> final id map.
func (e *Engine) AssignDirectoryIDs(doc *markup.Document, tree *graph.Tree, ids *ident.Assigner) (map[string]string, error) {
	out := make(map[string]string, tree.Count(graph.KindDirectory))
	var err error
	tree.Walk(func(ref graph.NodeRef, _ int) bool {
		n := tree.Node(ref)
		if n.Kind != graph.KindDirectory {
			return true
		}
		var id string
		if id, err = ids.Directory(tree, ref); err != nil {
			return false
		}
		n.ID = id
		out[n.SourceID] = id
		doc.SetAttr(n.Element, "Id", id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MergeComponents nests every file component under its resolved directory.
// Component and file elements are normalized in place: the platform and
// directory attributes go, the GUID becomes auto-generated, the file loses
// its key path and its source is made relative to the image.
func (e *Engine) MergeComponents(tree *graph.Tree, m *Manifest, ids *ident.Assigner) (compIDs, fileIDs map[string]string, err error) {
	doc := m.Doc
	compIDs = make(map[string]string, len(m.Components))
	fileIDs = make(map[string]string, len(m.Components))
	dirty := roaring.New()

	for _, c := range m.Components {
		dir, err := tree.Directory(c.DirectoryRefID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: component %q references unknown directory %q",
				api.ErrBrokenHierarchy, c.ID, c.DirectoryRefID)
		}
		name := c.File.InstallName()
		compID, fileID, err := ids.Component(tree, dir, name, c.ID)
		if err != nil {
			return nil, nil, err
		}

		doc.RemoveAttr(c.Element, "Win64")
		doc.RemoveAttr(c.Element, "Directory")
		doc.SetAttr(c.Element, "Guid", "*")
		doc.SetAttr(c.Element, "Id", compID)
		doc.RemoveAttr(c.File.Element, "KeyPath")
		doc.SetAttr(c.File.Element, "Id", fileID)
		if c.File.Source != "" {
			doc.SetAttr(c.File.Element, "Source",
				RelativizeSource(c.File.Source, e.Layout.ImagesDir, e.Layout.ImageName, e.MaxDepth))
		}

		ref, err := tree.Add(graph.Node{
			ID:       compID,
			SourceID: c.ID,
			Name:     name,
			Kind:     graph.KindComponent,
			Element:  c.Element,
			File:     c.File.Element,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := tree.Attach(dir, ref); err != nil {
			return nil, nil, err
		}
		dirty.Add(uint32(dir))
		compIDs[c.ID] = compID
		if c.File.ID != "" {
			fileIDs[c.File.ID] = fileID
		}
		e.Log.Debug("component merged", zap.String("from", c.ID), zap.String("to", compID))
	}

	dirty.Iterate(func(p uint32) bool {
		tree.SortChildren(graph.NodeRef(p))
		return true
	})
	return compIDs, fileIDs, nil
}

// ReconcileRefs rewrites the component group through compIDs. References
// without a mapping are dropped; the rest are sorted by id and the group is
// renamed to the layout's component group id. Two references to the same
// component fail with ErrDuplicateIdentifier.
func (e *Engine) ReconcileRefs(m *Manifest, compIDs map[string]string) ([]ComponentRef, []string, error) {
	doc := m.Doc
	var kept []ComponentRef
	var dropped []string
	seen := map[string]bool{}

	for _, r := range m.Refs {
		doc.Detach(r.Element)
		newID, ok := compIDs[r.ID]
		if !ok {
			dropped = append(dropped, r.ID)
			e.Log.Debug("component reference dropped", zap.String("ref", r.ID))
			continue
		}
		if seen[newID] {
			return nil, nil, fmt.Errorf("%w: component %q referenced twice", api.ErrDuplicateIdentifier, r.ID)
		}
		seen[newID] = true
		doc.SetAttr(r.Element, "Id", newID)
		kept = append(kept, ComponentRef{ID: newID, Element: r.Element})
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	if m.Group != markup.InvalidNode {
		doc.SetAttr(m.Group, "Id", e.Layout.ComponentGroup)
		for _, r := range kept {
			if err := doc.AppendChild(m.Group, r.Element); err != nil {
				return nil, nil, err
			}
		}
	}
	if len(dropped) > 0 {
		e.Log.Info("dropped component references without a file component", zap.Strings("refs", dropped))
	}
	return kept, dropped, nil
}
