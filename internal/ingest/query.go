package ingest

import (
	"fmt"
	"sort"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/wxsmerge/internal/graph"
)

// Snapshot renders the result as generic maps and slices, ready for JSON or
// YAML encoding and JSONPath queries.
func (r *Result) Snapshot() map[string]any {
	refs := make([]any, len(r.Refs))
	for i, ref := range r.Refs {
		refs[i] = ref.ID
	}
	dropped := make([]any, len(r.DroppedRefs))
	for i, id := range r.DroppedRefs {
		dropped[i] = id
	}
	return map[string]any{
		"root":        r.Tree.Node(r.Tree.Root()).ID,
		"tree":        r.snapshotNode(r.Tree.Root()),
		"directories": stringMap(r.DirIDs),
		"components":  stringMap(r.CompIDs),
		"files":       stringMap(r.FileIDs),
		"refs":        refs,
		"dropped":     dropped,
		"stats": map[string]any{
			"directories":  int64(r.Stats.Directories),
			"components":   int64(r.Stats.Components),
			"placeholders": int64(r.Stats.Placeholders),
			"refs_kept":    int64(r.Stats.RefsKept),
			"refs_dropped": int64(r.Stats.RefsDropped),
			"passes":       int64(r.Stats.Passes),
		},
	}
}

func (r *Result) snapshotNode(ref graph.NodeRef) map[string]any {
	n := r.Tree.Node(ref)
	out := map[string]any{
		"id":        n.ID,
		"source_id": n.SourceID,
		"kind":      n.Kind.String(),
	}
	if n.Name != "" {
		out["name"] = n.Name
	}
	if n.Kind == graph.KindComponent {
		doc := r.Manifest.Doc
		out["file"] = doc.AttrValue(n.File, "Id")
		out["source"] = doc.AttrValue(n.File, "Source")
		return out
	}
	children := make([]any, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, r.snapshotNode(c))
	}
	out["children"] = children
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Select evaluates a JSONPath expression against data.
func Select(data any, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return x.Get(data), nil
}

// IDEntry is one manifest id and the id it was rewritten to.
type IDEntry struct {
	Kind     string
	SourceID string
	ID       string
}

// Entries lists every rewritten id ordered by kind, then final id.
func (r *Result) Entries() []IDEntry {
	var out []IDEntry
	add := func(kind string, m map[string]string) {
		for k, v := range m {
			out = append(out, IDEntry{Kind: kind, SourceID: k, ID: v})
		}
	}
	add("directory", r.DirIDs)
	add("component", r.CompIDs)
	add("file", r.FileIDs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
