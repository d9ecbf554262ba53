package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

var ErrNotFound = errors.New("node not found")

// NodeRef addresses a node in a Tree arena.
type NodeRef int32

// NoNode is the parent of the root and of detached nodes.
const NoNode NodeRef = -1

// Kind tells directories from components.
type Kind uint8

const (
	KindRoot Kind = iota
	KindDirectory
	KindComponent
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindDirectory:
		return "directory"
	case KindComponent:
		return "component"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Node is one directory or component of the reconstructed install tree.
// Element and File point into the manifest document the node was read from.
type Node struct {
	ID       string // final id, empty until assigned
	SourceID string // id as written in the manifest
	Name     string
	Kind     Kind
	Parent   NodeRef
	Children []NodeRef

	Element markup.NodeID
	File    markup.NodeID // components only
}

// IsDir reports whether the node can hold children.
func (n *Node) IsDir() bool {
	return n.Kind != KindComponent
}

// HierarchyError lists the directory records that never reached the root.
type HierarchyError struct {
	Unrooted []string
	Depth    int
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("%s: %d directories not rooted within %d levels: %s",
		api.ErrBrokenHierarchy, len(e.Unrooted), e.Depth, strings.Join(e.Unrooted, ", "))
}

func (e *HierarchyError) Unwrap() error {
	return api.ErrBrokenHierarchy
}

// -----------------------------------------------------------------------------
// Tree: single arena, parent links are indices
// -----------------------------------------------------------------------------

// Tree owns every node of one reconstruction. Node 0 is the synthetic root.
type Tree struct {
	nodes []Node
	dirs  map[string]NodeRef // manifest directory id -> node
}

// NewTree returns a tree holding only the synthetic root, identified by rootID.
func NewTree(rootID string) *Tree {
	return &Tree{
		nodes: []Node{{ID: rootID, SourceID: rootID, Kind: KindRoot, Parent: NoNode, Element: markup.InvalidNode, File: markup.InvalidNode}},
		dirs:  map[string]NodeRef{rootID: 0},
	}
}

func (t *Tree) Root() NodeRef { return 0 }

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) valid(ref NodeRef) bool {
	return ref >= 0 && int(ref) < len(t.nodes)
}

// Node returns the node behind ref. The pointer is valid until the next Add.
func (t *Tree) Node(ref NodeRef) *Node {
	if !t.valid(ref) {
		return nil
	}
	return &t.nodes[ref]
}

// Add stores n detached from the tree. Directory source ids must be unique.
func (t *Tree) Add(n Node) (NodeRef, error) {
	if n.Kind == KindRoot {
		return NoNode, fmt.Errorf("tree already has a root")
	}
	if n.Kind == KindDirectory {
		if _, dup := t.dirs[n.SourceID]; dup {
			return NoNode, fmt.Errorf("%w: directory %q", api.ErrDuplicateIdentifier, n.SourceID)
		}
	}
	n.Parent = NoNode
	n.Children = nil
	t.nodes = append(t.nodes, n)
	ref := NodeRef(len(t.nodes) - 1)
	if n.Kind == KindDirectory {
		t.dirs[n.SourceID] = ref
	}
	return ref, nil
}

// Directory resolves a manifest directory id, the root id included.
func (t *Tree) Directory(sourceID string) (NodeRef, error) {
	ref, ok := t.dirs[sourceID]
	if !ok {
		return NoNode, fmt.Errorf("directory %q: %w", sourceID, ErrNotFound)
	}
	return ref, nil
}

// Attach makes child the last child of parent. The child must be detached and
// must not be an ancestor of parent.
func (t *Tree) Attach(parent, child NodeRef) error {
	if !t.valid(parent) || !t.valid(child) {
		return fmt.Errorf("attach %d under %d: %w", child, parent, ErrNotFound)
	}
	if !t.nodes[parent].IsDir() {
		return fmt.Errorf("attach under component %q", t.nodes[parent].SourceID)
	}
	if t.nodes[child].Parent != NoNode || child == t.Root() {
		return fmt.Errorf("node %q already has a parent", t.nodes[child].SourceID)
	}
	for cur := parent; cur != NoNode; cur = t.nodes[cur].Parent {
		if cur == child {
			return fmt.Errorf("attaching %q under %q would form a cycle", t.nodes[child].SourceID, t.nodes[parent].SourceID)
		}
	}
	t.nodes[child].Parent = parent
	t.nodes[parent].Children = append(t.nodes[parent].Children, child)
	return nil
}

// SortChildren orders the children of ref: directories first by case-folded
// name (exact name breaks ties), then components by final id.
func (t *Tree) SortChildren(ref NodeRef) {
	if !t.valid(ref) {
		return
	}
	fold := cases.Fold()
	folded := make(map[NodeRef]string, len(t.nodes[ref].Children))
	for _, c := range t.nodes[ref].Children {
		if t.nodes[c].Kind == KindDirectory {
			folded[c] = fold.String(t.nodes[c].Name)
		}
	}
	slices.SortStableFunc(t.nodes[ref].Children, func(a, b NodeRef) int {
		na, nb := &t.nodes[a], &t.nodes[b]
		da, db := na.Kind == KindDirectory, nb.Kind == KindDirectory
		switch {
		case da && !db:
			return -1
		case !da && db:
			return 1
		case da:
			if c := strings.Compare(folded[a], folded[b]); c != 0 {
				return c
			}
			return strings.Compare(na.Name, nb.Name)
		}
		return strings.Compare(na.ID, nb.ID)
	})
}

// Path returns the names from just below the root down to ref. Walking more
// than maxDepth ancestors without meeting the root fails with
// ErrBrokenIdentifierChain.
func (t *Tree) Path(ref NodeRef, maxDepth int) ([]string, error) {
	if !t.valid(ref) {
		return nil, fmt.Errorf("path of %d: %w", ref, ErrNotFound)
	}
	var names []string
	cur := ref
	for depth := 0; depth < maxDepth && cur != t.Root() && cur != NoNode; depth++ {
		names = append(names, t.nodes[cur].Name)
		cur = t.nodes[cur].Parent
	}
	if cur != t.Root() {
		return nil, fmt.Errorf("%w: %q not under %q within %d levels",
			api.ErrBrokenIdentifierChain, t.nodes[ref].SourceID, t.nodes[0].ID, maxDepth)
	}
	slices.Reverse(names)
	return names, nil
}

// Walk visits the attached nodes depth-first in child order, starting at
// the root, until fn returns false.
func (t *Tree) Walk(fn func(ref NodeRef, depth int) bool) {
	t.walk(t.Root(), 0, fn)
}

func (t *Tree) walk(ref NodeRef, depth int, fn func(NodeRef, int) bool) bool {
	if !fn(ref, depth) {
		return false
	}
	for _, c := range t.nodes[ref].Children {
		if !t.walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// Detached lists every node other than the root that has no parent.
func (t *Tree) Detached() []NodeRef {
	var out []NodeRef
	for i := 1; i < len(t.nodes); i++ {
		if t.nodes[i].Parent == NoNode {
			out = append(out, NodeRef(i))
		}
	}
	return out
}

// Count returns the number of nodes of kind k, attached or not.
func (t *Tree) Count(k Kind) int {
	n := 0
	for i := range t.nodes {
		if t.nodes[i].Kind == k {
			n++
		}
	}
	return n
}
