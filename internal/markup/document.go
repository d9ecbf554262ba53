// Package markup is a small arena-backed markup document used to read the
// installer templates and manifests, rearrange them, and print the result.
//
// Nodes live in one slice per Document and are addressed by NodeID. Moving a
// subtree between documents is always a deep copy (Import), so no node is
// ever shared by two documents.
package markup

import (
	"errors"
	"fmt"
	"strings"
)

// NodeID identifies a node in the document arena.
type NodeID int

// InvalidNode represents an invalid node reference.
const InvalidNode NodeID = -1

// Kind classifies arena nodes.
type Kind uint8

const (
	DocumentNode Kind = iota
	ElementNode
	TextNode
	CommentNode
	ProcInstNode
)

var errInvalidNode = errors.New("invalid node")

// Attr is a single attribute, kept in source order.
type Attr struct {
	Name  string
	Value string
}

type node struct {
	kind     Kind
	name     string // element name or processing instruction target
	text     string // text, comment or processing instruction body
	attrs    []Attr
	parent   NodeID
	children []NodeID
}

// Document is an arena of nodes. Node 0 is the document node; its children
// are the top-level comments, processing instructions and the root element.
type Document struct {
	nodes []node
}

// New returns an empty document.
func New() *Document {
	return &Document{nodes: []node{{kind: DocumentNode, parent: InvalidNode}}}
}

func (d *Document) valid(id NodeID) bool {
	return d != nil && id >= 0 && int(id) < len(d.nodes)
}

// DocumentNode returns the id of the document node.
func (d *Document) DocumentNode() NodeID {
	return 0
}

// Root returns the document element, or InvalidNode when there is none.
func (d *Document) Root() NodeID {
	if !d.valid(0) {
		return InvalidNode
	}
	for _, c := range d.nodes[0].children {
		if d.nodes[c].kind == ElementNode {
			return c
		}
	}
	return InvalidNode
}

// Len returns the number of nodes in the arena, detached ones included.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.nodes)
}

func (d *Document) Kind(id NodeID) Kind {
	if !d.valid(id) {
		return DocumentNode
	}
	return d.nodes[id].kind
}

// Name returns the element name (prefix included) or the processing
// instruction target.
func (d *Document) Name(id NodeID) string {
	if !d.valid(id) {
		return ""
	}
	return d.nodes[id].name
}

// Text returns the content of a text, comment or processing instruction node.
func (d *Document) Text(id NodeID) string {
	if !d.valid(id) {
		return ""
	}
	return d.nodes[id].text
}

// Parent returns the parent node of id, or InvalidNode when detached.
func (d *Document) Parent(id NodeID) NodeID {
	if !d.valid(id) {
		return InvalidNode
	}
	return d.nodes[id].parent
}

// Children returns a read-only view of the node children.
// The returned slice aliases the arena; do not modify or retain it.
func (d *Document) Children(id NodeID) []NodeID {
	if !d.valid(id) {
		return nil
	}
	return d.nodes[id].children
}

// Elements returns the element children of id in document order.
func (d *Document) Elements(id NodeID) []NodeID {
	if !d.valid(id) {
		return nil
	}
	var out []NodeID
	for _, c := range d.nodes[id].children {
		if d.nodes[c].kind == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Attrs returns a read-only view of the element attributes.
func (d *Document) Attrs(id NodeID) []Attr {
	if !d.valid(id) {
		return nil
	}
	return d.nodes[id].attrs
}

// Attr returns the value of the named attribute.
func (d *Document) Attr(id NodeID, name string) (string, bool) {
	if !d.valid(id) {
		return "", false
	}
	for _, a := range d.nodes[id].attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrValue returns the named attribute value or "" when absent.
func (d *Document) AttrValue(id NodeID, name string) string {
	v, _ := d.Attr(id, name)
	return v
}

// SetAttr replaces the attribute value, appending the attribute when absent.
func (d *Document) SetAttr(id NodeID, name, value string) {
	if !d.valid(id) {
		return
	}
	n := &d.nodes[id]
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			n.attrs[i].Value = value
			return
		}
	}
	n.attrs = append(n.attrs, Attr{Name: name, Value: value})
}

// RemoveAttr drops the named attribute. It reports whether it was present.
func (d *Document) RemoveAttr(id NodeID, name string) bool {
	if !d.valid(id) {
		return false
	}
	n := &d.nodes[id]
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Document) add(n node) NodeID {
	n.parent = InvalidNode
	d.nodes = append(d.nodes, n)
	return NodeID(len(d.nodes) - 1)
}

// CreateElement adds a detached element to the arena.
func (d *Document) CreateElement(name string, attrs ...Attr) NodeID {
	return d.add(node{kind: ElementNode, name: name, attrs: append([]Attr(nil), attrs...)})
}

// CreateText adds a detached text node to the arena.
func (d *Document) CreateText(text string) NodeID {
	return d.add(node{kind: TextNode, text: text})
}

// CreateComment adds a detached comment to the arena.
func (d *Document) CreateComment(text string) NodeID {
	return d.add(node{kind: CommentNode, text: text})
}

// CreateProcInst adds a detached processing instruction to the arena.
func (d *Document) CreateProcInst(target, inst string) NodeID {
	return d.add(node{kind: ProcInstNode, name: target, text: inst})
}

// isAncestor reports whether a is id or one of its ancestors.
func (d *Document) isAncestor(a, id NodeID) bool {
	for cur := id; cur != InvalidNode; cur = d.nodes[cur].parent {
		if cur == a {
			return true
		}
	}
	return false
}

func (d *Document) checkInsert(parent, child NodeID) error {
	if !d.valid(parent) || !d.valid(child) {
		return errInvalidNode
	}
	if d.nodes[child].kind == DocumentNode {
		return fmt.Errorf("cannot insert the document node")
	}
	if d.isAncestor(child, parent) {
		return fmt.Errorf("node %d is an ancestor of %d", child, parent)
	}
	return nil
}

// Detach removes id from its parent. The node stays in the arena.
func (d *Document) Detach(id NodeID) {
	if !d.valid(id) {
		return
	}
	p := d.nodes[id].parent
	if p == InvalidNode {
		return
	}
	siblings := d.nodes[p].children
	for i, c := range siblings {
		if c == id {
			d.nodes[p].children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	d.nodes[id].parent = InvalidNode
}

// AppendChild moves child to the end of parent's children.
func (d *Document) AppendChild(parent, child NodeID) error {
	if err := d.checkInsert(parent, child); err != nil {
		return err
	}
	d.Detach(child)
	d.nodes[parent].children = append(d.nodes[parent].children, child)
	d.nodes[child].parent = parent
	return nil
}

// InsertBefore moves child right before ref, which must be a child of parent.
func (d *Document) InsertBefore(parent, child, ref NodeID) error {
	return d.insertAt(parent, child, ref, 0)
}

// InsertAfter moves child right after ref, which must be a child of parent.
func (d *Document) InsertAfter(parent, child, ref NodeID) error {
	return d.insertAt(parent, child, ref, 1)
}

func (d *Document) insertAt(parent, child, ref NodeID, offset int) error {
	if err := d.checkInsert(parent, child); err != nil {
		return err
	}
	if !d.valid(ref) || d.nodes[ref].parent != parent {
		return fmt.Errorf("node %d is not a child of %d", ref, parent)
	}
	if child == ref {
		return nil
	}
	d.Detach(child)
	siblings := d.nodes[parent].children
	idx := -1
	for i, c := range siblings {
		if c == ref {
			idx = i + offset
			break
		}
	}
	siblings = append(siblings, InvalidNode)
	copy(siblings[idx+1:], siblings[idx:])
	siblings[idx] = child
	d.nodes[parent].children = siblings
	d.nodes[child].parent = parent
	return nil
}

// Import deep-copies the subtree rooted at id in src into d and returns the
// detached copy.
func (d *Document) Import(src *Document, id NodeID) NodeID {
	if !src.valid(id) || d == nil || src.nodes[id].kind == DocumentNode {
		return InvalidNode
	}
	n := src.nodes[id]
	cp := d.add(node{
		kind:  n.kind,
		name:  n.name,
		text:  n.text,
		attrs: append([]Attr(nil), n.attrs...),
	})
	for _, c := range n.children {
		cc := d.Import(src, c)
		d.nodes[cc].parent = cp
		d.nodes[cp].children = append(d.nodes[cp].children, cc)
	}
	return cp
}

// FindChild returns the first element child of parent with the given name.
func (d *Document) FindChild(parent NodeID, name string) NodeID {
	for _, c := range d.Children(parent) {
		if d.nodes[c].kind == ElementNode && d.nodes[c].name == name {
			return c
		}
	}
	return InvalidNode
}

// FindChildByID returns the first element child of parent whose Id attribute equals id.
func (d *Document) FindChildByID(parent NodeID, id string) NodeID {
	for _, c := range d.Children(parent) {
		if d.nodes[c].kind == ElementNode && d.AttrValue(c, "Id") == id {
			return c
		}
	}
	return InvalidNode
}

// FindByID searches the subtree under parent depth-first, in document order,
// for an element whose Id attribute equals id.
func (d *Document) FindByID(parent NodeID, id string) NodeID {
	found := InvalidNode
	d.Walk(parent, func(n NodeID) bool {
		if n != parent && d.nodes[n].kind == ElementNode && d.AttrValue(n, "Id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits id and its descendants in document order until fn returns false.
func (d *Document) Walk(id NodeID, fn func(NodeID) bool) {
	d.walk(id, fn)
}

func (d *Document) walk(id NodeID, fn func(NodeID) bool) bool {
	if !d.valid(id) {
		return true
	}
	if !fn(id) {
		return false
	}
	for _, c := range d.nodes[id].children {
		if !d.walk(c, fn) {
			return false
		}
	}
	return true
}

// TextContent concatenates the text nodes directly under id.
func (d *Document) TextContent(id NodeID) string {
	var sb strings.Builder
	for _, c := range d.Children(id) {
		if d.nodes[c].kind == TextNode {
			sb.WriteString(d.nodes[c].text)
		}
	}
	return sb.String()
}
