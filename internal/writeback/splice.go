package writeback

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/fragment"
	"github.com/agentic-research/wxsmerge/internal/graph"
	"github.com/agentic-research/wxsmerge/internal/guid"
	"github.com/agentic-research/wxsmerge/internal/ingest"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

// Version placeholders found in template attribute values.
const (
	PlaceholderFourPositions = "PLACEHOLDER_VERSION_NUMBER_FOUR_POSITIONS"
	PlaceholderNumber        = "PLACEHOLDER_VERSION_NUMBER"
	PlaceholderFeature       = "PLACEHOLDER_VERSION_FEATURE"
	PlaceholderUpgradeCode   = "PLACEHOLDER_UPGRADE_CODE"
)

// Splicer grafts the merged manifest and the source fragments into a
// template document.
type Splicer struct {
	Layout api.Layout
	GUIDs  guid.Source
	Log    *zap.Logger
}

func NewSplicer(layout api.Layout, guids guid.Source, log *zap.Logger) *Splicer {
	if guids == nil {
		guids = guid.Random{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Splicer{Layout: layout, GUIDs: guids, Log: log}
}

// SpliceStats counts what a splice added to the template.
type SpliceStats struct {
	Components   int
	FeatureNodes int
	GroupRefs    int
	TreeNodes    int
	Replacements int
}

type anchors struct {
	root, product, target, install markup.NodeID
}

func (s *Splicer) findAnchors(doc *markup.Document) (anchors, error) {
	var a anchors
	a.root = doc.Root()
	if doc.Name(a.root) != s.Layout.RootElement {
		return a, fmt.Errorf("%w: root element is <%s>, want <%s>", api.ErrMalformedTemplate, doc.Name(a.root), s.Layout.RootElement)
	}
	a.product = doc.FindChild(a.root, s.Layout.ProductElement)
	if a.product == markup.InvalidNode {
		return a, fmt.Errorf("%w: <%s> not found under <%s>", api.ErrMalformedTemplate, s.Layout.ProductElement, s.Layout.RootElement)
	}
	a.target = doc.FindChildByID(a.product, s.Layout.TargetDir)
	if a.target == markup.InvalidNode {
		return a, fmt.Errorf("%w: anchor %q not found under <%s>", api.ErrMalformedTemplate, s.Layout.TargetDir, s.Layout.ProductElement)
	}
	a.install = doc.FindByID(a.target, s.Layout.InstallDir)
	if a.install == markup.InvalidNode {
		return a, fmt.Errorf("%w: anchor %q not found under %q", api.ErrMalformedTemplate, s.Layout.InstallDir, s.Layout.TargetDir)
	}
	return a, nil
}

// Splice mutates tmpl in place. Every anchor is resolved before the first
// change, so a failing splice leaves no partial graft behind.
func (s *Splicer) Splice(tmpl *markup.Document, frags *fragment.Fragments, res *ingest.Result, v api.Version) (SpliceStats, error) {
	var st SpliceStats
	a, err := s.findAnchors(tmpl)
	if err != nil {
		return st, err
	}
	featureAnchor := markup.InvalidNode
	if frags != nil && len(frags.Feature) > 0 {
		featureAnchor = tmpl.FindByID(a.product, s.Layout.FeatureAnchor)
		if featureAnchor == markup.InvalidNode {
			return st, fmt.Errorf("%w: feature anchor %q not found", api.ErrMalformedTemplate, s.Layout.FeatureAnchor)
		}
	}

	// components region, in source order, right before the target root
	if frags != nil {
		for _, el := range frags.Components {
			if err := tmpl.InsertBefore(a.product, tmpl.Import(frags.Doc, el), a.target); err != nil {
				return st, err
			}
			st.Components++
		}
	}

	// feature region right after its anchor
	if featureAnchor != markup.InvalidNode {
		parent, prev := tmpl.Parent(featureAnchor), featureAnchor
		for _, el := range frags.Feature {
			cp := tmpl.Import(frags.Doc, el)
			if err := tmpl.InsertAfter(parent, cp, prev); err != nil {
				return st, err
			}
			prev = cp
			st.FeatureNodes++
		}
	}

	// rewritten component group, only when a reference survived; group
	// references inside the feature region are re-pointed as well
	if res != nil && len(res.Refs) > 0 && res.Manifest.Group != markup.InvalidNode {
		group := tmpl.Import(res.Manifest.Doc, res.Manifest.Group)
		if err := tmpl.InsertBefore(a.product, group, a.target); err != nil {
			return st, err
		}
		tmpl.Walk(a.root, func(n markup.NodeID) bool {
			if tmpl.Name(n) == "ComponentGroupRef" && tmpl.AttrValue(n, "Id") == s.Layout.ManifestGroup {
				tmpl.SetAttr(n, "Id", s.Layout.ComponentGroup)
				st.GroupRefs++
			}
			return true
		})
	}

	// reconstructed tree under the install root
	if res != nil {
		for _, c := range res.Tree.Node(res.Tree.Root()).Children {
			n, err := s.graft(tmpl, a.install, res, c)
			if err != nil {
				return st, err
			}
			st.TreeNodes += n
		}
	}

	st.Replacements = s.substitute(tmpl, a, v)
	s.Log.Info("template spliced",
		zap.Int("components", st.Components),
		zap.Int("feature_nodes", st.FeatureNodes),
		zap.Int("tree_nodes", st.TreeNodes),
		zap.Int("replacements", st.Replacements))
	return st, nil
}

// graft copies node ref of the reconstructed tree under parent. Directories
// carry their own attributes only; their content comes from the tree so
// that sibling order is the tree's order.
func (s *Splicer) graft(dst *markup.Document, parent markup.NodeID, res *ingest.Result, ref graph.NodeRef) (int, error) {
	src := res.Manifest.Doc
	n := res.Tree.Node(ref)
	if n.Kind == graph.KindComponent {
		return 1, dst.AppendChild(parent, dst.Import(src, n.Element))
	}

	el := dst.CreateElement(src.Name(n.Element), src.Attrs(n.Element)...)
	if err := dst.AppendChild(parent, el); err != nil {
		return 0, err
	}
	count := 1
	for _, c := range n.Children {
		k, err := s.graft(dst, el, res, c)
		if err != nil {
			return count, err
		}
		count += k
	}
	return count, nil
}

func (s *Splicer) substitute(doc *markup.Document, a anchors, v api.Version) int {
	r := strings.NewReplacer(
		PlaceholderFourPositions, v.FourPositions,
		PlaceholderNumber, v.Number,
		PlaceholderFeature, v.Feature,
	)
	count := 0
	doc.Walk(a.root, func(n markup.NodeID) bool {
		if doc.Kind(n) != markup.ElementNode {
			return true
		}
		for _, attr := range doc.Attrs(n) {
			if !strings.Contains(attr.Value, "PLACEHOLDER_VERSION_") {
				continue
			}
			doc.SetAttr(n, attr.Name, r.Replace(attr.Value))
			count++
		}
		return true
	})

	if code, ok := doc.Attr(a.product, "UpgradeCode"); ok && (code == PlaceholderUpgradeCode || code == "") {
		doc.SetAttr(a.product, "UpgradeCode", s.GUIDs.New())
		count++
	}
	return count
}
