// Package fragment pulls the hand-authored component and feature regions out
// of a source document. Regions are delimited by marker comments, each alone
// on its line.
package fragment

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

const (
	ComponentsBegin = "<!-- components begin -->"
	ComponentsEnd   = "<!-- components end -->"
	FeaturesBegin   = "<!-- features begin -->"
	FeaturesEnd     = "<!-- features end -->"
)

// Regions is the raw text found between the marker pairs.
type Regions struct {
	Components string
	Feature    string
}

// Extract scans text line by line. The components region must come before
// the features region; a missing marker fails with ErrMalformedTemplate.
func Extract(text string) (Regions, error) {
	const (
		seekComps = iota
		inComps
		seekFeatures
		inFeatures
		done
	)
	var (
		comps, feature strings.Builder
		state          = seekComps
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() && state != done {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch state {
		case seekComps:
			if trimmed == ComponentsBegin {
				state = inComps
			}
		case inComps:
			if trimmed == ComponentsEnd {
				state = seekFeatures
				continue
			}
			comps.WriteString(line)
			comps.WriteByte('\n')
		case seekFeatures:
			if trimmed == FeaturesBegin {
				state = inFeatures
			}
		case inFeatures:
			if trimmed == FeaturesEnd {
				state = done
				continue
			}
			feature.WriteString(line)
			feature.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return Regions{}, fmt.Errorf("scan source: %w", err)
	}

	missing := ""
	switch state {
	case seekComps:
		missing = ComponentsBegin
	case inComps:
		missing = ComponentsEnd
	case seekFeatures:
		missing = FeaturesBegin
	case inFeatures:
		missing = FeaturesEnd
	}
	if missing != "" {
		return Regions{}, fmt.Errorf("%w: marker %q not found", api.ErrMalformedTemplate, missing)
	}
	return Regions{Components: comps.String(), Feature: feature.String()}, nil
}

// Fragments holds the parsed regions. Components and Feature are top-level
// element ids inside Doc, in source order.
type Fragments struct {
	Doc        *markup.Document
	Components []markup.NodeID
	Feature    []markup.NodeID
}

// Empty reports whether neither region holds an element.
func (f *Fragments) Empty() bool {
	return len(f.Components) == 0 && len(f.Feature) == 0
}

// Parse parses both regions into one document. Each region is wrapped in a
// synthetic element so that it may hold any number of top-level elements.
func Parse(r Regions) (*Fragments, error) {
	doc, err := markup.ParseString("<regions><components>" + r.Components + "</components><feature>" + r.Feature + "</feature></regions>")
	if err != nil {
		return nil, fmt.Errorf("%w: marker regions: %v", api.ErrMalformedTemplate, err)
	}
	root := doc.Root()
	return &Fragments{
		Doc:        doc,
		Components: doc.Elements(doc.FindChild(root, "components")),
		Feature:    doc.Elements(doc.FindChild(root, "feature")),
	}, nil
}

// Load is Extract followed by Parse.
func Load(text string) (*Fragments, error) {
	r, err := Extract(text)
	if err != nil {
		return nil, err
	}
	return Parse(r)
}
