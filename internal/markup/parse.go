package markup

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse reads a document from r. Namespace prefixes are kept verbatim in
// element and attribute names. Whitespace-only text and the XML declaration
// are dropped; comments and other processing instructions are kept.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := New()
	stack := []NodeID{doc.DocumentNode()}
	sawRoot := false

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, col := dec.InputPos()
			return nil, fmt.Errorf("parse markup at %d:%d: %w", line, col, err)
		}
		top := stack[len(stack)-1]

		switch t := tok.(type) {
		case xml.StartElement:
			if top == doc.DocumentNode() {
				if sawRoot {
					return nil, fmt.Errorf("parse markup: multiple root elements (%s)", qualified(t.Name))
				}
				sawRoot = true
			}
			attrs := make([]Attr, 0, len(t.Attr))
			for _, a := range t.Attr {
				attrs = append(attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			el := doc.CreateElement(qualified(t.Name), attrs...)
			doc.attach(top, el)
			stack = append(stack, el)

		case xml.EndElement:
			name := qualified(t.Name)
			if top == doc.DocumentNode() || doc.Name(top) != name {
				line, col := dec.InputPos()
				return nil, fmt.Errorf("parse markup at %d:%d: unexpected end element </%s>", line, col, name)
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			text := string(t)
			if strings.TrimSpace(text) == "" {
				continue
			}
			if top == doc.DocumentNode() {
				return nil, fmt.Errorf("parse markup: text outside the root element: %q", strings.TrimSpace(text))
			}
			kids := doc.nodes[top].children
			if n := len(kids); n > 0 && doc.nodes[kids[n-1]].kind == TextNode {
				doc.nodes[kids[n-1]].text += text
				continue
			}
			doc.attach(top, doc.CreateText(text))

		case xml.Comment:
			doc.attach(top, doc.CreateComment(string(t)))

		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			inst := strings.TrimLeft(string(t.Inst), " \t\r\n")
			doc.attach(top, doc.CreateProcInst(t.Target, inst))
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("parse markup: unclosed element <%s>", doc.Name(stack[len(stack)-1]))
	}
	if !sawRoot {
		return nil, fmt.Errorf("parse markup: no root element")
	}
	return doc, nil
}

// ParseString is Parse over an in-memory string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseBytes is Parse over an in-memory buffer.
func ParseBytes(b []byte) (*Document, error) {
	return Parse(bytes.NewReader(b))
}

// attach links a freshly created node under parent without the ancestry checks.
func (d *Document) attach(parent, child NodeID) {
	d.nodes[parent].children = append(d.nodes[parent].children, child)
	d.nodes[child].parent = parent
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
