package markup

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// DefaultIndent is the indentation unit used when WriteOptions.Indent is empty.
const DefaultIndent = "    "

// WriteOptions controls pretty printing.
type WriteOptions struct {
	Indent      string
	Declaration bool
}

var (
	attrEscaper = strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
		"\n", "&#xA;",
		"\r", "&#xD;",
		"\t", "&#x9;",
	)
	textEscaper = strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		"\r", "&#xD;",
	)
)

// Write pretty-prints the document: one node per line, elements holding only
// text are printed inline, empty elements are self-closed.
func (d *Document) Write(w io.Writer, opts WriteOptions) error {
	if opts.Indent == "" {
		opts.Indent = DefaultIndent
	}
	p := &printer{w: bufio.NewWriter(w), doc: d, indent: opts.Indent}
	if opts.Declaration {
		p.str(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	}
	for _, c := range d.Children(d.DocumentNode()) {
		p.node(c, 0)
	}
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

// Bytes returns the pretty-printed document.
func (d *Document) Bytes(opts WriteOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type printer struct {
	w      *bufio.Writer
	doc    *Document
	indent string
	err    error
}

func (p *printer) str(s string) {
	if p.err != nil {
		return
	}
	_, p.err = p.w.WriteString(s)
}

func (p *printer) pad(depth int) {
	p.str(strings.Repeat(p.indent, depth))
}

func (p *printer) node(id NodeID, depth int) {
	d := p.doc
	switch d.Kind(id) {
	case ElementNode:
		p.element(id, depth)
	case TextNode:
		p.pad(depth)
		p.str(textEscaper.Replace(strings.TrimSpace(d.Text(id))))
		p.str("\n")
	case CommentNode:
		p.pad(depth)
		p.str("<!--" + d.Text(id) + "-->\n")
	case ProcInstNode:
		p.pad(depth)
		p.str("<?" + d.Name(id))
		if inst := d.Text(id); inst != "" {
			p.str(" " + inst)
		}
		p.str("?>\n")
	}
}

func (p *printer) element(id NodeID, depth int) {
	d := p.doc
	name := d.Name(id)
	p.pad(depth)
	p.str("<" + name)
	for _, a := range d.Attrs(id) {
		p.str(" " + a.Name + `="` + attrEscaper.Replace(a.Value) + `"`)
	}

	kids := d.Children(id)
	if len(kids) == 0 {
		p.str("/>\n")
		return
	}
	textOnly := true
	for _, c := range kids {
		if d.Kind(c) != TextNode {
			textOnly = false
			break
		}
	}
	if textOnly {
		p.str(">" + textEscaper.Replace(d.TextContent(id)) + "</" + name + ">\n")
		return
	}

	p.str(">\n")
	for _, c := range kids {
		p.node(c, depth+1)
	}
	p.pad(depth)
	p.str("</" + name + ">\n")
}
