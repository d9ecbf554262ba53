package writeback

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

// Indent is the indentation unit of generated documents.
const Indent = "    "

// Format declares namespace on the root element and pretty-prints doc
// without an XML declaration.
func Format(doc *markup.Document, namespace string) ([]byte, error) {
	root := doc.Root()
	if root == markup.InvalidNode {
		return nil, fmt.Errorf("%w: document has no root element", api.ErrSerialization)
	}
	if namespace != "" {
		doc.SetAttr(root, "xmlns", namespace)
	}
	out, err := doc.Bytes(markup.WriteOptions{Indent: Indent})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSerialization, err)
	}
	return out, nil
}

// WriteAtomic writes data to path through a temp file in the same
// directory followed by a rename, so readers never see a partial document.
func WriteAtomic(fsys billy.Filesystem, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", api.ErrSerialization, dir, err)
	}
	tmp, err := fsys.TempFile(dir, ".wxsmerge-")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", api.ErrSerialization, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("%w: write temp: %v", api.ErrSerialization, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("%w: close temp: %v", api.ErrSerialization, err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		_ = fsys.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("%w: rename temp to %s: %v", api.ErrSerialization, path, err)
	}
	return nil
}
