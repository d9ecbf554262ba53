// Package ledger exports the identifiers of a merge into a SQLite file so
// that two builds can be compared without diffing whole documents.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/graph"
	"github.com/agentic-research/wxsmerge/internal/ingest"
)

const schema = `
CREATE TABLE ids (
	kind TEXT NOT NULL,
	source_id TEXT NOT NULL,
	id TEXT NOT NULL,
	PRIMARY KEY (kind, source_id)
) WITHOUT ROWID;
CREATE INDEX idx_ids_id ON ids(id);

CREATE TABLE tree (
	id TEXT PRIMARY KEY,
	parent_id TEXT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL
);

CREATE TABLE meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;
`

// Write stores the id map and tree of res at path, replacing any previous
// ledger.
func Write(path string, res *ingest.Result, meta map[string]string) error {
	pending, err := Prepare(path, res, meta)
	if err != nil {
		return err
	}
	return pending.Commit()
}

// Pending is a ledger built next to its final path and not renamed into
// place yet.
type Pending struct {
	path string
	tmp  string
}

// Prepare builds the ledger for res beside path. The caller must Commit or
// Discard the result.
func Prepare(path string, res *ingest.Result, meta map[string]string) (*Pending, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: ledger dir: %v", api.ErrSerialization, err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := write(tmp, res, meta); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return nil, fmt.Errorf("%w: ledger %s: %v", api.ErrSerialization, path, err)
	}
	return &Pending{path: path, tmp: tmp}, nil
}

// Commit renames the ledger into place.
func (p *Pending) Commit() error {
	if err := os.Rename(p.tmp, p.path); err != nil {
		p.Discard()
		return fmt.Errorf("%w: rename ledger to %s: %v", api.ErrSerialization, p.path, err)
	}
	return nil
}

// Discard removes the prepared ledger.
func (p *Pending) Discard() {
	_ = os.Remove(p.tmp)
}

func write(path string, res *ingest.Result, meta map[string]string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		return err
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmtID, err := tx.Prepare(`INSERT INTO ids (kind, source_id, id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmtID.Close() }()
	for _, e := range res.Entries() {
		if _, err := stmtID.Exec(e.Kind, e.SourceID, e.ID); err != nil {
			return fmt.Errorf("insert id %s: %w", e.SourceID, err)
		}
	}

	stmtTree, err := tx.Prepare(`INSERT INTO tree (id, parent_id, name, kind, position) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmtTree.Close() }()
	var walkErr error
	tree := res.Tree
	res.Tree.Walk(func(ref graph.NodeRef, _ int) bool {
		if ref == tree.Root() {
			return true
		}
		n := tree.Node(ref)
		parent := tree.Node(n.Parent)
		position := 0
		for i, c := range parent.Children {
			if c == ref {
				position = i
				break
			}
		}
		_, walkErr = stmtTree.Exec(n.ID, parent.ID, n.Name, n.Kind.String(), position)
		return walkErr == nil
	})
	if walkErr != nil {
		return fmt.Errorf("insert tree: %w", walkErr)
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, meta[k]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ledger is the content of a ledger file.
type Ledger struct {
	Entries []ingest.IDEntry
	Meta    map[string]string
}

// Read loads the ledger at path.
func Read(path string) (*Ledger, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ledger %s: %w", path, api.ErrInputNotFound)
		}
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT kind, source_id, id FROM ids ORDER BY kind, id, source_id`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	l := &Ledger{Meta: map[string]string{}}
	for rows.Next() {
		var e ingest.IDEntry
		if err := rows.Scan(&e.Kind, &e.SourceID, &e.ID); err != nil {
			return nil, err
		}
		l.Entries = append(l.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metaRows, err := db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer func() { _ = metaRows.Close() }()
	for metaRows.Next() {
		var k, v string
		if err := metaRows.Scan(&k, &v); err != nil {
			return nil, err
		}
		l.Meta[k] = v
	}
	return l, metaRows.Err()
}

// Diff lists the final ids present in only one ledger.
type Diff struct {
	Added   []string
	Removed []string
}

// Empty reports whether both ledgers carry the same id set.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Compare reports the ids of b missing from a (Added) and the ids of a
// missing from b (Removed), each sorted.
func Compare(a, b *Ledger) Diff {
	set := func(l *Ledger) map[string]bool {
		m := make(map[string]bool, len(l.Entries))
		for _, e := range l.Entries {
			m[e.ID] = true
		}
		return m
	}
	sa, sb := set(a), set(b)
	var d Diff
	for id := range sb {
		if !sa[id] {
			d.Added = append(d.Added, id)
		}
	}
	for id := range sa {
		if !sb[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}
