package ledger

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/ingest"
)

const manifest = `<Wix xmlns="http://schemas.microsoft.com/wix/2006/wi">
  <Fragment>
    <DirectoryRef Id="INSTALLDIR">
      <Directory Id="dirBin" Name="bin"/>
    </DirectoryRef>
    <DirectoryRef Id="dirBin">
      <Component Id="cmpJava" Guid="{AAAAAAAA-0000-0000-0000-000000000001}">
        <File Id="filJava" Source="C:\images\jdk\bin\java.exe"/>
      </Component>
    </DirectoryRef>
    <ComponentGroup Id="Files">
      <ComponentRef Id="cmpJava"/>
    </ComponentGroup>
  </Fragment>
</Wix>`

func merge(t *testing.T, text string) *ingest.Result {
	t.Helper()
	m, err := ingest.ParseManifest(text, api.DefaultLayout())
	require.NoError(t, err)
	res, err := ingest.NewEngine(api.DefaultLayout(), nil).Merge(m)
	require.NoError(t, err)
	return res
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "ids.db")
	res := merge(t, manifest)

	require.NoError(t, Write(path, res, map[string]string{"version": "17.0.2"}))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	l, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, res.Entries(), l.Entries)
	assert.Equal(t, "17.0.2", l.Meta["version"])

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var parent, kind string
	var position int
	require.NoError(t, db.QueryRow(`SELECT parent_id, kind, position FROM tree WHERE id = ?`, "comp_bin_java_exe").
		Scan(&parent, &kind, &position))
	assert.Equal(t, "dir_bin", parent)
	assert.Equal(t, "component", kind)
	assert.Equal(t, 0, position)
}

func TestWrite_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.db")
	res := merge(t, manifest)

	require.NoError(t, Write(path, res, nil))
	require.NoError(t, Write(path, res, nil))

	l, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, l.Entries, 3)
	assert.Empty(t, l.Meta)
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.db"))
	assert.ErrorIs(t, err, api.ErrInputNotFound)
}

func TestCompare(t *testing.T) {
	a := &Ledger{Entries: []ingest.IDEntry{
		{Kind: "directory", SourceID: "d1", ID: "dir_bin"},
		{Kind: "component", SourceID: "c1", ID: "comp_bin_java_exe"},
	}}
	b := &Ledger{Entries: []ingest.IDEntry{
		{Kind: "directory", SourceID: "d9", ID: "dir_bin"},
		{Kind: "component", SourceID: "c2", ID: "comp_bin_javaw_exe"},
		{Kind: "component", SourceID: "c3", ID: "comp_bin_jar_exe"},
	}}

	d := Compare(a, b)
	assert.Equal(t, []string{"comp_bin_jar_exe", "comp_bin_javaw_exe"}, d.Added)
	assert.Equal(t, []string{"comp_bin_java_exe"}, d.Removed)
	assert.False(t, d.Empty())
	assert.True(t, Compare(a, a).Empty())
}

func TestPrepare_DiscardLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.db")
	pending, err := Prepare(path, merge(t, manifest), nil)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "ledger is not in place before Commit")

	pending.Discard()
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepare_UncreatableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Prepare(filepath.Join(blocker, "ids.db"), merge(t, manifest), nil)
	assert.ErrorIs(t, err, api.ErrSerialization)
}
