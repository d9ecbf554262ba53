package extension

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/markup"
)

const merged = `<Wix xmlns="http://schemas.microsoft.com/wix/2006/wi">
    <Product Id="*">
        <Feature Id="jdk"/>
        <Directory Id="TARGETDIR">
            <Directory Id="INSTALLDIR">
                <Directory Id="dir_bin" Name="bin"/>
            </Directory>
        </Directory>
    </Product>
</Wix>
`

func setup(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "/build/jdk.wxs", []byte(merged), 0o644))
	require.NoError(t, fsys.MkdirAll("/vendor", 0o755))
	for name, body := range files {
		require.NoError(t, util.WriteFile(fsys, "/vendor/"+name, []byte(body), 0o644))
	}
	return fsys
}

func apply(t *testing.T, fsys billy.Filesystem) (*markup.Document, error) {
	t.Helper()
	err := NewFragments(fsys, api.DefaultLayout(), nil).Apply(context.Background(), "/build/jdk.wxs", "/vendor", "/build/vendor.wxs")
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(fsys, "/build/vendor.wxs")
	require.NoError(t, err)
	doc, err := markup.ParseBytes(data)
	require.NoError(t, err)
	return doc, nil
}

func childIDs(doc *markup.Document, parent markup.NodeID) []string {
	var out []string
	for _, c := range doc.Elements(parent) {
		out = append(out, doc.Name(c)+"#"+doc.AttrValue(c, "Id"))
	}
	return out
}

func TestFragments_Positions(t *testing.T) {
	fsys := setup(t, map[string]string{
		"10-dirs.xml": `<Extension>
  <Graft anchor="INSTALLDIR">
    <Directory Id="dir_vendor" Name="vendor"/>
    <!-- vendor tools -->
  </Graft>
</Extension>`,
		"20-features.xml": `<Extension>
  <Graft anchor="jdk" position="after">
    <Feature Id="vendor_a"/>
    <Feature Id="vendor_b"/>
  </Graft>
  <Graft anchor="jdk" position="before">
    <Property Id="VENDOR" Value="acme"/>
  </Graft>
</Extension>`,
		"README.txt": "ignored",
	})

	doc, err := apply(t, fsys)
	require.NoError(t, err)

	product := doc.FindChild(doc.Root(), "Product")
	assert.Equal(t, []string{"Property#VENDOR", "Feature#jdk", "Feature#vendor_a", "Feature#vendor_b", "Directory#TARGETDIR"}, childIDs(doc, product))

	install := doc.FindByID(doc.Root(), "INSTALLDIR")
	assert.Equal(t, []string{"Directory#dir_bin", "Directory#dir_vendor"}, childIDs(doc, install))
	children := doc.Children(install)
	assert.Equal(t, markup.CommentNode, doc.Kind(children[len(children)-1]))
}

func TestFragments_Collision(t *testing.T) {
	fsys := setup(t, map[string]string{
		"dup.xml": `<Extension><Graft anchor="INSTALLDIR"><Directory Id="dir_bin" Name="bin2"/></Graft></Extension>`,
	})
	_, err := apply(t, fsys)
	assert.ErrorIs(t, err, api.ErrDuplicateIdentifier)

	ok, err := fsys.Stat("/build/vendor.wxs")
	assert.Nil(t, ok)
	assert.Error(t, err)
}

func TestFragments_CollisionBetweenFiles(t *testing.T) {
	fsys := setup(t, map[string]string{
		"a.xml": `<Extension><Graft anchor="INSTALLDIR"><Directory Id="dir_x" Name="x"/></Graft></Extension>`,
		"b.xml": `<Extension><Graft anchor="dir_bin"><Directory Id="dir_x" Name="x"/></Graft></Extension>`,
	})
	_, err := apply(t, fsys)
	assert.ErrorIs(t, err, api.ErrDuplicateIdentifier)
}

func TestFragments_Errors(t *testing.T) {
	cases := map[string]string{
		"missing anchor": `<Extension><Graft anchor="NOPE"><Feature Id="x"/></Graft></Extension>`,
		"no anchor":      `<Extension><Graft><Feature Id="x"/></Graft></Extension>`,
		"bad position":   `<Extension><Graft anchor="jdk" position="inside"><Feature Id="x"/></Graft></Extension>`,
		"bad root":       `<Fragment/>`,
		"bad child":      `<Extension><Patch/></Extension>`,
		"bad markup":     `<Extension>`,
	}
	for name, body := range cases {
		fsys := setup(t, map[string]string{"x.xml": body})
		_, err := apply(t, fsys)
		assert.ErrorIs(t, err, api.ErrExtension, name)
	}
}

func TestFragments_MissingInputs(t *testing.T) {
	fsys := memfs.New()
	f := NewFragments(fsys, api.DefaultLayout(), nil)
	err := f.Apply(context.Background(), "/nope.wxs", "/vendor", "/out.wxs")
	assert.ErrorIs(t, err, api.ErrInputNotFound)

	require.NoError(t, util.WriteFile(fsys, "/in.wxs", []byte(merged), 0o644))
	err = f.Apply(context.Background(), "/in.wxs", "/vendor", "/out.wxs")
	assert.ErrorIs(t, err, api.ErrInputNotFound)
}

func TestFragments_EmptyContentKeepsDocument(t *testing.T) {
	fsys := setup(t, nil)
	_, err := apply(t, fsys)
	require.NoError(t, err)

	data, err := util.ReadFile(fsys, "/build/vendor.wxs")
	require.NoError(t, err)
	assert.Equal(t, merged, string(data))
	assert.True(t, strings.HasPrefix(string(data), "<Wix"))
}
