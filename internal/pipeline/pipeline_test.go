package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/extension"
	"github.com/agentic-research/wxsmerge/internal/guid"
	"github.com/agentic-research/wxsmerge/internal/markup"
	"github.com/agentic-research/wxsmerge/internal/metrics"
	"github.com/agentic-research/wxsmerge/internal/overrides"
)

const template = `<Wix xmlns="http://schemas.microsoft.com/wix/2006/wi">
    <Product Id="*" Name="OpenJDK PLACEHOLDER_VERSION_NUMBER" Version="PLACEHOLDER_VERSION_NUMBER_FOUR_POSITIONS" Manufacturer="OpenJDK" UpgradeCode="PLACEHOLDER_UPGRADE_CODE" Language="1033">
        <Package InstallerVersion="500" Compressed="yes"/>
        <Icon Id="icon_resources_icon_ico" SourceFile="icon.ico"/>
        <Directory Id="TARGETDIR" Name="SourceDir">
            <Directory Id="ProgramFiles64Folder">
                <Directory Id="INSTALLDIR" Name="jdk-PLACEHOLDER_VERSION_FEATURE"/>
            </Directory>
        </Directory>
        <Feature Id="jdk" Level="1">
            <ComponentGroupRef Id="Files"/>
        </Feature>
    </Product>
</Wix>
`

const source = `<Wix>
  <Product Version="$(var.JpAppVersion)">
    <!-- components begin -->
    <Property Id="ARPHELPLINK" Value="$(var.HelpURL)"/>
    <!-- components end -->
    <!-- features begin -->
    <Feature Id="feature_env" Level="1" Title="Environment"/>
    <!-- features end -->
  </Product>
</Wix>
`

const emptySource = `<!-- components begin -->
<!-- components end -->
<!-- features begin -->
<!-- features end -->
`

const manifest = `<Wix xmlns="http://schemas.microsoft.com/wix/2006/wi">
  <Fragment>
    <DirectoryRef Id="dirBin">
      <Component Id="cmpJava" Guid="{AAAAAAAA-0000-0000-0000-000000000001}" Win64="yes">
        <File Id="filJava" KeyPath="yes" Source="C:\build\images\jdk\bin\java.exe"/>
      </Component>
    </DirectoryRef>
    <DirectoryRef Id="INSTALLDIR">
      <Directory Id="dirBin" Name="bin"/>
      <Component Id="cmpRelease" Guid="*">
        <File Id="filRelease" Source="C:\build\images\jdk\release"/>
      </Component>
    </DirectoryRef>
    <DirectoryRef Id="INSTALLDIR">
      <Component Id="cmpShortcuts" Guid="*">
        <RegistryValue Root="HKCU" Key="Software\jdk" Name="installed" Type="integer" Value="1" KeyPath="yes"/>
      </Component>
    </DirectoryRef>
    <ComponentGroup Id="Files">
      <ComponentRef Id="cmpRelease"/>
      <ComponentRef Id="cmpJava"/>
      <ComponentRef Id="cmpShortcuts"/>
    </ComponentGroup>
  </Fragment>
</Wix>
`

const overridesText = `<?xml version="1.0" encoding="utf-8"?>
<Include>
  <?define HelpURL = "https://openjdk.org/"?>
</Include>
`

var version = api.Version{Number: "17.0.2+8", Feature: "17", FourPositions: "17.0.2.8"}

const fixedGUID = "11111111-2222-3333-4444-555555555555"

func fixed() guid.Source {
	return guid.Func(func() string { return fixedGUID })
}

func job() *api.Job {
	return &api.Job{
		Template:  "/tmpl/template.xml",
		Source:    "/cfg/main.wxs",
		Manifest:  "/cfg/bundle.wxf",
		Overrides: "/cfg/overrides.wxi",
		Output:    "/out/jdk.wxs",
		Version:   version,
	}
}

func writeInputs(t *testing.T, fsys billy.Filesystem, manifestText string) {
	t.Helper()
	files := map[string]string{
		"/tmpl/template.xml": template,
		"/cfg/main.wxs":      source,
		"/cfg/bundle.wxf":    manifestText,
		"/cfg/overrides.wxi": overridesText,
	}
	for name, body := range files {
		require.NoError(t, util.WriteFile(fsys, name, []byte(body), 0o644))
	}
}

func TestMerge_EmptyManifest(t *testing.T) {
	p := New(memfs.New(), fixed(), nil)
	out, err := p.Merge(Inputs{Template: template, Source: emptySource, Manifest: `<Wix><Fragment/></Wix>`}, version, api.DefaultLayout())
	require.NoError(t, err)

	want := strings.NewReplacer(
		"PLACEHOLDER_VERSION_NUMBER_FOUR_POSITIONS", "17.0.2.8",
		"PLACEHOLDER_VERSION_NUMBER", "17.0.2+8",
		"PLACEHOLDER_VERSION_FEATURE", "17",
		"PLACEHOLDER_UPGRADE_CODE", fixedGUID,
	).Replace(template)
	assert.Equal(t, want, string(out.Data))
	assert.Zero(t, out.Result.Stats.Directories)
	assert.Zero(t, out.Result.Stats.Components)
}

func TestMerge_OverridesReachManifest(t *testing.T) {
	manifestText := `<Wix><Fragment>
  <DirectoryRef Id="INSTALLDIR"><Directory Id="dirV" Name="$(var.FOO)"/></DirectoryRef>
</Fragment></Wix>`
	literal := strings.ReplaceAll(manifestText, "$(var.FOO)", "1.0")

	p := New(memfs.New(), fixed(), nil)
	defs := overrides.Map{"FOO": "1.0"}
	got, err := p.Merge(Inputs{Template: template, Source: emptySource, Manifest: manifestText, Overrides: defs}, version, api.DefaultLayout())
	require.NoError(t, err)
	want, err := p.Merge(Inputs{Template: template, Source: emptySource, Manifest: literal}, version, api.DefaultLayout())
	require.NoError(t, err)

	assert.Equal(t, string(want.Data), string(got.Data))
	assert.Equal(t, map[string]string{"dirV": "dir_1_0"}, got.Result.DirIDs)
	_, touched := defs["JpAppVersion"]
	assert.False(t, touched, "caller map is not modified")
}

func TestMerge_Unresolved(t *testing.T) {
	p := New(memfs.New(), fixed(), nil)
	out, err := p.Merge(Inputs{Template: template, Source: source, Manifest: manifest}, version, api.DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, []string{"HelpURL"}, out.Unresolved)
}

func TestMerge_Deterministic(t *testing.T) {
	in := Inputs{Template: template, Source: source, Manifest: manifest, Overrides: overrides.Map{"HelpURL": "https://openjdk.org/"}}

	a, err := New(memfs.New(), guid.NewSequence("jdk-17"), nil).Merge(in, version, api.DefaultLayout())
	require.NoError(t, err)
	b, err := New(memfs.New(), guid.NewSequence("jdk-17"), nil).Merge(in, version, api.DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)

	c, err := New(memfs.New(), guid.NewSequence("jdk-21"), nil).Merge(in, version, api.DefaultLayout())
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestRun(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)

	p := New(fsys, fixed(), nil)
	p.Metrics = metrics.New()
	report, err := p.Run(context.Background(), job())
	require.NoError(t, err)
	assert.Equal(t, "/out/jdk.wxs", report.Output)
	assert.Equal(t, 1, report.Stats.Directories)
	assert.Equal(t, 2, report.Stats.Components)
	assert.Empty(t, report.Unresolved)

	data, err := util.ReadFile(fsys, "/out/jdk.wxs")
	require.NoError(t, err)
	doc, err := markup.ParseBytes(data)
	require.NoError(t, err)

	product := doc.FindChild(doc.Root(), "Product")
	assert.Equal(t, "17.0.2.8", doc.AttrValue(product, "Version"))
	help := doc.FindChildByID(product, "ARPHELPLINK")
	assert.Equal(t, "https://openjdk.org/", doc.AttrValue(help, "Value"))

	install := doc.FindByID(product, "INSTALLDIR")
	var ids []string
	for _, c := range doc.Elements(install) {
		ids = append(ids, doc.AttrValue(c, "Id"))
	}
	assert.Equal(t, []string{"dir_bin", "comp_release"}, ids)

	group := doc.FindChildByID(product, "compgroup_files")
	var refs []string
	for _, r := range doc.Elements(group) {
		refs = append(refs, doc.AttrValue(r, "Id"))
	}
	assert.Equal(t, []string{"comp_bin_java_exe", "comp_release"}, refs)

	families, err := p.Metrics.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRun_FailureWritesNothing(t *testing.T) {
	broken := `<Wix><Fragment>
  <DirectoryRef Id="dirGhost"><Directory Id="dirOrphan" Name="orphan"/></DirectoryRef>
</Fragment></Wix>`
	fsys := memfs.New()
	writeInputs(t, fsys, broken)

	_, err := New(fsys, fixed(), nil).Run(context.Background(), job())
	assert.ErrorIs(t, err, api.ErrBrokenHierarchy)
	assert.Contains(t, err.Error(), "dirOrphan")

	entries, err := fsys.ReadDir("/out")
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRun_LedgerFailureWritesNothing(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	fsys := memfs.New()
	writeInputs(t, fsys, manifest)
	j := job()
	j.Ledger = filepath.Join(blocker, "ids.db")

	_, err := New(fsys, fixed(), nil).Run(context.Background(), j)
	assert.ErrorIs(t, err, api.ErrSerialization)

	_, err = fsys.Stat("/out/jdk.wxs")
	assert.True(t, os.IsNotExist(err), "no document without its ledger")
}

func TestRun_WritesLedger(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)
	j := job()
	j.Ledger = filepath.Join(t.TempDir(), "ids.db")

	_, err := New(fsys, fixed(), nil).Run(context.Background(), j)
	require.NoError(t, err)

	_, err = fsys.Stat("/out/jdk.wxs")
	require.NoError(t, err)
	_, err = os.Stat(j.Ledger)
	require.NoError(t, err)
	_, err = os.Stat(j.Ledger + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MissingInputs(t *testing.T) {
	for _, missing := range []string{"/tmpl/template.xml", "/cfg/main.wxs", "/cfg/bundle.wxf", "/cfg/overrides.wxi"} {
		fsys := memfs.New()
		writeInputs(t, fsys, manifest)
		require.NoError(t, fsys.Remove(missing))

		_, err := New(fsys, fixed(), nil).Run(context.Background(), job())
		assert.ErrorIs(t, err, api.ErrInputNotFound, missing)
	}
}

func TestLoad_RequiresOverrides(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)
	j := job()
	j.Overrides = ""

	_, err := New(fsys, fixed(), nil).Load(j)
	assert.ErrorIs(t, err, api.ErrInvalidConfig)
}

func TestRun_MissingMarker(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)
	require.NoError(t, util.WriteFile(fsys, "/cfg/main.wxs", []byte("<Wix/>\n"), 0o644))

	_, err := New(fsys, fixed(), nil).Run(context.Background(), job())
	assert.ErrorIs(t, err, api.ErrMalformedTemplate)
}

type recordingTransform struct {
	calls *[]string
}

func (r recordingTransform) Apply(_ context.Context, input, contentDir, output string) error {
	*r.calls = append(*r.calls, input+" "+contentDir+" "+output)
	return nil
}

func TestRun_ChainsExtensions(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)
	require.NoError(t, util.WriteFile(fsys, "/vendor/tools.xml", []byte(`<Extension>
  <Graft anchor="INSTALLDIR"><Directory Id="dir_tools" Name="tools"/></Graft>
</Extension>`), 0o644))

	j := job()
	j.Extensions = []api.Extension{
		{Content: "/vendor", Fragments: true, Output: "/out/jdk-vendor.wxs"},
		{Content: "/signing", Command: "sign-tool", Output: "/out/jdk-signed.wxs"},
	}

	var calls []string
	p := New(fsys, fixed(), nil)
	defaults := p.DefaultTransform(api.DefaultLayout())
	p.Transform = func(ext api.Extension) extension.Transform {
		if ext.Fragments {
			return defaults(ext)
		}
		return recordingTransform{calls: &calls}
	}

	report, err := p.Run(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/jdk-vendor.wxs", "/out/jdk-signed.wxs"}, report.Stages)
	assert.Equal(t, []string{"/out/jdk-vendor.wxs /signing /out/jdk-signed.wxs"}, calls)

	data, err := util.ReadFile(fsys, "/out/jdk-vendor.wxs")
	require.NoError(t, err)
	assert.Contains(t, string(data), `<Directory Id="dir_tools" Name="tools"/>`)
}

func TestRun_ExtensionFailure(t *testing.T) {
	fsys := memfs.New()
	writeInputs(t, fsys, manifest)

	j := job()
	j.Extensions = []api.Extension{{Content: "/vendor", Fragments: true, Output: "/out/jdk-vendor.wxs"}}
	_, err := New(fsys, fixed(), nil).Run(context.Background(), j)
	assert.ErrorIs(t, err, api.ErrInputNotFound)
}
