package api

// Job is the root configuration of a merge run.
// It names the inputs, the scalar build parameters and the output location.
type Job struct {
	// Template is the base installer document the merge result is spliced into.
	Template string `hcl:"template" json:"template" yaml:"template"`
	// Source is the hand-authored document carrying the marker comment regions.
	Source string `hcl:"source,optional" json:"source,omitempty" yaml:"source,omitempty"`
	// Manifest is the flat, build-generated directory/component listing.
	Manifest string `hcl:"manifest" json:"manifest" yaml:"manifest"`
	// Overrides is the macro definitions file (optional).
	Overrides string `hcl:"overrides,optional" json:"overrides,omitempty" yaml:"overrides,omitempty"`
	// Output is where the merged document is written.
	Output string `hcl:"output" json:"output" yaml:"output"`
	// Ledger is an optional SQLite file receiving the computed id map.
	Ledger string `hcl:"ledger,optional" json:"ledger,omitempty" yaml:"ledger,omitempty"`

	Version    Version     `hcl:"version,block" json:"version" yaml:"version"`
	Layout     *Layout     `hcl:"layout,block" json:"layout,omitempty" yaml:"layout,omitempty"`
	Extensions []Extension `hcl:"extension,block" json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// Version holds the three scalar build parameters substituted into the template.
type Version struct {
	// Number is the human version, e.g. "17.0.2".
	Number string `hcl:"number" json:"number" yaml:"number"`
	// Feature is the feature release, e.g. "17". Derived from Number when empty.
	Feature string `hcl:"feature,optional" json:"feature,omitempty" yaml:"feature,omitempty"`
	// FourPositions is the installer version, e.g. "17.0.2.8". Derived from Number when empty.
	FourPositions string `hcl:"four_positions,optional" json:"four_positions,omitempty" yaml:"four_positions,omitempty"`
}

// Layout names the anchor ids and sentinels the merge relies on.
// Every field is optional; DefaultLayout fills in the blanks.
type Layout struct {
	RootElement    string `hcl:"root_element,optional" json:"root_element,omitempty" yaml:"root_element,omitempty"`
	ProductElement string `hcl:"product_element,optional" json:"product_element,omitempty" yaml:"product_element,omitempty"`
	TargetDir      string `hcl:"target_dir,optional" json:"target_dir,omitempty" yaml:"target_dir,omitempty"`
	InstallDir     string `hcl:"install_dir,optional" json:"install_dir,omitempty" yaml:"install_dir,omitempty"`
	FeatureAnchor  string `hcl:"feature_anchor,optional" json:"feature_anchor,omitempty" yaml:"feature_anchor,omitempty"`
	ManifestGroup  string `hcl:"manifest_group,optional" json:"manifest_group,omitempty" yaml:"manifest_group,omitempty"`
	ComponentGroup string `hcl:"component_group,optional" json:"component_group,omitempty" yaml:"component_group,omitempty"`
	Namespace      string `hcl:"namespace,optional" json:"namespace,omitempty" yaml:"namespace,omitempty"`
	VersionMacro   string `hcl:"version_macro,optional" json:"version_macro,omitempty" yaml:"version_macro,omitempty"`
	ImagesDir      string `hcl:"images_dir,optional" json:"images_dir,omitempty" yaml:"images_dir,omitempty"`
	ImageName      string `hcl:"image_name,optional" json:"image_name,omitempty" yaml:"image_name,omitempty"`

	// StrictPlaceholder requires exactly one non-file component in the manifest.
	StrictPlaceholder bool `hcl:"strict_placeholder,optional" json:"strict_placeholder,omitempty" yaml:"strict_placeholder,omitempty"`
}

// Extension describes one post-merge transform stage.
type Extension struct {
	// Content is the directory holding the vendor content fragments.
	Content string `hcl:"content" json:"content" yaml:"content"`
	// Command is an external program invoked as `command <input> <output>`.
	Command string `hcl:"command,optional" json:"command,omitempty" yaml:"command,omitempty"`
	// Fragments grafts the *.xml fragment files found in Content instead of running a command.
	Fragments bool `hcl:"fragments,optional" json:"fragments,omitempty" yaml:"fragments,omitempty"`
	// Output is where this stage writes its document.
	Output string `hcl:"output" json:"output" yaml:"output"`
}

// DefaultLayout returns the anchors used by the JDK installer templates.
func DefaultLayout() Layout {
	return Layout{
		RootElement:    "Wix",
		ProductElement: "Product",
		TargetDir:      "TARGETDIR",
		InstallDir:     "INSTALLDIR",
		FeatureAnchor:  "icon_resources_icon_ico",
		ManifestGroup:  "Files",
		ComponentGroup: "compgroup_files",
		Namespace:      "http://schemas.microsoft.com/wix/2006/wi",
		VersionMacro:   "JpAppVersion",
		ImagesDir:      "images",
		ImageName:      "jdk",
	}
}

// WithDefaults returns a copy of l where every empty field takes its default.
func (l *Layout) WithDefaults() Layout {
	d := DefaultLayout()
	if l == nil {
		return d
	}
	out := *l
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&out.RootElement, d.RootElement)
	fill(&out.ProductElement, d.ProductElement)
	fill(&out.TargetDir, d.TargetDir)
	fill(&out.InstallDir, d.InstallDir)
	fill(&out.FeatureAnchor, d.FeatureAnchor)
	fill(&out.ManifestGroup, d.ManifestGroup)
	fill(&out.ComponentGroup, d.ComponentGroup)
	fill(&out.Namespace, d.Namespace)
	fill(&out.VersionMacro, d.VersionMacro)
	fill(&out.ImagesDir, d.ImagesDir)
	fill(&out.ImageName, d.ImageName)
	return out
}
