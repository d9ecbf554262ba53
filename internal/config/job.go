// Package config loads merge jobs from HCL files and fills in everything a
// job may leave implicit: default inputs, resolved paths and the derived
// version strings.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/mitchellh/go-homedir"

	"github.com/agentic-research/wxsmerge/api"
)

// File names looked up inside a config directory.
const (
	SourceFile    = "main.wxs"
	ManifestFile  = "bundle.wxf"
	OverridesFile = "overrides.wxi"
)

var (
	fourPositions = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
	numeric       = regexp.MustCompile(`^\d+$`)
)

// LoadJob parses the HCL job file at path and resolves it relative to the
// file's directory.
func LoadJob(fsys billy.Filesystem, path string) (*api.Job, error) {
	src, err := util.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w: %v", path, api.ErrInputNotFound, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse HCL file %s: %v", api.ErrInvalidConfig, path, diags)
	}
	var job api.Job
	if diags := gohcl.DecodeBody(file.Body, nil, &job); diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode HCL file %s: %v", api.ErrInvalidConfig, path, diags)
	}

	if err := Resolve(&job, filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("job %s: %w", path, err)
	}
	return &job, nil
}

// WithConfigDir fills the empty source, manifest and overrides paths with
// the conventional files of dir.
func WithConfigDir(job *api.Job, dir string) {
	if dir == "" {
		return
	}
	if job.Source == "" {
		job.Source = filepath.Join(dir, SourceFile)
	}
	if job.Manifest == "" {
		job.Manifest = filepath.Join(dir, ManifestFile)
	}
	if job.Overrides == "" {
		job.Overrides = filepath.Join(dir, OverridesFile)
	}
}

// Resolve checks job, expands ~ in every path, makes relative paths relative
// to baseDir and derives the missing version strings.
func Resolve(job *api.Job, baseDir string) error {
	if job.Template == "" || job.Source == "" || job.Manifest == "" || job.Overrides == "" || job.Output == "" {
		return fmt.Errorf("%w: template, source, manifest, overrides and output are required", api.ErrInvalidConfig)
	}

	paths := []*string{&job.Template, &job.Source, &job.Manifest, &job.Overrides, &job.Output, &job.Ledger}
	for i := range job.Extensions {
		ext := &job.Extensions[i]
		if ext.Content == "" || ext.Output == "" {
			return fmt.Errorf("%w: extension %d needs content and output", api.ErrInvalidConfig, i)
		}
		if (ext.Command == "") == !ext.Fragments {
			return fmt.Errorf("%w: extension %d needs exactly one of command or fragments", api.ErrInvalidConfig, i)
		}
		paths = append(paths, &ext.Content, &ext.Output)
	}
	for _, p := range paths {
		resolved, err := resolvePath(*p, baseDir)
		if err != nil {
			return err
		}
		*p = resolved
	}

	v, err := DeriveVersion(job.Version)
	if err != nil {
		return err
	}
	job.Version = v
	return nil
}

func resolvePath(p, baseDir string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", api.ErrInvalidConfig, err)
	}
	if filepath.IsAbs(expanded) || baseDir == "" {
		return expanded, nil
	}
	return filepath.Join(baseDir, expanded), nil
}

// DeriveVersion validates v.Number as a semantic version and fills the
// feature version (the major number) and the four-part version
// (major.minor.patch.build, build taken from numeric build metadata or 0).
func DeriveVersion(v api.Version) (api.Version, error) {
	if v.Number == "" {
		return v, fmt.Errorf("%w: version number is required", api.ErrInvalidConfig)
	}
	sv, err := semver.NewVersion(v.Number)
	if err != nil {
		return v, fmt.Errorf("%w: version number %q: %v", api.ErrInvalidConfig, v.Number, err)
	}
	if v.Feature == "" {
		v.Feature = strconv.FormatUint(sv.Major(), 10)
	}
	if v.FourPositions == "" {
		build := "0"
		if numeric.MatchString(sv.Metadata()) {
			build = sv.Metadata()
		}
		v.FourPositions = fmt.Sprintf("%d.%d.%d.%s", sv.Major(), sv.Minor(), sv.Patch(), build)
	}
	if !fourPositions.MatchString(v.FourPositions) {
		return v, fmt.Errorf("%w: four-part version %q must be four dot-separated numbers", api.ErrInvalidConfig, v.FourPositions)
	}
	return v, nil
}
