// Package pipeline wires the merge stages together: load the inputs, resolve
// overrides, rebuild the install tree, splice it into the template, write
// the result and run the extension stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/extension"
	"github.com/agentic-research/wxsmerge/internal/fragment"
	"github.com/agentic-research/wxsmerge/internal/guid"
	"github.com/agentic-research/wxsmerge/internal/ingest"
	"github.com/agentic-research/wxsmerge/internal/ledger"
	"github.com/agentic-research/wxsmerge/internal/markup"
	"github.com/agentic-research/wxsmerge/internal/metrics"
	"github.com/agentic-research/wxsmerge/internal/overrides"
	"github.com/agentic-research/wxsmerge/internal/writeback"
)

// Inputs is the raw text of one merge.
type Inputs struct {
	Template  string
	Source    string
	Manifest  string
	Overrides overrides.Map
}

// Output is a merged document that has not been written yet.
type Output struct {
	Data       []byte
	Result     *ingest.Result
	Splice     writeback.SpliceStats
	Unresolved []string
}

// Report describes a finished run.
type Report struct {
	Output     string
	Stages     []string
	Stats      ingest.Stats
	Splice     writeback.SpliceStats
	Unresolved []string
	Elapsed    time.Duration
}

// Pipeline runs merge jobs against a filesystem.
type Pipeline struct {
	FS      billy.Filesystem
	GUIDs   guid.Source
	Log     *zap.Logger
	Metrics *metrics.Recorder

	// Transform builds the stage for an extension block. Defaults to
	// DefaultTransform.
	Transform func(api.Extension) extension.Transform
}

func New(fsys billy.Filesystem, guids guid.Source, log *zap.Logger) *Pipeline {
	if guids == nil {
		guids = guid.Random{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{FS: fsys, GUIDs: guids, Log: log}
}

// DefaultTransform returns the fragment graft stage or the command stage,
// depending on ext.
func (p *Pipeline) DefaultTransform(layout api.Layout) func(api.Extension) extension.Transform {
	return func(ext api.Extension) extension.Transform {
		if ext.Fragments {
			return extension.NewFragments(p.FS, layout, p.Log)
		}
		return extension.NewCommand(ext.Command, p.Log)
	}
}

// Merge produces the merged document from in. It touches no filesystem and
// its output depends only on its arguments and the GUID source.
func (p *Pipeline) Merge(in Inputs, v api.Version, layout api.Layout) (*Output, error) {
	layout = layout.WithDefaults()

	defs := overrides.Map{}
	for k, val := range in.Overrides {
		defs.Set(k, val)
	}
	defs.Set(layout.VersionMacro, v.FourPositions)

	manifestText := defs.Apply(in.Manifest)
	sourceText := defs.Apply(in.Source)
	unresolved := mergeNames(defs.Unresolved(manifestText), defs.Unresolved(sourceText))
	if len(unresolved) > 0 {
		p.Log.Warn("unresolved override tokens", zap.Strings("names", unresolved))
	}

	frags, err := fragment.Load(sourceText)
	if err != nil {
		return nil, err
	}
	m, err := ingest.ParseManifest(manifestText, layout)
	if err != nil {
		return nil, err
	}
	res, err := ingest.NewEngine(layout, p.Log).Merge(m)
	if err != nil {
		return nil, err
	}

	tmpl, err := markup.ParseString(in.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: template: %v", api.ErrMalformedTemplate, err)
	}
	st, err := writeback.NewSplicer(layout, p.GUIDs, p.Log).Splice(tmpl, frags, res, v)
	if err != nil {
		return nil, err
	}
	if err := writeback.Validate(tmpl, layout.ComponentGroup, layout.ManifestGroup); err != nil {
		return nil, err
	}
	data, err := writeback.Format(tmpl, layout.Namespace)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data, Result: res, Splice: st, Unresolved: unresolved}, nil
}

func mergeNames(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, names := range [][]string{a, b} {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Load reads the inputs named by job.
func (p *Pipeline) Load(job *api.Job) (Inputs, error) {
	var in Inputs
	files := []struct {
		path string
		dst  *string
	}{
		{job.Template, &in.Template},
		{job.Source, &in.Source},
		{job.Manifest, &in.Manifest},
	}
	for _, f := range files {
		data, err := util.ReadFile(p.FS, f.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return in, fmt.Errorf("%s: %w", f.path, api.ErrInputNotFound)
			}
			return in, fmt.Errorf("%w: read %s: %v", api.ErrSerialization, f.path, err)
		}
		*f.dst = string(data)
	}
	if job.Overrides == "" {
		return in, fmt.Errorf("%w: no overrides file", api.ErrInvalidConfig)
	}
	m, err := overrides.Load(p.FS, job.Overrides)
	if err != nil {
		return in, err
	}
	in.Overrides = m
	return in, nil
}

// Run executes job: merge, write, record the ledger and chain the extension
// stages. Nothing is written when the merge fails.
func (p *Pipeline) Run(ctx context.Context, job *api.Job) (*Report, error) {
	start := time.Now()
	out, err := p.run(ctx, job)
	elapsed := time.Since(start)

	if p.Metrics != nil {
		var stats ingest.Stats
		var splice writeback.SpliceStats
		if out != nil {
			stats, splice = out.Result.Stats, out.Splice
		}
		p.Metrics.Observe(stats, splice, elapsed, err)
	}
	if err != nil {
		return nil, err
	}

	report := &Report{
		Output:     job.Output,
		Stats:      out.Result.Stats,
		Splice:     out.Splice,
		Unresolved: out.Unresolved,
		Elapsed:    elapsed,
	}
	for _, ext := range job.Extensions {
		report.Stages = append(report.Stages, ext.Output)
	}
	p.Log.Info("merge finished",
		zap.String("output", job.Output),
		zap.Int("directories", report.Stats.Directories),
		zap.Int("components", report.Stats.Components),
		zap.Int("stages", len(report.Stages)),
		zap.Duration("elapsed", elapsed))
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, job *api.Job) (*Output, error) {
	layout := job.Layout.WithDefaults()
	in, err := p.Load(job)
	if err != nil {
		return nil, err
	}
	out, err := p.Merge(in, job.Version, layout)
	if err != nil {
		return nil, err
	}

	// the ledger is staged first so that the document and the ledger are
	// either both written or neither is
	var pending *ledger.Pending
	if job.Ledger != "" {
		meta := map[string]string{
			"version":        job.Version.Number,
			"four_positions": job.Version.FourPositions,
			"output":         job.Output,
		}
		if pending, err = ledger.Prepare(job.Ledger, out.Result, meta); err != nil {
			return nil, err
		}
	}

	if err := writeback.WriteAtomic(p.FS, job.Output, out.Data); err != nil {
		if pending != nil {
			pending.Discard()
		}
		return nil, err
	}
	p.Log.Info("wrote merged document", zap.String("path", job.Output), zap.Int("bytes", len(out.Data)))

	if pending != nil {
		if err := pending.Commit(); err != nil {
			_ = p.FS.Remove(job.Output) // best-effort rollback
			return nil, err
		}
		p.Log.Info("wrote id ledger", zap.String("path", job.Ledger))
	}

	transform := p.Transform
	if transform == nil {
		transform = p.DefaultTransform(layout)
	}
	input := job.Output
	for i, ext := range job.Extensions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stage %d: %v", api.ErrExtension, i, err)
		}
		if err := transform(ext).Apply(ctx, input, ext.Content, ext.Output); err != nil {
			return nil, fmt.Errorf("extension stage %d: %w", i, err)
		}
		p.Log.Info("extension stage done", zap.Int("stage", i), zap.String("output", ext.Output))
		input = ext.Output
	}
	return out, nil
}
