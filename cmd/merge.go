package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/config"
	"github.com/agentic-research/wxsmerge/internal/guid"
	"github.com/agentic-research/wxsmerge/internal/metrics"
	"github.com/agentic-research/wxsmerge/internal/pipeline"
)

var (
	mergeTemplate      string
	mergeSource        string
	mergeManifest      string
	mergeOverrides     string
	mergeConfigDir     string
	mergeOutput        string
	mergeLedger        string
	mergeMetricsFile   string
	mergeGUIDSeed      string
	mergeStrict        bool
	mergeVersionNumber string
	mergeVersionFeat   string
	mergeVersionFour   string
)

func init() {
	f := mergeCmd.Flags()
	f.StringVar(&mergeTemplate, "template", "", "Base installer template")
	f.StringVar(&mergeSource, "source", "", "Source document with the marker regions (default <config-dir>/main.wxs)")
	f.StringVar(&mergeManifest, "manifest", "", "Generated file manifest (default <config-dir>/bundle.wxf)")
	f.StringVar(&mergeOverrides, "overrides", "", "Macro overrides (default <config-dir>/overrides.wxi)")
	f.StringVar(&mergeConfigDir, "config-dir", "", "Directory holding main.wxs, bundle.wxf and overrides.wxi")
	f.StringVarP(&mergeOutput, "output", "o", "", "Where to write the merged document")
	f.StringVar(&mergeLedger, "ledger", "", "Write the id map to this SQLite file")
	f.StringVar(&mergeMetricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	f.StringVar(&mergeGUIDSeed, "guid-seed", "", "Derive GUIDs from this seed instead of drawing random ones")
	f.BoolVar(&mergeStrict, "strict-placeholder", false, "Require exactly one non-file component in the manifest")
	f.StringVar(&mergeVersionNumber, "version-number", "", "Product version, e.g. 17.0.2+8")
	f.StringVar(&mergeVersionFeat, "version-feature", "", "Feature version (default: major of --version-number)")
	f.StringVar(&mergeVersionFour, "version-four", "", "Four-part installer version (default: derived from --version-number)")
}

var mergeCmd = &cobra.Command{
	Use:   "merge [job.hcl]",
	Short: "Merge a manifest into an installer template",
	Long: `Merge reads a job file, or the paths given as flags, and writes one
installer document. Every failure aborts the run before anything is written.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		job, err := mergeJob(args)
		if err != nil {
			return err
		}

		var guids guid.Source = guid.Random{}
		if mergeGUIDSeed != "" {
			guids = guid.NewSequence(mergeGUIDSeed)
		}
		p := pipeline.New(hostFS(), guids, log)
		if mergeMetricsFile != "" {
			p.Metrics = metrics.New()
		}

		report, runErr := p.Run(cmd.Context(), job)
		if p.Metrics != nil {
			path, err := absPath(mergeMetricsFile)
			if err == nil {
				err = p.Metrics.WriteTextfile(path)
			}
			if err != nil {
				log.Warn("could not write metrics", zap.Error(err))
			}
		}
		if runErr != nil {
			return runErr
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s (%d directories, %d components, %d references)\n",
			report.Output, report.Stats.Directories, report.Stats.Components, report.Stats.RefsKept)
		for _, stage := range report.Stages {
			fmt.Fprintf(out, "wrote %s\n", stage)
		}
		for _, name := range report.Unresolved {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: $(var.%s) is not defined\n", name)
		}
		return nil
	},
}

// mergeJob builds the job from the job file in args, or from flags. Flags
// that name outputs override the job file.
func mergeJob(args []string) (*api.Job, error) {
	var job *api.Job
	if len(args) == 1 {
		path, err := absPath(args[0])
		if err != nil {
			return nil, err
		}
		if job, err = config.LoadJob(hostFS(), path); err != nil {
			return nil, err
		}
	} else {
		job = &api.Job{
			Template:  mergeTemplate,
			Source:    mergeSource,
			Manifest:  mergeManifest,
			Overrides: mergeOverrides,
			Output:    mergeOutput,
			Ledger:    mergeLedger,
			Version: api.Version{
				Number:        mergeVersionNumber,
				Feature:       mergeVersionFeat,
				FourPositions: mergeVersionFour,
			},
		}
		config.WithConfigDir(job, mergeConfigDir)
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if err := config.Resolve(job, cwd); err != nil {
			return nil, err
		}
	}

	for _, o := range []struct {
		flag string
		dst  *string
	}{{mergeOutput, &job.Output}, {mergeLedger, &job.Ledger}} {
		if o.flag == "" {
			continue
		}
		p, err := absPath(o.flag)
		if err != nil {
			return nil, err
		}
		*o.dst = filepath.Clean(p)
	}
	if mergeStrict {
		layout := job.Layout.WithDefaults()
		layout.StrictPlaceholder = true
		job.Layout = &layout
	}
	return job, nil
}
