package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/ingest"
	"github.com/agentic-research/wxsmerge/internal/overrides"
)

var (
	inspectManifest  string
	inspectOverrides string
	inspectSelect    string
	inspectFormat    string
	inspectInstall   string
)

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectManifest, "manifest", "", "Generated file manifest")
	f.StringVar(&inspectOverrides, "overrides", "", "Macro overrides applied to the manifest first")
	f.StringVar(&inspectSelect, "select", "", "JSONPath expression applied to the result, e.g. $.directories")
	f.StringVar(&inspectFormat, "format", "json", "Output format (json, yaml)")
	f.StringVar(&inspectInstall, "install-dir", "", "Id of the install root directory (default INSTALLDIR)")
	_ = inspectCmd.MarkFlagRequired("manifest")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the install tree and id map rebuilt from a manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		fsys := hostFS()
		path, err := absPath(inspectManifest)
		if err != nil {
			return err
		}
		data, err := util.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", path, api.ErrInputNotFound, err)
		}
		text := string(data)
		if inspectOverrides != "" {
			opath, err := absPath(inspectOverrides)
			if err != nil {
				return err
			}
			defs, err := overrides.Load(fsys, opath)
			if err != nil {
				return err
			}
			text = defs.Apply(text)
		}

		layout := (&api.Layout{InstallDir: inspectInstall}).WithDefaults()
		m, err := ingest.ParseManifest(text, layout)
		if err != nil {
			return err
		}
		res, err := ingest.NewEngine(layout, log).Merge(m)
		if err != nil {
			return err
		}

		var out any = res.Snapshot()
		if inspectSelect != "" {
			if out, err = ingest.Select(out, inspectSelect); err != nil {
				return err
			}
		}
		return render(cmd.OutOrStdout(), inspectFormat, out)
	},
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: unknown format %q (expected json or yaml)", api.ErrInvalidConfig, format)
	}
}
