package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/extension"
)

var (
	extendInput   string
	extendContent string
	extendOutput  string
	extendExec    string
)

func init() {
	f := extendCmd.Flags()
	f.StringVar(&extendInput, "input", "", "Merged document to extend")
	f.StringVar(&extendContent, "content", "", "Directory holding the vendor content")
	f.StringVarP(&extendOutput, "output", "o", "", "Where to write the extended document")
	f.StringVar(&extendExec, "exec", "", "Run this command with the input and output paths appended instead of grafting *.xml fragments")
	_ = extendCmd.MarkFlagRequired("input")
	_ = extendCmd.MarkFlagRequired("content")
	_ = extendCmd.MarkFlagRequired("output")
}

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Run one extension stage on a merged document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		paths := []*string{&extendInput, &extendContent, &extendOutput}
		resolved := make([]string, len(paths))
		for i, p := range paths {
			if resolved[i], err = absPath(*p); err != nil {
				return err
			}
		}
		input, content, output := resolved[0], resolved[1], resolved[2]

		var t extension.Transform
		if extendExec != "" {
			t = extension.NewCommand(extendExec, log)
		} else {
			t = extension.NewFragments(hostFS(), api.DefaultLayout(), log)
		}
		if err := t.Apply(cmd.Context(), input, content, output); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
		return nil
	},
}
