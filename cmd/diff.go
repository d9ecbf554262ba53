package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/ledger"
)

var diffLedger bool

var (
	diffAdded   = color.New(color.FgGreen).SprintFunc()
	diffRemoved = color.New(color.FgRed).SprintFunc()
	diffHunk    = color.New(color.FgCyan).SprintFunc()
)

func init() {
	diffCmd.Flags().BoolVar(&diffLedger, "ledger", false, "Compare the id sets of two ledgers instead of two documents")
}

var diffCmd = &cobra.Command{
	Use:   "diff A B",
	Short: "Show the difference between two generated documents or ledgers",
	Long:  "Diff exits with status 1 when the inputs differ.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := absPath(args[0])
		if err != nil {
			return err
		}
		b, err := absPath(args[1])
		if err != nil {
			return err
		}
		var same bool
		if diffLedger {
			same, err = diffLedgers(cmd.OutOrStdout(), a, b)
		} else {
			same, err = diffDocuments(cmd.OutOrStdout(), a, b)
		}
		if err != nil {
			return err
		}
		if !same {
			return errDiffer
		}
		return nil
	},
}

func diffDocuments(w io.Writer, a, b string) (bool, error) {
	fsys := hostFS()
	before, err := util.ReadFile(fsys, a)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %v", a, api.ErrInputNotFound, err)
	}
	after, err := util.ReadFile(fsys, b)
	if err != nil {
		return false, fmt.Errorf("%s: %w: %v", b, api.ErrInputNotFound, err)
	}
	if string(before) == string(after) {
		return true, nil
	}

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: a,
		ToFile:   b,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return false, err
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(w, diffAdded(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(w, diffRemoved(line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(w, diffHunk(line))
		default:
			fmt.Fprint(w, line)
		}
	}
	return false, nil
}

func diffLedgers(w io.Writer, a, b string) (bool, error) {
	la, err := ledger.Read(a)
	if err != nil {
		return false, err
	}
	lb, err := ledger.Read(b)
	if err != nil {
		return false, err
	}
	d := ledger.Compare(la, lb)
	for _, id := range d.Removed {
		fmt.Fprintln(w, diffRemoved("- "+id))
	}
	for _, id := range d.Added {
		fmt.Fprintln(w, diffAdded("+ "+id))
	}
	return d.Empty(), nil
}
