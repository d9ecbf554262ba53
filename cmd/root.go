package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
	"github.com/agentic-research/wxsmerge/internal/logging"
)

// EnvPrefix prefixes the environment variables that set flags.
const EnvPrefix = "WXSMERGE"

// errDiffer makes the process exit with status 1 without printing anything.
var errDiffer = errors.New("inputs differ")

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:           "wxsmerge",
	Short:         "Assemble a deterministic WiX installer document from a template, a manifest and overrides",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := envFlags(cmd); err != nil {
			return err
		}
		if noColor || os.Getenv("NO_COLOR") != "" {
			color.NoColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(mergeCmd, inspectCmd, diffCmd, extendCmd)
}

// envFlags sets every flag of cmd the command line left alone from the
// environment. Global flags read WXSMERGE_<FLAG>; the flags of a subcommand
// read WXSMERGE_<COMMAND>_<FLAG>, so merge --ledger and diff --ledger stay
// apart.
func envFlags(cmd *cobra.Command) error {
	if err := setFromEnv(EnvPrefix, cmd.InheritedFlags()); err != nil {
		return err
	}
	if cmd == cmd.Root() {
		return setFromEnv(EnvPrefix, cmd.LocalFlags())
	}
	return setFromEnv(EnvPrefix+"_"+strings.ToUpper(cmd.Name()), cmd.LocalFlags())
}

func setFromEnv(prefix string, flags *pflag.FlagSet) error {
	replacer := strings.NewReplacer("-", "_")
	v := viper.New()
	v.SetEnvKeyReplacer(replacer)
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if firstErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if val == "" {
			return
		}
		if err := f.Value.Set(val); err != nil {
			name := prefix + "_" + strings.ToUpper(replacer.Replace(f.Name))
			firstErr = fmt.Errorf("%w: %s=%q: %v", api.ErrInvalidConfig, name, val, err)
		}
	})
	return firstErr
}

func newLogger() (*zap.Logger, error) {
	return logging.New(logLevel)
}

// hostFS is the real filesystem. Paths handed to it are made absolute
// first.
func hostFS() billy.Filesystem {
	return osfs.New("/")
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errDiffer) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
