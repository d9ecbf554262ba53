// Package extension runs the optional post-merge stages that add vendor
// content to a generated installer document. A stage reads one document and
// writes another; stages can be chained.
package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/agentic-research/wxsmerge/api"
)

// ContentDirEnv names the environment variable carrying the content dir
// into external commands.
const ContentDirEnv = "WXSMERGE_CONTENT_DIR"

// Transform is one extension stage.
type Transform interface {
	Apply(ctx context.Context, input, contentDir, output string) error
}

// Command runs an external program as `argv... <input> <output>` from the
// content directory.
type Command struct {
	Line string
	Log  *zap.Logger
}

// NewCommand returns a Command running line. The line is split with shell
// quoting rules on every Apply.
func NewCommand(line string, log *zap.Logger) *Command {
	if log == nil {
		log = zap.NewNop()
	}
	return &Command{Line: line, Log: log}
}

func parseCommand(raw string) ([]string, error) {
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("command must contain at least one argument")
	}
	return args, nil
}

func (c *Command) Apply(ctx context.Context, input, contentDir, output string) error {
	args, err := parseCommand(c.Line)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrExtension, err)
	}
	if st, err := os.Stat(contentDir); err != nil || !st.IsDir() {
		return fmt.Errorf("content dir %s: %w", contentDir, api.ErrInputNotFound)
	}

	args = append(args, input, output)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = contentDir
	cmd.Env = append(os.Environ(), ContentDirEnv+"="+contentDir)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	c.Log.Info("running extension command", zap.Strings("argv", args), zap.String("dir", contentDir))
	if out, err := cmd.Output(); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", api.ErrExtension, args[0], err, strings.TrimSpace(stderr.String()))
	} else if len(out) > 0 {
		c.Log.Debug("extension command output", zap.ByteString("stdout", out))
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("%w: %s did not write %s", api.ErrExtension, args[0], output)
	}
	return nil
}
