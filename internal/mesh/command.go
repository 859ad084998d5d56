package mesh

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultConvertArgs asks the slicing engine to export a merged STL. The
// engine repairs meshes on load.
var DefaultConvertArgs = []string{"--export-stl", "--merge", "-o", "{output}", "{input}"}

// CommandConverter runs an external program to convert a model.
type CommandConverter struct {
	binary  string
	args    []string
	exts    map[string]bool
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandConverter creates an external converter for the given extensions.
func NewCommandConverter(binary string, args []string, exts []string, timeout time.Duration, logger *zap.Logger) *CommandConverter {
	if len(args) == 0 {
		args = DefaultConvertArgs
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[normalizeExt(e)] = true
	}
	return &CommandConverter{binary: binary, args: args, exts: set, timeout: timeout, logger: logger}
}

func (c *CommandConverter) Name() string { return "command" }

func (c *CommandConverter) CanConvert(ext string) bool {
	return c.binary != "" && c.exts[ext]
}

func (c *CommandConverter) Convert(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := make([]string, len(c.args))
	for i, a := range c.args {
		a = strings.ReplaceAll(a, "{input}", src)
		args[i] = strings.ReplaceAll(a, "{output}", dst)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.WaitDelay = 2 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("converter timed out after %s", c.timeout)
		}
		return fmt.Errorf("converter failed: %w: %s", err, tail(out.String(), 512))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
