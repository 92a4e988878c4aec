package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes shell commands and delivers files on a target host.
// Implementations must be safe for sequential use by one executor;
// they are not required to support concurrent calls.
type Runner interface {
	// Run executes a shell command and returns its combined output.
	// A non-zero exit status is reported as an error.
	Run(ctx context.Context, cmd string) (string, error)

	// Push writes the contents of src to path on the target host with
	// the given permissions, creating parent directories as needed.
	Push(ctx context.Context, src io.Reader, path string, mode os.FileMode) error

	// Close releases any resources held by the runner.
	Close() error
}

// LocalRunner runs commands on the local host through /bin/sh.
type LocalRunner struct{}

// NewLocalRunner returns a runner that targets the local host.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes cmd through the shell and returns combined output.
func (r *LocalRunner) Run(ctx context.Context, cmd string) (string, error) {
	var buf bytes.Buffer
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Stdout = &buf
	c.Stderr = &buf
	err := c.Run()
	output := strings.TrimSpace(buf.String())
	if err != nil {
		if ctx.Err() != nil {
			return output, fmt.Errorf("command %q: %w", cmd, ctx.Err())
		}
		return output, fmt.Errorf("command %q: %w", cmd, err)
	}
	return output, nil
}

// Push writes src to path on the local filesystem.
func (r *LocalRunner) Push(ctx context.Context, src io.Reader, path string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read source for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Close is a no-op for the local runner.
func (r *LocalRunner) Close() error {
	return nil
}
