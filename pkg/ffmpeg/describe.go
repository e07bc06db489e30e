package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Describer runs a file type introspection tool, file(1) by default.
type Describer struct {
	command func(ctx context.Context, args ...string) *exec.Cmd
	args    []string
	timeout time.Duration
}

// NewDescriber returns a Describer that runs "bin args... path".
func NewDescriber(bin string, args []string, timeout time.Duration) *Describer {
	command := func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, bin, args...)
	}
	return &Describer{
		command: command,
		args:    args,
		timeout: timeout,
	}
}

// Describe returns the tool output for path.
func (d *Describer) Describe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := append(append([]string{}, d.args...), path)
	cmd := d.command(ctx, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%v: %w", msg, err)
		}
		return "", err
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return "", fmt.Errorf("no output: %v", stderr.String())
	}
	return output, nil
}
