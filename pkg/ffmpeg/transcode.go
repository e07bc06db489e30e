package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Errors.
var (
	ErrNoOutput = errors.New("no output produced")
	ErrCanceled = errors.New("canceled")
)

// Options ffmpeg options.
type Options struct {
	// Placed before "-i", hardware decoding for example.
	InputArgs []string

	// Grace period for ffmpeg to exit after SIGINT.
	InterruptTimeout time.Duration
}

// FFMPEG runs the ffmpeg binary.
type FFMPEG struct {
	command  func(...string) *exec.Cmd
	logLevel string
	opts     Options

	// NewProcess is replaced in tests.
	NewProcess NewProcessFunc

	// Receives every stdout and stderr line.
	logFunc func(string)
}

// New returns FFMPEG.
func New(bin string, logLevel string, opts Options, logFunc func(string)) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	if logFunc == nil {
		logFunc = func(string) {}
	}
	if opts.InterruptTimeout <= 0 {
		opts.InterruptTimeout = DefaultInterruptTimeout
	}
	return &FFMPEG{
		command:    command,
		logLevel:   logLevel,
		opts:       opts,
		NewProcess: NewProcess,
		logFunc:    logFunc,
	}
}

// TranscodeArgs returns the arguments used to convert in to out.
func TranscodeArgs(
	logLevel string,
	inputArgs []string,
	in string,
	out string,
	format string,
) ([]string, error) {
	formatArgs, err := FormatArgs(format)
	if err != nil {
		return nil, err
	}
	args := []string{"-y", "-loglevel", logLevel}
	args = append(args, inputArgs...)
	args = append(args, "-i", in)
	args = append(args, formatArgs...)
	return append(args, out), nil
}

// tempPath returns a hidden path next to out.
func tempPath(out string) string {
	return filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".transcode")
}

// Transcode converts in to out. The output is written to a temporary
// file and renamed once ffmpeg exits successfully with a non-empty
// file. The process is interrupted when ctx is canceled.
func (f *FFMPEG) Transcode(ctx context.Context, in string, out string, format string) error {
	tmp := tempPath(out)
	args, err := TranscodeArgs(f.logLevel, f.opts.InputArgs, in, tmp, format)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	stderr := &lastLines{max: 5}
	logStderr := func(msg string) {
		stderr.add(msg)
		f.logFunc(msg)
	}

	f.logFunc("starting: " + strings.Join(args, " "))
	err = f.NewProcess(f.command(args...)).
		Timeout(f.opts.InterruptTimeout).
		StdoutLogger(f.logFunc).
		StderrLogger(logStderr).
		Start(ctx)

	// An interrupted ffmpeg may exit cleanly.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
	}
	if err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%w: %v", err, msg)
		}
		return err
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		return ErrNoOutput
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// lastLines keeps the last max lines.
type lastLines struct {
	max   int
	lines []string
	mu    sync.Mutex
}

func (l *lastLines) add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	if len(l.lines) > l.max {
		l.lines = l.lines[1:]
	}
}

func (l *lastLines) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "; ")
}
